package pipeline

import (
	"math"
	"sort"
)

// OutlierConfig tunes the train-only quantile mask.
type OutlierConfig struct {
	UpperQuantile  float64 `json:"upper_quantile"`
	MinDelay       float64 `json:"min_delay"`
	GlobalCap      float64 `json:"global_cap"`
	MinClusterRows int     `json:"min_cluster_rows"`
}

// DefaultOutlierConfig returns the production defaults: keep delays between
// 5 minutes early and the 0.98 quantile of the row's line-service cluster,
// with a global 0.999 cap against extreme outliers.
func DefaultOutlierConfig() OutlierConfig {
	return OutlierConfig{
		UpperQuantile:  0.98,
		MinDelay:       -5,
		GlobalCap:      0.999,
		MinClusterRows: 2,
	}
}

// maskOutliers filters training rows by the per-cluster delay quantile.
// Never applied at inference time. Rows without a target delay are removed
// as well: they cannot carry a label.
func maskOutliers(rows []*Row, target Target, cfg OutlierConfig) []*Row {
	var global []float64
	byCluster := make(map[int][]float64)
	for _, r := range rows {
		d := r.Delay(target)
		if d == nil {
			continue
		}
		global = append(global, *d)
		byCluster[r.LineServiceCluster] = append(byCluster[r.LineServiceCluster], *d)
	}
	if len(global) == 0 {
		return nil
	}

	globalQ := quantile(global, cfg.UpperQuantile)
	globalCap := quantile(global, cfg.GlobalCap)
	clusterQ := make(map[int]float64, len(byCluster))
	for c, vals := range byCluster {
		if len(vals) < cfg.MinClusterRows {
			clusterQ[c] = globalQ
			continue
		}
		clusterQ[c] = quantile(vals, cfg.UpperQuantile)
	}

	kept := make([]*Row, 0, len(rows))
	for _, r := range rows {
		d := r.Delay(target)
		if d == nil {
			continue
		}
		q, ok := clusterQ[r.LineServiceCluster]
		if !ok {
			q = globalQ
		}
		if *d < cfg.MinDelay || *d > q || *d > globalCap {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// quantile interpolates linearly at rank p*(n-1), the data-frame convention
// the thresholds were tuned against.
func quantile(vals []float64, p float64) float64 {
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	n := len(s)
	if n == 1 {
		return s[0]
	}
	h := p * float64(n-1)
	i := int(math.Floor(h))
	if i >= n-1 {
		return s[n-1]
	}
	return s[i] + (h-float64(i))*(s[i+1]-s[i])
}
