package pipeline

import (
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// UnknownCategoryCode is the reserved ordinal for categories never seen at
// fit time. Unseen values must encode, not fail.
const UnknownCategoryCode = -1

// Preprocessor turns cleaned rows into the final numeric feature matrix.
// Numeric columns are median-imputed then standardized; categorical columns
// are most-frequent-imputed then ordinally encoded. The column partition is
// the explicit allow-list from row.go, never inferred from types.
type Preprocessor struct {
	NumericCols     []string                  `json:"numeric_cols"`
	CategoricalCols []string                  `json:"categorical_cols"`
	Medians         map[string]float64        `json:"medians"`
	Means           map[string]float64        `json:"means"`
	Stds            map[string]float64        `json:"stds"`
	Modes           map[string]string         `json:"modes"`
	Encodings       map[string]map[string]int `json:"encodings"`
}

// NewPreprocessor builds an unfitted preprocessor over the canonical
// allow-lists.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		NumericCols:     NumericFeatureCols(),
		CategoricalCols: CategoricalFeatureCols(),
	}
}

// NumFeatures is the width of the produced matrix.
func (p *Preprocessor) NumFeatures() int {
	return len(p.NumericCols) + len(p.CategoricalCols)
}

// Fit learns imputation constants, scaling statistics and category
// encodings from the training rows.
func (p *Preprocessor) Fit(rows []*Row) {
	p.Medians = make(map[string]float64, len(p.NumericCols))
	p.Means = make(map[string]float64, len(p.NumericCols))
	p.Stds = make(map[string]float64, len(p.NumericCols))
	for _, col := range p.NumericCols {
		var present []float64
		for _, r := range rows {
			if v := r.NumericValue(col); v != nil {
				present = append(present, *v)
			}
		}
		med := 0.0
		if len(present) > 0 {
			med = median(present)
		}
		p.Medians[col] = med

		// scaler statistics over the imputed column
		imputed := make([]float64, len(rows))
		for i, r := range rows {
			if v := r.NumericValue(col); v != nil {
				imputed[i] = *v
			} else {
				imputed[i] = med
			}
		}
		p.Means[col] = stat.Mean(imputed, nil)
		std := stdOrZero(imputed)
		if std == 0 {
			std = 1
		}
		p.Stds[col] = std
	}

	p.Modes = make(map[string]string, len(p.CategoricalCols))
	p.Encodings = make(map[string]map[string]int, len(p.CategoricalCols))
	for _, col := range p.CategoricalCols {
		counts := make(map[string]int)
		for _, r := range rows {
			if v, ok := r.CategoricalValue(col); ok {
				counts[v]++
			}
		}
		cats := make([]string, 0, len(counts))
		for c := range counts {
			cats = append(cats, c)
		}
		sort.Strings(cats)

		enc := make(map[string]int, len(cats))
		mode, modeCount := "", -1
		for i, c := range cats {
			enc[c] = i
			if counts[c] > modeCount {
				mode, modeCount = c, counts[c]
			}
		}
		p.Encodings[col] = enc
		p.Modes[col] = mode
	}
}

// Transform produces the feature matrix for rows, using only fit-time
// state. Unseen categories resolve to UnknownCategoryCode.
func (p *Preprocessor) Transform(rows []*Row) *mat.Dense {
	X := mat.NewDense(len(rows), p.NumFeatures(), nil)
	for i, r := range rows {
		X.SetRow(i, p.FeatureVector(r))
	}
	return X
}

// FeatureVector encodes a single row.
func (p *Preprocessor) FeatureVector(r *Row) []float64 {
	out := make([]float64, 0, p.NumFeatures())
	for _, col := range p.NumericCols {
		v := p.Medians[col]
		if pv := r.NumericValue(col); pv != nil {
			v = *pv
		}
		out = append(out, (v-p.Means[col])/p.Stds[col])
	}
	for _, col := range p.CategoricalCols {
		cat, ok := r.CategoricalValue(col)
		if !ok {
			cat = p.Modes[col]
		}
		code, known := p.Encodings[col][cat]
		if !known {
			code = UnknownCategoryCode
		}
		out = append(out, float64(code))
	}
	return out
}
