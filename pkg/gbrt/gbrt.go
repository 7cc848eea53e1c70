// Package gbrt implements gradient-boosted regression trees with a squared
// error objective and early stopping on a held-out evaluation set. The
// model is fully deterministic for a given seed and serializes to JSON so a
// trained regressor can be persisted next to its preprocessing state.
package gbrt

import (
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"
)

// Config are the boosting hyperparameters.
type Config struct {
	NEstimators         int     `json:"n_estimators"`
	LearningRate        float64 `json:"learning_rate"`
	MaxDepth            int     `json:"max_depth"`
	MinChildWeight      float64 `json:"min_child_weight"`
	Subsample           float64 `json:"subsample"`
	ColsampleByTree     float64 `json:"colsample_by_tree"`
	EarlyStoppingRounds int     `json:"early_stopping_rounds"`
	Seed                int64   `json:"seed"`
}

// Model is a fitted boosted ensemble.
type Model struct {
	Config        Config  `json:"config"`
	BaseScore     float64 `json:"base_score"`
	Trees         []Tree  `json:"trees"`
	BestIteration int     `json:"best_iteration"`
	BestScore     float64 `json:"best_score"`
}

// Fit trains the ensemble on (X, y), evaluating each round on
// (evalX, evalY) and stopping once the eval RMSE has not improved for
// EarlyStoppingRounds rounds. The returned model is trimmed to the best
// iteration.
func Fit(cfg Config, X [][]float64, y []float64, evalX [][]float64, evalY []float64, log *zap.Logger) (*Model, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("gbrt: bad training shape: %d rows, %d targets", len(X), len(y))
	}
	if len(evalX) != len(evalY) {
		return nil, fmt.Errorf("gbrt: bad eval shape: %d rows, %d targets", len(evalX), len(evalY))
	}
	if cfg.NEstimators <= 0 {
		return nil, fmt.Errorf("gbrt: n_estimators must be positive, got %d", cfg.NEstimators)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MinChildWeight < 1 {
		cfg.MinChildWeight = 1
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	nFeatures := len(X[0])

	base := 0.0
	for _, v := range y {
		base += v
	}
	base /= float64(len(y))

	m := &Model{Config: cfg, BaseScore: base, BestScore: math.Inf(1)}

	preds := make([]float64, len(y))
	evalPreds := make([]float64, len(evalY))
	for i := range preds {
		preds[i] = base
	}
	for i := range evalPreds {
		evalPreds[i] = base
	}

	grad := make([]float64, len(y))
	sinceBest := 0
	for round := 0; round < cfg.NEstimators; round++ {
		for i := range y {
			grad[i] = y[i] - preds[i]
		}

		samples := sampleRows(len(y), cfg.Subsample, rng)
		features := sampleFeatures(nFeatures, cfg.ColsampleByTree, rng)

		b := &treeBuilder{
			X:        X,
			grad:     grad,
			features: features,
			maxDepth: cfg.MaxDepth,
			minChild: cfg.MinChildWeight,
		}
		b.build(samples, 0)
		tree := Tree{Nodes: b.nodes}
		m.Trees = append(m.Trees, tree)

		for i, x := range X {
			preds[i] += cfg.LearningRate * tree.Predict(x)
		}

		if len(evalY) > 0 {
			for i, x := range evalX {
				evalPreds[i] += cfg.LearningRate * tree.Predict(x)
			}
			score := rmse(evalY, evalPreds)
			if score < m.BestScore {
				m.BestScore = score
				m.BestIteration = round
				sinceBest = 0
			} else {
				sinceBest++
			}
			if cfg.EarlyStoppingRounds > 0 && sinceBest >= cfg.EarlyStoppingRounds {
				log.Debug("early stopping",
					zap.Int("round", round),
					zap.Int("best_iteration", m.BestIteration),
					zap.Float64("best_rmse", m.BestScore))
				break
			}
		} else {
			m.BestIteration = round
		}
	}

	m.Trees = m.Trees[:m.BestIteration+1]
	return m, nil
}

// Predict scores one feature vector.
func (m *Model) Predict(x []float64) float64 {
	out := m.BaseScore
	for _, t := range m.Trees {
		out += m.Config.LearningRate * t.Predict(x)
	}
	return out
}

func sampleRows(n int, fraction float64, rng *rand.Rand) []int {
	if fraction <= 0 || fraction >= 1 {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	k := int(math.Max(1, math.Round(fraction*float64(n))))
	perm := rng.Perm(n)[:k]
	return perm
}

func sampleFeatures(n int, fraction float64, rng *rand.Rand) []int {
	if fraction <= 0 || fraction >= 1 {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	k := int(math.Max(1, math.Round(fraction*float64(n))))
	return rng.Perm(n)[:k]
}

func rmse(y, pred []float64) float64 {
	s := 0.0
	for i := range y {
		d := y[i] - pred[i]
		s += d * d
	}
	return math.Sqrt(s / float64(len(y)))
}
