package pipeline

import (
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"delay-predictor/pkg/gbrt"
)

// TrainConfig carries everything a single training run needs.
type TrainConfig struct {
	Cleaner      CleanerConfig `json:"cleaner"`
	Outlier      OutlierConfig `json:"outlier"`
	Booster      gbrt.Config   `json:"booster"`
	TestFraction float64       `json:"test_fraction"`
	Seed         int64         `json:"seed"`
}

// DefaultTrainConfig returns the tuned defaults for a delay target. The
// boosting hyperparameters were tuned per target; estimator counts are
// sized for the in-process trees.
func DefaultTrainConfig(target Target) TrainConfig {
	cfg := TrainConfig{
		Cleaner:      DefaultCleanerConfig(),
		Outlier:      DefaultOutlierConfig(),
		TestFraction: 0.2,
		Seed:         42,
	}
	switch target {
	case TargetDeparture:
		cfg.Booster = gbrt.Config{
			NEstimators:         300,
			LearningRate:        0.070,
			MaxDepth:            9,
			MinChildWeight:      1,
			Subsample:           0.85,
			ColsampleByTree:     0.75,
			EarlyStoppingRounds: 25,
			Seed:                42,
		}
	default:
		cfg.Booster = gbrt.Config{
			NEstimators:         400,
			LearningRate:        0.095,
			MaxDepth:            9,
			MinChildWeight:      1,
			Subsample:           0.878,
			ColsampleByTree:     0.638,
			EarlyStoppingRounds: 25,
			Seed:                42,
		}
	}
	return cfg
}

// Metrics are the held-out evaluation scores of one training run.
type Metrics struct {
	MAE  float64 `json:"mae"`
	MSE  float64 `json:"mse"`
	RMSE float64 `json:"rmse"`
	R2   float64 `json:"r2"`
}

// Result is a finished training run: the immutable pipeline plus its
// evaluation scores and the row count it was trained on.
type Result struct {
	Pipeline *Pipeline
	Metrics  Metrics
	Rows     int
}

// Train fits a full pipeline for one delay target: clean, mask outliers,
// split, preprocess (fit on the train split only), boost with early
// stopping on the test split, score on the held-out rows.
func Train(target Target, rows []*Row, cfg TrainConfig, log *zap.Logger) (*Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows to train on")
	}

	cleaner := NewCleaner(target, cfg.Cleaner, log)
	cleaned, err := cleaner.Fit(rows)
	if err != nil {
		return nil, fmt.Errorf("cleaning: %w", err)
	}

	masked := maskOutliers(cleaned, target, cfg.Outlier)
	if len(masked) < 10 {
		return nil, fmt.Errorf("only %d usable rows after outlier masking, need at least 10", len(masked))
	}

	train, test := splitRows(masked, cfg.TestFraction, cfg.Seed)

	pre := NewPreprocessor()
	pre.Fit(train)

	Xtrain, ytrain := featureMatrix(pre, train, target)
	Xtest, ytest := featureMatrix(pre, test, target)

	model, err := gbrt.Fit(cfg.Booster, Xtrain, ytrain, Xtest, ytest, log)
	if err != nil {
		return nil, fmt.Errorf("boosting: %w", err)
	}

	preds := make([]float64, len(ytest))
	for i, x := range Xtest {
		preds[i] = model.Predict(x)
	}
	m := evaluate(ytest, preds)

	log.Info("training finished",
		zap.String("target", string(target)),
		zap.Int("rows", len(masked)),
		zap.Int("trees", len(model.Trees)),
		zap.Float64("rmse", m.RMSE),
		zap.Float64("r2", m.R2))

	return &Result{
		Pipeline: &Pipeline{
			Target:       target,
			Cleaner:      cleaner,
			Preprocessor: pre,
			Model:        model,
		},
		Metrics: m,
		Rows:    len(masked),
	}, nil
}

// splitRows shuffles deterministically and carves off the test fraction.
func splitRows(rows []*Row, testFraction float64, seed int64) (train, test []*Row) {
	shuffled := append([]*Row(nil), rows...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	nTest := int(math.Round(testFraction * float64(len(shuffled))))
	if nTest < 1 {
		nTest = 1
	}
	if nTest >= len(shuffled) {
		nTest = len(shuffled) - 1
	}
	return shuffled[nTest:], shuffled[:nTest]
}

func featureMatrix(pre *Preprocessor, rows []*Row, target Target) ([][]float64, []float64) {
	X := pre.Transform(rows)
	xs := make([][]float64, len(rows))
	ys := make([]float64, len(rows))
	for i, r := range rows {
		xs[i] = X.RawRowView(i)
		ys[i] = *r.Delay(target) // outlier mask removed unlabeled rows
	}
	return xs, ys
}

func evaluate(y, pred []float64) Metrics {
	n := float64(len(y))
	var absSum, sqSum, ySum float64
	for i := range y {
		d := pred[i] - y[i]
		absSum += math.Abs(d)
		sqSum += d * d
		ySum += y[i]
	}
	mean := ySum / n
	var ssTot float64
	for _, v := range y {
		ssTot += (v - mean) * (v - mean)
	}
	r2 := 0.0
	if ssTot > 0 {
		r2 = 1 - sqSum/ssTot
	}
	mse := sqSum / n
	return Metrics{
		MAE:  absSum / n,
		MSE:  mse,
		RMSE: math.Sqrt(mse),
		R2:   r2,
	}
}
