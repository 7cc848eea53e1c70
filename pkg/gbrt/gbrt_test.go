package gbrt

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearData(n int) (X [][]float64, y []float64) {
	X = make([][]float64, n)
	y = make([]float64, n)
	for i := 0; i < n; i++ {
		v := float64(i)
		X[i] = []float64{v, math.Mod(v, 7)}
		y[i] = 2*v + 3
	}
	return X, y
}

func testConfig() Config {
	return Config{
		NEstimators:         80,
		LearningRate:        0.3,
		MaxDepth:            4,
		MinChildWeight:      1,
		EarlyStoppingRounds: 15,
		Seed:                42,
	}
}

func TestFitLearnsLinearTarget(t *testing.T) {
	X, y := linearData(100)
	evalX, evalY := X[80:], y[80:]
	trainX, trainY := X[:80], y[:80]

	m, err := Fit(testConfig(), trainX, trainY, evalX, evalY, nil)
	require.NoError(t, err)
	require.NotEmpty(t, m.Trees)

	// interpolation inside the training range must be close
	for _, i := range []int{5, 25, 50, 75} {
		pred := m.Predict(X[i])
		assert.InDelta(t, y[i], pred, 8.0, "row %d", i)
	}
}

func TestFitTrimsToBestIteration(t *testing.T) {
	X, y := linearData(100)
	m, err := Fit(testConfig(), X[:80], y[:80], X[80:], y[80:], nil)
	require.NoError(t, err)
	assert.Len(t, m.Trees, m.BestIteration+1)
	assert.False(t, math.IsInf(m.BestScore, 1))
}

func TestFitDeterministic(t *testing.T) {
	cfg := testConfig()
	cfg.Subsample = 0.8
	cfg.ColsampleByTree = 0.5

	X, y := linearData(60)
	a, err := Fit(cfg, X[:50], y[:50], X[50:], y[50:], nil)
	require.NoError(t, err)
	b, err := Fit(cfg, X[:50], y[:50], X[50:], y[50:], nil)
	require.NoError(t, err)

	require.Equal(t, len(a.Trees), len(b.Trees))
	for _, x := range X {
		assert.Equal(t, a.Predict(x), b.Predict(x))
	}
}

func TestFitWithoutEvalSet(t *testing.T) {
	X, y := linearData(40)
	cfg := testConfig()
	cfg.NEstimators = 20

	m, err := Fit(cfg, X, y, nil, nil, nil)
	require.NoError(t, err)
	// no eval set: every round is kept
	assert.Len(t, m.Trees, 20)
}

func TestFitRejectsBadShapes(t *testing.T) {
	_, err := Fit(testConfig(), nil, nil, nil, nil, nil)
	assert.Error(t, err)

	X, y := linearData(10)
	_, err = Fit(testConfig(), X, y[:5], nil, nil, nil)
	assert.Error(t, err)

	_, err = Fit(testConfig(), X, y, X[:3], y[:2], nil)
	assert.Error(t, err)
}

func TestFitRejectsNonPositiveEstimators(t *testing.T) {
	X, y := linearData(10)

	for _, n := range []int{0, -1} {
		cfg := testConfig()
		cfg.NEstimators = n
		_, err := Fit(cfg, X, y, nil, nil, nil)
		assert.Error(t, err, "n_estimators %d", n)
	}
}

func TestModelJSONRoundtrip(t *testing.T) {
	X, y := linearData(60)
	m, err := Fit(testConfig(), X[:50], y[:50], X[50:], y[50:], nil)
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var loaded Model
	require.NoError(t, json.Unmarshal(data, &loaded))
	for _, x := range X {
		assert.Equal(t, m.Predict(x), loaded.Predict(x))
	}
}

func TestConstantTargetCollapsesToBase(t *testing.T) {
	X := [][]float64{{1}, {2}, {3}, {4}, {5}, {6}}
	y := []float64{4, 4, 4, 4, 4, 4}

	m, err := Fit(testConfig(), X, y, X, y, nil)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, m.Predict([]float64{2.5}), 1e-9)
	assert.InDelta(t, 4.0, m.BaseScore, 1e-9)
}

func TestTreePredictRouting(t *testing.T) {
	tree := Tree{Nodes: []Node{
		{Feature: 0, Threshold: 1.5, Left: 1, Right: 2},
		{Leaf: true, Value: -1},
		{Leaf: true, Value: 1},
	}}

	assert.Equal(t, -1.0, tree.Predict([]float64{1.0}))
	assert.Equal(t, -1.0, tree.Predict([]float64{1.5}))
	assert.Equal(t, 1.0, tree.Predict([]float64{2.0}))
}
