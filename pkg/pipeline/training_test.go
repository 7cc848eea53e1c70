package pipeline

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quickTrainConfig(target Target) TrainConfig {
	cfg := DefaultTrainConfig(target)
	cfg.Cleaner.StationClusters = 4
	cfg.Booster.NEstimators = 60
	cfg.Booster.MaxDepth = 4
	return cfg
}

func TestTrainArrival(t *testing.T) {
	res, err := Train(TargetArrival, synthRows(), quickTrainConfig(TargetArrival), nil)
	require.NoError(t, err)
	require.NotNil(t, res.Pipeline)
	require.NotNil(t, res.Pipeline.Model)
	assert.Positive(t, res.Rows)

	m := res.Metrics
	for _, v := range []float64{m.MAE, m.MSE, m.RMSE, m.R2} {
		assert.False(t, math.IsNaN(v))
		assert.False(t, math.IsInf(v, 0))
	}
	// delays are a clean function of stop position and line, so the model
	// must do clearly better than predicting the mean
	assert.Less(t, m.RMSE, 2.0)
}

func TestTrainDeparture(t *testing.T) {
	res, err := Train(TargetDeparture, synthRows(), quickTrainConfig(TargetDeparture), nil)
	require.NoError(t, err)
	assert.Equal(t, TargetDeparture, res.Pipeline.Target)
	assert.Less(t, res.Metrics.RMSE, 2.0)
}

func TestTrainRejectsEmptyAndTinyInputs(t *testing.T) {
	_, err := Train(TargetArrival, nil, quickTrainConfig(TargetArrival), nil)
	assert.Error(t, err)

	few := synthRows()[:4]
	_, err = Train(TargetArrival, few, quickTrainConfig(TargetArrival), nil)
	assert.Error(t, err)
}

func TestTrainDeterministic(t *testing.T) {
	cfg := quickTrainConfig(TargetArrival)
	a, err := Train(TargetArrival, synthRows(), cfg, nil)
	require.NoError(t, err)
	b, err := Train(TargetArrival, synthRows(), cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, a.Metrics, b.Metrics)
	assert.Equal(t, a.Rows, b.Rows)
}

func TestPipelineMarshalRoundtrip(t *testing.T) {
	res, err := Train(TargetArrival, synthRows(), quickTrainConfig(TargetArrival), nil)
	require.NoError(t, err)

	data, err := res.Pipeline.Marshal()
	require.NoError(t, err)

	loaded, err := LoadPipeline(data, nil)
	require.NoError(t, err)

	probe := synthRows()[7]
	want, err := res.Pipeline.Predict(*probe)
	require.NoError(t, err)
	got, err := loaded.Predict(*probe)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-9)
}

func TestLoadPipelineRejectsIncompleteArtifacts(t *testing.T) {
	_, err := LoadPipeline([]byte(`{"target":"arrival"}`), nil)
	assert.Error(t, err)

	_, err = LoadPipeline([]byte(`not json`), nil)
	assert.Error(t, err)
}

func TestPredictUnseenRow(t *testing.T) {
	res, err := Train(TargetArrival, synthRows(), quickTrainConfig(TargetArrival), nil)
	require.NoError(t, err)

	// a station, line and train the model never saw must still predict
	unseen := &Row{
		StationCode: "NOWHERE",
		TrainNumber: "999",
		LineNumber:  "999",
		Date:        date(2024, time.June, 1),
	}
	v, err := res.Pipeline.Predict(*unseen)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(v))
	assert.False(t, math.IsInf(v, 0))
}

func TestSplitRows(t *testing.T) {
	rows := synthRows()
	train, test := splitRows(rows, 0.2, 42)

	assert.Equal(t, len(rows), len(train)+len(test))
	assert.InDelta(t, 0.2*float64(len(rows)), float64(len(test)), 1.0)

	// deterministic for a given seed
	_, test2 := splitRows(synthRows(), 0.2, 42)
	require.Equal(t, len(test), len(test2))
	for i := range test {
		assert.Equal(t, test[i].TrainNumber, test2[i].TrainNumber)
		assert.Equal(t, test[i].StationCode, test2[i].StationCode)
	}
}

func TestEvaluate(t *testing.T) {
	y := []float64{1, 2, 3, 4}
	perfect := evaluate(y, []float64{1, 2, 3, 4})
	assert.InDelta(t, 0.0, perfect.MAE, 1e-9)
	assert.InDelta(t, 0.0, perfect.RMSE, 1e-9)
	assert.InDelta(t, 1.0, perfect.R2, 1e-9)

	off := evaluate(y, []float64{2, 3, 4, 5})
	assert.InDelta(t, 1.0, off.MAE, 1e-9)
	assert.InDelta(t, 1.0, off.MSE, 1e-9)
	assert.InDelta(t, 1.0, off.RMSE, 1e-9)
	assert.Less(t, off.R2, 1.0)
}
