package domain

import "time"

// DelayType selects which of the two regressors a pipeline predicts.
type DelayType string

const (
	DelayTypeArrival   DelayType = "arrival"
	DelayTypeDeparture DelayType = "departure"
)

// DelayTypes lists both targets in a stable order.
func DelayTypes() []DelayType {
	return []DelayType{DelayTypeArrival, DelayTypeDeparture}
}

// ModelMetrics are the held-out evaluation scores of a trained pipeline.
type ModelMetrics struct {
	MAE  float64 `gorethink:"mae" json:"mae"`
	MSE  float64 `gorethink:"mse" json:"mse"`
	RMSE float64 `gorethink:"rmse" json:"rmse"`
	R2   float64 `gorethink:"r2" json:"r2"`
}

// PredictionModel is one immutable trained artifact: the serialized pipeline
// state (cleaning + preprocessing + regressor) together with its evaluation
// metrics. Written once by the training orchestrator, read-only thereafter.
type PredictionModel struct {
	ID             string       `gorethink:"id,omitempty" json:"id"`
	DelayType      DelayType    `gorethink:"delay_type" json:"delay_type"`
	PipelineBinary []byte       `gorethink:"pipeline_binary" json:"-"`
	Metrics        ModelMetrics `gorethink:"metrics" json:"metrics"`
	RowCount       int          `gorethink:"row_count" json:"row_count"`
	CreatedAt      time.Time    `gorethink:"created_at" json:"created_at"`
}
