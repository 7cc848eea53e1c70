package pipeline

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"delay-predictor/pkg/gbrt"
)

// Pipeline bundles the learned state of one trained delay predictor:
// cleaning transformers, preprocessing and the regressor. Immutable once
// trained; Predict only reads.
type Pipeline struct {
	Target       Target        `json:"target"`
	Cleaner      *Cleaner      `json:"cleaner"`
	Preprocessor *Preprocessor `json:"preprocessor"`
	Model        *gbrt.Model   `json:"model"`
}

// Marshal serializes the full pipeline state for persistence.
func (p *Pipeline) Marshal() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal pipeline: %w", err)
	}
	return data, nil
}

// LoadPipeline restores a persisted pipeline.
func LoadPipeline(data []byte, log *zap.Logger) (*Pipeline, error) {
	var p Pipeline
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline: %w", err)
	}
	if p.Cleaner == nil || p.Preprocessor == nil || p.Model == nil {
		return nil, fmt.Errorf("pipeline artifact is incomplete")
	}
	p.Cleaner.SetLogger(log)
	return &p, nil
}

// Predict runs one row through the learned cleaning and preprocessing state
// and returns the predicted delay in minutes (unrounded).
func (p *Pipeline) Predict(r Row) (float64, error) {
	if p.Model == nil {
		return 0, fmt.Errorf("pipeline has no fitted model")
	}
	rows := p.Cleaner.Apply([]*Row{&r})
	x := p.Preprocessor.FeatureVector(rows[0])
	return p.Model.Predict(x), nil
}
