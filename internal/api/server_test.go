package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delay-predictor/internal/config"
	"delay-predictor/internal/domain"
	"delay-predictor/internal/infrastructure"
	"delay-predictor/internal/prediction"
	"delay-predictor/pkg/gbrt"
	"delay-predictor/pkg/pipeline"
)

type stubRepo struct {
	models []domain.PredictionModel
	err    error
}

func (s *stubRepo) SaveModel(context.Context, *domain.PredictionModel) error { return nil }

func (s *stubRepo) BestModel(context.Context, domain.DelayType, time.Duration) (*domain.PredictionModel, error) {
	return nil, nil
}

func (s *stubRepo) ListModels(context.Context, int) ([]domain.PredictionModel, error) {
	return s.models, s.err
}

func newTestServer(t *testing.T, cache *prediction.Cache, repo *stubRepo) *Server {
	t.Helper()
	if cache == nil {
		cache = prediction.NewCache()
	}
	if repo == nil {
		repo = &stubRepo{}
	}
	cfg := &config.Config{ServerPort: ":0"}
	return NewServer(cache, infrastructure.NewRecordDecoder(nil), repo, cfg, nil)
}

// servingPipeline builds a minimally fitted pipeline whose regressor always
// answers baseScore.
func servingPipeline(t *testing.T, target pipeline.Target, baseScore float64) *pipeline.Pipeline {
	t.Helper()
	pre := pipeline.NewPreprocessor()
	sched := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	lat, lon := 47.5, 19.1
	pre.Fit([]*pipeline.Row{{
		StationCode:      "S1",
		LineNumber:       "100",
		Date:             time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC),
		ScheduledArrival: &sched,
		Latitude:         &lat,
		Longitude:        &lon,
	}})
	return &pipeline.Pipeline{
		Target:       target,
		Cleaner:      pipeline.NewCleaner(target, pipeline.DefaultCleanerConfig(), nil),
		Preprocessor: pre,
		Model:        &gbrt.Model{BaseScore: baseScore},
	}
}

func validRequestBody(t *testing.T) []byte {
	t.Helper()
	lat, lon := 47.5, 19.1
	arr := "2024-05-06T08:00:00"
	body, err := json.Marshal(domain.PredictionRequest{
		StationCode:      "BP-KEL",
		TrainNumber:      "IC123",
		LineNumber:       "100",
		Date:             "2024-05-06",
		ScheduledArrival: &arr,
		StationLatitude:  &lat,
		StationLongitude: &lon,
	})
	require.NoError(t, err)
	return body
}

func TestPredictDelayModelUnavailable(t *testing.T) {
	s := newTestServer(t, nil, nil)

	req := httptest.NewRequest("POST", "/api/v1/predictions/arrival",
		bytes.NewReader(validRequestBody(t)))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "model unavailable", resp["error"])
}

func TestPredictDelayRoundsToWholeMinutes(t *testing.T) {
	cache := prediction.NewCache()
	cache.Put(&prediction.CachedModel{
		ModelID:   "m-1",
		DelayType: domain.DelayTypeArrival,
		Pipeline:  servingPipeline(t, pipeline.TargetArrival, 6.4),
		CreatedAt: time.Now().UTC(),
	})
	s := newTestServer(t, cache, nil)

	req := httptest.NewRequest("POST", "/api/v1/predictions/arrival",
		bytes.NewReader(validRequestBody(t)))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(6), resp["predictedDelay"])
	assert.Equal(t, "arrival", resp["delayType"])
	assert.Equal(t, "m-1", resp["modelId"])
}

func TestPredictDelayUnknownDelayType(t *testing.T) {
	s := newTestServer(t, nil, nil)

	req := httptest.NewRequest("POST", "/api/v1/predictions/sideways",
		bytes.NewReader(validRequestBody(t)))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictDelayValidation(t *testing.T) {
	s := newTestServer(t, nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "{{{"},
		{"missing station code", `{"trainNumber":"IC1","date":"2024-05-06","stationLatitude":47.5,"stationLongitude":19.1}`},
		{"missing coordinates", `{"stationCode":"X","trainNumber":"IC1","date":"2024-05-06"}`},
		{"no schedule at all", `{"stationCode":"X","trainNumber":"IC1","date":"2024-05-06","stationLatitude":47.5,"stationLongitude":19.1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/predictions/arrival",
				bytes.NewReader([]byte(tt.body)))
			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListModels(t *testing.T) {
	repo := &stubRepo{models: []domain.PredictionModel{
		{ID: "m-1", DelayType: domain.DelayTypeArrival},
		{ID: "m-2", DelayType: domain.DelayTypeDeparture},
	}}
	s := newTestServer(t, nil, repo)

	req := httptest.NewRequest("GET", "/api/v1/models", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(2), resp["count"])
}

func TestHealthReportsLoadedModels(t *testing.T) {
	cache := prediction.NewCache()
	cache.Put(&prediction.CachedModel{
		ModelID:   "m-1",
		DelayType: domain.DelayTypeArrival,
		Pipeline:  servingPipeline(t, pipeline.TargetArrival, 1),
	})
	s := newTestServer(t, cache, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Status string          `json:"status"`
		Models map[string]bool `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.Models["arrival"])
	assert.False(t, resp.Models["departure"])
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t, nil, nil)

	req := httptest.NewRequest("GET", "/api/v1/nope", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
