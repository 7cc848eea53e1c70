// infrastructure/record_decoder.go
package infrastructure

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"delay-predictor/internal/domain"
	"delay-predictor/pkg/pipeline"
)

// RecordDecoder turns raw wire records into typed pipeline rows. Keys are
// normalized to snake_case first, the nested weather object is flattened
// onto the row (its inner timestamp is discarded), station-prefixed
// coordinates fill in for missing canonical ones and technical columns
// (ids, station URLs) are simply never mapped.
type RecordDecoder struct {
	log *zap.Logger
}

func NewRecordDecoder(log *zap.Logger) *RecordDecoder {
	if log == nil {
		log = zap.NewNop()
	}
	return &RecordDecoder{log: log}
}

// DecodeRecords converts a batch. Records without a parseable date cannot
// be grouped or flagged and are dropped with a diagnostic.
func (d *RecordDecoder) DecodeRecords(records []domain.RawRecord) []*pipeline.Row {
	rows := make([]*pipeline.Row, 0, len(records))
	for i, rec := range records {
		row, err := d.decodeRecord(rec)
		if err != nil {
			d.log.Warn("dropping undecodable record", zap.Int("index", i), zap.Error(err))
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func (d *RecordDecoder) decodeRecord(rec domain.RawRecord) (*pipeline.Row, error) {
	m, ok := pipeline.NormalizeKeys(map[string]any(rec)).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("record is not an object")
	}

	date, ok := getTime(m, "date")
	if !ok {
		return nil, fmt.Errorf("missing or invalid date")
	}

	row := &pipeline.Row{
		StationCode: getString(m, "station_code"),
		TrainNumber: getString(m, "train_number"),
		LineNumber:  getString(m, "line_number"),
		Date:        date,

		ScheduledArrival:   getTimePtr(m, "scheduled_arrival"),
		ScheduledDeparture: getTimePtr(m, "scheduled_departure"),
		ActualArrival:      getTimePtr(m, "actual_arrival"),
		ActualDeparture:    getTimePtr(m, "actual_departure"),

		ArrivalDelay:   getFloatPtr(m, "arrival_delay"),
		DepartureDelay: getFloatPtr(m, "departure_delay"),
	}

	row.Latitude = getFloatPtr(m, "latitude")
	if row.Latitude == nil {
		row.Latitude = getFloatPtr(m, "station_latitude")
	}
	row.Longitude = getFloatPtr(m, "longitude")
	if row.Longitude == nil {
		row.Longitude = getFloatPtr(m, "station_longitude")
	}

	if w, ok := m["weather"].(map[string]any); ok {
		flattenWeather(row, w)
	}

	return row, nil
}

// DecodeRequest maps a validated serving request onto a row; the weather
// arrives typed, so no key normalization is needed.
func (d *RecordDecoder) DecodeRequest(req domain.PredictionRequest) (*pipeline.Row, error) {
	date, err := parseAnyTime(req.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid date: %w", err)
	}

	row := &pipeline.Row{
		StationCode: req.StationCode,
		TrainNumber: req.TrainNumber,
		LineNumber:  req.LineNumber,
		Date:        date,
		Latitude:    req.StationLatitude,
		Longitude:   req.StationLongitude,

		Rain:                 req.Weather.Rain,
		Showers:              req.Weather.Showers,
		SnowFall:             req.Weather.SnowFall,
		SnowDepth:            req.Weather.SnowDepth,
		Temperature:          req.Weather.Temperature,
		Precipitation:        req.Weather.Precipitation,
		WindSpeedAt10m:       req.Weather.WindSpeedAt10m,
		WindSpeedAt80m:       req.Weather.WindSpeedAt80m,
		RelativeHumidity:     req.Weather.RelativeHumidity,
		VisibilityInMeters:   req.Weather.VisibilityInMeters,
		CloudCoverPercentage: req.Weather.CloudCoverPercentage,
		IsRaining:            req.Weather.IsRaining,
		IsSnowing:            req.Weather.IsSnowing,
	}

	if t, ok := parseOptionalTime(req.ScheduledArrival); ok {
		row.ScheduledArrival = t
	}
	if t, ok := parseOptionalTime(req.ScheduledDeparture); ok {
		row.ScheduledDeparture = t
	}
	if row.ScheduledArrival == nil && row.ScheduledDeparture == nil {
		return nil, fmt.Errorf("at least one scheduled time is required")
	}

	return row, nil
}

func flattenWeather(row *pipeline.Row, w map[string]any) {
	// "time" and "address" are discarded: the observation timestamp
	// duplicates the stop time and the address is free text.
	row.Temperature = getFloatPtr(w, "temperature")
	row.RelativeHumidity = getFloatPtr(w, "relative_humidity")
	row.WindSpeedAt10m = getFloatPtr(w, "wind_speed_at_10_m")
	if row.WindSpeedAt10m == nil {
		row.WindSpeedAt10m = getFloatPtr(w, "wind_speed_at_10m")
	}
	row.WindSpeedAt80m = getFloatPtr(w, "wind_speed_at_80_m")
	if row.WindSpeedAt80m == nil {
		row.WindSpeedAt80m = getFloatPtr(w, "wind_speed_at_80m")
	}
	row.IsSnowing = getBoolPtr(w, "is_snowing")
	row.SnowFall = getFloatPtr(w, "snow_fall")
	row.SnowDepth = getFloatPtr(w, "snow_depth")
	row.IsRaining = getBoolPtr(w, "is_raining")
	row.Precipitation = getFloatPtr(w, "precipitation")
	row.Rain = getFloatPtr(w, "rain")
	row.Showers = getFloatPtr(w, "showers")
	row.VisibilityInMeters = getFloatPtr(w, "visibility_in_meters")
	row.CloudCoverPercentage = getFloatPtr(w, "cloud_cover_percentage")
}

func getString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		// train and line numbers sometimes arrive as JSON numbers
		return fmt.Sprintf("%v", v)
	default:
		return ""
	}
}

func getFloatPtr(m map[string]any, key string) *float64 {
	switch v := m[key].(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	default:
		return nil
	}
}

func getBoolPtr(m map[string]any, key string) *bool {
	if v, ok := m[key].(bool); ok {
		return &v
	}
	return nil
}

func getTime(m map[string]any, key string) (time.Time, bool) {
	s, ok := m[key].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := parseAnyTime(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func getTimePtr(m map[string]any, key string) *time.Time {
	if t, ok := getTime(m, key); ok {
		return &t
	}
	return nil
}

func parseOptionalTime(s *string) (*time.Time, bool) {
	if s == nil || *s == "" {
		return nil, false
	}
	t, err := parseAnyTime(*s)
	if err != nil {
		return nil, false
	}
	return &t, true
}

var timeLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseAnyTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
