// Package pipeline implements the delay-prediction model core: the stateful
// cleaning chain that turns raw per-stop records into a flat feature table,
// the clustering feature extractors, the train-only outlier mask, the
// numeric/categorical preprocessing and the training orchestration around
// the boosted-tree regressor. Everything learned at fit time is carried in
// exported, JSON-serializable state so that inference reapplies the exact
// same transform.
package pipeline

import (
	"strconv"
	"time"
)

// Target selects which delay a pipeline predicts.
type Target string

const (
	TargetArrival   Target = "arrival"
	TargetDeparture Target = "departure"
)

// ClusterUnknown is the sentinel for stations, lines and stop positions the
// pipeline never saw at fit time.
const ClusterUnknown = -1

// Row is one train-stop observation after decoding: weather flattened,
// technical columns gone, canonical snake_case naming mapped onto typed
// fields. Pointer fields distinguish "absent" from zero. Derived fields are
// populated by the cleaning chain.
type Row struct {
	StationCode string
	TrainNumber string
	LineNumber  string

	Latitude  *float64
	Longitude *float64

	Date               time.Time
	ScheduledArrival   *time.Time
	ScheduledDeparture *time.Time
	ActualArrival      *time.Time
	ActualDeparture    *time.Time

	ArrivalDelay   *float64
	DepartureDelay *float64

	// Flattened weather observation. The inner weather timestamp is
	// discarded at decode time; it duplicates the stop time.
	Rain                 *float64
	Showers              *float64
	SnowFall             *float64
	SnowDepth            *float64
	Temperature          *float64
	Precipitation        *float64
	WindSpeedAt10m       *float64
	WindSpeedAt80m       *float64
	RelativeHumidity     *float64
	VisibilityInMeters   *float64
	CloudCoverPercentage *float64
	IsRaining            *bool
	IsSnowing            *bool

	IsOrigin   bool
	IsTerminus bool
	IsWeekend  bool
	IsHoliday  bool

	StopIndex          int
	StationCluster     int
	LineServiceCluster int
	MaxDailyTrains     *float64
	MeanStopsPerRun    *float64
}

// DateKey is the calendar-day grouping key.
func (r *Row) DateKey() string {
	return r.Date.Format("2006-01-02")
}

// Delay returns the target delay value for t, nil when unobserved.
func (r *Row) Delay(t Target) *float64 {
	if t == TargetDeparture {
		return r.DepartureDelay
	}
	return r.ArrivalDelay
}

// WeatherNumericCols are the numeric weather features, in canonical order.
var WeatherNumericCols = []string{
	"rain", "showers", "snow_fall", "snow_depth", "temperature",
	"precipitation", "wind_speed_at_10m", "wind_speed_at_80m",
	"relative_humidity", "visibility_in_meters", "cloud_cover_percentage",
}

// WeatherBoolCols are the boolean weather flags.
var WeatherBoolCols = []string{"is_raining", "is_snowing"}

// DatetimeParts are the calendar parts emitted for each schedule timestamp.
var DatetimeParts = []string{"month", "day", "hour"}

// NumericFeatureCols is the explicit allow-list of numeric model inputs.
// The partition into numeric and categorical columns is fixed here, not
// inferred from types, so that training and inference agree exactly.
func NumericFeatureCols() []string {
	cols := make([]string, 0, len(WeatherNumericCols)+9)
	cols = append(cols, WeatherNumericCols...)
	for _, tc := range []string{"scheduled_departure", "scheduled_arrival"} {
		for _, part := range DatetimeParts {
			cols = append(cols, tc+"_"+part)
		}
	}
	cols = append(cols, "max_daily_trains", "mean_stops_per_run", "stop_index")
	return cols
}

// CategoricalFeatureCols is the explicit allow-list of categorical inputs.
func CategoricalFeatureCols() []string {
	cols := make([]string, 0, len(WeatherBoolCols)+7)
	cols = append(cols, WeatherBoolCols...)
	cols = append(cols,
		"station_cluster", "line_service_cluster", "line_number",
		"is_origin", "is_terminus", "is_weekend", "is_holiday")
	return cols
}

// NumericValue resolves a numeric allow-list column on this row. A nil
// return means the value is missing and must be imputed.
func (r *Row) NumericValue(col string) *float64 {
	switch col {
	case "rain":
		return r.Rain
	case "showers":
		return r.Showers
	case "snow_fall":
		return r.SnowFall
	case "snow_depth":
		return r.SnowDepth
	case "temperature":
		return r.Temperature
	case "precipitation":
		return r.Precipitation
	case "wind_speed_at_10m":
		return r.WindSpeedAt10m
	case "wind_speed_at_80m":
		return r.WindSpeedAt80m
	case "relative_humidity":
		return r.RelativeHumidity
	case "visibility_in_meters":
		return r.VisibilityInMeters
	case "cloud_cover_percentage":
		return r.CloudCoverPercentage
	case "max_daily_trains":
		return r.MaxDailyTrains
	case "mean_stops_per_run":
		return r.MeanStopsPerRun
	case "stop_index":
		v := float64(r.StopIndex)
		return &v
	default:
		if t, part, ok := splitDatetimeCol(col); ok {
			return r.datetimePart(t, part)
		}
		return nil
	}
}

// CategoricalValue resolves a categorical allow-list column as its encoding
// key. ok=false means the value is missing.
func (r *Row) CategoricalValue(col string) (string, bool) {
	switch col {
	case "is_raining":
		return boolCategory(r.IsRaining)
	case "is_snowing":
		return boolCategory(r.IsSnowing)
	case "station_cluster":
		return strconv.Itoa(r.StationCluster), true
	case "line_service_cluster":
		return strconv.Itoa(r.LineServiceCluster), true
	case "line_number":
		if r.LineNumber == "" {
			return "", false
		}
		return r.LineNumber, true
	case "is_origin":
		return strconv.FormatBool(r.IsOrigin), true
	case "is_terminus":
		return strconv.FormatBool(r.IsTerminus), true
	case "is_weekend":
		return strconv.FormatBool(r.IsWeekend), true
	case "is_holiday":
		return strconv.FormatBool(r.IsHoliday), true
	default:
		return "", false
	}
}

func boolCategory(b *bool) (string, bool) {
	if b == nil {
		return "", false
	}
	return strconv.FormatBool(*b), true
}

func splitDatetimeCol(col string) (timeCol, part string, ok bool) {
	for _, tc := range []string{"scheduled_departure", "scheduled_arrival"} {
		for _, p := range DatetimeParts {
			if col == tc+"_"+p {
				return tc, p, true
			}
		}
	}
	return "", "", false
}

func (r *Row) datetimePart(timeCol, part string) *float64 {
	var ts *time.Time
	switch timeCol {
	case "scheduled_arrival":
		ts = r.ScheduledArrival
	case "scheduled_departure":
		ts = r.ScheduledDeparture
	}
	if ts == nil {
		return nil
	}
	var v float64
	switch part {
	case "month":
		v = float64(ts.Month())
	case "day":
		v = float64(ts.Day())
	case "hour":
		v = float64(ts.Hour())
	}
	return &v
}
