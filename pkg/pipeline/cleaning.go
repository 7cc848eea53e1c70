package pipeline

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// CleanerConfig carries the tunables of the cleaning chain. The zero value
// is not usable; start from DefaultCleanerConfig.
type CleanerConfig struct {
	HolidayCountry       string  `json:"holiday_country"`
	OvernightBufferHours int     `json:"overnight_buffer_hours"`
	StationClusters      int     `json:"station_clusters"`
	LineServiceMinK      int     `json:"line_service_min_k"`
	LineServiceMaxK      int     `json:"line_service_max_k"`
	ZeroDelayMinCount    int     `json:"zero_delay_min_count"`
	ZeroDelayShare       float64 `json:"zero_delay_share"`
	Seed                 int64   `json:"seed"`
}

// DefaultCleanerConfig returns the production defaults.
func DefaultCleanerConfig() CleanerConfig {
	return CleanerConfig{
		HolidayCountry:       "HU",
		OvernightBufferHours: 6,
		StationClusters:      50,
		LineServiceMinK:      3,
		LineServiceMaxK:      10,
		ZeroDelayMinCount:    100,
		ZeroDelayShare:       0.40,
		Seed:                 42,
	}
}

// Cleaner is the ordered chain of cleaning transforms. Fit learns the
// stateful parameters from training rows and returns the cleaned training
// table; Apply replays the learned transform on new rows without touching
// any state, so the same learned Cleaner always produces the same output.
type Cleaner struct {
	Config CleanerConfig `json:"config"`
	Target Target        `json:"target"`

	Weather     WeatherImputerState `json:"weather"`
	StopIndex   StopIndexState      `json:"stop_index"`
	Stations    StationClusterState `json:"stations"`
	LineService LineServiceState    `json:"line_service"`

	calendar *HolidayCalendar
	calOnce  sync.Once
	log      *zap.Logger
}

// NewCleaner builds an unfitted cleaner for one delay target.
func NewCleaner(target Target, cfg CleanerConfig, log *zap.Logger) *Cleaner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cleaner{Config: cfg, Target: target, log: log}
}

// SetLogger re-attaches a logger after deserialization.
func (c *Cleaner) SetLogger(log *zap.Logger) {
	if log != nil {
		c.log = log
	}
}

// holidayCalendar builds the calendar on first use. A loaded pipeline is
// shared by concurrent requests, so the lazy init must be synchronized.
func (c *Cleaner) holidayCalendar() *HolidayCalendar {
	c.calOnce.Do(func() {
		c.calendar = NewHolidayCalendar(c.Config.HolidayCountry)
	})
	return c.calendar
}

// Fit learns all stateful parameters from the training rows and returns the
// cleaned training table. Rows that cannot support a feature or a label are
// dropped here; the returned slice may be shorter than the input.
func (c *Cleaner) Fit(rows []*Row) ([]*Row, error) {
	c.fixFlagsAndSchedules(rows)
	c.addDateFlags(rows)

	rows = dropUnusableRows(rows)
	rows = c.dropZeroDelayRuns(rows)
	if len(rows) == 0 {
		return nil, fmt.Errorf("no usable rows left after cleaning")
	}

	c.Weather = fitWeatherImputer(rows)
	c.applyWeatherImputer(rows)

	c.StopIndex = fitStopIndex(rows, c.Config.OvernightBufferHours)
	c.StopIndex.assign(rows)

	c.Stations = fitStationClusters(rows, c.Config.StationClusters, c.Config.Seed)
	c.Stations.assign(rows)

	ls, err := fitLineService(rows, c.Config, c.log)
	if err != nil {
		return nil, fmt.Errorf("line service clustering: %w", err)
	}
	c.LineService = ls
	c.LineService.assign(rows)

	return rows, nil
}

// Apply replays the learned transform on new rows. Deterministic given the
// fitted state; never drops rows.
func (c *Cleaner) Apply(rows []*Row) []*Row {
	c.fixFlagsAndSchedules(rows)
	c.addDateFlags(rows)
	c.applyWeatherImputer(rows)
	c.StopIndex.assign(rows)
	c.Stations.assign(rows)
	c.LineService.assign(rows)
	return rows
}

// fixFlagsAndSchedules sets the origin/terminus flags and mirrors the
// existing schedule edge into the missing one, so every row has both
// scheduled (and, where observed, actual) times for downstream ranking.
func (c *Cleaner) fixFlagsAndSchedules(rows []*Row) {
	for _, r := range rows {
		// Once set, a flag survives replays: the first pass back-fills the
		// missing schedule edge, so the nil check alone would flip the flag
		// on a second pass over the same rows.
		r.IsOrigin = r.IsOrigin || r.ScheduledArrival == nil
		r.IsTerminus = r.IsTerminus || r.ScheduledDeparture == nil
		if r.IsOrigin {
			r.ScheduledArrival = r.ScheduledDeparture
			if r.ActualArrival == nil {
				r.ActualArrival = r.ActualDeparture
			}
		}
		if r.IsTerminus {
			r.ScheduledDeparture = r.ScheduledArrival
			if r.ActualDeparture == nil {
				r.ActualDeparture = r.ActualArrival
			}
		}
	}
}

func (c *Cleaner) addDateFlags(rows []*Row) {
	cal := c.holidayCalendar()
	for _, r := range rows {
		wd := int(r.Date.Weekday())
		r.IsWeekend = wd == 0 || wd == 6
		r.IsHoliday = cal.IsHoliday(r.Date)
	}
}

// dropUnusableRows removes rows that simultaneously lack both scheduled
// times, both actual times and both delay values: they can support neither
// a feature nor a label.
func dropUnusableRows(rows []*Row) []*Row {
	kept := rows[:0]
	for _, r := range rows {
		noSched := r.ScheduledArrival == nil && r.ScheduledDeparture == nil
		noActual := r.ActualArrival == nil && r.ActualDeparture == nil
		noDelay := r.ArrivalDelay == nil && r.DepartureDelay == nil
		if noSched && noActual && noDelay {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// dropZeroDelayRuns guards against sensor days that silently report "no
// delay" everywhere: on dates where zero observations dominate, whole
// (date, train) runs whose target delays are all null-or-zero are removed.
func (c *Cleaner) dropZeroDelayRuns(rows []*Row) []*Row {
	dateTotal := make(map[string]int)
	dateZero := make(map[string]int)
	for _, r := range rows {
		k := r.DateKey()
		dateTotal[k]++
		if d := r.Delay(c.Target); d == nil || *d == 0 {
			dateZero[k]++
		}
	}

	suspect := make(map[string]bool)
	for k, zero := range dateZero {
		if zero >= c.Config.ZeroDelayMinCount &&
			float64(zero) >= c.Config.ZeroDelayShare*float64(dateTotal[k]) {
			suspect[k] = true
		}
	}
	if len(suspect) == 0 {
		return rows
	}

	runKey := func(r *Row) string { return r.DateKey() + "|" + r.TrainNumber }
	runAllZero := make(map[string]bool)
	for _, r := range rows {
		if !suspect[r.DateKey()] {
			continue
		}
		k := runKey(r)
		if _, seen := runAllZero[k]; !seen {
			runAllZero[k] = true
		}
		if d := r.Delay(c.Target); d != nil && *d != 0 {
			runAllZero[k] = false
		}
	}

	kept := rows[:0]
	dropped := 0
	for _, r := range rows {
		if suspect[r.DateKey()] && runAllZero[runKey(r)] {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	if dropped > 0 {
		c.log.Info("dropped zero-delay runs",
			zap.Int("rows", dropped),
			zap.Int("suspect_dates", len(suspect)),
			zap.String("target", string(c.Target)))
	}
	return kept
}

// WeatherImputerState holds the fit-time fill constants for the weather
// columns: mean per numeric column, mode per boolean flag.
type WeatherImputerState struct {
	NumMeans  map[string]float64 `json:"num_means"`
	BoolModes map[string]bool    `json:"bool_modes"`
}

func fitWeatherImputer(rows []*Row) WeatherImputerState {
	st := WeatherImputerState{
		NumMeans:  make(map[string]float64, len(WeatherNumericCols)),
		BoolModes: make(map[string]bool, len(WeatherBoolCols)),
	}
	for _, col := range WeatherNumericCols {
		var vals []float64
		for _, r := range rows {
			if v := r.NumericValue(col); v != nil {
				vals = append(vals, *v)
			}
		}
		if len(vals) > 0 {
			st.NumMeans[col] = stat.Mean(vals, nil)
		}
	}
	for _, col := range WeatherBoolCols {
		trues, falses := 0, 0
		for _, r := range rows {
			b := weatherBoolField(r, col)
			if *b == nil {
				continue
			}
			if **b {
				trues++
			} else {
				falses++
			}
		}
		// false fallback when nothing was observed
		st.BoolModes[col] = trues > falses
	}
	return st
}

// applyWeatherImputer fills weather nulls with the fit-time constants and
// forward/backward fills latitude/longitude within each train group. The
// coordinate fill depends only on the rows at hand, so it is recomputed
// identically at apply time.
func (c *Cleaner) applyWeatherImputer(rows []*Row) {
	fillCoordinatesByTrain(rows)
	for _, r := range rows {
		for col, mean := range c.Weather.NumMeans {
			f := weatherNumFieldPtr(r, col)
			if f != nil && *f == nil {
				v := mean
				*f = &v
			}
		}
		for _, col := range WeatherBoolCols {
			f := weatherBoolField(r, col)
			if *f == nil {
				v := c.Weather.BoolModes[col]
				*f = &v
			}
		}
	}
}

func fillCoordinatesByTrain(rows []*Row) {
	byTrain := make(map[string][]*Row)
	order := make([]string, 0)
	for _, r := range rows {
		if _, ok := byTrain[r.TrainNumber]; !ok {
			order = append(order, r.TrainNumber)
		}
		byTrain[r.TrainNumber] = append(byTrain[r.TrainNumber], r)
	}
	for _, train := range order {
		group := byTrain[train]
		ffillBfill(group, func(r *Row) **float64 { return &r.Latitude })
		ffillBfill(group, func(r *Row) **float64 { return &r.Longitude })
	}
}

func ffillBfill(group []*Row, field func(*Row) **float64) {
	var last *float64
	for _, r := range group {
		f := field(r)
		if *f != nil {
			last = *f
		} else if last != nil {
			v := *last
			*f = &v
		}
	}
	last = nil
	for i := len(group) - 1; i >= 0; i-- {
		f := field(group[i])
		if *f != nil {
			last = *f
		} else if last != nil {
			v := *last
			*f = &v
		}
	}
}

func weatherNumFieldPtr(r *Row, col string) **float64 {
	switch col {
	case "rain":
		return &r.Rain
	case "showers":
		return &r.Showers
	case "snow_fall":
		return &r.SnowFall
	case "snow_depth":
		return &r.SnowDepth
	case "temperature":
		return &r.Temperature
	case "precipitation":
		return &r.Precipitation
	case "wind_speed_at_10m":
		return &r.WindSpeedAt10m
	case "wind_speed_at_80m":
		return &r.WindSpeedAt80m
	case "relative_humidity":
		return &r.RelativeHumidity
	case "visibility_in_meters":
		return &r.VisibilityInMeters
	case "cloud_cover_percentage":
		return &r.CloudCoverPercentage
	default:
		return nil
	}
}

func weatherBoolField(r *Row, col string) **bool {
	if col == "is_snowing" {
		return &r.IsSnowing
	}
	return &r.IsRaining
}
