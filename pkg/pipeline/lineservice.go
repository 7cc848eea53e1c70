package pipeline

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// LineServiceInfo is what apply-time rows receive for their line.
type LineServiceInfo struct {
	Cluster         int     `json:"cluster"`
	MaxDailyTrains  float64 `json:"max_daily_trains"`
	MeanStopsPerRun float64 `json:"mean_stops_per_run"`
}

// LineServiceState is the learned grouping of lines by service-frequency
// similarity. Lines unseen at fit time fall back to the global means of the
// aggregate statistics (these are scale-sensitive features, so a neutral
// zero would mislead the regressor) and to ClusterUnknown for the id.
type LineServiceState struct {
	Lines                 map[string]LineServiceInfo `json:"lines"`
	GlobalMaxDailyTrains  float64                    `json:"global_max_daily_trains"`
	GlobalMeanStopsPerRun float64                    `json:"global_mean_stops_per_run"`
	K                     int                        `json:"k"`
}

// lineStats is the per-line feature vector the clustering runs on.
type lineStats struct {
	meanDaily, medianDaily, maxDaily, stdDaily float64
	weekdayTrains, weekendTrains               float64
	weekendWeekdayRatio                        float64
	meanStops, medianStops, maxStops, stdStops float64
}

// fitLineService computes per-line daily-frequency and stop-count
// statistics, standardizes them and clusters the lines into k groups, with
// k chosen by maximizing the silhouette score over a bounded range.
// Degenerate inputs (two or fewer distinct lines) use exactly that many
// clusters without a search.
func fitLineService(rows []*Row, cfg CleanerConfig, log *zap.Logger) (LineServiceState, error) {
	// (line, date, train) -> distinct stations visited
	runStations := make(map[string]map[string]struct{})
	runLine := make(map[string]string)
	runDate := make(map[string]string)
	for _, r := range rows {
		if r.LineNumber == "" || r.TrainNumber == "" {
			continue
		}
		rk := r.LineNumber + "|" + r.DateKey() + "|" + r.TrainNumber
		if runStations[rk] == nil {
			runStations[rk] = make(map[string]struct{})
			runLine[rk] = r.LineNumber
			runDate[rk] = r.DateKey()
		}
		runStations[rk][r.StationCode] = struct{}{}
	}
	if len(runStations) == 0 {
		return LineServiceState{Lines: map[string]LineServiceInfo{}}, nil
	}

	// (line, date) -> trains per day; line -> stops per run samples
	trainsPerDay := make(map[string]map[string]int)
	stopsPerRun := make(map[string][]float64)
	for rk, stations := range runStations {
		line, date := runLine[rk], runDate[rk]
		if trainsPerDay[line] == nil {
			trainsPerDay[line] = make(map[string]int)
		}
		trainsPerDay[line][date]++
		stopsPerRun[line] = append(stopsPerRun[line], float64(len(stations)))
	}

	lines := make([]string, 0, len(trainsPerDay))
	for line := range trainsPerDay {
		lines = append(lines, line)
	}
	sort.Strings(lines)

	statsByLine := make(map[string]lineStats, len(lines))
	for _, line := range lines {
		var daily, weekday, weekend []float64
		for date, n := range trainsPerDay[line] {
			daily = append(daily, float64(n))
			if isWeekendDate(date) {
				weekend = append(weekend, float64(n))
			} else {
				weekday = append(weekday, float64(n))
			}
		}
		stops := stopsPerRun[line]
		ls := lineStats{
			meanDaily:   stat.Mean(daily, nil),
			medianDaily: median(daily),
			maxDaily:    maxOf(daily),
			stdDaily:    stdOrZero(daily),
			meanStops:   stat.Mean(stops, nil),
			medianStops: median(stops),
			maxStops:    maxOf(stops),
			stdStops:    stdOrZero(stops),
		}
		if len(weekday) > 0 {
			ls.weekdayTrains = stat.Mean(weekday, nil)
		}
		if len(weekend) > 0 {
			ls.weekendTrains = stat.Mean(weekend, nil)
		}
		ls.weekendWeekdayRatio = ls.weekendTrains / (ls.weekdayTrains + 1e-3)
		statsByLine[line] = ls
	}

	// Cluster on the frequency profile, standardized.
	points := make([][]float64, len(lines))
	for i, line := range lines {
		ls := statsByLine[line]
		points[i] = []float64{ls.meanDaily, ls.medianDaily, ls.maxDaily, ls.weekdayTrains, ls.weekendTrains}
	}
	standardizeInPlace(points)

	n := len(lines)
	var k int
	var labels []int
	switch {
	case n <= 2:
		k = n
		_, labels = kMeans(points, k, cfg.Seed)
	default:
		minK := cfg.LineServiceMinK
		if minK < 2 {
			minK = 2
		}
		if minK > n {
			minK = n
		}
		maxK := cfg.LineServiceMaxK
		if maxK > n {
			maxK = n
		}
		if maxK < minK {
			return LineServiceState{}, fmt.Errorf("invalid cluster search range [%d,%d]", minK, maxK)
		}
		bestScore := math.Inf(-1)
		k = minK
		for cand := minK; cand <= maxK; cand++ {
			_, lab := kMeans(points, cand, cfg.Seed)
			score := silhouetteScore(points, lab)
			if !math.IsNaN(score) && score > bestScore {
				bestScore, k, labels = score, cand, lab
			}
		}
		if labels == nil {
			_, labels = kMeans(points, k, cfg.Seed)
		}
		log.Debug("line service cluster search",
			zap.Int("lines", n), zap.Int("k", k), zap.Float64("silhouette", bestScore))
	}

	st := LineServiceState{Lines: make(map[string]LineServiceInfo, n), K: k}
	var maxDailySum, meanStopsSum float64
	for i, line := range lines {
		ls := statsByLine[line]
		st.Lines[line] = LineServiceInfo{
			Cluster:         labels[i],
			MaxDailyTrains:  ls.maxDaily,
			MeanStopsPerRun: ls.meanStops,
		}
		maxDailySum += ls.maxDaily
		meanStopsSum += ls.meanStops
	}
	st.GlobalMaxDailyTrains = maxDailySum / float64(n)
	st.GlobalMeanStopsPerRun = meanStopsSum / float64(n)
	return st, nil
}

func (st LineServiceState) assign(rows []*Row) {
	for _, r := range rows {
		info, ok := st.Lines[r.LineNumber]
		if !ok {
			r.LineServiceCluster = ClusterUnknown
			mdt, msr := st.GlobalMaxDailyTrains, st.GlobalMeanStopsPerRun
			r.MaxDailyTrains = &mdt
			r.MeanStopsPerRun = &msr
			continue
		}
		r.LineServiceCluster = info.Cluster
		mdt, msr := info.MaxDailyTrains, info.MeanStopsPerRun
		r.MaxDailyTrains = &mdt
		r.MeanStopsPerRun = &msr
	}
}

func isWeekendDate(date string) bool {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return false
	}
	wd := int(t.Weekday())
	return wd == 0 || wd == 6
}

func maxOf(vals []float64) float64 {
	m := math.Inf(-1)
	for _, v := range vals {
		if v > m {
			m = v
		}
	}
	return m
}

func stdOrZero(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	return stat.StdDev(vals, nil)
}

func standardizeInPlace(points [][]float64) {
	if len(points) == 0 {
		return
	}
	dim := len(points[0])
	col := make([]float64, len(points))
	for j := 0; j < dim; j++ {
		for i := range points {
			col[i] = points[i][j]
		}
		mean := stat.Mean(col, nil)
		std := stdOrZero(col)
		if std == 0 {
			std = 1
		}
		for i := range points {
			points[i][j] = (points[i][j] - mean) / std
		}
	}
}
