package pipeline

import "sort"

// StopIndexState is the learned canonical visiting order of stations within
// each line. Stations are ranked densely by the median of their
// overnight-adjusted scheduled-arrival times; ties share a rank. Pairs not
// seen at fit time resolve to ClusterUnknown.
type StopIndexState struct {
	Index map[string]int `json:"index"` // "line|station" -> dense rank
}

func lineStationKey(line, station string) string {
	return line + "|" + station
}

// adjustedMinutes maps a scheduled time to minutes-of-day, shifting times
// before the overnight buffer hour into the next calendar day so that a
// 00:40 arrival ranks after a 23:50 departure on the same logical run.
func adjustedMinutes(hour, minute, bufferHours int) float64 {
	m := float64(hour*60 + minute)
	if hour < bufferHours {
		m += 24 * 60
	}
	return m
}

func fitStopIndex(rows []*Row, bufferHours int) StopIndexState {
	type pairKey struct{ line, station string }
	times := make(map[pairKey][]float64)
	for _, r := range rows {
		if r.ScheduledArrival == nil || r.StationCode == "" {
			continue
		}
		k := pairKey{r.LineNumber, r.StationCode}
		times[k] = append(times[k], adjustedMinutes(
			r.ScheduledArrival.Hour(), r.ScheduledArrival.Minute(), bufferHours))
	}

	medianByPair := make(map[pairKey]float64, len(times))
	stationsByLine := make(map[string][]pairKey)
	for k, ts := range times {
		medianByPair[k] = median(ts)
		stationsByLine[k.line] = append(stationsByLine[k.line], k)
	}

	st := StopIndexState{Index: make(map[string]int, len(times))}
	for _, pairs := range stationsByLine {
		sort.Slice(pairs, func(i, j int) bool {
			mi, mj := medianByPair[pairs[i]], medianByPair[pairs[j]]
			if mi != mj {
				return mi < mj
			}
			return pairs[i].station < pairs[j].station
		})
		rank := 0
		for i, p := range pairs {
			if i > 0 && medianByPair[p] != medianByPair[pairs[i-1]] {
				rank++
			}
			st.Index[lineStationKey(p.line, p.station)] = rank
		}
	}
	return st
}

func (st StopIndexState) assign(rows []*Row) {
	for _, r := range rows {
		if idx, ok := st.Index[lineStationKey(r.LineNumber, r.StationCode)]; ok {
			r.StopIndex = idx
		} else {
			r.StopIndex = ClusterUnknown
		}
	}
}

// median with linear interpolation between the two middle values.
func median(vals []float64) float64 {
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	n := len(s)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
