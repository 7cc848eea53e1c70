package pipeline

import "sort"

// StationClusterState is the learned station -> geographic-cluster mapping.
// Unknown stations resolve to ClusterUnknown at apply time.
type StationClusterState struct {
	Clusters map[string]int `json:"clusters"`
	K        int            `json:"k"`
}

// fitStationClusters groups the distinct stations by coordinates with
// k-means; k is capped at the number of distinct stations.
func fitStationClusters(rows []*Row, k int, seed int64) StationClusterState {
	coords := make(map[string][]float64)
	for _, r := range rows {
		if r.StationCode == "" || r.Latitude == nil || r.Longitude == nil {
			continue
		}
		if _, seen := coords[r.StationCode]; !seen {
			coords[r.StationCode] = []float64{*r.Latitude, *r.Longitude}
		}
	}
	if len(coords) == 0 {
		return StationClusterState{Clusters: map[string]int{}}
	}

	stations := make([]string, 0, len(coords))
	for s := range coords {
		stations = append(stations, s)
	}
	sort.Strings(stations) // stable input order for the seeded clustering

	points := make([][]float64, len(stations))
	for i, s := range stations {
		points[i] = coords[s]
	}
	if k > len(points) {
		k = len(points)
	}
	_, labels := kMeans(points, k, seed)

	st := StationClusterState{Clusters: make(map[string]int, len(stations)), K: k}
	for i, s := range stations {
		st.Clusters[s] = labels[i]
	}
	return st
}

func (st StationClusterState) assign(rows []*Row) {
	for _, r := range rows {
		if c, ok := st.Clusters[r.StationCode]; ok {
			r.StationCluster = c
		} else {
			r.StationCluster = ClusterUnknown
		}
	}
}
