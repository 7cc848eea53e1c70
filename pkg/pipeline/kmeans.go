package pipeline

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

const (
	kmeansMaxIter  = 300
	kmeansRestarts = 5
)

// kMeans runs seeded Lloyd iterations with k-means++ initialization and
// keeps the best of a few restarts, so a given (points, k, seed) always
// yields the same partition.
func kMeans(points [][]float64, k int, seed int64) (centroids [][]float64, labels []int) {
	if k <= 0 || len(points) == 0 {
		return nil, nil
	}
	if k > len(points) {
		k = len(points)
	}
	rng := rand.New(rand.NewSource(seed))

	bestInertia := math.Inf(1)
	for restart := 0; restart < kmeansRestarts; restart++ {
		cents := seedCentroids(points, k, rng)
		lab := make([]int, len(points))
		for iter := 0; iter < kmeansMaxIter; iter++ {
			changed := false
			for i, p := range points {
				c := nearestCentroid(cents, p)
				if c != lab[i] {
					lab[i] = c
					changed = true
				}
			}
			cents = recomputeCentroids(points, lab, k, cents)
			if !changed && iter > 0 {
				break
			}
		}
		inertia := 0.0
		for i, p := range points {
			d := floats.Distance(p, cents[lab[i]], 2)
			inertia += d * d
		}
		if inertia < bestInertia {
			bestInertia = inertia
			centroids, labels = cents, lab
		}
	}
	return centroids, labels
}

func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	cents := make([][]float64, 0, k)
	first := points[rng.Intn(len(points))]
	cents = append(cents, append([]float64(nil), first...))

	dists := make([]float64, len(points))
	for len(cents) < k {
		total := 0.0
		for i, p := range points {
			d := floats.Distance(p, cents[nearestCentroid(cents, p)], 2)
			dists[i] = d * d
			total += dists[i]
		}
		if total == 0 {
			// all remaining points coincide with a centroid
			cents = append(cents, append([]float64(nil), points[rng.Intn(len(points))]...))
			continue
		}
		target := rng.Float64() * total
		acc := 0.0
		chosen := len(points) - 1
		for i, d := range dists {
			acc += d
			if acc >= target {
				chosen = i
				break
			}
		}
		cents = append(cents, append([]float64(nil), points[chosen]...))
	}
	return cents
}

func nearestCentroid(centroids [][]float64, p []float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, cent := range centroids {
		if d := floats.Distance(p, cent, 2); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func recomputeCentroids(points [][]float64, labels []int, k int, prev [][]float64) [][]float64 {
	dim := len(points[0])
	cents := make([][]float64, k)
	counts := make([]int, k)
	for c := range cents {
		cents[c] = make([]float64, dim)
	}
	for i, p := range points {
		floats.Add(cents[labels[i]], p)
		counts[labels[i]]++
	}
	for c := range cents {
		if counts[c] == 0 {
			// empty cluster keeps its previous position
			copy(cents[c], prev[c])
			continue
		}
		floats.Scale(1/float64(counts[c]), cents[c])
	}
	return cents
}

// silhouetteScore is the mean silhouette coefficient over all samples.
// Returns NaN when the labeling cannot be scored (fewer than two clusters).
func silhouetteScore(points [][]float64, labels []int) float64 {
	clusters := make(map[int][]int)
	for i, l := range labels {
		clusters[l] = append(clusters[l], i)
	}
	if len(clusters) < 2 {
		return math.NaN()
	}
	total := 0.0
	for i, p := range points {
		own := clusters[labels[i]]
		if len(own) == 1 {
			continue // s(i) = 0 by convention
		}
		a := 0.0
		for _, j := range own {
			if j != i {
				a += floats.Distance(p, points[j], 2)
			}
		}
		a /= float64(len(own) - 1)

		b := math.Inf(1)
		for l, members := range clusters {
			if l == labels[i] {
				continue
			}
			d := 0.0
			for _, j := range members {
				d += floats.Distance(p, points[j], 2)
			}
			d /= float64(len(members))
			if d < b {
				b = d
			}
		}
		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
	}
	return total / float64(len(points))
}
