package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoBlobs() [][]float64 {
	return [][]float64{
		{0, 0}, {0.2, 0.1}, {0.1, 0.3}, {0.3, 0.2},
		{10, 10}, {10.2, 10.1}, {9.8, 10.3}, {10.1, 9.9},
	}
}

func TestKMeansSeparatesBlobs(t *testing.T) {
	points := twoBlobs()
	_, labels := kMeans(points, 2, 42)
	require.Len(t, labels, len(points))

	first := labels[0]
	for i := 1; i < 4; i++ {
		assert.Equal(t, first, labels[i], "point %d left its blob", i)
	}
	second := labels[4]
	assert.NotEqual(t, first, second)
	for i := 5; i < 8; i++ {
		assert.Equal(t, second, labels[i], "point %d left its blob", i)
	}
}

func TestKMeansDeterministic(t *testing.T) {
	points := twoBlobs()
	_, a := kMeans(points, 2, 7)
	_, b := kMeans(points, 2, 7)
	assert.Equal(t, a, b)
}

func TestKMeansDegenerateInputs(t *testing.T) {
	_, labels := kMeans(nil, 3, 1)
	assert.Nil(t, labels)

	// k capped at the number of points
	points := [][]float64{{1, 1}, {2, 2}}
	_, labels = kMeans(points, 10, 1)
	require.Len(t, labels, 2)
	assert.NotEqual(t, labels[0], labels[1])
}

func TestSilhouetteScore(t *testing.T) {
	points := twoBlobs()

	_, labels := kMeans(points, 2, 42)
	score := silhouetteScore(points, labels)
	assert.Greater(t, score, 0.9, "well-separated blobs should score near 1")

	single := make([]int, len(points))
	assert.True(t, math.IsNaN(silhouetteScore(points, single)))
}
