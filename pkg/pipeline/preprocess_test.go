package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func featureIndex(p *Preprocessor, col string) int {
	for i, c := range p.NumericCols {
		if c == col {
			return i
		}
	}
	for i, c := range p.CategoricalCols {
		if c == col {
			return len(p.NumericCols) + i
		}
	}
	return -1
}

func TestPreprocessorStandardizesNumeric(t *testing.T) {
	rows := []*Row{
		{Temperature: fptr(10)},
		{Temperature: fptr(20)},
	}

	p := NewPreprocessor()
	p.Fit(rows)

	idx := featureIndex(p, "temperature")
	require.GreaterOrEqual(t, idx, 0)

	v0 := p.FeatureVector(rows[0])[idx]
	v1 := p.FeatureVector(rows[1])[idx]
	assert.InDelta(t, -v1, v0, 1e-9, "symmetric around the mean")
	assert.Negative(t, v0)
	assert.Positive(t, v1)
}

func TestPreprocessorImputesWithMedian(t *testing.T) {
	rows := []*Row{
		{Temperature: fptr(10)},
		{Temperature: fptr(20)},
		{Temperature: fptr(90)},
	}

	p := NewPreprocessor()
	p.Fit(rows)
	assert.InDelta(t, 20.0, p.Medians["temperature"], 1e-9)

	idx := featureIndex(p, "temperature")
	missing := &Row{}
	fromMedian := p.FeatureVector(missing)[idx]
	observed := p.FeatureVector(rows[1])[idx]
	assert.InDelta(t, observed, fromMedian, 1e-9)
}

func TestPreprocessorEncodesCategories(t *testing.T) {
	rows := []*Row{
		{LineNumber: "A", StationCluster: 1, LineServiceCluster: 0},
		{LineNumber: "B", StationCluster: 1, LineServiceCluster: 0},
		{LineNumber: "B", StationCluster: 2, LineServiceCluster: 1},
	}

	p := NewPreprocessor()
	p.Fit(rows)

	idx := featureIndex(p, "line_number")
	require.GreaterOrEqual(t, idx, 0)

	// codes follow the sorted category order
	assert.Equal(t, 0.0, p.FeatureVector(rows[0])[idx])
	assert.Equal(t, 1.0, p.FeatureVector(rows[1])[idx])

	// unseen category resolves to the reserved code, never an error
	unseen := &Row{LineNumber: "ZZZ"}
	assert.Equal(t, float64(UnknownCategoryCode), p.FeatureVector(unseen)[idx])
}

func TestPreprocessorMissingCategoryUsesMode(t *testing.T) {
	rows := []*Row{
		{IsRaining: bptr(true)},
		{IsRaining: bptr(true)},
		{IsRaining: bptr(false)},
	}

	p := NewPreprocessor()
	p.Fit(rows)
	assert.Equal(t, "true", p.Modes["is_raining"])

	idx := featureIndex(p, "is_raining")
	missing := &Row{}
	withTrue := &Row{IsRaining: bptr(true)}
	assert.Equal(t, p.FeatureVector(withTrue)[idx], p.FeatureVector(missing)[idx])
}

func TestPreprocessorConstantColumnStaysFinite(t *testing.T) {
	rows := []*Row{
		{Temperature: fptr(12)},
		{Temperature: fptr(12)},
	}

	p := NewPreprocessor()
	p.Fit(rows)

	for _, v := range p.FeatureVector(rows[0]) {
		assert.False(t, math.IsNaN(v))
		assert.False(t, math.IsInf(v, 0))
	}
}

func TestTransformShape(t *testing.T) {
	rows := []*Row{{}, {}, {}}
	p := NewPreprocessor()
	p.Fit(rows)

	X := p.Transform(rows)
	r, c := X.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, p.NumFeatures(), c)
	assert.Equal(t, len(NumericFeatureCols())+len(CategoricalFeatureCols()), c)
}
