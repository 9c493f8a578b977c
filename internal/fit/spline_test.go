package fit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_SmoothingSpline_ShortSeriesPassesThrough(t *testing.T) {
	y := []float64{1, 2}
	out, err := SmoothingSpline([]float64{0, 1}, y, Smoothness)
	require.NoError(t, err)
	assert.Equal(t, y, out)
}

func Test_SmoothingSpline_ConstantSeriesStaysFlat(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4}
	y := []float64{2, 2, 2, 2, 2}

	out, err := SmoothingSpline(x, y, Smoothness)
	require.NoError(t, err)
	for _, v := range out {
		assert.InDelta(t, 2.0, v, 1e-9)
	}
}

func Test_SmoothingSpline_SmoothsASpike(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4, 5, 6}
	y := []float64{1, 1, 1, 10, 1, 1, 1}

	out, err := SmoothingSpline(x, y, Smoothness)
	require.NoError(t, err)
	assert.Less(t, out[3], y[3])
}

func Test_HardFilter_ReplacesOutlierWithPriorValue(t *testing.T) {
	series := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 100}
	out := HardFilter(append([]float64{}, series...))
	assert.Equal(t, 1.0, out[len(out)-1])
}

func Test_FindMin(t *testing.T) {
	idx, v := FindMin([]float64{3, 1, 4, 1, 5, -2, 9})
	assert.Equal(t, 5, idx)
	assert.Equal(t, -2.0, v)
}

func Test_FindMin_PanicsOnEmpty(t *testing.T) {
	assert.Panics(t, func() { FindMin(nil) })
}

func Test_SmoothFilter_ReturnsSameLength(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4, 5}
	y := []float64{0.1, 0.2, 0.15, 0.3, 0.25, 0.4}

	out, err := SmoothFilter(x, y)
	require.NoError(t, err)
	assert.Len(t, out, len(y))
}

func Test_SmoothingSpline_LinearDataStaysLinear(t *testing.T) {
	x := make([]float64, 20)
	y := make([]float64, 20)
	for i := range x {
		x[i] = float64(i)
		y[i] = 2*float64(i) + 1
	}

	out, err := SmoothingSpline(x, y, Smoothness)
	require.NoError(t, err)
	for i := range out {
		assert.InDelta(t, y[i], out[i], 1e-6)
	}
}

func Test_SmoothingSpline_RejectsNonIncreasingX(t *testing.T) {
	_, err := SmoothingSpline([]float64{0, 1, 1, 2}, []float64{0, 1, 2, 3}, Smoothness)
	assert.Error(t, err)
}
