package timeseries

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMean(t *testing.T) {
	_, ok := Mean(nil)
	assert.False(t, ok)

	mean, ok := Mean([]float64{100, 102, 98})
	require.True(t, ok)
	assert.InDelta(t, 100.0, mean, 1e-12)
}

func TestMeanStd_SampleDenominator(t *testing.T) {
	// Sample variance of (100, 102, 98) is (0+4+4)/(3-1) = 4
	mean, std, ok := MeanStd([]float64{100, 102, 98})
	require.True(t, ok)
	assert.InDelta(t, 100.0, mean, 1e-12)
	assert.InDelta(t, 2.0, std, 1e-12)
}

func TestMeanStd_TooFewValues(t *testing.T) {
	_, _, ok := MeanStd([]float64{42})
	assert.False(t, ok)

	_, _, ok = MeanStd(nil)
	assert.False(t, ok)
}

func TestMeanStd_ConstantSeries(t *testing.T) {
	// A constant series has a defined but zero standard deviation; the
	// caller must treat it as an undefined divisor, not as variance
	_, std, ok := MeanStd([]float64{5, 5, 5, 5})
	require.True(t, ok)
	assert.Zero(t, std)
}

func TestPercentileCont(t *testing.T) {
	t.Run("empty input undefined", func(t *testing.T) {
		_, ok := PercentileCont(nil, 99)
		assert.False(t, ok)
	})

	t.Run("single value is its own percentile", func(t *testing.T) {
		v, ok := PercentileCont([]float64{7.5}, 99)
		require.True(t, ok)
		assert.Equal(t, 7.5, v)
	})

	t.Run("interpolates between closest ranks", func(t *testing.T) {
		// rank = 0.5 * (4-1) = 1.5 -> halfway between 2 and 3
		v, ok := PercentileCont([]float64{4, 1, 3, 2}, 50)
		require.True(t, ok)
		assert.InDelta(t, 2.5, v, 1e-12)
	})

	t.Run("p99 over 1..100", func(t *testing.T) {
		values := make([]float64, 100)
		for i := range values {
			values[i] = float64(i + 1)
		}
		// rank = 0.99 * 99 = 98.01 -> 99 + 0.01*(100-99)
		v, ok := PercentileCont(values, 99)
		require.True(t, ok)
		assert.InDelta(t, 99.01, v, 1e-9)
	})

	t.Run("does not mutate input", func(t *testing.T) {
		values := []float64{3, 1, 2}
		_, ok := PercentileCont(values, 50)
		require.True(t, ok)
		assert.Equal(t, []float64{3, 1, 2}, values)
	})
}

func TestPearson(t *testing.T) {
	t.Run("identical series correlate exactly one", func(t *testing.T) {
		x := []float64{1.5, -2.0, 0.25, 3.0}
		r, ok := Pearson(x, x)
		require.True(t, ok)
		assert.Equal(t, 1.0, r)
	})

	t.Run("inverse series correlate minus one", func(t *testing.T) {
		x := []float64{1, 2, 3, 4}
		y := []float64{-1, -2, -3, -4}
		r, ok := Pearson(x, y)
		require.True(t, ok)
		assert.Equal(t, -1.0, r)
	})

	t.Run("zero variance undefined", func(t *testing.T) {
		_, ok := Pearson([]float64{5, 5, 5}, []float64{1, 2, 3})
		assert.False(t, ok)

		_, ok = Pearson([]float64{1, 2, 3}, []float64{5, 5, 5})
		assert.False(t, ok)
	})

	t.Run("fewer than two pairs undefined", func(t *testing.T) {
		_, ok := Pearson([]float64{1}, []float64{2})
		assert.False(t, ok)

		_, ok = Pearson(nil, nil)
		assert.False(t, ok)
	})

	t.Run("mismatched lengths undefined", func(t *testing.T) {
		_, ok := Pearson([]float64{1, 2}, []float64{1, 2, 3})
		assert.False(t, ok)
	})
}

func TestWindowValues(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	samples := []Sample{
		{T: base, V: 1},
		{T: base.Add(1 * time.Hour), V: 2},
		{T: base.Add(2 * time.Hour), V: 3},
		{T: base.Add(3 * time.Hour), V: 4},
	}

	t.Run("bounds are inclusive", func(t *testing.T) {
		values := WindowValues(samples, base.Add(1*time.Hour), base.Add(2*time.Hour))
		assert.Equal(t, []float64{2, 3}, values)
	})

	t.Run("whole range", func(t *testing.T) {
		values := WindowValues(samples, base, base.Add(3*time.Hour))
		assert.Equal(t, []float64{1, 2, 3, 4}, values)
	})

	t.Run("outside range is empty", func(t *testing.T) {
		values := WindowValues(samples, base.Add(4*time.Hour), base.Add(5*time.Hour))
		assert.Empty(t, values)
	})

	t.Run("inverted range is empty", func(t *testing.T) {
		values := WindowValues(samples, base.Add(2*time.Hour), base)
		assert.Empty(t, values)
	})
}
