// Package timeseries implements the series math shared by the analytics
// engines: calendar bucketing of sparse observations, exact-offset lookups,
// windowed statistics, and ranking. All windows are time ranges, never row
// counts, so ingestion gaps shrink the sample instead of stretching the
// window.
package timeseries

import (
	"math"
	"sort"
	"time"
)

// Sample is one timestamped value of a series.
type Sample struct {
	T time.Time
	V float64
}

// Mean returns the arithmetic mean of values.
// ok is false for an empty input.
func Mean(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), true
}

// MeanStd returns the mean and sample standard deviation (n-1 denominator)
// of values. ok is false when fewer than two values are present; a zero
// standard deviation is returned as 0 with ok true, and it is the caller's
// business to treat it as an undefined divisor.
func MeanStd(values []float64) (mean, std float64, ok bool) {
	if len(values) < 2 {
		return 0, 0, false
	}

	mean, _ = Mean(values)

	varianceSum := 0.0
	for _, v := range values {
		varianceSum += (v - mean) * (v - mean)
	}
	std = math.Sqrt(varianceSum / float64(len(values)-1))
	return mean, std, true
}

// PercentileCont returns the p-th percentile (0..100) of values using
// linear interpolation between closest ranks, the same semantics as SQL
// PERCENTILE_CONT. A single value is its own percentile; ok is false only
// for an empty input.
func PercentileCont(values []float64, p float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0], true
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo], true
	}

	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac, true
}

// Pearson returns the correlation coefficient of the paired samples.
// ok is false when fewer than two pairs are given or either side has zero
// variance; a coefficient is never NaN or Inf.
func Pearson(x, y []float64) (float64, bool) {
	if len(x) != len(y) || len(x) < 2 {
		return 0, false
	}

	n := float64(len(x))

	var sumX, sumY float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
	}
	meanX := sumX / n
	meanY := sumY / n

	var covariance, varX, varY float64
	for i := range x {
		dx := x[i] - meanX
		dy := y[i] - meanY
		covariance += dx * dy
		varX += dx * dx
		varY += dy * dy
	}

	if varX == 0 || varY == 0 {
		return 0, false
	}

	result := covariance / math.Sqrt(varX*varY)
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, false
	}

	// Floating point drift can push a perfect fit a hair past the bounds
	if result > 1 {
		result = 1
	}
	if result < -1 {
		result = -1
	}
	return result, true
}

// WindowValues returns the values of samples whose timestamp lies in
// [from, to]. Samples must be ascending by time.
func WindowValues(samples []Sample, from, to time.Time) []float64 {
	if to.Before(from) {
		return nil
	}

	lo := sort.Search(len(samples), func(i int) bool {
		return !samples[i].T.Before(from)
	})
	hi := sort.Search(len(samples), func(i int) bool {
		return samples[i].T.After(to)
	})
	if lo >= hi {
		return nil
	}

	values := make([]float64, 0, hi-lo)
	for _, s := range samples[lo:hi] {
		values = append(values, s.V)
	}
	return values
}
