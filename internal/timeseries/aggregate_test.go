package timeseries

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barometer/internal/domain/market"
)

func fp(v float64) *float64 { return &v }

func record(currencyID int64, ts time.Time, price, cap, volume *float64) market.MetricRecord {
	return market.MetricRecord{
		CurrencyID:   currencyID,
		Timestamp:    ts,
		PriceUSD:     price,
		MarketCapUSD: cap,
		Volume24hUSD: volume,
	}
}

func TestTruncation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	ts := time.Date(2025, 6, 15, 1, 42, 7, 0, loc) // 2025-06-14 22:42:07 UTC

	assert.Equal(t, time.Date(2025, 6, 14, 22, 0, 0, 0, time.UTC), HourOf(ts))
	assert.Equal(t, time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC), DayOf(ts))
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), MonthOf(ts))
}

func TestBuckets_AveragesSkipNils(t *testing.T) {
	hour := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	records := []market.MetricRecord{
		record(1, hour.Add(5*time.Minute), fp(100), fp(1000), fp(10)),
		record(1, hour.Add(25*time.Minute), nil, fp(3000), nil),
		record(1, hour.Add(45*time.Minute), fp(110), nil, fp(30)),
	}

	byCurrency := Hourly(records)
	require.Len(t, byCurrency[1], 1)

	agg := byCurrency[1][0]
	assert.Equal(t, hour, agg.Start)
	assert.Equal(t, 3, agg.Count)
	require.NotNil(t, agg.AvgPrice)
	assert.InDelta(t, 105.0, *agg.AvgPrice, 1e-12) // nil price not averaged in
	require.NotNil(t, agg.AvgCap)
	assert.InDelta(t, 2000.0, *agg.AvgCap, 1e-12)
	require.NotNil(t, agg.PeakCap)
	assert.Equal(t, 3000.0, *agg.PeakCap)
	require.NotNil(t, agg.AvgVolume)
	assert.InDelta(t, 20.0, *agg.AvgVolume, 1e-12)
}

func TestBuckets_LastVolumeIsLatestObservation(t *testing.T) {
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	records := []market.MetricRecord{
		record(1, day.Add(2*time.Hour), nil, nil, fp(500)),
		record(1, day.Add(20*time.Hour), nil, nil, nil), // latest of the day, volume nil
	}

	agg := Daily(records)[1][0]
	// The day's volume comes from the latest observation even when nil;
	// an earlier defined value never substitutes
	assert.Nil(t, agg.LastVolume)
}

func TestBuckets_MultipleCurrenciesAndOrder(t *testing.T) {
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	records := []market.MetricRecord{
		record(2, day.Add(26*time.Hour), fp(9), nil, nil),
		record(1, day.Add(1*time.Hour), fp(1), nil, nil),
		record(2, day.Add(2*time.Hour), fp(8), nil, nil),
	}

	byCurrency := Daily(records)
	require.Len(t, byCurrency, 2)
	require.Len(t, byCurrency[2], 2)
	assert.True(t, byCurrency[2][0].Start.Before(byCurrency[2][1].Start))
}

func TestHourlyReturns_ExactAdjacentHourOnly(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("consecutive hours produce returns", func(t *testing.T) {
		hours := []Aggregate{
			{Start: base, AvgPrice: fp(100)},
			{Start: base.Add(1 * time.Hour), AvgPrice: fp(102)},
			{Start: base.Add(2 * time.Hour), AvgPrice: fp(98)},
			{Start: base.Add(3 * time.Hour), AvgPrice: fp(150)},
		}

		returns := HourlyReturns(hours)
		require.Len(t, returns, 3)
		assert.InDelta(t, 2.0, returns[0].Pct, 1e-9)
		assert.InDelta(t, -3.9215686274, returns[1].Pct, 1e-9)
		assert.InDelta(t, 53.0612244898, returns[2].Pct, 1e-9)
	})

	t.Run("gap yields no return, never a stale baseline", func(t *testing.T) {
		hours := []Aggregate{
			{Start: base, AvgPrice: fp(100)},
			{Start: base.Add(3 * time.Hour), AvgPrice: fp(130)},
		}

		returns := HourlyReturns(hours)
		assert.Empty(t, returns)
	})

	t.Run("zero or nil baseline yields no return", func(t *testing.T) {
		hours := []Aggregate{
			{Start: base, AvgPrice: fp(0)},
			{Start: base.Add(1 * time.Hour), AvgPrice: fp(10)},
			{Start: base.Add(2 * time.Hour), AvgPrice: nil},
			{Start: base.Add(3 * time.Hour), AvgPrice: fp(20)},
		}

		returns := HourlyReturns(hours)
		assert.Empty(t, returns)
	})

	t.Run("single observation produces nothing", func(t *testing.T) {
		returns := HourlyReturns([]Aggregate{{Start: base, AvgPrice: fp(100)}})
		assert.Empty(t, returns)
	})
}

func TestAlignReturns(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	a := []Return{
		{T: base, Pct: 1},
		{T: base.Add(1 * time.Hour), Pct: 2},
		{T: base.Add(3 * time.Hour), Pct: 3},
	}
	b := []Return{
		{T: base.Add(1 * time.Hour), Pct: 20},
		{T: base.Add(2 * time.Hour), Pct: 30},
		{T: base.Add(3 * time.Hour), Pct: 40},
	}

	x, y := AlignReturns(a, b)
	assert.Equal(t, []float64{2, 3}, x)
	assert.Equal(t, []float64{20, 40}, y)
}

func TestAbsReturnSamples(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	samples := AbsReturnSamples([]Return{
		{T: base, Pct: -3.5},
		{T: base.Add(time.Hour), Pct: 2.0},
	})

	require.Len(t, samples, 2)
	assert.Equal(t, 3.5, samples[0].V)
	assert.Equal(t, 2.0, samples[1].V)
}
