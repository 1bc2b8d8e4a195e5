package timeseries

import (
	"sort"
	"time"

	"barometer/internal/domain/market"
)

// Aggregate is one (currency, bucket) rollup of metric observations.
// Averages and the peak skip nil inputs; a field is nil when no observation
// in the bucket carried it. LastVolume is the volume of the bucket's latest
// raw observation, nil included, because a rolling 24h volume field is
// already cumulative and must not be summed or averaged.
type Aggregate struct {
	Start      time.Time
	AvgPrice   *float64
	AvgVolume  *float64
	AvgCap     *float64
	PeakCap    *float64
	LastVolume *float64
	Count      int
}

// HourOf truncates t to its UTC hour bucket.
func HourOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// DayOf truncates t to UTC midnight.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthOf truncates t to the first day of its UTC month.
func MonthOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

type bucketAcc struct {
	priceSum   float64
	priceN     int
	volumeSum  float64
	volumeN    int
	capSum     float64
	capN       int
	peakCap    float64
	hasPeak    bool
	lastTS     time.Time
	lastVolume *float64
	count      int
}

// Buckets groups records per currency into the calendar buckets defined by
// trunc and returns per-bucket aggregates ascending by bucket start, keyed
// by currency id.
func Buckets(records []market.MetricRecord, trunc func(time.Time) time.Time) map[int64][]Aggregate {
	accs := make(map[int64]map[int64]*bucketAcc)
	starts := make(map[int64]time.Time)

	for _, r := range records {
		start := trunc(r.Timestamp)
		key := start.Unix()
		starts[key] = start

		byBucket, ok := accs[r.CurrencyID]
		if !ok {
			byBucket = make(map[int64]*bucketAcc)
			accs[r.CurrencyID] = byBucket
		}
		acc, ok := byBucket[key]
		if !ok {
			acc = &bucketAcc{}
			byBucket[key] = acc
		}

		acc.count++
		if r.PriceUSD != nil {
			acc.priceSum += *r.PriceUSD
			acc.priceN++
		}
		if r.Volume24hUSD != nil {
			acc.volumeSum += *r.Volume24hUSD
			acc.volumeN++
		}
		if r.MarketCapUSD != nil {
			acc.capSum += *r.MarketCapUSD
			acc.capN++
			if !acc.hasPeak || *r.MarketCapUSD > acc.peakCap {
				acc.peakCap = *r.MarketCapUSD
				acc.hasPeak = true
			}
		}
		if acc.count == 1 || r.Timestamp.After(acc.lastTS) {
			acc.lastTS = r.Timestamp
			acc.lastVolume = r.Volume24hUSD
		}
	}

	out := make(map[int64][]Aggregate, len(accs))
	for currencyID, byBucket := range accs {
		aggs := make([]Aggregate, 0, len(byBucket))
		for key, acc := range byBucket {
			agg := Aggregate{
				Start:      starts[key],
				LastVolume: acc.lastVolume,
				Count:      acc.count,
			}
			if acc.priceN > 0 {
				v := acc.priceSum / float64(acc.priceN)
				agg.AvgPrice = &v
			}
			if acc.volumeN > 0 {
				v := acc.volumeSum / float64(acc.volumeN)
				agg.AvgVolume = &v
			}
			if acc.capN > 0 {
				v := acc.capSum / float64(acc.capN)
				agg.AvgCap = &v
			}
			if acc.hasPeak {
				v := acc.peakCap
				agg.PeakCap = &v
			}
			aggs = append(aggs, agg)
		}
		sort.Slice(aggs, func(i, j int) bool {
			return aggs[i].Start.Before(aggs[j].Start)
		})
		out[currencyID] = aggs
	}
	return out
}

// Hourly buckets records into UTC hours per currency.
func Hourly(records []market.MetricRecord) map[int64][]Aggregate {
	return Buckets(records, HourOf)
}

// Daily buckets records into UTC days per currency.
func Daily(records []market.MetricRecord) map[int64][]Aggregate {
	return Buckets(records, DayOf)
}

// Monthly buckets records into UTC months per currency.
func Monthly(records []market.MetricRecord) map[int64][]Aggregate {
	return Buckets(records, MonthOf)
}

// IndexByStart indexes aggregates by bucket start (unix seconds) for
// exact-offset lookups.
func IndexByStart(aggs []Aggregate) map[int64]Aggregate {
	index := make(map[int64]Aggregate, len(aggs))
	for _, a := range aggs {
		index[a.Start.Unix()] = a
	}
	return index
}

// Return is one defined hourly percentage change.
type Return struct {
	T   time.Time
	Pct float64
}

// HourlyReturns computes exact-adjacent-hour percentage changes over an
// hourly series. An hour produces a return only when the bucket exactly one
// hour earlier exists and both prices are defined with a non-zero baseline.
// A gap never falls back to an older price.
func HourlyReturns(hours []Aggregate) []Return {
	index := IndexByStart(hours)

	var out []Return
	for _, h := range hours {
		if h.AvgPrice == nil {
			continue
		}
		prev, ok := index[h.Start.Add(-time.Hour).Unix()]
		if !ok || prev.AvgPrice == nil || *prev.AvgPrice == 0 {
			continue
		}
		pct := (*h.AvgPrice - *prev.AvgPrice) / *prev.AvgPrice * 100
		out = append(out, Return{T: h.Start, Pct: pct})
	}
	return out
}

// AlignReturns inner-joins two defined-return series on timestamp, both
// ascending, and returns the paired values.
func AlignReturns(a, b []Return) (x, y []float64) {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].T.Before(b[j].T):
			i++
		case b[j].T.Before(a[i].T):
			j++
		default:
			x = append(x, a[i].Pct)
			y = append(y, b[j].Pct)
			i++
			j++
		}
	}
	return x, y
}

// ReturnSamples converts returns to timestamped values.
func ReturnSamples(returns []Return) []Sample {
	samples := make([]Sample, len(returns))
	for i, r := range returns {
		samples[i] = Sample{T: r.T, V: r.Pct}
	}
	return samples
}

// AbsReturnSamples converts returns to timestamped absolute values.
func AbsReturnSamples(returns []Return) []Sample {
	samples := make([]Sample, len(returns))
	for i, r := range returns {
		v := r.Pct
		if v < 0 {
			v = -v
		}
		samples[i] = Sample{T: r.T, V: v}
	}
	return samples
}

// PriceSamples extracts the defined hourly average prices as samples.
func PriceSamples(hours []Aggregate) []Sample {
	samples := make([]Sample, 0, len(hours))
	for _, h := range hours {
		if h.AvgPrice == nil {
			continue
		}
		samples = append(samples, Sample{T: h.Start, V: *h.AvgPrice})
	}
	return samples
}

// VolumeSamples extracts the defined hourly average volumes as samples.
func VolumeSamples(hours []Aggregate) []Sample {
	samples := make([]Sample, 0, len(hours))
	for _, h := range hours {
		if h.AvgVolume == nil {
			continue
		}
		samples = append(samples, Sample{T: h.Start, V: *h.AvgVolume})
	}
	return samples
}
