package markethealth

import (
	"context"
	"math"
	"sort"
	"time"

	"barometer/internal/domain/analytics"
	"barometer/internal/domain/market"
	"barometer/internal/timeseries"
	"barometer/pkg/errors"
	"barometer/pkg/logger"
)

const (
	// DefaultTopN bounds the daily cohort when no size is configured
	DefaultTopN = 20

	neutralScore = 50.0
)

// Scorer condenses each day's market behavior into one 0..100 composite.
// The cohort is re-selected every day by that day's average market cap, so
// membership follows the market instead of freezing a historical top list.
// Sub-scores normalize a day's volatility, average pairwise correlation and
// volume against the range observed on strictly prior days, which keeps the
// score leakage-free and lets early days degrade to a neutral midpoint.
type Scorer struct {
	store market.MetricStore
	topN  int
	log   *logger.Logger
}

// NewScorer creates a market health scorer. A non-positive topN falls back
// to DefaultTopN.
func NewScorer(store market.MetricStore, topN int, log *logger.Logger) *Scorer {
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Scorer{
		store: store,
		topN:  topN,
		log:   log.With("component", "markethealth"),
	}
}

// Score produces one row per calendar day in bounds that has at least one
// observation. Returns crossing midnight count toward the day of the hour
// they land on, scored against the final hour of the prior day.
func (s *Scorer) Score(ctx context.Context, bounds analytics.Bounds) ([]analytics.MarketHealthDay, error) {
	if !bounds.Valid() {
		return nil, errors.Wrap(errors.ErrInvalidBounds, "market health")
	}

	firstDay := timeseries.DayOf(bounds.From)
	lastDay := timeseries.DayOf(bounds.To)

	// One hour of padding supplies each first-of-day return baseline
	records, err := s.store.ListRange(ctx, market.RangeQuery{
		From: firstDay.Add(-time.Hour),
		To:   bounds.To,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list metrics for market health")
	}
	if len(records) == 0 {
		return nil, nil
	}

	hourly := timeseries.Hourly(records)

	returnsByDay := make(map[int64]map[int64][]timeseries.Return)
	volumesByDay := make(map[int64]map[int64][]float64)
	for currencyID, hours := range hourly {
		for _, r := range timeseries.HourlyReturns(hours) {
			key := timeseries.DayOf(r.T).Unix()
			if returnsByDay[key] == nil {
				returnsByDay[key] = make(map[int64][]timeseries.Return)
			}
			returnsByDay[key][currencyID] = append(returnsByDay[key][currencyID], r)
		}
		for _, h := range hours {
			if h.AvgVolume == nil {
				continue
			}
			key := timeseries.DayOf(h.Start).Unix()
			if volumesByDay[key] == nil {
				volumesByDay[key] = make(map[int64][]float64)
			}
			volumesByDay[key][currencyID] = append(volumesByDay[key][currencyID], *h.AvgVolume)
		}
	}

	days := make(map[int64]time.Time)
	capsByDay := make(map[int64][]timeseries.RankedValue)
	for currencyID, dayAggs := range timeseries.Daily(records) {
		for _, d := range dayAggs {
			if d.Start.Before(firstDay) || d.Start.After(lastDay) {
				continue
			}
			key := d.Start.Unix()
			days[key] = d.Start
			capsByDay[key] = append(capsByDay[key], timeseries.RankedValue{ID: currencyID, Value: d.AvgCap})
		}
	}

	dayKeys := make([]int64, 0, len(days))
	for key := range days {
		dayKeys = append(dayKeys, key)
	}
	sort.Slice(dayKeys, func(i, j int) bool { return dayKeys[i] < dayKeys[j] })

	var volatilityEnv, correlationEnv, volumeEnv envelope

	rows := make([]analytics.MarketHealthDay, 0, len(dayKeys))
	for _, key := range dayKeys {
		cohort := timeseries.TopNByValue(capsByDay[key], s.topN)

		var pooled []float64
		var volumes []float64
		memberReturns := make([][]timeseries.Return, 0, len(cohort))
		for _, member := range cohort {
			rets := returnsByDay[key][member.ID]
			memberReturns = append(memberReturns, rets)
			for _, r := range rets {
				pooled = append(pooled, r.Pct)
			}
			volumes = append(volumes, volumesByDay[key][member.ID]...)
		}

		row := analytics.MarketHealthDay{Day: days[key]}

		if _, std, ok := timeseries.MeanStd(pooled); ok {
			row.MarketVolatility = &std
		}
		if len(pooled) > 0 {
			sum := 0.0
			for _, v := range pooled {
				sum += math.Abs(v)
			}
			avg := sum / float64(len(pooled))
			row.AvgAbsReturn = &avg
		}
		if mean, ok := timeseries.Mean(volumes); ok {
			row.AvgVolume24hUSD = &mean
		}

		var coefficients []float64
		for i := 0; i < len(memberReturns); i++ {
			for j := i + 1; j < len(memberReturns); j++ {
				x, y := timeseries.AlignReturns(memberReturns[i], memberReturns[j])
				if c, ok := timeseries.Pearson(x, y); ok {
					coefficients = append(coefficients, c)
				}
			}
		}
		if mean, ok := timeseries.Mean(coefficients); ok {
			row.AvgPairwiseCorrelation = &mean
		}

		row.VolatilityScore = 100 - volatilityEnv.scaled(row.MarketVolatility)
		row.CorrelationScore = 100 - correlationEnv.scaled(row.AvgPairwiseCorrelation)
		row.VolumeScore = volumeEnv.scaled(row.AvgVolume24hUSD)

		// Integer weights over 100 keep an all-neutral day at exactly 50,
		// which the inclusive STABLE threshold depends on
		row.CompositeScore = (40*row.VolatilityScore + 30*row.CorrelationScore + 30*row.VolumeScore) / 100
		switch {
		case row.CompositeScore >= 75:
			row.State = analytics.StateRobust
		case row.CompositeScore >= 50:
			row.State = analytics.StateStable
		default:
			row.State = analytics.StateFragile
		}

		// Today's metrics only join the envelope after scoring: the
		// normalization must never see same-day data
		volatilityEnv.observe(row.MarketVolatility)
		correlationEnv.observe(row.AvgPairwiseCorrelation)
		volumeEnv.observe(row.AvgVolume24hUSD)

		rows = append(rows, row)
	}
	return rows, nil
}

// envelope tracks the expanding min/max of a metric over prior days.
type envelope struct {
	min, max float64
	seen     bool
}

func (e *envelope) observe(v *float64) {
	if v == nil {
		return
	}
	if !e.seen || *v < e.min {
		e.min = *v
	}
	if !e.seen || *v > e.max {
		e.max = *v
	}
	e.seen = true
}

// scaled maps v onto 0..100 within the envelope, clamped. Without a usable
// envelope (no prior days, a flat range) or without a value, the midpoint
// stands in.
func (e *envelope) scaled(v *float64) float64 {
	if v == nil || !e.seen || e.min == e.max {
		return neutralScore
	}
	s := (*v - e.min) / (e.max - e.min) * 100
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
