package correlation

import (
	"context"
	"time"

	"barometer/internal/domain/analytics"
	"barometer/internal/domain/market"
	"barometer/internal/timeseries"
	"barometer/pkg/errors"
	"barometer/pkg/logger"
)

// Engine computes the pairwise return-correlation matrix for a top-N
// market cap cohort fixed at the most recent observed timestamp.
type Engine struct {
	store      market.MetricStore
	currencies market.CurrencyRepository
	log        *logger.Logger
}

// NewEngine creates a correlation engine
func NewEngine(
	store market.MetricStore,
	currencies market.CurrencyRepository,
	log *logger.Logger,
) *Engine {
	return &Engine{
		store:      store,
		currencies: currencies,
		log:        log.With("component", "correlation"),
	}
}

// Matrix selects the top-N currencies by market cap at the newest
// observation no later than asOf (zero asOf means the newest in the store),
// computes each member's exact-adjacent-hour returns over the trailing
// window, and emits the full N×N Pearson matrix.
//
// Off-diagonal cells always carry the count of timestamp-matched return
// pairs; the coefficient is undefined under two overlapping observations or
// when either side has zero variance. Diagonal cells are fixed at 1.0 with
// no overlap count. Filtering on a minimum overlap is left to consumers.
func (e *Engine) Matrix(ctx context.Context, asOf time.Time, window time.Duration, topN int) (*analytics.CorrelationMatrix, error) {
	if window <= 0 || topN <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "correlation matrix")
	}

	if asOf.IsZero() {
		latest, ok, err := e.store.LatestTimestamp(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "resolve correlation as-of")
		}
		if !ok {
			return nil, errors.Wrap(errors.ErrEmptyStore, "correlation matrix")
		}
		asOf = latest
	}
	asOf = asOf.UTC()

	records, err := e.store.ListRange(ctx, market.RangeQuery{
		From: asOf.Add(-window),
		To:   asOf,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list metrics for correlation")
	}
	if len(records) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyCohort, "no observations in correlation window")
	}

	// The cohort snapshot is the single newest timestamp in the window;
	// only currencies observed at that exact instant are candidates.
	var instant time.Time
	for _, r := range records {
		if r.Timestamp.After(instant) {
			instant = r.Timestamp
		}
	}

	candidates := make([]timeseries.RankedValue, 0, topN)
	for _, r := range records {
		if r.Timestamp.Equal(instant) && r.MarketCapUSD != nil {
			candidates = append(candidates, timeseries.RankedValue{ID: r.CurrencyID, Value: r.MarketCapUSD})
		}
	}
	top := timeseries.TopNByValue(candidates, topN)
	if len(top) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyCohort, "no market caps at cohort snapshot")
	}

	symbols, err := symbolIndex(ctx, e.currencies)
	if err != nil {
		return nil, err
	}

	hourly := timeseries.Hourly(records)

	cohort := make([]analytics.CohortMember, len(top))
	returns := make([][]timeseries.Return, len(top))
	for i, member := range top {
		cohort[i] = analytics.CohortMember{
			CurrencyID:   member.ID,
			Symbol:       symbols[member.ID],
			Rank:         int64(i + 1),
			MarketCapUSD: member.Value,
		}
		returns[i] = timeseries.HourlyReturns(hourly[member.ID])
	}

	pairs := make([]analytics.CorrelationPair, 0, len(cohort)*len(cohort))
	for i := range cohort {
		for j := range cohort {
			pair := analytics.CorrelationPair{
				BaseCurrencyID:     cohort[i].CurrencyID,
				BaseSymbol:         cohort[i].Symbol,
				ComparedCurrencyID: cohort[j].CurrencyID,
				ComparedSymbol:     cohort[j].Symbol,
				BaseRank:           cohort[i].Rank,
				ComparedRank:       cohort[j].Rank,
			}
			if i == j {
				one := 1.0
				pair.Coefficient = &one
			} else {
				x, y := timeseries.AlignReturns(returns[i], returns[j])
				overlap := int64(len(x))
				pair.Overlap = &overlap
				if coef, ok := timeseries.Pearson(x, y); ok {
					pair.Coefficient = &coef
				}
			}
			pairs = append(pairs, pair)
		}
	}

	e.log.Debugw("correlation matrix computed",
		"as_of", instant,
		"cohort_size", len(cohort),
		"pairs", len(pairs),
	)

	return &analytics.CorrelationMatrix{
		AsOf:   instant,
		Cohort: cohort,
		Pairs:  pairs,
	}, nil
}

func symbolIndex(ctx context.Context, currencies market.CurrencyRepository) (map[int64]string, error) {
	list, err := currencies.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list currencies")
	}
	index := make(map[int64]string, len(list))
	for _, c := range list {
		index[c.ID] = c.Symbol
	}
	return index, nil
}
