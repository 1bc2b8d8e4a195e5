package windowstats

import (
	"context"
	"sort"
	"time"

	"barometer/internal/domain/analytics"
	"barometer/internal/domain/market"
	"barometer/internal/timeseries"
	"barometer/pkg/errors"
	"barometer/pkg/logger"
)

// Engine computes the windowed price statistics: per-day averages with a
// 7-day calendar moving average, and per-hour averages with the change
// against the record exactly one hour earlier.
type Engine struct {
	store      market.MetricStore
	currencies market.CurrencyRepository
	log        *logger.Logger
}

// NewEngine creates a windowed statistics engine
func NewEngine(
	store market.MetricStore,
	currencies market.CurrencyRepository,
	log *logger.Logger,
) *Engine {
	return &Engine{
		store:      store,
		currencies: currencies,
		log:        log.With("component", "windowstats"),
	}
}

// DailyMovingAverages computes one row per (currency, day) within bounds.
// The moving average for a day is the mean of the currency's daily average
// prices over the calendar range [day-6d, day]; days without data shrink
// the sample instead of stretching the window.
func (e *Engine) DailyMovingAverages(ctx context.Context, bounds analytics.Bounds) ([]analytics.DailyMovingAverage, error) {
	if !bounds.Valid() {
		return nil, errors.Wrap(errors.ErrInvalidBounds, "daily moving averages")
	}

	firstDay := timeseries.DayOf(bounds.From)
	lastDay := timeseries.DayOf(bounds.To)

	// The window reaches back six days before the first requested day
	records, err := e.store.ListRange(ctx, market.RangeQuery{
		From: firstDay.AddDate(0, 0, -6),
		To:   bounds.To,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list metrics for moving averages")
	}

	symbols, err := symbolIndex(ctx, e.currencies)
	if err != nil {
		return nil, err
	}

	var rows []analytics.DailyMovingAverage
	for currencyID, days := range timeseries.Daily(records) {
		samples := make([]timeseries.Sample, 0, len(days))
		for _, d := range days {
			if d.AvgPrice != nil {
				samples = append(samples, timeseries.Sample{T: d.Start, V: *d.AvgPrice})
			}
		}

		for _, d := range days {
			if d.Start.Before(firstDay) || d.Start.After(lastDay) {
				continue
			}
			row := analytics.DailyMovingAverage{
				Day:         d.Start,
				CurrencyID:  currencyID,
				Symbol:      symbols[currencyID],
				AvgPriceUSD: d.AvgPrice,
			}
			window := timeseries.WindowValues(samples, d.Start.AddDate(0, 0, -6), d.Start)
			if avg, ok := timeseries.Mean(window); ok {
				row.MovingAvg7d = &avg
			}
			rows = append(rows, row)
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CurrencyID != rows[j].CurrencyID {
			return rows[i].CurrencyID < rows[j].CurrencyID
		}
		return rows[i].Day.Before(rows[j].Day)
	})
	return rows, nil
}

// HourlyChanges computes one row per (currency, hour) within bounds. The
// previous price is the hourly average exactly one hour earlier; across a
// gap the change is undefined, never computed against an older value.
func (e *Engine) HourlyChanges(ctx context.Context, bounds analytics.Bounds) ([]analytics.HourlyChange, error) {
	if !bounds.Valid() {
		return nil, errors.Wrap(errors.ErrInvalidBounds, "hourly changes")
	}

	firstHour := timeseries.HourOf(bounds.From)
	lastHour := timeseries.HourOf(bounds.To)

	// One extra hour of history so the first requested hour can resolve
	// its previous bucket
	records, err := e.store.ListRange(ctx, market.RangeQuery{
		From: firstHour.Add(-time.Hour),
		To:   bounds.To,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list metrics for hourly changes")
	}

	symbols, err := symbolIndex(ctx, e.currencies)
	if err != nil {
		return nil, err
	}

	var rows []analytics.HourlyChange
	for currencyID, hours := range timeseries.Hourly(records) {
		index := timeseries.IndexByStart(hours)

		for _, h := range hours {
			if h.Start.Before(firstHour) || h.Start.After(lastHour) {
				continue
			}
			row := analytics.HourlyChange{
				Timestamp:  h.Start,
				CurrencyID: currencyID,
				Symbol:     symbols[currencyID],
				PriceUSD:   h.AvgPrice,
			}
			if prev, ok := index[h.Start.Add(-time.Hour).Unix()]; ok {
				row.PrevHourPrice = prev.AvgPrice
				if h.AvgPrice != nil && prev.AvgPrice != nil && *prev.AvgPrice != 0 {
					pct := (*h.AvgPrice - *prev.AvgPrice) / *prev.AvgPrice * 100
					row.PctChange = &pct
				}
			}
			rows = append(rows, row)
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CurrencyID != rows[j].CurrencyID {
			return rows[i].CurrencyID < rows[j].CurrencyID
		}
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
	return rows, nil
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
