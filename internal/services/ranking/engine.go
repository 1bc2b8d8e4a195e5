package ranking

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

// Engine computes the ranking outputs: daily volume ranks from each day's
// last observation, and monthly market cap trends with exact-date
// month-over-month and year-over-year references.
type Engine struct {
	store      market.MetricStore
	currencies market.CurrencyRepository
	log        *logger.Logger
}

// NewEngine creates a ranking engine
func NewEngine(
	store market.MetricStore,
	currencies market.CurrencyRepository,
	log *logger.Logger,
) *Engine {
	return &Engine{
		store:      store,
		currencies: currencies,
		log:        log.With("component", "ranking"),
	}
}

// DailyVolumeRanks ranks currencies within each day by the volume of the
// day's latest observation, descending. A rolling 24h volume is cumulative,
// so the last value stands for the day; summing intraday ticks would double
// count. Ranks are dense and nil volumes share the trailing rank.
func (e *Engine) DailyVolumeRanks(ctx context.Context, bounds analytics.Bounds) ([]analytics.DailyVolumeRank, error) {
	if !bounds.Valid() {
		return nil, errors.Wrap(errors.ErrInvalidBounds, "daily volume ranks")
	}

	records, err := e.store.ListRange(ctx, market.RangeQuery{
		From: timeseries.DayOf(bounds.From),
		To:   bounds.To,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list metrics for volume ranks")
	}

	symbols, err := symbolIndex(ctx, e.currencies)
	if err != nil {
		return nil, err
	}

	type dayEntry struct {
		currencyID int64
		volume     *float64
	}
	byDay := make(map[int64][]dayEntry)
	dayStarts := make(map[int64]time.Time)

	for currencyID, days := range timeseries.Daily(records) {
		for _, d := range days {
			key := d.Start.Unix()
			byDay[key] = append(byDay[key], dayEntry{currencyID: currencyID, volume: d.LastVolume})
			dayStarts[key] = d.Start
		}
	}

	var rows []analytics.DailyVolumeRank
	for key, entries := range byDay {
		ranked := make([]timeseries.RankedValue, len(entries))
		for i, entry := range entries {
			ranked[i] = timeseries.RankedValue{ID: entry.currencyID, Value: entry.volume}
		}
		ranks := timeseries.DenseRanks(ranked)

		for _, entry := range entries {
			rows = append(rows, analytics.DailyVolumeRank{
				Day:              dayStarts[key],
				CurrencyID:       entry.currencyID,
				Symbol:           symbols[entry.currencyID],
				TotalDailyVolume: entry.volume,
				VolumeRank:       ranks[entry.currencyID],
			})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Day.Equal(rows[j].Day) {
			return rows[i].Day.Before(rows[j].Day)
		}
		if rows[i].VolumeRank != rows[j].VolumeRank {
			return rows[i].VolumeRank < rows[j].VolumeRank
		}
		return rows[i].CurrencyID < rows[j].CurrencyID
	})
	return rows, nil
}

// MarketCapTrends aggregates market cap to (currency, month) and computes
// changes against the exact prior calendar month and the same month one
// year earlier. A missing reference month leaves the change undefined; the
// engine never substitutes the nearest available month.
func (e *Engine) MarketCapTrends(ctx context.Context, bounds analytics.Bounds) ([]analytics.MarketCapTrend, error) {
	if !bounds.Valid() {
		return nil, errors.Wrap(errors.ErrInvalidBounds, "market cap trends")
	}

	firstMonth := timeseries.MonthOf(bounds.From)
	lastMonth := timeseries.MonthOf(bounds.To)

	// Reach back a full year so YoY references resolve for the first month
	records, err := e.store.ListRange(ctx, market.RangeQuery{
		From: firstMonth.AddDate(-1, 0, 0),
		To:   bounds.To,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list metrics for cap trends")
	}

	symbols, err := symbolIndex(ctx, e.currencies)
	if err != nil {
		return nil, err
	}

	type trendKey struct {
		month      int64
		currencyID int64
	}
	trends := make(map[trendKey]*analytics.MarketCapTrend)
	months := make(map[int64]time.Time)

	for currencyID, monthly := range timeseries.Monthly(records) {
		index := timeseries.IndexByStart(monthly)

		for _, m := range monthly {
			if m.Start.Before(firstMonth) || m.Start.After(lastMonth) {
				continue
			}
			row := &analytics.MarketCapTrend{
				MonthStart:       m.Start,
				CurrencyID:       currencyID,
				Symbol:           symbols[currencyID],
				AvgMarketCapUSD:  m.AvgCap,
				PeakMarketCapUSD: m.PeakCap,
			}
			if prior, ok := index[m.Start.AddDate(0, -1, 0).Unix()]; ok {
				row.MoMChange = changeRatio(m.AvgCap, prior.AvgCap)
			}
			if prior, ok := index[m.Start.AddDate(-1, 0, 0).Unix()]; ok {
				row.YoYChange = changeRatio(m.AvgCap, prior.AvgCap)
			}
			trends[trendKey{month: m.Start.Unix(), currencyID: currencyID}] = row
			months[m.Start.Unix()] = m.Start
		}
	}

	// Rank within each month: by average cap, by MoM and by YoY, all dense
	// descending with undefined values sorted last
	for monthKey := range months {
		var caps, moms, yoys []timeseries.RankedValue
		for key, row := range trends {
			if key.month != monthKey {
				continue
			}
			caps = append(caps, timeseries.RankedValue{ID: key.currencyID, Value: row.AvgMarketCapUSD})
			moms = append(moms, timeseries.RankedValue{ID: key.currencyID, Value: row.MoMChange})
			yoys = append(yoys, timeseries.RankedValue{ID: key.currencyID, Value: row.YoYChange})
		}
		capRanks := timeseries.DenseRanks(caps)
		momRanks := timeseries.DenseRanks(moms)
		yoyRanks := timeseries.DenseRanks(yoys)

		for key, row := range trends {
			if key.month != monthKey {
				continue
			}
			row.MarketCapRank = capRanks[key.currencyID]
			row.MoMChangeRank = momRanks[key.currencyID]
			row.YoYChangeRank = yoyRanks[key.currencyID]
		}
	}

	rows := make([]analytics.MarketCapTrend, 0, len(trends))
	for _, row := range trends {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].MonthStart.Equal(rows[j].MonthStart) {
			return rows[i].MonthStart.Before(rows[j].MonthStart)
		}
		if rows[i].MarketCapRank != rows[j].MarketCapRank {
			return rows[i].MarketCapRank < rows[j].MarketCapRank
		}
		return rows[i].CurrencyID < rows[j].CurrencyID
	})
	return rows, nil
}

// changeRatio returns (current - reference) / reference, undefined when
// either side is missing or the reference is zero
func changeRatio(current, reference *float64) *float64 {
	if current == nil || reference == nil || *reference == 0 {
		return nil
	}
	ratio := (*current - *reference) / *reference
	return &ratio
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
