package anomaly

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
	zScoreWindow     = 7 * 24 * time.Hour
	percentileWindow = 30 * 24 * time.Hour

	anomalyZ  = 3.0
	criticalZ = 4.0

	// |return| must exceed this multiple of the trailing p99 to escalate
	criticalReturnFactor = 1.5
)

// Detector scores hourly observations against each currency's own trailing
// history: z-scores of price and volume levels over a 7 day window and p99
// thresholds of |return| and volume over a 30 day window. Every window ends
// one hour before the scored point so a spike never dampens the statistics
// that judge it.
type Detector struct {
	store      market.MetricStore
	currencies market.CurrencyRepository
	log        *logger.Logger
}

// NewDetector creates an anomaly detector
func NewDetector(
	store market.MetricStore,
	currencies market.CurrencyRepository,
	log *logger.Logger,
) *Detector {
	return &Detector{
		store:      store,
		currencies: currencies,
		log:        log.With("component", "anomaly"),
	}
}

// Detect scores every currency's hourly series inside bounds. Hours without
// a defined return are not scored, but their price and volume levels still
// feed the windows of later hours.
func (d *Detector) Detect(ctx context.Context, bounds analytics.Bounds) ([]analytics.AnomalyPoint, error) {
	return d.detect(ctx, nil, bounds)
}

// DetectForCurrency scores a single currency's hourly series inside bounds.
func (d *Detector) DetectForCurrency(ctx context.Context, currencyID int64, bounds analytics.Bounds) ([]analytics.AnomalyPoint, error) {
	return d.detect(ctx, []int64{currencyID}, bounds)
}

func (d *Detector) detect(ctx context.Context, currencyIDs []int64, bounds analytics.Bounds) ([]analytics.AnomalyPoint, error) {
	if !bounds.Valid() {
		return nil, errors.Wrap(errors.ErrInvalidBounds, "anomaly detection")
	}

	scoreFrom := timeseries.HourOf(bounds.From)
	scoreTo := timeseries.HourOf(bounds.To)

	// The widest window reaches back 30 days from the first scored hour
	records, err := d.store.ListRange(ctx, market.RangeQuery{
		CurrencyIDs: currencyIDs,
		From:        scoreFrom.Add(-percentileWindow),
		To:          bounds.To,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list metrics for anomaly detection")
	}

	symbols, err := symbolIndex(ctx, d.currencies)
	if err != nil {
		return nil, err
	}

	var rows []analytics.AnomalyPoint
	for currencyID, hours := range timeseries.Hourly(records) {
		rows = append(rows, d.scoreSeries(currencyID, symbols[currencyID], hours, scoreFrom, scoreTo)...)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CurrencyID != rows[j].CurrencyID {
			return rows[i].CurrencyID < rows[j].CurrencyID
		}
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
	return rows, nil
}

// scoreSeries scores one currency's hourly aggregates, ascending by hour.
func (d *Detector) scoreSeries(currencyID int64, symbol string, hours []timeseries.Aggregate, scoreFrom, scoreTo time.Time) []analytics.AnomalyPoint {
	index := timeseries.IndexByStart(hours)
	returns := timeseries.HourlyReturns(hours)

	prices := timeseries.PriceSamples(hours)
	volumes := timeseries.VolumeSamples(hours)
	absReturns := timeseries.AbsReturnSamples(returns)

	var rows []analytics.AnomalyPoint
	for _, ret := range returns {
		if ret.T.Before(scoreFrom) || ret.T.After(scoreTo) {
			continue
		}
		hour := index[ret.T.Unix()]

		zFrom, zTo := ret.T.Add(-zScoreWindow), ret.T.Add(-time.Hour)
		pFrom := ret.T.Add(-percentileWindow)

		point := analytics.AnomalyPoint{
			Timestamp:       ret.T,
			CurrencyID:      currencyID,
			Symbol:          symbol,
			PriceUSD:        hour.AvgPrice,
			Volume24hUSD:    hour.AvgVolume,
			HourlyReturnPct: ret.Pct,
			PriceZScore:     zScore(hour.AvgPrice, timeseries.WindowValues(prices, zFrom, zTo)),
			VolumeZScore:    zScore(hour.AvgVolume, timeseries.WindowValues(volumes, zFrom, zTo)),
			P99AbsReturnPct: percentile99(timeseries.WindowValues(absReturns, pFrom, zTo)),
			P99VolumeUSD:    percentile99(timeseries.WindowValues(volumes, pFrom, zTo)),
		}
		point.IsAnomaly = exceedsZ(point.PriceZScore, anomalyZ) ||
			exceedsZ(point.VolumeZScore, anomalyZ) ||
			exceedsThreshold(math.Abs(ret.Pct), point.P99AbsReturnPct, 1) ||
			exceedsLevel(hour.AvgVolume, point.P99VolumeUSD)
		point.IsCritical = exceedsZ(point.PriceZScore, criticalZ) ||
			exceedsZ(point.VolumeZScore, criticalZ) ||
			exceedsThreshold(math.Abs(ret.Pct), point.P99AbsReturnPct, criticalReturnFactor)

		switch {
		case point.IsCritical:
			point.Severity = analytics.SeverityCritical
		case point.IsAnomaly:
			point.Severity = analytics.SeverityWarning
		default:
			point.Severity = analytics.SeverityNormal
		}
		rows = append(rows, point)
	}
	return rows
}

// zScore standardizes value against the window's mean and sample stddev.
// Undefined when the value is missing, the window holds fewer than two
// points, or the window has zero variance.
func zScore(value *float64, window []float64) *float64 {
	if value == nil {
		return nil
	}
	mean, std, ok := timeseries.MeanStd(window)
	if !ok || std == 0 {
		return nil
	}
	z := (*value - mean) / std
	return &z
}

func percentile99(window []float64) *float64 {
	p, ok := timeseries.PercentileCont(window, 99)
	if !ok {
		return nil
	}
	return &p
}

// exceedsZ reports whether a defined z-score reaches limit in magnitude;
// the comparison is inclusive.
func exceedsZ(z *float64, limit float64) bool {
	return z != nil && math.Abs(*z) >= limit
}

// exceedsThreshold reports whether value exceeds factor times a defined
// threshold. Strictly: a constant series, whose p99 equals every value,
// must not flag itself.
func exceedsThreshold(value float64, threshold *float64, factor float64) bool {
	return threshold != nil && value > factor*(*threshold)
}

func exceedsLevel(value, threshold *float64) bool {
	return value != nil && threshold != nil && *value > *threshold
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
