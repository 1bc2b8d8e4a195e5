package snapshot

import (
	"context"
	"time"

	"barometer/internal/domain/analytics"
	"barometer/internal/domain/market"
	"barometer/internal/services/anomaly"
	"barometer/internal/services/correlation"
	"barometer/internal/services/markethealth"
	"barometer/internal/services/ranking"
	"barometer/internal/services/windowstats"
	"barometer/pkg/errors"
	"barometer/pkg/logger"
)

// Config carries the computation bounds shared by every snapshot build
type Config struct {
	// TopN is the market-cap cohort size for correlations and health scoring
	TopN int

	// CorrelationWindow is the trailing span of hourly returns per pair
	CorrelationWindow time.Duration

	// AnomalyLookback bounds how far back anomaly scoring reaches
	AnomalyLookback time.Duration
}

// Builder derives one consistent cut of every dataset from the metric
// store. The refresh worker, the API's cache-miss path, and the report
// command all build through it so each consumer sees identical semantics.
type Builder struct {
	store       market.MetricStore
	windowStats *windowstats.Engine
	ranking     *ranking.Engine
	correlation *correlation.Engine
	anomaly     *anomaly.Detector
	health      *markethealth.Scorer
	cfg         Config
	log         *logger.Logger
}

// NewBuilder wires the five derivation engines over one store
func NewBuilder(
	store market.MetricStore,
	currencies market.CurrencyRepository,
	cfg Config,
	log *logger.Logger,
) *Builder {
	return &Builder{
		store:       store,
		windowStats: windowstats.NewEngine(store, currencies, log),
		ranking:     ranking.NewEngine(store, currencies, log),
		correlation: correlation.NewEngine(store, currencies, log),
		anomaly:     anomaly.NewDetector(store, currencies, log),
		health:      markethealth.NewScorer(store, cfg.TopN, log),
		cfg:         cfg,
		log:         log.With("component", "snapshot"),
	}
}

// Build derives a cut as of the latest observed timestamp. Returns
// errors.ErrEmptyStore when nothing has been ingested yet.
func (b *Builder) Build(ctx context.Context) (*analytics.Snapshot, error) {
	latest, ok, err := b.store.LatestTimestamp(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "resolve snapshot as-of")
	}
	if !ok {
		return nil, errors.Wrap(errors.ErrEmptyStore, "build snapshot")
	}
	return b.BuildAt(ctx, latest)
}

// BuildAt derives all seven datasets from one consistent as-of cut. The
// long-window datasets span the full observation history up to asOf;
// correlations and anomalies use their configured trailing windows. An
// empty correlation cohort yields a snapshot without a matrix rather
// than an error.
func (b *Builder) BuildAt(ctx context.Context, asOf time.Time) (*analytics.Snapshot, error) {
	observedFrom, observedTo, ok, err := b.store.ObservedBounds(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "resolve observation bounds")
	}
	if !ok {
		return nil, errors.Wrap(errors.ErrEmptyStore, "build snapshot")
	}

	history := analytics.Bounds{From: observedFrom, To: asOf}

	movingAverages, err := b.windowStats.DailyMovingAverages(ctx, history)
	if err != nil {
		return nil, errors.Wrap(err, "compute moving averages")
	}

	hourlyChanges, err := b.windowStats.HourlyChanges(ctx, history)
	if err != nil {
		return nil, errors.Wrap(err, "compute hourly changes")
	}

	volumeRanks, err := b.ranking.DailyVolumeRanks(ctx, history)
	if err != nil {
		return nil, errors.Wrap(err, "compute volume ranks")
	}

	capTrends, err := b.ranking.MarketCapTrends(ctx, history)
	if err != nil {
		return nil, errors.Wrap(err, "compute cap trends")
	}

	health, err := b.health.Score(ctx, history)
	if err != nil {
		return nil, errors.Wrap(err, "compute market health")
	}

	matrix, err := b.correlation.Matrix(ctx, asOf, b.cfg.CorrelationWindow, b.cfg.TopN)
	if err != nil {
		if !errors.Is(err, errors.ErrEmptyCohort) {
			return nil, errors.Wrap(err, "compute correlations")
		}
		b.log.Warnw("Correlation cohort is empty, snapshot carries no matrix", "as_of", asOf)
		matrix = nil
	}

	anomalies, err := b.anomaly.Detect(ctx, analytics.Bounds{
		From: asOf.Add(-b.cfg.AnomalyLookback),
		To:   asOf,
	})
	if err != nil {
		return nil, errors.Wrap(err, "detect anomalies")
	}

	return &analytics.Snapshot{
		ComputedAt:     time.Now().UTC(),
		ObservedFrom:   observedFrom,
		ObservedTo:     observedTo,
		MovingAverages: movingAverages,
		HourlyChanges:  hourlyChanges,
		VolumeRanks:    volumeRanks,
		CapTrends:      capTrends,
		Correlations:   matrix,
		Anomalies:      anomalies,
		Health:         health,
	}, nil
}
