package workers

import (
	"context"
	"strings"
	"time"

	"barometer/internal/domain/analytics"
	"barometer/internal/domain/market"
	"barometer/internal/metrics"
	"barometer/internal/services/snapshot"
	"barometer/pkg/errors"
	"barometer/pkg/logger"
)

// Broadcaster pushes a freshly computed snapshot to connected subscribers
type Broadcaster interface {
	BroadcastRefresh(snap *analytics.Snapshot)
}

// CriticalNotifier forwards critical anomalies to an alert channel
type CriticalNotifier interface {
	NotifyCritical(ctx context.Context, anomalies []analytics.AnomalyPoint) error
}

// RefreshConfig carries the cadence of the analytics refresh worker
type RefreshConfig struct {
	Interval time.Duration
	Enabled  bool
	CacheTTL time.Duration
}

// RefreshWorker rebuilds every derived dataset from the metric store,
// caches the bundle as the latest snapshot, and fans the result out to
// websocket subscribers and alerting. The ingestion consumer pokes it via
// Trigger after fresh observations land.
type RefreshWorker struct {
	*BaseWorker
	store       market.MetricStore
	builder     *snapshot.Builder
	cache       analytics.SnapshotCache
	runs        market.RunLogRepository
	broadcaster Broadcaster
	notifier    CriticalNotifier
	cfg         RefreshConfig
	trigger     chan struct{}
	log         *logger.Logger
}

// NewRefreshWorker creates the analytics refresh worker. Broadcaster and
// notifier may be nil; the refresh then only recomputes and caches.
func NewRefreshWorker(
	store market.MetricStore,
	builder *snapshot.Builder,
	cache analytics.SnapshotCache,
	runs market.RunLogRepository,
	broadcaster Broadcaster,
	notifier CriticalNotifier,
	cfg RefreshConfig,
) *RefreshWorker {
	return &RefreshWorker{
		BaseWorker:  NewBaseWorker("analytics_refresh", cfg.Interval, cfg.Enabled),
		store:       store,
		builder:     builder,
		cache:       cache,
		runs:        runs,
		broadcaster: broadcaster,
		notifier:    notifier,
		cfg:         cfg,
		trigger:     make(chan struct{}, 1),
		log:         logger.Get().With("worker", "analytics_refresh"),
	}
}

// Trigger requests an immediate refresh cycle. Requests arriving while one
// is already pending collapse into a single run.
func (w *RefreshWorker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// TriggerC exposes the trigger channel to the scheduler
func (w *RefreshWorker) TriggerC() <-chan struct{} {
	return w.trigger
}

// Run executes one full refresh cycle
func (w *RefreshWorker) Run(ctx context.Context) error {
	start := time.Now()

	latest, ok, err := w.store.LatestTimestamp(ctx)
	if err != nil {
		w.RecordError(err, time.Since(start))
		return errors.Wrap(err, "resolve refresh as-of")
	}
	if !ok {
		w.log.Debugw("Metric store is empty, nothing to refresh")
		w.RecordRun(time.Since(start))
		return nil
	}

	run := w.startRun(ctx)

	snap, err := w.builder.BuildAt(ctx, latest)
	if err != nil {
		w.finishRun(ctx, run, nil, err)
		w.RecordError(err, time.Since(start))
		return err
	}

	if err := w.cache.Save(ctx, snap, w.cfg.CacheTTL); err != nil {
		err = errors.Wrap(err, "cache refreshed snapshot")
		w.finishRun(ctx, run, snap, err)
		w.RecordError(err, time.Since(start))
		return err
	}

	w.publishGauges(snap)

	if w.broadcaster != nil {
		w.broadcaster.BroadcastRefresh(snap)
	}
	w.notifyCritical(ctx, snap)

	w.finishRun(ctx, run, snap, nil)
	w.RecordRun(time.Since(start))

	w.log.Infow("Analytics snapshot refreshed",
		"as_of", latest,
		"rows", snap.TotalRows(),
		"anomalies", len(snap.Anomalies),
		"duration", time.Since(start),
	)
	return nil
}

func (w *RefreshWorker) notifyCritical(ctx context.Context, snap *analytics.Snapshot) {
	if w.notifier == nil {
		return
	}
	critical := snap.CriticalAnomalies()
	if len(critical) == 0 {
		return
	}
	if err := w.notifier.NotifyCritical(ctx, critical); err != nil {
		w.log.Errorw("Critical anomaly notification failed",
			"count", len(critical),
			"error", err,
		)
	}
}

// startRun opens a pipeline run entry. A refresh must not stall on
// bookkeeping, so failures are logged and the cycle proceeds without one.
func (w *RefreshWorker) startRun(ctx context.Context) *market.PipelineRun {
	if w.runs == nil {
		return nil
	}
	run, err := w.runs.Start(ctx, market.RunTypeAnalyticsRefresh)
	if err != nil {
		w.log.Errorw("Failed to record refresh run", "error", err)
		return nil
	}
	return run
}

func (w *RefreshWorker) finishRun(ctx context.Context, run *market.PipelineRun, snap *analytics.Snapshot, runErr error) {
	if run == nil {
		return
	}

	status := market.RunStatusSuccess
	if runErr != nil {
		status = market.RunStatusFailed
	}
	var rows int64
	if snap != nil {
		rows = int64(snap.TotalRows())
	}

	if err := w.runs.Finish(ctx, run.ID, status, rows, 0, runErr); err != nil {
		w.log.Errorw("Failed to finish refresh run", "run_id", run.ID, "error", err)
	}
}

func (w *RefreshWorker) publishGauges(snap *analytics.Snapshot) {
	metrics.RefreshRows.WithLabelValues("moving_averages").Set(float64(len(snap.MovingAverages)))
	metrics.RefreshRows.WithLabelValues("hourly_changes").Set(float64(len(snap.HourlyChanges)))
	metrics.RefreshRows.WithLabelValues("volume_ranks").Set(float64(len(snap.VolumeRanks)))
	metrics.RefreshRows.WithLabelValues("cap_trends").Set(float64(len(snap.CapTrends)))
	metrics.RefreshRows.WithLabelValues("correlation_pairs").Set(float64(snap.Correlations.PairCount()))
	metrics.RefreshRows.WithLabelValues("anomalies").Set(float64(len(snap.Anomalies)))
	metrics.RefreshRows.WithLabelValues("market_health").Set(float64(len(snap.Health)))

	bySeverity := make(map[analytics.Severity]int)
	for _, a := range snap.Anomalies {
		bySeverity[a.Severity]++
	}
	for _, sev := range []analytics.Severity{analytics.SeverityNormal, analytics.SeverityWarning, analytics.SeverityCritical} {
		metrics.AnomalyRows.WithLabelValues(strings.ToLower(string(sev))).Set(float64(bySeverity[sev]))
	}
}
