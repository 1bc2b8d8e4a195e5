package metrics

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	redisrepo "barometer/internal/repository/redis"
	"barometer/pkg/logger"
)

// WarehouseCollector collects warehouse state metrics from the databases
type WarehouseCollector struct {
	log        *logger.Logger
	postgres   *sqlx.DB
	clickhouse driver.Conn
	redis      *redis.Client

	// Descriptors
	currenciesTotal   *prometheus.Desc
	metricRowsTotal   *prometheus.Desc
	observationAge    *prometheus.Desc
	snapshotCached    *prometheus.Desc
	pipelineRunsTotal *prometheus.Desc
}

// NewWarehouseCollector creates a new warehouse metrics collector
func NewWarehouseCollector(log *logger.Logger, postgres *sqlx.DB, clickhouse driver.Conn, redis *redis.Client) *WarehouseCollector {
	return &WarehouseCollector{
		log:        log,
		postgres:   postgres,
		clickhouse: clickhouse,
		redis:      redis,

		currenciesTotal: prometheus.NewDesc(
			"barometer_currencies_total",
			"Total number of tracked currencies",
			nil, nil,
		),
		metricRowsTotal: prometheus.NewDesc(
			"barometer_metric_rows_total",
			"Total number of metric fact rows in the warehouse",
			nil, nil,
		),
		observationAge: prometheus.NewDesc(
			"barometer_latest_observation_age_seconds",
			"Seconds since the most recent observation in the warehouse",
			nil, nil,
		),
		snapshotCached: prometheus.NewDesc(
			"barometer_snapshot_cached",
			"Whether a derived snapshot is currently cached (1) or not (0)",
			nil, nil,
		),
		pipelineRunsTotal: prometheus.NewDesc(
			"barometer_pipeline_runs_total",
			"Total number of pipeline runs by status",
			[]string{"status"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *WarehouseCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.currenciesTotal
	ch <- c.metricRowsTotal
	ch <- c.observationAge
	ch <- c.snapshotCached
	ch <- c.pipelineRunsTotal
}

// Collect implements prometheus.Collector
func (c *WarehouseCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.collectCurrencyCount(ctx, ch)
	c.collectMetricRowStats(ctx, ch)
	c.collectSnapshotPresence(ctx, ch)
	c.collectPipelineRunStats(ctx, ch)
}

func (c *WarehouseCollector) collectCurrencyCount(ctx context.Context, ch chan<- prometheus.Metric) {
	var count int
	err := c.postgres.GetContext(ctx, &count, "SELECT COUNT(*) FROM currencies")
	if err != nil {
		c.log.Error("Failed to collect currency count metric", "error", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(
		c.currenciesTotal,
		prometheus.GaugeValue,
		float64(count),
	)
}

func (c *WarehouseCollector) collectMetricRowStats(ctx context.Context, ch chan<- prometheus.Metric) {
	var (
		total  uint64
		latest time.Time
	)

	row := c.clickhouse.QueryRow(ctx, "SELECT count(), max(timestamp) FROM metric_records")
	if err := row.Scan(&total, &latest); err != nil {
		c.log.Error("Failed to collect metric row stats", "error", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(
		c.metricRowsTotal,
		prometheus.GaugeValue,
		float64(total),
	)

	if total > 0 {
		ch <- prometheus.MustNewConstMetric(
			c.observationAge,
			prometheus.GaugeValue,
			time.Since(latest).Seconds(),
		)
	}
}

func (c *WarehouseCollector) collectSnapshotPresence(ctx context.Context, ch chan<- prometheus.Metric) {
	exists, err := c.redis.Exists(ctx, redisrepo.SnapshotKey).Result()
	if err != nil {
		c.log.Error("Failed to collect snapshot presence metric", "error", err)
		return
	}

	cached := 0.0
	if exists > 0 {
		cached = 1.0
	}

	ch <- prometheus.MustNewConstMetric(
		c.snapshotCached,
		prometheus.GaugeValue,
		cached,
	)
}

func (c *WarehouseCollector) collectPipelineRunStats(ctx context.Context, ch chan<- prometheus.Metric) {
	type runStat struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}

	var stats []runStat
	err := c.postgres.SelectContext(ctx, &stats, `
		SELECT status, COUNT(*) as count
		FROM pipeline_runs
		GROUP BY status
	`)
	if err != nil {
		c.log.Error("Failed to collect pipeline run stats", "error", err)
		return
	}

	for _, stat := range stats {
		ch <- prometheus.MustNewConstMetric(
			c.pipelineRunsTotal,
			prometheus.GaugeValue,
			float64(stat.Count),
			stat.Status,
		)
	}
}

// RegisterWarehouseCollector registers the warehouse collector
func RegisterWarehouseCollector(collector *WarehouseCollector) {
	prometheus.MustRegister(collector)
}
