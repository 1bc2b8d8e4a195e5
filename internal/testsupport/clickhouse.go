package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"barometer/internal/adapters/clickhouse"
	"barometer/internal/adapters/config"
)

// metricsTableDDL mirrors scripts/schema.sql. ReplacingMergeTree keyed by
// (currency_id, timestamp) makes re-sent snapshots collapse onto one row.
const metricsTableDDL = `
	CREATE TABLE IF NOT EXISTS metric_records (
		currency_id    Int64,
		timestamp      DateTime('UTC'),
		price_usd      Nullable(Float64),
		market_cap_usd Nullable(Float64),
		volume_24h_usd Nullable(Float64)
	) ENGINE = ReplacingMergeTree
	ORDER BY (currency_id, timestamp)
`

// ClickHouseTestHelper manages cleanup for ClickHouse integration tests.
type ClickHouseTestHelper struct {
	client *clickhouse.Client
}

// NewClickHouseTestHelper creates a ClickHouse client for tests.
func NewClickHouseTestHelper(t *testing.T, cfg config.ClickHouseConfig) *ClickHouseTestHelper {
	t.Helper()

	client, err := clickhouse.NewClient(cfg)
	if err != nil {
		t.Fatalf("failed to connect to clickhouse: %v", err)
	}

	helper := &ClickHouseTestHelper{client: client}
	t.Cleanup(func() { _ = client.Close() })
	return helper
}

// NewTestClickHouse creates a test helper with config loaded from the
// environment, skipping the test when the environment is absent.
func NewTestClickHouse(t *testing.T) *ClickHouseTestHelper {
	t.Helper()

	dbConfigs := LoadDatabaseConfigsFromEnv(t)

	return NewClickHouseTestHelper(t, dbConfigs.ClickHouse)
}

// Client returns the underlying ClickHouse client.
func (h *ClickHouseTestHelper) Client() *clickhouse.Client {
	return h.client
}

// EnsureMetricsTable creates the metric_records table when missing, wipes it,
// and registers a cleanup truncate so tests leave no rows behind.
func (h *ClickHouseTestHelper) EnsureMetricsTable(t *testing.T) {
	t.Helper()

	ctx := context.Background()
	if err := h.client.Exec(ctx, metricsTableDDL); err != nil {
		t.Fatalf("failed to create metric_records table: %v", err)
	}

	if err := h.TruncateTable(ctx, "metric_records"); err != nil {
		t.Fatalf("failed to truncate metric_records: %v", err)
	}

	h.RegisterTableCleanup(t, "metric_records")
}

// CreateTempTable creates a temporary table and registers cleanup.
func (h *ClickHouseTestHelper) CreateTempTable(t *testing.T, schema string) string {
	t.Helper()

	table := fmt.Sprintf("tmp_test_%d", time.Now().UnixNano())
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = MergeTree() ORDER BY tuple()", table, schema)

	if err := h.client.Exec(context.Background(), query); err != nil {
		t.Fatalf("failed to create clickhouse table: %v", err)
	}

	t.Cleanup(func() {
		_ = h.client.Exec(context.Background(), fmt.Sprintf("DROP TABLE IF EXISTS %s", table))
	})

	return table
}

// CleanupTable drops the provided table immediately.
func (h *ClickHouseTestHelper) CleanupTable(ctx context.Context, table string) error {
	return h.client.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table))
}

// TruncateTable removes all data from the table but keeps the structure
func (h *ClickHouseTestHelper) TruncateTable(ctx context.Context, table string) error {
	return h.client.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE IF EXISTS %s", table))
}

// RegisterTableCleanup truncates the table when the test finishes.
func (h *ClickHouseTestHelper) RegisterTableCleanup(t *testing.T, table string) {
	t.Helper()

	t.Cleanup(func() {
		_ = h.TruncateTable(context.Background(), table)
	})
}
