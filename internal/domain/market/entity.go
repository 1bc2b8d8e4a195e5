package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency represents a tracked asset (dimension row)
type Currency struct {
	ID         int64               `db:"id"`
	ProviderID string              `db:"provider_id"` // stable natural key from the data provider, e.g. "bitcoin"
	Symbol     string              `db:"symbol"`
	Name       string              `db:"name"`
	MaxSupply  decimal.NullDecimal `db:"max_supply"`
	CreatedAt  time.Time           `db:"created_at"`
	UpdatedAt  time.Time           `db:"updated_at"`
}

// MetricRecord represents one observation of a currency's market metrics.
// Observations are hourly-ish; gaps happen and nothing fills them in.
// One record per (CurrencyID, Timestamp); later writes replace earlier ones.
type MetricRecord struct {
	CurrencyID   int64     `ch:"currency_id"`
	Timestamp    time.Time `ch:"timestamp"` // UTC
	PriceUSD     *float64  `ch:"price_usd"`
	MarketCapUSD *float64  `ch:"market_cap_usd"`
	Volume24hUSD *float64  `ch:"volume_24h_usd"`
}

// RangeQuery represents query parameters for metric range scans
type RangeQuery struct {
	CurrencyIDs []int64 // empty means all currencies
	From        time.Time
	To          time.Time // inclusive
	Limit       int       // 0 means no limit
}

// PipelineRun records one ingestion or refresh cycle
type PipelineRun struct {
	ID            string     `db:"id"`
	RunType       string     `db:"run_type"` // snapshot_ingest, analytics_refresh
	StartedAt     time.Time  `db:"started_at"`
	FinishedAt    *time.Time `db:"finished_at"`
	Status        string     `db:"status"` // running, success, failed
	RecordsIn     int64      `db:"records_in"`
	RecordsFailed int64      `db:"records_failed"`
	Error         *string    `db:"error"`
}

// Pipeline run statuses
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// Pipeline run types
const (
	RunTypeSnapshotIngest   = "snapshot_ingest"
	RunTypeAnalyticsRefresh = "analytics_refresh"
)
