package market

import (
	"context"
	"time"
)

// MetricStore defines the interface for metric fact access (ClickHouse)
type MetricStore interface {
	// InsertMetrics batch-inserts observations; re-inserting an existing
	// (currency, timestamp) key replaces the previous row
	InsertMetrics(ctx context.Context, records []MetricRecord) error

	// ListRange returns observations matching the query, ordered by
	// (CurrencyID, Timestamp) ascending. Missing hours are not fabricated.
	ListRange(ctx context.Context, query RangeQuery) ([]MetricRecord, error)

	// LatestTimestamp returns the most recent observation time across the
	// store; ok is false when the store is empty
	LatestTimestamp(ctx context.Context) (ts time.Time, ok bool, err error)

	// ObservedBounds returns the earliest and latest observation times;
	// ok is false when the store is empty
	ObservedBounds(ctx context.Context) (from, to time.Time, ok bool, err error)

	// Health checks store connectivity
	Health(ctx context.Context) error
}

// CurrencyRepository defines the interface for the currency dimension (PostgreSQL)
type CurrencyRepository interface {
	// Upsert inserts or updates a currency by its ProviderID and returns
	// the stored row with its surrogate ID
	Upsert(ctx context.Context, currency *Currency) (*Currency, error)

	// GetByID returns a currency by surrogate key
	GetByID(ctx context.Context, id int64) (*Currency, error)

	// List returns all currencies ordered by ID
	List(ctx context.Context) ([]Currency, error)
}

// RunLogRepository defines the interface for pipeline run bookkeeping (PostgreSQL)
type RunLogRepository interface {
	// Start inserts a running entry and returns it
	Start(ctx context.Context, runType string) (*PipelineRun, error)

	// Finish marks a run finished with the given status and counts
	Finish(ctx context.Context, id string, status string, recordsIn, recordsFailed int64, runErr error) error

	// Recent returns the latest runs, newest first
	Recent(ctx context.Context, limit int) ([]PipelineRun, error)
}
