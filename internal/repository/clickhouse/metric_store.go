package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"barometer/internal/domain/market"
	"barometer/pkg/errors"
)

// Compile-time check
var _ market.MetricStore = (*MetricStore)(nil)

// MetricStore implements market.MetricStore over the metric_records fact
// table, a ReplacingMergeTree ordered by (currency_id, timestamp). Re-sent
// snapshots collapse onto the same key; reads run FINAL so unmerged
// duplicates never reach the engines.
type MetricStore struct {
	conn driver.Conn
}

// NewMetricStore creates a ClickHouse-backed metric store
func NewMetricStore(conn driver.Conn) *MetricStore {
	return &MetricStore{conn: conn}
}

// InsertMetrics writes records as one batch
func (s *MetricStore) InsertMetrics(ctx context.Context, records []market.MetricRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO metric_records (currency_id, timestamp, price_usd, market_cap_usd, volume_24h_usd)
	`)
	if err != nil {
		return errors.Wrapf(errors.ErrStoreInsert, "prepare batch: %v", err)
	}

	for _, r := range records {
		if err := batch.Append(
			r.CurrencyID, r.Timestamp.UTC(),
			r.PriceUSD, r.MarketCapUSD, r.Volume24hUSD,
		); err != nil {
			return errors.Wrapf(errors.ErrStoreInsert, "append record: %v", err)
		}
	}

	if err := batch.Send(); err != nil {
		return errors.Wrapf(errors.ErrStoreInsert, "send batch: %v", err)
	}
	return nil
}

// ListRange returns records matching the query ordered by
// (currency_id, timestamp) ascending
func (s *MetricStore) ListRange(ctx context.Context, query market.RangeQuery) ([]market.MetricRecord, error) {
	sql := `
		SELECT currency_id, timestamp, price_usd, market_cap_usd, volume_24h_usd
		FROM metric_records FINAL
		WHERE 1 = 1`

	var args []interface{}

	if len(query.CurrencyIDs) > 0 {
		sql += fmt.Sprintf(` AND currency_id IN ($%d)`, len(args)+1)
		args = append(args, query.CurrencyIDs)
	}
	if !query.From.IsZero() {
		sql += fmt.Sprintf(` AND timestamp >= $%d`, len(args)+1)
		args = append(args, query.From.UTC())
	}
	if !query.To.IsZero() {
		sql += fmt.Sprintf(` AND timestamp <= $%d`, len(args)+1)
		args = append(args, query.To.UTC())
	}

	sql += ` ORDER BY currency_id ASC, timestamp ASC`

	if query.Limit > 0 {
		sql += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, query.Limit)
	}

	var records []market.MetricRecord
	if err := s.conn.Select(ctx, &records, sql, args...); err != nil {
		return nil, errors.Wrapf(errors.ErrStoreQuery, "list range: %v", err)
	}
	return records, nil
}

// LatestTimestamp returns the newest observation time across all currencies;
// ok is false for an empty table
func (s *MetricStore) LatestTimestamp(ctx context.Context) (time.Time, bool, error) {
	var (
		latest time.Time
		total  uint64
	)
	row := s.conn.QueryRow(ctx, `SELECT max(timestamp), count() FROM metric_records`)
	if err := row.Scan(&latest, &total); err != nil {
		return time.Time{}, false, errors.Wrapf(errors.ErrStoreQuery, "latest timestamp: %v", err)
	}
	if total == 0 {
		return time.Time{}, false, nil
	}
	return latest.UTC(), true, nil
}

// ObservedBounds returns the first and last observation times across all
// currencies; ok is false for an empty table
func (s *MetricStore) ObservedBounds(ctx context.Context) (time.Time, time.Time, bool, error) {
	var (
		first, last time.Time
		total       uint64
	)
	row := s.conn.QueryRow(ctx, `SELECT min(timestamp), max(timestamp), count() FROM metric_records`)
	if err := row.Scan(&first, &last, &total); err != nil {
		return time.Time{}, time.Time{}, false, errors.Wrapf(errors.ErrStoreQuery, "observed bounds: %v", err)
	}
	if total == 0 {
		return time.Time{}, time.Time{}, false, nil
	}
	return first.UTC(), last.UTC(), true, nil
}

// Health checks warehouse connectivity
func (s *MetricStore) Health(ctx context.Context) error {
	return s.conn.Ping(ctx)
}
