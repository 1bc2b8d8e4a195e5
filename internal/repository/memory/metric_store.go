package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"barometer/internal/domain/market"
)

// MetricStore is an in-memory market.MetricStore used by unit tests and
// local runs. Writes replace rows sharing a (currency, timestamp) key, the
// same dedupe rule the warehouse table applies on merge.
type MetricStore struct {
	mu      sync.RWMutex
	records map[int64]map[int64]market.MetricRecord // currency id -> unix seconds -> record
}

var _ market.MetricStore = (*MetricStore)(nil)

// NewMetricStore creates an empty in-memory metric store
func NewMetricStore() *MetricStore {
	return &MetricStore{
		records: make(map[int64]map[int64]market.MetricRecord),
	}
}

// InsertMetrics stores records, replacing any existing (currency, timestamp) rows
func (s *MetricStore) InsertMetrics(ctx context.Context, records []market.MetricRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		r.Timestamp = r.Timestamp.UTC()
		byTS, ok := s.records[r.CurrencyID]
		if !ok {
			byTS = make(map[int64]market.MetricRecord)
			s.records[r.CurrencyID] = byTS
		}
		byTS[r.Timestamp.Unix()] = r
	}
	return nil
}

// ListRange returns matching records ordered by (CurrencyID, Timestamp) ascending
func (s *MetricStore) ListRange(ctx context.Context, query market.RangeQuery) ([]market.MetricRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[int64]bool, len(query.CurrencyIDs))
	for _, id := range query.CurrencyIDs {
		wanted[id] = true
	}

	var out []market.MetricRecord
	for currencyID, byTS := range s.records {
		if len(wanted) > 0 && !wanted[currencyID] {
			continue
		}
		for _, r := range byTS {
			if !query.From.IsZero() && r.Timestamp.Before(query.From) {
				continue
			}
			if !query.To.IsZero() && r.Timestamp.After(query.To) {
				continue
			}
			out = append(out, r)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CurrencyID != out[j].CurrencyID {
			return out[i].CurrencyID < out[j].CurrencyID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

// LatestTimestamp returns the most recent observation time across the store
func (s *MetricStore) LatestTimestamp(ctx context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest time.Time
	found := false
	for _, byTS := range s.records {
		for _, r := range byTS {
			if !found || r.Timestamp.After(latest) {
				latest = r.Timestamp
				found = true
			}
		}
	}
	return latest, found, nil
}

// ObservedBounds returns the earliest and latest observation times
func (s *MetricStore) ObservedBounds(ctx context.Context) (time.Time, time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var from, to time.Time
	found := false
	for _, byTS := range s.records {
		for _, r := range byTS {
			if !found {
				from, to = r.Timestamp, r.Timestamp
				found = true
				continue
			}
			if r.Timestamp.Before(from) {
				from = r.Timestamp
			}
			if r.Timestamp.After(to) {
				to = r.Timestamp
			}
		}
	}
	return from, to, found, nil
}

// Health always reports healthy
func (s *MetricStore) Health(ctx context.Context) error {
	return nil
}
