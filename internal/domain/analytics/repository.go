package analytics

import (
	"context"
	"time"
)

// SnapshotCache defines the interface for the derived-dataset cache (Redis).
// The refresh worker writes a full cut; readers get the latest one or a
// cache miss when nothing fresh is available.
type SnapshotCache interface {
	// Save stores a snapshot as the latest cut with the given TTL
	Save(ctx context.Context, snapshot *Snapshot, ttl time.Duration) error

	// Get returns the latest cached snapshot; errors.ErrCacheMiss when
	// there is none or it has expired
	Get(ctx context.Context) (*Snapshot, error)

	// Invalidate drops the cached snapshot
	Invalidate(ctx context.Context) error
}
