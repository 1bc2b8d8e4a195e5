package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"barometer/internal/domain/analytics"
	"barometer/pkg/errors"
)

// SnapshotKey is where the latest derived cut lives; exported so the
// metrics collector can probe it without decoding the payload.
const SnapshotKey = "analytics:snapshot:latest"

// Compile-time check that we implement the interface
var _ analytics.SnapshotCache = (*SnapshotCache)(nil)

// SnapshotCache implements analytics.SnapshotCache using Redis
type SnapshotCache struct {
	client *redis.Client
}

// NewSnapshotCache creates a new snapshot cache
func NewSnapshotCache(client *redis.Client) *SnapshotCache {
	return &SnapshotCache{
		client: client,
	}
}

// Save stores a snapshot as the latest cut with the given TTL
func (c *SnapshotCache) Save(ctx context.Context, snapshot *analytics.Snapshot, ttl time.Duration) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrapf(errors.ErrCacheEncode, "marshal snapshot: %v", err)
	}

	if err := c.client.Set(ctx, SnapshotKey, data, ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to save snapshot to redis")
	}

	return nil
}

// Get returns the latest cached snapshot
func (c *SnapshotCache) Get(ctx context.Context) (*analytics.Snapshot, error) {
	data, err := c.client.Get(ctx, SnapshotKey).Result()
	if err == redis.Nil {
		return nil, errors.Wrap(errors.ErrCacheMiss, "no cached snapshot")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get snapshot from redis")
	}

	var snapshot analytics.Snapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, errors.Wrapf(errors.ErrCacheEncode, "unmarshal snapshot: %v", err)
	}

	return &snapshot, nil
}

// Invalidate drops the cached snapshot
func (c *SnapshotCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, SnapshotKey).Err(); err != nil {
		return errors.Wrap(err, "failed to invalidate snapshot cache")
	}

	return nil
}
