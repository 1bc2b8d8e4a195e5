package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barometer/internal/domain/analytics"
	"barometer/internal/testsupport"
	"barometer/pkg/errors"
)

func ptr(v float64) *float64 { return &v }

func sampleSnapshot() *analytics.Snapshot {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	overlap := int64(42)

	return &analytics.Snapshot{
		ComputedAt:   time.Date(2025, 3, 2, 12, 30, 0, 0, time.UTC),
		ObservedFrom: day,
		ObservedTo:   day.Add(36 * time.Hour),
		MovingAverages: []analytics.DailyMovingAverage{
			{Day: day, CurrencyID: 1, Symbol: "BTC", AvgPriceUSD: ptr(50000), MovingAvg7d: ptr(49500)},
		},
		Correlations: &analytics.CorrelationMatrix{
			AsOf: day.Add(36 * time.Hour),
			Cohort: []analytics.CohortMember{
				{CurrencyID: 1, Symbol: "BTC", Rank: 1, MarketCapUSD: ptr(1e12)},
				{CurrencyID: 2, Symbol: "ETH", Rank: 2, MarketCapUSD: ptr(4e11)},
			},
			Pairs: []analytics.CorrelationPair{
				{BaseCurrencyID: 1, ComparedCurrencyID: 2, Coefficient: nil, Overlap: &overlap, BaseRank: 1, ComparedRank: 2},
			},
		},
		Anomalies: []analytics.AnomalyPoint{
			{
				Timestamp:       day.Add(14 * time.Hour),
				CurrencyID:      2,
				Symbol:          "ETH",
				HourlyReturnPct: 12.5,
				PriceZScore:     ptr(4.2),
				IsAnomaly:       true,
				IsCritical:      true,
				Severity:        analytics.SeverityCritical,
			},
		},
	}
}

func TestSnapshotCache_SaveAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := testsupport.NewTestRedis(t)
	cache := NewSnapshotCache(client)
	ctx := context.Background()

	want := sampleSnapshot()
	require.NoError(t, cache.Save(ctx, want, time.Minute))

	got, err := cache.Get(ctx)
	require.NoError(t, err)

	assert.True(t, got.ComputedAt.Equal(want.ComputedAt))
	assert.True(t, got.ObservedTo.Equal(want.ObservedTo))

	require.Len(t, got.MovingAverages, 1)
	require.NotNil(t, got.MovingAverages[0].MovingAvg7d)
	assert.Equal(t, 49500.0, *got.MovingAverages[0].MovingAvg7d)

	require.NotNil(t, got.Correlations)
	require.Len(t, got.Correlations.Pairs, 1)
	pair := got.Correlations.Pairs[0]
	assert.Nil(t, pair.Coefficient, "nil coefficient should survive the round trip")
	require.NotNil(t, pair.Overlap)
	assert.Equal(t, int64(42), *pair.Overlap)

	require.Len(t, got.Anomalies, 1)
	assert.Equal(t, analytics.SeverityCritical, got.Anomalies[0].Severity)
	assert.True(t, got.Anomalies[0].IsCritical)

	ttl, err := client.TTL(ctx, SnapshotKey).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0), "snapshot key should carry a TTL")
}

func TestSnapshotCache_GetMissing(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := testsupport.NewTestRedis(t)
	cache := NewSnapshotCache(client)

	_, err := cache.Get(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCacheMiss))
}

func TestSnapshotCache_InvalidateRemoves(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := testsupport.NewTestRedis(t)
	cache := NewSnapshotCache(client)
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, sampleSnapshot(), time.Minute))
	require.NoError(t, cache.Invalidate(ctx))

	_, err := cache.Get(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCacheMiss))
}
