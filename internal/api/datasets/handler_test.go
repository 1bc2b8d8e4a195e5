package datasets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barometer/internal/domain/analytics"
	"barometer/internal/services/snapshot"
	"barometer/internal/testsupport"
	"barometer/pkg/errors"
	"barometer/pkg/logger"
)

type cacheStub struct {
	mu     sync.Mutex
	saved  *analytics.Snapshot
	getErr error
	gets   int
}

func (c *cacheStub) Save(ctx context.Context, snap *analytics.Snapshot, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = snap
	return nil
}

func (c *cacheStub) Get(ctx context.Context) (*analytics.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, c.getErr
	}
	if c.saved == nil {
		return nil, errors.Wrap(errors.ErrCacheMiss, "no cached snapshot")
	}
	return c.saved, nil
}

func (c *cacheStub) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = nil
	return nil
}

func ptr(v float64) *float64 { return &v }

func iptr(v int64) *int64 { return &v }

// cachedSnapshot is a small pre-built cut covering every dataset
func cachedSnapshot() *analytics.Snapshot {
	day := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	coefficient := 0.42

	return &analytics.Snapshot{
		ComputedAt:   day.Add(26 * time.Hour),
		ObservedFrom: day,
		ObservedTo:   day.Add(25 * time.Hour),
		MovingAverages: []analytics.DailyMovingAverage{
			{Day: day, CurrencyID: 1, Symbol: "BTC", AvgPriceUSD: ptr(100), MovingAvg7d: ptr(100)},
			{Day: day, CurrencyID: 2, Symbol: "ETH", AvgPriceUSD: ptr(50), MovingAvg7d: ptr(50)},
			{Day: day.Add(24 * time.Hour), CurrencyID: 1, Symbol: "BTC", AvgPriceUSD: ptr(110), MovingAvg7d: ptr(105)},
		},
		HourlyChanges: []analytics.HourlyChange{
			{Timestamp: day, CurrencyID: 1, Symbol: "BTC", PriceUSD: ptr(100)},
			{Timestamp: day.Add(time.Hour), CurrencyID: 1, Symbol: "BTC", PriceUSD: ptr(101), PrevHourPrice: ptr(100), PctChange: ptr(1)},
		},
		VolumeRanks: []analytics.DailyVolumeRank{
			{Day: day, CurrencyID: 1, Symbol: "BTC", TotalDailyVolume: ptr(5000), VolumeRank: 1},
		},
		CapTrends: []analytics.MarketCapTrend{
			{MonthStart: day, CurrencyID: 1, Symbol: "BTC", AvgMarketCapUSD: ptr(1e9), MarketCapRank: 1},
		},
		Correlations: &analytics.CorrelationMatrix{
			AsOf: day.Add(25 * time.Hour),
			Cohort: []analytics.CohortMember{
				{CurrencyID: 1, Symbol: "BTC", Rank: 1, MarketCapUSD: ptr(1e9)},
				{CurrencyID: 2, Symbol: "ETH", Rank: 2, MarketCapUSD: ptr(5e8)},
			},
			Pairs: []analytics.CorrelationPair{
				{BaseCurrencyID: 1, BaseSymbol: "BTC", ComparedCurrencyID: 1, ComparedSymbol: "BTC", Coefficient: ptr(1), BaseRank: 1, ComparedRank: 1},
				{BaseCurrencyID: 1, BaseSymbol: "BTC", ComparedCurrencyID: 2, ComparedSymbol: "ETH", Coefficient: &coefficient, Overlap: iptr(50), BaseRank: 1, ComparedRank: 2},
				{BaseCurrencyID: 2, BaseSymbol: "ETH", ComparedCurrencyID: 2, ComparedSymbol: "ETH", Coefficient: ptr(1), BaseRank: 2, ComparedRank: 2},
			},
		},
		Anomalies: []analytics.AnomalyPoint{
			{Timestamp: day.Add(time.Hour), CurrencyID: 1, Symbol: "BTC", HourlyReturnPct: 1, Severity: analytics.SeverityNormal},
			{Timestamp: day.Add(2 * time.Hour), CurrencyID: 1, Symbol: "BTC", HourlyReturnPct: 12, IsAnomaly: true, Severity: analytics.SeverityWarning},
			{Timestamp: day.Add(3 * time.Hour), CurrencyID: 1, Symbol: "BTC", HourlyReturnPct: 80, IsAnomaly: true, IsCritical: true, Severity: analytics.SeverityCritical},
		},
		Health: []analytics.MarketHealthDay{
			{Day: day, CompositeScore: 61, State: analytics.StateStable},
		},
	}
}

func newTestMux(t *testing.T, cache analytics.SnapshotCache, f *testsupport.Fixture, maxRows int) *http.ServeMux {
	t.Helper()
	builder := snapshot.NewBuilder(f.Store, f.Currencies, snapshot.Config{
		TopN:              20,
		CorrelationWindow: 90 * 24 * time.Hour,
		AnomalyLookback:   30 * 24 * time.Hour,
	}, logger.Get())

	h := New(cache, builder, 30*time.Minute, maxRows, logger.Get())
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func doGet(t *testing.T, mux *http.ServeMux, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

type movingAveragesResponse struct {
	ComputedAt   time.Time                      `json:"computed_at"`
	ObservedFrom time.Time                      `json:"observed_from"`
	ObservedTo   time.Time                      `json:"observed_to"`
	Count        int                            `json:"count"`
	Rows         []analytics.DailyMovingAverage `json:"rows"`
}

type anomaliesResponse struct {
	Count int                      `json:"count"`
	Rows  []analytics.AnomalyPoint `json:"rows"`
}

func TestHandler_ServesFromCache(t *testing.T) {
	cache := &cacheStub{saved: cachedSnapshot()}
	mux := newTestMux(t, cache, testsupport.NewFixture(), 5000)

	rec := doGet(t, mux, "/api/v1/moving-averages")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp movingAveragesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Count)
	require.Len(t, resp.Rows, 3)
	assert.Equal(t, "BTC", resp.Rows[0].Symbol)
	assert.True(t, resp.ObservedFrom.Equal(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)))
}

func TestHandler_LimitTruncatesRows(t *testing.T) {
	cache := &cacheStub{saved: cachedSnapshot()}
	mux := newTestMux(t, cache, testsupport.NewFixture(), 5000)

	rec := doGet(t, mux, "/api/v1/moving-averages?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp movingAveragesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, resp.Rows, 2)
}

func TestHandler_LimitCappedAtMaxRows(t *testing.T) {
	cache := &cacheStub{saved: cachedSnapshot()}
	mux := newTestMux(t, cache, testsupport.NewFixture(), 2)

	rec := doGet(t, mux, "/api/v1/moving-averages?limit=100000")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp movingAveragesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestHandler_InvalidLimitIsBadRequest(t *testing.T) {
	cache := &cacheStub{saved: cachedSnapshot()}
	mux := newTestMux(t, cache, testsupport.NewFixture(), 5000)

	for _, target := range []string{
		"/api/v1/hourly-changes?limit=abc",
		"/api/v1/hourly-changes?limit=0",
		"/api/v1/hourly-changes?limit=-5",
	} {
		rec := doGet(t, mux, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestHandler_RebuildsOnCacheMiss(t *testing.T) {
	f := testsupport.NewFixture()
	id := f.AddCurrency(t, "bitcoin", "BTC")
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		price := 100.0 + float64(i)
		f.AddRecord(t, id, start.Add(time.Duration(i)*time.Hour),
			testsupport.Ptr(price), testsupport.Ptr(price*1e9), testsupport.Ptr(1000))
	}

	cache := &cacheStub{}
	mux := newTestMux(t, cache, f, 5000)

	rec := doGet(t, mux, "/api/v1/hourly-changes")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int                      `json:"count"`
		Rows  []analytics.HourlyChange `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 6, resp.Count)

	// The rebuilt snapshot was written back for the next reader
	cache.mu.Lock()
	defer cache.mu.Unlock()
	assert.NotNil(t, cache.saved)
}

func TestHandler_EmptyStoreIsNotFound(t *testing.T) {
	cache := &cacheStub{}
	mux := newTestMux(t, cache, testsupport.NewFixture(), 5000)

	rec := doGet(t, mux, "/api/v1/market-health")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
}

func TestHandler_CacheReadFailureFallsBackToRebuild(t *testing.T) {
	f := testsupport.NewFixture()
	id := f.AddCurrency(t, "bitcoin", "BTC")
	f.AddHourlyPrices(t, id, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), 100, 101, 102)

	cache := &cacheStub{getErr: errors.New("redis down")}
	mux := newTestMux(t, cache, f, 5000)

	rec := doGet(t, mux, "/api/v1/hourly-changes")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_AnomalyFilters(t *testing.T) {
	cache := &cacheStub{saved: cachedSnapshot()}
	mux := newTestMux(t, cache, testsupport.NewFixture(), 5000)

	rec := doGet(t, mux, "/api/v1/anomalies")
	require.Equal(t, http.StatusOK, rec.Code)
	var all anomaliesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, 3, all.Count)

	rec = doGet(t, mux, "/api/v1/anomalies?only_anomalies=true")
	require.Equal(t, http.StatusOK, rec.Code)
	var flagged anomaliesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flagged))
	require.Equal(t, 2, flagged.Count)
	for _, a := range flagged.Rows {
		assert.True(t, a.IsAnomaly)
	}

	// Severity matching is case-insensitive
	rec = doGet(t, mux, "/api/v1/anomalies?severity=critical")
	require.Equal(t, http.StatusOK, rec.Code)
	var critical anomaliesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &critical))
	require.Equal(t, 1, critical.Count)
	assert.Equal(t, analytics.SeverityCritical, critical.Rows[0].Severity)

	rec = doGet(t, mux, "/api/v1/anomalies?severity=terrible")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doGet(t, mux, "/api/v1/anomalies?only_anomalies=banana")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CorrelationMinOverlap(t *testing.T) {
	cache := &cacheStub{saved: cachedSnapshot()}
	mux := newTestMux(t, cache, testsupport.NewFixture(), 5000)

	rec := doGet(t, mux, "/api/v1/correlations")
	require.Equal(t, http.StatusOK, rec.Code)
	var full correlationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &full))
	assert.Equal(t, 3, full.Count)
	assert.Len(t, full.Cohort, 2)

	// Overlap 50 passes, and the two diagonal cells always pass
	rec = doGet(t, mux, "/api/v1/correlations?min_overlap=30")
	require.Equal(t, http.StatusOK, rec.Code)
	var filtered correlationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &filtered))
	assert.Equal(t, 3, filtered.Count)

	rec = doGet(t, mux, "/api/v1/correlations?min_overlap=51")
	require.Equal(t, http.StatusOK, rec.Code)
	var diagonalOnly correlationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &diagonalOnly))
	assert.Equal(t, 2, diagonalOnly.Count)
	for _, p := range diagonalOnly.Pairs {
		assert.Equal(t, p.BaseCurrencyID, p.ComparedCurrencyID)
	}

	rec = doGet(t, mux, "/api/v1/correlations?min_overlap=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_NoMatrixYieldsEmptyArrays(t *testing.T) {
	snap := cachedSnapshot()
	snap.Correlations = nil
	cache := &cacheStub{saved: snap}
	mux := newTestMux(t, cache, testsupport.NewFixture(), 5000)

	rec := doGet(t, mux, "/api/v1/correlations")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp correlationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
	assert.NotNil(t, resp.Pairs)
	assert.Empty(t, resp.Pairs)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	cache := &cacheStub{saved: cachedSnapshot()}
	mux := newTestMux(t, cache, testsupport.NewFixture(), 5000)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/moving-averages", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_EveryEndpointServes(t *testing.T) {
	cache := &cacheStub{saved: cachedSnapshot()}
	mux := newTestMux(t, cache, testsupport.NewFixture(), 5000)

	for _, target := range []string{
		"/api/v1/moving-averages",
		"/api/v1/hourly-changes",
		"/api/v1/volume-ranks",
		"/api/v1/cap-trends",
		"/api/v1/correlations",
		"/api/v1/anomalies",
		"/api/v1/market-health",
	} {
		rec := doGet(t, mux, target)
		assert.Equal(t, http.StatusOK, rec.Code, target)
	}
}
