package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barometer/internal/testsupport"
	"barometer/pkg/errors"
	"barometer/pkg/logger"
)

const window = 90 * 24 * time.Hour

func newEngine(f *testsupport.Fixture) *Engine {
	return NewEngine(f.Store, f.Currencies, logger.Get())
}

func TestMatrix_IdenticalSeriesCorrelateAtOne(t *testing.T) {
	f := testsupport.NewFixture()
	a := f.AddCurrency(t, "a-coin", "aaa")
	b := f.AddCurrency(t, "b-coin", "bbb")

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	f.AddHourlyPrices(t, a, start, 100, 102, 98, 150)
	f.AddHourlyPrices(t, b, start, 100, 102, 98, 150)

	// Re-insert the final hour with caps so both join the cohort; the
	// store deduplicates on (currency, timestamp)
	last := start.Add(3 * time.Hour)
	f.AddRecord(t, a, last, testsupport.Ptr(150), testsupport.Ptr(1000), nil)
	f.AddRecord(t, b, last, testsupport.Ptr(150), testsupport.Ptr(900), nil)

	m, err := newEngine(f).Matrix(context.Background(), time.Time{}, window, 20)
	require.NoError(t, err)
	require.Len(t, m.Cohort, 2)
	assert.True(t, m.AsOf.Equal(last))

	pair, ok := m.At(a, b)
	require.True(t, ok)
	require.NotNil(t, pair.Coefficient)
	assert.InDelta(t, 1.0, *pair.Coefficient, 1e-12)
	require.NotNil(t, pair.Overlap)
	assert.Equal(t, int64(3), *pair.Overlap)
}

func TestMatrix_InverseSeriesCorrelateAtMinusOne(t *testing.T) {
	f := testsupport.NewFixture()
	a := f.AddCurrency(t, "a-coin", "aaa")
	b := f.AddCurrency(t, "b-coin", "bbb")

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	f.AddHourlyPrices(t, a, start, 100, 110, 99, 118.8) // +10%, -10%, +20%
	f.AddHourlyPrices(t, b, start, 100, 90, 99, 79.2)   // -10%, +10%, -20%

	last := start.Add(3 * time.Hour)
	f.AddRecord(t, a, last, testsupport.Ptr(118.8), testsupport.Ptr(1000), nil)
	f.AddRecord(t, b, last, testsupport.Ptr(79.2), testsupport.Ptr(900), nil)

	m, err := newEngine(f).Matrix(context.Background(), time.Time{}, window, 20)
	require.NoError(t, err)

	pair, ok := m.At(a, b)
	require.True(t, ok)
	require.NotNil(t, pair.Coefficient)
	assert.InDelta(t, -1.0, *pair.Coefficient, 1e-9)
}

func TestMatrix_SymmetricAndDiagonal(t *testing.T) {
	f := testsupport.NewFixture()
	a := f.AddCurrency(t, "a-coin", "aaa")
	b := f.AddCurrency(t, "b-coin", "bbb")

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	f.AddHourlyPrices(t, a, start, 100, 110, 99, 120)
	f.AddHourlyPrices(t, b, start, 50, 52, 49, 60)

	last := start.Add(3 * time.Hour)
	f.AddRecord(t, a, last, testsupport.Ptr(120), testsupport.Ptr(1000), nil)
	f.AddRecord(t, b, last, testsupport.Ptr(60), testsupport.Ptr(900), nil)

	m, err := newEngine(f).Matrix(context.Background(), time.Time{}, window, 20)
	require.NoError(t, err)

	// Full N×N: both directions plus the diagonal
	require.Len(t, m.Pairs, 4)

	var forward, backward *float64
	for _, p := range m.Pairs {
		switch {
		case p.BaseCurrencyID == a && p.ComparedCurrencyID == b:
			forward = p.Coefficient
		case p.BaseCurrencyID == b && p.ComparedCurrencyID == a:
			backward = p.Coefficient
		case p.BaseCurrencyID == p.ComparedCurrencyID:
			require.NotNil(t, p.Coefficient)
			assert.Equal(t, 1.0, *p.Coefficient)
			assert.Nil(t, p.Overlap)
		}
	}
	require.NotNil(t, forward)
	require.NotNil(t, backward)
	assert.Equal(t, *forward, *backward)

	// Lookup is direction independent
	ab, ok := m.At(a, b)
	require.True(t, ok)
	ba, ok := m.At(b, a)
	require.True(t, ok)
	assert.Equal(t, ab, ba)

	self, ok := m.At(a, a)
	require.True(t, ok)
	assert.Nil(t, self.Overlap)
}

func TestMatrix_CohortAtLatestInstantOnly(t *testing.T) {
	f := testsupport.NewFixture()
	a := f.AddCurrency(t, "a-coin", "aaa")
	b := f.AddCurrency(t, "b-coin", "bbb")
	c := f.AddCurrency(t, "c-coin", "ccc")
	d := f.AddCurrency(t, "d-coin", "ddd")

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	instant := start.Add(2 * time.Hour)

	// a and b tie on cap at the snapshot instant; c's huge cap is stale,
	// d is present at the instant but without a cap
	f.AddRecord(t, a, instant, testsupport.Ptr(1), testsupport.Ptr(500), nil)
	f.AddRecord(t, b, instant, testsupport.Ptr(1), testsupport.Ptr(500), nil)
	f.AddRecord(t, c, start, testsupport.Ptr(1), testsupport.Ptr(99999), nil)
	f.AddRecord(t, d, instant, testsupport.Ptr(1), nil, nil)

	m, err := newEngine(f).Matrix(context.Background(), time.Time{}, window, 20)
	require.NoError(t, err)

	require.Len(t, m.Cohort, 2)
	assert.Equal(t, a, m.Cohort[0].CurrencyID) // tie resolved by lower id
	assert.Equal(t, int64(1), m.Cohort[0].Rank)
	assert.Equal(t, b, m.Cohort[1].CurrencyID)
	assert.Equal(t, int64(2), m.Cohort[1].Rank)
	assert.True(t, m.AsOf.Equal(instant))
}

func TestMatrix_TopNLimitsCohort(t *testing.T) {
	f := testsupport.NewFixture()
	a := f.AddCurrency(t, "a-coin", "aaa")
	b := f.AddCurrency(t, "b-coin", "bbb")
	c := f.AddCurrency(t, "c-coin", "ccc")

	instant := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.AddRecord(t, a, instant, testsupport.Ptr(1), testsupport.Ptr(300), nil)
	f.AddRecord(t, b, instant, testsupport.Ptr(1), testsupport.Ptr(200), nil)
	f.AddRecord(t, c, instant, testsupport.Ptr(1), testsupport.Ptr(100), nil)

	m, err := newEngine(f).Matrix(context.Background(), time.Time{}, window, 2)
	require.NoError(t, err)

	require.Len(t, m.Cohort, 2)
	assert.Equal(t, a, m.Cohort[0].CurrencyID)
	assert.Equal(t, b, m.Cohort[1].CurrencyID)
	assert.Len(t, m.Pairs, 4)
}

func TestMatrix_PartialOverlapCountsSharedTimestamps(t *testing.T) {
	f := testsupport.NewFixture()
	a := f.AddCurrency(t, "a-coin", "aaa")
	b := f.AddCurrency(t, "b-coin", "bbb")

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	// a produces returns at hours 1..3, b (starting an hour later) at 2..3
	f.AddHourlyPrices(t, a, start, 100, 110, 99, 120)
	f.AddHourlyPrices(t, b, start.Add(time.Hour), 50, 52, 49)

	last := start.Add(3 * time.Hour)
	f.AddRecord(t, a, last, testsupport.Ptr(120), testsupport.Ptr(1000), nil)
	f.AddRecord(t, b, last, testsupport.Ptr(49), testsupport.Ptr(900), nil)

	m, err := newEngine(f).Matrix(context.Background(), time.Time{}, window, 20)
	require.NoError(t, err)

	pair, ok := m.At(a, b)
	require.True(t, ok)
	require.NotNil(t, pair.Overlap)
	assert.Equal(t, int64(2), *pair.Overlap)
}

func TestMatrix_InsufficientOverlapYieldsNilCoefficient(t *testing.T) {
	f := testsupport.NewFixture()
	a := f.AddCurrency(t, "a-coin", "aaa")
	b := f.AddCurrency(t, "b-coin", "bbb")

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	// a has two returns, b only one; a single shared timestamp remains
	f.AddHourlyPrices(t, a, start, 100, 110, 99)
	f.AddHourlyPrices(t, b, start.Add(time.Hour), 50, 52)

	last := start.Add(2 * time.Hour)
	f.AddRecord(t, a, last, testsupport.Ptr(99), testsupport.Ptr(1000), nil)
	f.AddRecord(t, b, last, testsupport.Ptr(52), testsupport.Ptr(900), nil)

	m, err := newEngine(f).Matrix(context.Background(), time.Time{}, window, 20)
	require.NoError(t, err)

	pair, ok := m.At(a, b)
	require.True(t, ok)
	assert.Nil(t, pair.Coefficient)
	require.NotNil(t, pair.Overlap)
	assert.Equal(t, int64(1), *pair.Overlap)
}

func TestMatrix_ZeroVarianceYieldsNilCoefficient(t *testing.T) {
	f := testsupport.NewFixture()
	a := f.AddCurrency(t, "a-coin", "aaa")
	b := f.AddCurrency(t, "b-coin", "bbb")

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	f.AddHourlyPrices(t, a, start, 100, 200, 400) // +100%, +100%: constant returns
	f.AddHourlyPrices(t, b, start, 100, 110, 99)

	last := start.Add(2 * time.Hour)
	f.AddRecord(t, a, last, testsupport.Ptr(400), testsupport.Ptr(1000), nil)
	f.AddRecord(t, b, last, testsupport.Ptr(99), testsupport.Ptr(900), nil)

	m, err := newEngine(f).Matrix(context.Background(), time.Time{}, window, 20)
	require.NoError(t, err)

	pair, ok := m.At(a, b)
	require.True(t, ok)
	assert.Nil(t, pair.Coefficient)
	require.NotNil(t, pair.Overlap)
	assert.Equal(t, int64(2), *pair.Overlap)
}

func TestMatrix_AsOfExcludesLaterObservations(t *testing.T) {
	f := testsupport.NewFixture()
	a := f.AddCurrency(t, "a-coin", "aaa")
	b := f.AddCurrency(t, "b-coin", "bbb")

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cutoff := start.Add(2 * time.Hour)

	f.AddRecord(t, a, cutoff, testsupport.Ptr(100), testsupport.Ptr(500), nil)
	// b only appears after the cutoff, with a cap that would dominate
	f.AddRecord(t, b, start.Add(5*time.Hour), testsupport.Ptr(1), testsupport.Ptr(99999), nil)

	m, err := newEngine(f).Matrix(context.Background(), cutoff, window, 20)
	require.NoError(t, err)

	require.Len(t, m.Cohort, 1)
	assert.Equal(t, a, m.Cohort[0].CurrencyID)
	assert.True(t, m.AsOf.Equal(cutoff))
}

func TestMatrix_EmptyStore(t *testing.T) {
	f := testsupport.NewFixture()

	_, err := newEngine(f).Matrix(context.Background(), time.Time{}, window, 20)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEmptyStore))
}

func TestMatrix_InvalidArguments(t *testing.T) {
	f := testsupport.NewFixture()

	_, err := newEngine(f).Matrix(context.Background(), time.Time{}, 0, 20)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = newEngine(f).Matrix(context.Background(), time.Time{}, window, 0)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}
