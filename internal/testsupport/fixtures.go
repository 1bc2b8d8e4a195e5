package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"barometer/internal/domain/market"
	"barometer/internal/repository/memory"
)

// Ptr returns a pointer to v; fixture shorthand for nullable metric fields.
func Ptr(v float64) *float64 { return &v }

// Fixture wires an in-memory metric store and currency repository so engine
// tests can seed deterministic history without external services.
type Fixture struct {
	Store      *memory.MetricStore
	Currencies *memory.CurrencyRepository
}

// NewFixture creates an empty fixture
func NewFixture() *Fixture {
	return &Fixture{
		Store:      memory.NewMetricStore(),
		Currencies: memory.NewCurrencyRepository(),
	}
}

// AddCurrency registers a currency and returns its surrogate id
func (f *Fixture) AddCurrency(t *testing.T, providerID, symbol string) int64 {
	t.Helper()

	stored, err := f.Currencies.Upsert(context.Background(), &market.Currency{
		ProviderID: providerID,
		Symbol:     symbol,
		Name:       symbol,
	})
	require.NoError(t, err)
	return stored.ID
}

// AddRecord inserts one observation
func (f *Fixture) AddRecord(t *testing.T, currencyID int64, ts time.Time, price, cap, volume *float64) {
	t.Helper()

	err := f.Store.InsertMetrics(context.Background(), []market.MetricRecord{{
		CurrencyID:   currencyID,
		Timestamp:    ts,
		PriceUSD:     price,
		MarketCapUSD: cap,
		Volume24hUSD: volume,
	}})
	require.NoError(t, err)
}

// AddHourlyPrices inserts one record per consecutive hour starting at start,
// carrying only the price field
func (f *Fixture) AddHourlyPrices(t *testing.T, currencyID int64, start time.Time, prices ...float64) {
	t.Helper()

	for i, p := range prices {
		f.AddRecord(t, currencyID, start.Add(time.Duration(i)*time.Hour), Ptr(p), nil, nil)
	}
}

// AddHourlyMetrics inserts one record per consecutive hour starting at
// start, with parallel price and volume series
func (f *Fixture) AddHourlyMetrics(t *testing.T, currencyID int64, start time.Time, prices, volumes []float64) {
	t.Helper()

	require.Equal(t, len(prices), len(volumes), "prices and volumes must align")
	for i := range prices {
		f.AddRecord(t, currencyID, start.Add(time.Duration(i)*time.Hour), Ptr(prices[i]), nil, Ptr(volumes[i]))
	}
}
