package seeds

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"barometer/internal/domain/market"
	"barometer/internal/testsupport"
)

// CurrencyBuilder provides a fluent API for creating Currency dimension rows
type CurrencyBuilder struct {
	db     DBTX
	ctx    context.Context
	entity *market.Currency
}

// NewCurrencyBuilder creates a new CurrencyBuilder with sensible defaults
func NewCurrencyBuilder(db DBTX, ctx context.Context) *CurrencyBuilder {
	return &CurrencyBuilder{
		db:  db,
		ctx: ctx,
		entity: &market.Currency{
			ProviderID: testsupport.UniqueProviderID("asset"),
			Symbol:     testsupport.UniqueSymbol("TST"),
			Name:       "Test Asset",
		},
	}
}

// WithProviderID sets the provider slug (natural key)
func (b *CurrencyBuilder) WithProviderID(providerID string) *CurrencyBuilder {
	b.entity.ProviderID = providerID
	return b
}

// WithSymbol sets the ticker symbol
func (b *CurrencyBuilder) WithSymbol(symbol string) *CurrencyBuilder {
	b.entity.Symbol = symbol
	return b
}

// WithName sets the display name
func (b *CurrencyBuilder) WithName(name string) *CurrencyBuilder {
	b.entity.Name = name
	return b
}

// WithMaxSupply sets the maximum supply
func (b *CurrencyBuilder) WithMaxSupply(supply decimal.Decimal) *CurrencyBuilder {
	b.entity.MaxSupply = decimal.NewNullDecimal(supply)
	return b
}

// Build returns the built entity without inserting to DB
func (b *CurrencyBuilder) Build() *market.Currency {
	return b.entity
}

// Insert upserts the currency by provider_id and returns the stored row
func (b *CurrencyBuilder) Insert() (*market.Currency, error) {
	query := `
		INSERT INTO currencies (provider_id, symbol, name, max_supply, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (provider_id) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			name = EXCLUDED.name,
			max_supply = EXCLUDED.max_supply,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	row := b.db.QueryRowContext(b.ctx, query,
		b.entity.ProviderID,
		b.entity.Symbol,
		b.entity.Name,
		b.entity.MaxSupply,
	)

	if err := row.Scan(&b.entity.ID, &b.entity.CreatedAt, &b.entity.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert currency: %w", err)
	}

	return b.entity, nil
}

// MustInsert inserts the currency and panics on error
func (b *CurrencyBuilder) MustInsert() *market.Currency {
	currency, err := b.Insert()
	if err != nil {
		panic(err)
	}
	return currency
}
