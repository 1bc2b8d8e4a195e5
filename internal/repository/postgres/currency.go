package postgres

import (
	"context"
	"database/sql"

	"barometer/internal/domain/market"
	"barometer/pkg/errors"
)

// Compile-time check that we implement the interface
var _ market.CurrencyRepository = (*CurrencyRepository)(nil)

// CurrencyRepository implements market.CurrencyRepository using sqlx
type CurrencyRepository struct {
	db DBTX
}

// NewCurrencyRepository creates a new currency repository
func NewCurrencyRepository(db DBTX) *CurrencyRepository {
	return &CurrencyRepository{db: db}
}

// Upsert inserts a currency or refreshes it when the provider slug is already
// known, returning the stored row with its surrogate ID
func (r *CurrencyRepository) Upsert(ctx context.Context, currency *market.Currency) (*market.Currency, error) {
	query := `
		INSERT INTO currencies (provider_id, symbol, name, max_supply, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (provider_id) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			name = EXCLUDED.name,
			max_supply = EXCLUDED.max_supply,
			updated_at = NOW()
		RETURNING id, provider_id, symbol, name, max_supply, created_at, updated_at`

	var stored market.Currency
	err := r.db.GetContext(ctx, &stored, query,
		currency.ProviderID, currency.Symbol, currency.Name, currency.MaxSupply,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert currency")
	}

	return &stored, nil
}

// GetByID retrieves a currency by surrogate key
func (r *CurrencyRepository) GetByID(ctx context.Context, id int64) (*market.Currency, error) {
	var currency market.Currency

	query := `
		SELECT id, provider_id, symbol, name, max_supply, created_at, updated_at
		FROM currencies
		WHERE id = $1`

	err := r.db.GetContext(ctx, &currency, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "currency not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get currency")
	}

	return &currency, nil
}

// List returns all tracked currencies ordered by ID
func (r *CurrencyRepository) List(ctx context.Context) ([]market.Currency, error) {
	var currencies []market.Currency

	query := `
		SELECT id, provider_id, symbol, name, max_supply, created_at, updated_at
		FROM currencies
		ORDER BY id`

	err := r.db.SelectContext(ctx, &currencies, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list currencies")
	}

	return currencies, nil
}
