package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"barometer/internal/domain/market"
	"barometer/pkg/errors"
)

// CurrencyRepository is an in-memory market.CurrencyRepository for unit
// tests and local runs
type CurrencyRepository struct {
	mu         sync.RWMutex
	nextID     int64
	byID       map[int64]market.Currency
	byProvider map[string]int64
}

var _ market.CurrencyRepository = (*CurrencyRepository)(nil)

// NewCurrencyRepository creates an empty in-memory currency repository
func NewCurrencyRepository() *CurrencyRepository {
	return &CurrencyRepository{
		byID:       make(map[int64]market.Currency),
		byProvider: make(map[string]int64),
	}
}

// Upsert inserts or updates a currency by ProviderID
func (r *CurrencyRepository) Upsert(ctx context.Context, currency *market.Currency) (*market.Currency, error) {
	if currency == nil || currency.ProviderID == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "currency requires a provider id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if id, ok := r.byProvider[currency.ProviderID]; ok {
		stored := r.byID[id]
		stored.Symbol = currency.Symbol
		stored.Name = currency.Name
		stored.MaxSupply = currency.MaxSupply
		stored.UpdatedAt = now
		r.byID[id] = stored
		return &stored, nil
	}

	r.nextID++
	stored := *currency
	stored.ID = r.nextID
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.byID[stored.ID] = stored
	r.byProvider[stored.ProviderID] = stored.ID
	return &stored, nil
}

// GetByID returns a currency by surrogate key
func (r *CurrencyRepository) GetByID(ctx context.Context, id int64) (*market.Currency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.byID[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "currency %d", id)
	}
	return &stored, nil
}

// List returns all currencies ordered by ID
func (r *CurrencyRepository) List(ctx context.Context) ([]market.Currency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]market.Currency, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
