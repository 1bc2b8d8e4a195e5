package seeds

import (
	"barometer/internal/domain/market"
	"barometer/internal/testsupport"
)

// UniverseBuilder creates a set of currencies in one go, the usual
// starting point for warehouse tests that need a tracked asset universe
type UniverseBuilder struct {
	seeder *Seeder

	symbols    []string
	customizer func(*CurrencyBuilder) *CurrencyBuilder

	currencies []market.Currency
}

// NewUniverseBuilder creates a new UniverseBuilder
func NewUniverseBuilder(seeder *Seeder) *UniverseBuilder {
	return &UniverseBuilder{
		seeder:  seeder,
		symbols: []string{"BTC", "ETH", "SOL"},
	}
}

// WithSymbols sets the ticker symbols to create (one currency per symbol)
func (ub *UniverseBuilder) WithSymbols(symbols ...string) *UniverseBuilder {
	ub.symbols = symbols
	return ub
}

// CustomizeCurrency allows customizing each currency before creation
func (ub *UniverseBuilder) CustomizeCurrency(fn func(*CurrencyBuilder) *CurrencyBuilder) *UniverseBuilder {
	ub.customizer = fn
	return ub
}

// Build creates all currencies and returns them in symbol order
func (ub *UniverseBuilder) Build() ([]market.Currency, error) {
	ub.currencies = make([]market.Currency, 0, len(ub.symbols))

	for _, symbol := range ub.symbols {
		builder := ub.seeder.Currency().
			WithProviderID(testsupport.UniqueProviderID(symbol)).
			WithSymbol(testsupport.UniqueSymbol(symbol)).
			WithName(symbol + " Test Asset")

		if ub.customizer != nil {
			builder = ub.customizer(builder)
		}

		currency, err := builder.Insert()
		if err != nil {
			return nil, err
		}
		ub.currencies = append(ub.currencies, *currency)
	}

	return ub.currencies, nil
}

// MustBuild creates all currencies and panics on error
func (ub *UniverseBuilder) MustBuild() []market.Currency {
	currencies, err := ub.Build()
	if err != nil {
		panic(err)
	}
	return currencies
}

// Currencies returns the created currencies
func (ub *UniverseBuilder) Currencies() []market.Currency {
	return ub.currencies
}

// Universe creates a new UniverseBuilder from a Seeder
func (s *Seeder) Universe() *UniverseBuilder {
	return NewUniverseBuilder(s)
}

// QuickUniverse creates the default three-asset universe and returns the IDs
func (s *Seeder) QuickUniverse() ([]int64, error) {
	currencies, err := s.Universe().Build()
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(currencies))
	for i, c := range currencies {
		ids[i] = c.ID
	}
	return ids, nil
}
