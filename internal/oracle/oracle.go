// Package oracle declares the two read-only external collaborators the
// engine depends on: the price oracle and the pool-unit redemption views.
// Both are treated as pure reads, snapshotted before any state mutation.
package oracle

import (
	"sync"

	"github.com/shopspring/decimal"

	"stabengine/internal/assets"
)

// PriceQuote is one (resource, USD price) sample returned by the oracle.
type PriceQuote struct {
	Resource assets.ResourceID
	Price    decimal.Decimal
}

// PriceOracle is the single external read the price controller depends on.
type PriceOracle interface {
	// GetPrices returns the latest USD-denominated price for every
	// resource the oracle tracks. Callable without authority.
	GetPrices() ([]PriceQuote, error)
}

// RedemptionKind distinguishes the two pool-unit redemption view variants.
type RedemptionKind int

const (
	// Validator is an LSU-equivalent whose redemption rate is read from a
	// validator view.
	Validator RedemptionKind = iota
	// Pool is a liquidity-pool unit whose redemption rate is read from a
	// pool view.
	Pool
)

// RedemptionView converts wrapped pool-unit amounts to parent-collateral
// underlying amounts at the current exchange rate.
type RedemptionView interface {
	Kind() RedemptionKind
	RedemptionValue(units decimal.Decimal) (decimal.Decimal, error)
}

// StaticOracle is a deterministic in-memory PriceOracle used by tests and
// as the default when no live oracle is wired in.
type StaticOracle struct {
	Prices map[assets.ResourceID]decimal.Decimal
}

// NewStaticOracle constructs a StaticOracle with an empty price table.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{Prices: make(map[assets.ResourceID]decimal.Decimal)}
}

// Set records the price for a resource.
func (s *StaticOracle) Set(resource assets.ResourceID, price decimal.Decimal) {
	s.Prices[resource] = price
}

// GetPrices implements PriceOracle.
func (s *StaticOracle) GetPrices() ([]PriceQuote, error) {
	quotes := make([]PriceQuote, 0, len(s.Prices))
	for r, p := range s.Prices {
		quotes = append(quotes, PriceQuote{Resource: r, Price: p})
	}
	return quotes, nil
}

// FixedRedemptionView is a RedemptionView whose exchange rate is a fixed
// ratio (underlying units per wrapped unit), adjustable by tests to
// simulate an LSU/pool rate drifting over time.
type FixedRedemptionView struct {
	kind RedemptionKind
	Rate decimal.Decimal
}

// NewFixedRedemptionView constructs a FixedRedemptionView with the given
// kind and an initial 1:1 rate.
func NewFixedRedemptionView(kind RedemptionKind) *FixedRedemptionView {
	return &FixedRedemptionView{kind: kind, Rate: decimal.NewFromInt(1)}
}

// Kind implements RedemptionView.
func (f *FixedRedemptionView) Kind() RedemptionKind { return f.kind }

// RedemptionValue implements RedemptionView.
func (f *FixedRedemptionView) RedemptionValue(units decimal.Decimal) (decimal.Decimal, error) {
	return units.Mul(f.Rate), nil
}

// StaticMarketPrice is a settable controller.MarketPriceSource backed by a
// single guarded decimal, the keeper daemon's default when no live STAB/base
// market feed is wired in.
type StaticMarketPrice struct {
	mu    sync.RWMutex
	price decimal.Decimal
}

// NewStaticMarketPrice constructs a StaticMarketPrice seeded at price.
func NewStaticMarketPrice(price decimal.Decimal) *StaticMarketPrice {
	return &StaticMarketPrice{price: price}
}

// Set updates the reported market price.
func (s *StaticMarketPrice) Set(price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = price
}

// StabMarketPrice implements controller.MarketPriceSource.
func (s *StaticMarketPrice) StabMarketPrice() (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.price, nil
}
