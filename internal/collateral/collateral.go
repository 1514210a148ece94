// Package collateral implements the collateral registry: per-resource
// configuration, derived liquidation threshold, share-cap accounting, and
// the per-parent highest-CR watermark used by force-mint target selection.
package collateral

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"stabengine/internal/assets"
)

var (
	ErrAlreadyRegistered    = errors.New("collateral: already registered")
	ErrUnknownCollateral    = errors.New("collateral: unknown resource")
	ErrInsufficientTreasury = errors.New("collateral: insufficient treasury balance")
	ErrNotAccepted          = errors.New("collateral: resource not accepted")
)

// Kind distinguishes a plain collateral from a pool-unit wrapper.
type Kind int

const (
	// Plain is a directly-deposited collateral resource.
	Plain Kind = iota
	// PoolUnitValidator wraps a parent resource, redeemed via a validator view.
	PoolUnitValidator
	// PoolUnitPool wraps a parent resource, redeemed via a pool view.
	PoolUnitPool
)

// Entry holds one registered collateral resource's configuration and
// running totals. Pool-unit entries additionally set Parent and Kind to one
// of the PoolUnit* variants.
type Entry struct {
	Resource assets.ResourceID
	Kind     Kind
	Parent   assets.ResourceID // equals Resource for plain collateral

	MCR              decimal.Decimal
	MarketPrice      decimal.Decimal
	LiqThreshold     decimal.Decimal
	Accepted         bool
	Initialized      bool
	MaxStabShare     decimal.Decimal // only meaningful for Parent entries
	MaxPoolShare     decimal.Decimal // only meaningful for pool-unit entries
	MintedStab       decimal.Decimal
	CollateralAmount decimal.Decimal // sum over positions of cr*minted_stab
	HighestCR        decimal.Decimal

	Vault         *assets.Vault
	TreasuryVault *assets.Vault
}

func (e *Entry) isPoolUnit() bool {
	return e.Kind == PoolUnitValidator || e.Kind == PoolUnitPool
}

// Registry is the keyed store of collateral/pool-unit entries, indexed by
// resource id.
type Registry struct {
	entries map[assets.ResourceID]*Entry
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[assets.ResourceID]*Entry)}
}

// Get returns the entry for a resource, or ErrUnknownCollateral.
func (r *Registry) Get(resource assets.ResourceID) (*Entry, error) {
	e, ok := r.entries[resource]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollateral, resource)
	}
	return e, nil
}

// recomputeThreshold sets LiqThreshold = mcr * internalStabPrice / marketPrice.
func recomputeThreshold(e *Entry, internalStabPrice decimal.Decimal) {
	if e.MarketPrice.IsZero() {
		e.LiqThreshold = decimal.Zero
		return
	}
	e.LiqThreshold = e.MCR.Mul(internalStabPrice).Div(e.MarketPrice)
}

// RegisterCollateral adds a new plain collateral resource.
func (r *Registry) RegisterCollateral(resource assets.ResourceID, mcr, initialPrice, internalStabPrice, maxStabShare decimal.Decimal, accepted bool) error {
	if _, ok := r.entries[resource]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, resource)
	}
	e := &Entry{
		Resource:         resource,
		Kind:             Plain,
		Parent:           resource,
		MCR:              mcr,
		MarketPrice:      initialPrice,
		Accepted:         accepted,
		MaxStabShare:     maxStabShare,
		MintedStab:       decimal.Zero,
		CollateralAmount: decimal.Zero,
		HighestCR:        decimal.Zero,
		Vault:            assets.NewVault(resource),
		TreasuryVault:    assets.NewVault(resource),
	}
	recomputeThreshold(e, internalStabPrice)
	r.entries[resource] = e
	return nil
}

// RegisterPoolUnit adds a new pool-unit collateral wrapping an already
// registered parent resource.
func (r *Registry) RegisterPoolUnit(resource, parent assets.ResourceID, kind Kind, internalStabPrice, maxPoolShare decimal.Decimal, accepted bool) error {
	if _, ok := r.entries[resource]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, resource)
	}
	parentEntry, err := r.Get(parent)
	if err != nil {
		return err
	}
	e := &Entry{
		Resource:         resource,
		Kind:             kind,
		Parent:           parent,
		MCR:              parentEntry.MCR,
		MarketPrice:      parentEntry.MarketPrice,
		Accepted:         accepted,
		MaxPoolShare:     maxPoolShare,
		MintedStab:       decimal.Zero,
		CollateralAmount: decimal.Zero,
		HighestCR:        decimal.Zero,
		Vault:            assets.NewVault(resource),
		TreasuryVault:    assets.NewVault(resource),
	}
	recomputeThreshold(e, internalStabPrice)
	r.entries[resource] = e
	return nil
}

// Edit updates the accepted flag, mcr, and share caps of an existing entry.
func (r *Registry) Edit(resource assets.ResourceID, accepted bool, mcr, maxStabShare, maxPoolShare decimal.Decimal, internalStabPrice decimal.Decimal) error {
	e, err := r.Get(resource)
	if err != nil {
		return err
	}
	e.Accepted = accepted
	e.MCR = mcr
	if !e.isPoolUnit() {
		e.MaxStabShare = maxStabShare
	} else {
		e.MaxPoolShare = maxPoolShare
	}
	recomputeThreshold(e, internalStabPrice)
	return nil
}

// SetMarketPrice records a new USD price for the resource and recomputes
// its liquidation threshold. Callers iterating oracle quotes skip
// unaccepted resources themselves, so this method does not gate on
// Accepted.
func (r *Registry) SetMarketPrice(resource assets.ResourceID, price, internalStabPrice decimal.Decimal) error {
	e, err := r.Get(resource)
	if err != nil {
		return err
	}
	e.MarketPrice = price
	recomputeThreshold(e, internalStabPrice)
	return nil
}

// RecomputeAllThresholds recomputes LiqThreshold for every entry against a
// new internal STAB price, called once per controller update step.
func (r *Registry) RecomputeAllThresholds(internalStabPrice decimal.Decimal) {
	for _, e := range r.entries {
		recomputeThreshold(e, internalStabPrice)
	}
}

// AdjustMintedStab applies a debt delta to the parent entry's running
// total and, for a pool-unit position, to the pool-unit entry as well.
// Negative deltas record repayment or liquidation.
func (r *Registry) AdjustMintedStab(parent, poolUnit assets.ResourceID, isPoolUnit bool, delta decimal.Decimal) error {
	parentEntry, err := r.Get(parent)
	if err != nil {
		return err
	}
	parentEntry.MintedStab = parentEntry.MintedStab.Add(delta)
	if isPoolUnit {
		poolEntry, err := r.Get(poolUnit)
		if err != nil {
			return err
		}
		poolEntry.MintedStab = poolEntry.MintedStab.Add(delta)
	}
	return nil
}

// All invokes fn for every registered entry, in no particular order.
func (r *Registry) All(fn func(*Entry)) {
	for _, e := range r.entries {
		fn(e)
	}
}

// Restore inserts a previously-persisted entry, replacing any existing
// registration for the same resource. Used only when loading a snapshot.
func (r *Registry) Restore(e *Entry) {
	r.entries[e.Resource] = e
}

// EmptyTreasury withdraws amount from the resource's treasury vault.
func (r *Registry) EmptyTreasury(resource assets.ResourceID, amount decimal.Decimal) (assets.Bucket, error) {
	e, err := r.Get(resource)
	if err != nil {
		return assets.Bucket{}, err
	}
	if amount.GreaterThan(e.TreasuryVault.Balance()) {
		return assets.Bucket{}, fmt.Errorf("%w: have %s, want %s", ErrInsufficientTreasury, e.TreasuryVault.Balance(), amount)
	}
	return e.TreasuryVault.Take(amount)
}

// BumpHighestCR raises Entry.HighestCR if cr exceeds the current watermark.
// Never decreased on removal per the force-mint target-selection design.
func BumpHighestCR(e *Entry, cr decimal.Decimal) {
	if cr.GreaterThan(e.HighestCR) {
		e.HighestCR = cr
	}
}

// StabShare returns Collateral.minted_stab / circulating_stab, or zero when
// nothing circulates. It only computes the ratio; callers compare it against
// the cap and return their own ErrShareExceeded sentinel.
func StabShare(e *Entry, circulatingStab decimal.Decimal) decimal.Decimal {
	if circulatingStab.IsZero() {
		return decimal.Zero
	}
	return e.MintedStab.Div(circulatingStab)
}

// PoolShare returns PoolUnit.minted_stab / Collateral[parent].minted_stab.
func PoolShare(poolUnit, parent *Entry) decimal.Decimal {
	if parent.MintedStab.IsZero() {
		return decimal.Zero
	}
	return poolUnit.MintedStab.Div(parent.MintedStab)
}
