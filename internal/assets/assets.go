// Package assets defines the resource/bucket/vault value model the engine
// mutates: opaque resource identifiers, caller-held buckets, and
// engine-owned vaults. Holding a bucket is the capability; the engine
// never grants access to value by id alone.
package assets

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ResourceID identifies a fungible resource: a collateral, a pool unit, or
// the STAB token itself.
type ResourceID string

// StabResource is the reserved identifier for the protocol's stablecoin.
const StabResource ResourceID = "STAB"

// Bucket is a caller-held amount of a single resource. Buckets are
// conventionally non-copyable: once passed to an operation that consumes
// it, the caller's copy must be discarded. Go cannot enforce linearity, so
// TakeAll and Vault.Put zero the source bucket to make accidental reuse
// visible; Take leaves the remainder in the source.
type Bucket struct {
	Resource ResourceID
	Amount   decimal.Decimal
}

// NewBucket constructs a bucket of the given resource and amount. Amount
// must be non-negative.
func NewBucket(resource ResourceID, amount decimal.Decimal) (Bucket, error) {
	if amount.IsNegative() {
		return Bucket{}, fmt.Errorf("assets: negative bucket amount %s", amount)
	}
	return Bucket{Resource: resource, Amount: amount}, nil
}

// IsEmpty reports whether the bucket carries no value.
func (b Bucket) IsEmpty() bool {
	return b.Amount.IsZero()
}

// Take splits amount off the bucket, returning a new bucket holding amount
// and mutating b in place to hold the remainder. Fails if amount exceeds
// the bucket's balance or the resources don't match.
func (b *Bucket) Take(resource ResourceID, amount decimal.Decimal) (Bucket, error) {
	if b.Resource != resource {
		return Bucket{}, fmt.Errorf("assets: bucket holds %s, not %s", b.Resource, resource)
	}
	if amount.GreaterThan(b.Amount) {
		return Bucket{}, fmt.Errorf("assets: insufficient bucket balance: have %s, want %s", b.Amount, amount)
	}
	b.Amount = b.Amount.Sub(amount)
	return Bucket{Resource: resource, Amount: amount}, nil
}

// TakeAll drains the bucket entirely, returning its full value and zeroing
// the source.
func (b *Bucket) TakeAll() Bucket {
	out := Bucket{Resource: b.Resource, Amount: b.Amount}
	b.Amount = decimal.Zero
	return out
}

// Vault is an engine-owned balance container. Callers never hold a Vault
// directly; they interact with it only through operations that return or
// accept Buckets.
type Vault struct {
	resource ResourceID
	balance  decimal.Decimal
}

// NewVault constructs an empty vault for the given resource.
func NewVault(resource ResourceID) *Vault {
	return &Vault{resource: resource}
}

// RestoreVault reconstructs a vault at a previously-persisted balance.
func RestoreVault(resource ResourceID, balance decimal.Decimal) *Vault {
	return &Vault{resource: resource, balance: balance}
}

// Resource returns the resource this vault holds.
func (v *Vault) Resource() ResourceID { return v.resource }

// Balance returns the vault's current balance.
func (v *Vault) Balance() decimal.Decimal { return v.balance }

// Put deposits a bucket's contents into the vault, draining the bucket.
func (v *Vault) Put(b *Bucket) error {
	if b.Resource != v.resource {
		return fmt.Errorf("assets: vault holds %s, cannot accept %s", v.resource, b.Resource)
	}
	v.balance = v.balance.Add(b.Amount)
	b.Amount = decimal.Zero
	return nil
}

// Take withdraws amount from the vault into a new bucket.
func (v *Vault) Take(amount decimal.Decimal) (Bucket, error) {
	if amount.GreaterThan(v.balance) {
		return Bucket{}, fmt.Errorf("assets: vault underfunded: have %s, want %s", v.balance, amount)
	}
	v.balance = v.balance.Sub(amount)
	return Bucket{Resource: v.resource, Amount: amount}, nil
}

// TakeAll drains the vault entirely.
func (v *Vault) TakeAll() Bucket {
	amount := v.balance
	v.balance = decimal.Zero
	return Bucket{Resource: v.resource, Amount: amount}
}

// Badge represents a fractional or full proof of authority used by
// owner-restricted operations. A badge with Fraction >= 1 is a full badge;
// 0.75 is the minimum fractional proof accepted by most owner-gated calls.
type Badge struct {
	Fraction decimal.Decimal
}

// FullBadge is a badge carrying complete authority.
var FullBadge = Badge{Fraction: decimal.NewFromInt(1)}

// MinimumFractionalBadge is the smallest proof accepted by OWNER-restricted
// operations that do not require a full badge holder.
var MinimumFractionalBadge = decimal.NewFromFloat(0.75)

// Authorizes reports whether the badge meets the required fraction.
func (b Badge) Authorizes(required decimal.Decimal) bool {
	return b.Fraction.GreaterThanOrEqual(required)
}
