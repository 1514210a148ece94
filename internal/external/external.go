// Package external declares the narrow collaborator interfaces the engine
// depends on for subsystems explicitly out of scope for reimplementation
// here — staking, governance, and flash loans — plus one deterministic
// in-memory stub per interface sufficient to exercise the engine in tests.
package external

import (
	"fmt"

	"github.com/shopspring/decimal"

	"stabengine/internal/assets"
)

// StakingFacility is not used by the engine: it never stakes or unstakes,
// and pool-unit redemption reads exchange rates only through
// internal/oracle.RedemptionView. This interface exists for the
// governance surface that can move accepted collateral into or out of a
// staking position, outside the CDP/liquidation core.
type StakingFacility interface {
	Stake(bucket *assets.Bucket) (assets.Bucket, error)
	Unstake(units decimal.Decimal) (assets.Bucket, error)
}

// GovernanceExecutor applies owner-restricted parameter changes (collateral
// registration, fine/delay tuning, pause toggles), each gated on a badge
// holder's proof. The core engine never decides policy; it only exposes
// the setters a GovernanceExecutor calls.
type GovernanceExecutor interface {
	Authorize(badge assets.Badge, required decimal.Decimal) error
}

// FlashLoanFacility lends STAB or collateral within a single caller-defined
// transaction boundary, to be repaid with a fee before the operation
// completes. The core engine does not grant or track flash loans itself.
type FlashLoanFacility interface {
	Borrow(resource assets.ResourceID, amount decimal.Decimal) (assets.Bucket, error)
	Repay(bucket *assets.Bucket) error
}

// NoopStaking is a StakingFacility that always rejects: the deterministic
// default wired when no real staking collaborator is configured.
type NoopStaking struct{}

func (NoopStaking) Stake(bucket *assets.Bucket) (assets.Bucket, error) {
	return assets.Bucket{}, fmt.Errorf("external: staking not configured")
}

func (NoopStaking) Unstake(units decimal.Decimal) (assets.Bucket, error) {
	return assets.Bucket{}, fmt.Errorf("external: staking not configured")
}

// NoopGovernance is a GovernanceExecutor that authorizes only full badges,
// the minimal policy sufficient for tests that don't exercise fractional
// owner authority.
type NoopGovernance struct{}

func (NoopGovernance) Authorize(badge assets.Badge, required decimal.Decimal) error {
	if !badge.Authorizes(required) {
		return fmt.Errorf("external: badge fraction %s below required %s", badge.Fraction, required)
	}
	return nil
}

// InMemoryFlashLoans is a FlashLoanFacility backed by a plain in-process
// vault per resource, for tests exercising the borrow/repay contract
// without a real liquidity pool.
type InMemoryFlashLoans struct {
	vaults map[assets.ResourceID]*assets.Vault
	fee    decimal.Decimal
}

// NewInMemoryFlashLoans constructs a flash loan stub holding the given fee
// fraction (e.g. 0.001 for 0.1%). Borrow does not apply the fee and Repay
// does not check it: Repay vaults whatever the caller returns.
func NewInMemoryFlashLoans(fee decimal.Decimal) *InMemoryFlashLoans {
	return &InMemoryFlashLoans{vaults: make(map[assets.ResourceID]*assets.Vault), fee: fee}
}

// Fund seeds the facility's vault for a resource, used by test setup.
func (f *InMemoryFlashLoans) Fund(bucket *assets.Bucket) error {
	v, ok := f.vaults[bucket.Resource]
	if !ok {
		v = assets.NewVault(bucket.Resource)
		f.vaults[bucket.Resource] = v
	}
	return v.Put(bucket)
}

// Borrow implements FlashLoanFacility.
func (f *InMemoryFlashLoans) Borrow(resource assets.ResourceID, amount decimal.Decimal) (assets.Bucket, error) {
	v, ok := f.vaults[resource]
	if !ok {
		return assets.Bucket{}, fmt.Errorf("external: no flash-loan liquidity for %s", resource)
	}
	return v.Take(amount)
}

// Repay implements FlashLoanFacility: repayment is expected to already
// include the facility's fee, added by the caller before calling Repay.
func (f *InMemoryFlashLoans) Repay(bucket *assets.Bucket) error {
	v, ok := f.vaults[bucket.Resource]
	if !ok {
		v = assets.NewVault(bucket.Resource)
		f.vaults[bucket.Resource] = v
	}
	return v.Put(bucket)
}
