package cdp

import (
	"fmt"

	"github.com/shopspring/decimal"

	"stabengine/internal/assets"
	"stabengine/internal/collateral"
	"stabengine/internal/custody"
	"stabengine/internal/decimalx"
	"stabengine/internal/liquidation"
	"stabengine/internal/pooladapter"
	"stabengine/internal/position"
	nativecommon "stabengine/native/common"
)

const moduleName = "cdp"

// Params carries the engine-wide constants the CDP operations compare
// against, loaded from config.
type Params struct {
	MinimumMint decimal.Decimal
	UnsafeFloor decimal.Decimal // global 0.75 collateralization floor for safe=false opens
}

// Engine implements the CDP lifecycle operations over the shared collateral
// registry, position store, pool adapter, custody, and sorted CR index.
// Every method assumes its caller (internal/engine.Engine) already holds the
// per-parent-collateral lock for the resource(s) it touches.
type Engine struct {
	positions *position.Store
	registry  *collateral.Registry
	adapter   *pooladapter.Adapter
	custody   *custody.Custody
	crIndex   *liquidation.CRIndex
	markers   *liquidation.MarkerStore
	markedIdx *liquidation.MarkedIndex
	pauses    nativecommon.PauseView
	params    Params
}

// New wires a CDP engine to its collaborators.
func New(positions *position.Store, registry *collateral.Registry, adapter *pooladapter.Adapter, cu *custody.Custody, crIndex *liquidation.CRIndex, markers *liquidation.MarkerStore, markedIdx *liquidation.MarkedIndex, params Params) *Engine {
	return &Engine{
		positions: positions,
		registry:  registry,
		adapter:   adapter,
		custody:   cu,
		crIndex:   crIndex,
		markers:   markers,
		markedIdx: markedIdx,
		params:    params,
	}
}

// SetPauses wires the OperationStopped gate.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// adjustCollateralAmount keeps the registry's accounting scalar equal to
// the sum over positions of cr*minted_stab: the position's old
// contribution is replaced by its new one.
func adjustCollateralAmount(entry *collateral.Entry, crOld, debtOld, crNew, debtNew decimal.Decimal) {
	entry.CollateralAmount = entry.CollateralAmount.Add(crNew.Mul(debtNew).Sub(crOld.Mul(debtOld)))
}

// OpenCDP implements open_cdp: deposits collateral, mints STAB, and inserts
// the new position into the sorted CR index.
func (e *Engine) OpenCDP(collateralBucket *assets.Bucket, stabToMint decimal.Decimal, safe bool, internalStabPrice decimal.Decimal) (assets.Bucket, uint64, error) {
	if e == nil || e.positions == nil {
		return assets.Bucket{}, 0, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return assets.Bucket{}, 0, err
	}
	if stabToMint.LessThan(e.params.MinimumMint) {
		return assets.Bucket{}, 0, fmt.Errorf("%w: %s < %s", ErrMinMintViolated, stabToMint, e.params.MinimumMint)
	}

	resource := collateralBucket.Resource
	entry, err := e.registry.Get(resource)
	if err != nil {
		return assets.Bucket{}, 0, err
	}
	isPoolUnit := entry.Kind != collateral.Plain
	if !entry.Accepted {
		return assets.Bucket{}, 0, fmt.Errorf("%w: %s", ErrNotAccepted, resource)
	}
	parentEntry := entry
	if isPoolUnit {
		parentEntry, err = e.registry.Get(entry.Parent)
		if err != nil {
			return assets.Bucket{}, 0, err
		}
		if !parentEntry.Accepted {
			return assets.Bucket{}, 0, fmt.Errorf("%w: %s", ErrNotAccepted, entry.Parent)
		}
	}

	underlying, err := e.adapter.Underlying(collateralBucket.Amount, resource, isPoolUnit)
	if err != nil {
		return assets.Bucket{}, 0, err
	}

	value := parentEntry.MarketPrice.Mul(underlying)
	var required decimal.Decimal
	if safe {
		required = internalStabPrice.Mul(stabToMint).Mul(parentEntry.MCR)
	} else {
		required = internalStabPrice.Mul(stabToMint).Mul(e.params.UnsafeFloor)
	}
	if value.LessThan(required) {
		return assets.Bucket{}, 0, fmt.Errorf("%w: have %s, need %s", ErrInsufficientValue, value, required)
	}

	cr := underlying.Div(stabToMint)

	// Validate every precondition against the projected post-mint totals
	// before mutating any shared state.
	projectedParentMinted := parentEntry.MintedStab.Add(stabToMint)
	circulating := e.custody.CirculatingStab().Add(stabToMint)
	if collateral.StabShare(&collateral.Entry{MintedStab: projectedParentMinted}, circulating).GreaterThan(parentEntry.MaxStabShare) {
		return assets.Bucket{}, 0, fmt.Errorf("%w: collateral %s stab share", ErrShareExceeded, parentEntry.Resource)
	}
	if isPoolUnit {
		projectedPoolMinted := entry.MintedStab.Add(stabToMint)
		if collateral.PoolShare(&collateral.Entry{MintedStab: projectedPoolMinted}, &collateral.Entry{MintedStab: projectedParentMinted}).GreaterThan(entry.MaxPoolShare) {
			return assets.Bucket{}, 0, fmt.Errorf("%w: pool unit %s share", ErrShareExceeded, entry.Resource)
		}
	}

	pos := position.Position{
		Collateral:       resource,
		ParentCollateral: parentEntry.Resource,
		IsPoolUnit:       isPoolUnit,
		CollateralAmount: collateralBucket.Amount,
		MintedStab:       stabToMint,
		CR:               cr,
		Status:           position.Healthy,
	}
	id := e.positions.Create(pos)

	if err := e.crIndex.Insert(parentEntry.Resource, cr, id); err != nil {
		_ = e.positions.Update(id, func(p *position.Position) error {
			p.Status = position.Closed
			return nil
		})
		return assets.Bucket{}, 0, err
	}

	adjustCollateralAmount(parentEntry, decimal.Zero, decimal.Zero, cr, stabToMint)
	collateral.BumpHighestCR(parentEntry, cr)
	parentEntry.Initialized = true
	parentEntry.MintedStab = projectedParentMinted
	if isPoolUnit {
		entry.MintedStab = entry.MintedStab.Add(stabToMint)
	}

	if err := entry.Vault.Put(collateralBucket); err != nil {
		return assets.Bucket{}, 0, err
	}

	stabBucket := e.custody.Mint(stabToMint)
	return stabBucket, id, nil
}

// removeFromIndexIfHealthy removes p's CR entry when it is currently
// Healthy; a Marked position is already absent from the CR index.
func (e *Engine) removeFromIndexIfHealthy(p position.Position) {
	if p.Status == position.Healthy {
		e.crIndex.Remove(p.ParentCollateral, p.CR, p.ID)
	}
}

// TopUpCDP implements top_up_cdp: adds collateral to a Healthy or Marked
// position, saving a Marked position back to Healthy if the new CR clears
// the threshold.
func (e *Engine) TopUpCDP(id uint64, collateralBucket *assets.Bucket) error {
	if e == nil || e.positions == nil {
		return ErrNilState
	}
	pos, err := e.positions.Get(id)
	if err != nil {
		return err
	}
	if pos.Status != position.Healthy && pos.Status != position.Marked {
		return fmt.Errorf("%w: %s", ErrNotHealthy, pos.Status)
	}
	if pos.Collateral != collateralBucket.Resource {
		return fmt.Errorf("%w: position holds %s, got %s", ErrWrongResource, pos.Collateral, collateralBucket.Resource)
	}

	parentEntry, err := e.registry.Get(pos.ParentCollateral)
	if err != nil {
		return err
	}

	newAmount := pos.CollateralAmount.Add(collateralBucket.Amount)
	underlying, err := e.adapter.Underlying(newAmount, pos.Collateral, pos.IsPoolUnit)
	if err != nil {
		return err
	}
	newCR := underlying.Div(pos.MintedStab)
	if !newCR.GreaterThan(parentEntry.LiqThreshold) {
		return fmt.Errorf("%w: cr %s <= threshold %s", ErrInsufficientSave, newCR, parentEntry.LiqThreshold)
	}

	e.removeFromIndexIfHealthy(pos)
	if err := e.crIndex.Insert(pos.ParentCollateral, newCR, id); err != nil {
		// restore the old index entry before failing.
		if pos.Status == position.Healthy {
			_ = e.crIndex.Insert(pos.ParentCollateral, pos.CR, id)
		}
		return err
	}
	adjustCollateralAmount(parentEntry, pos.CR, pos.MintedStab, newCR, pos.MintedStab)

	wasMarked := pos.Status == position.Marked
	markerID := pos.MarkerID

	collateralEntry := parentEntry
	if pos.IsPoolUnit {
		collateralEntry, err = e.registry.Get(pos.Collateral)
		if err != nil {
			return err
		}
	}
	if err := collateralEntry.Vault.Put(collateralBucket); err != nil {
		return err
	}

	if err := e.positions.Update(id, func(p *position.Position) error {
		p.CollateralAmount = newAmount
		p.CR = newCR
		if wasMarked {
			p.Status = position.Healthy
		}
		return nil
	}); err != nil {
		return err
	}

	if wasMarked {
		marker, ok := e.markers.Get(markerID)
		if ok {
			e.markers.MarkUsed(markerID)
			e.markedIdx.Remove(marker.Placing)
		}
	}
	return nil
}

// RemoveCollateral implements remove_collateral: withdraws amount from a
// Healthy position, requiring the resulting CR to stay above threshold.
func (e *Engine) RemoveCollateral(id uint64, amount decimal.Decimal) (assets.Bucket, error) {
	pos, err := e.positions.Get(id)
	if err != nil {
		return assets.Bucket{}, err
	}
	if pos.Status != position.Healthy {
		return assets.Bucket{}, fmt.Errorf("%w: %s", ErrNotHealthy, pos.Status)
	}
	parentEntry, err := e.registry.Get(pos.ParentCollateral)
	if err != nil {
		return assets.Bucket{}, err
	}

	newAmount := pos.CollateralAmount.Sub(amount)
	underlying, err := e.adapter.Underlying(newAmount, pos.Collateral, pos.IsPoolUnit)
	if err != nil {
		return assets.Bucket{}, err
	}
	newCR := underlying.Div(pos.MintedStab)
	if !newCR.GreaterThan(parentEntry.LiqThreshold) {
		return assets.Bucket{}, fmt.Errorf("%w: cr %s <= threshold %s", ErrWouldFallBelowMcr, newCR, parentEntry.LiqThreshold)
	}

	e.crIndex.Remove(pos.ParentCollateral, pos.CR, id)
	if err := e.crIndex.Insert(pos.ParentCollateral, newCR, id); err != nil {
		_ = e.crIndex.Insert(pos.ParentCollateral, pos.CR, id)
		return assets.Bucket{}, err
	}
	adjustCollateralAmount(parentEntry, pos.CR, pos.MintedStab, newCR, pos.MintedStab)

	collateralEntry := parentEntry
	if pos.IsPoolUnit {
		collateralEntry, err = e.registry.Get(pos.Collateral)
		if err != nil {
			return assets.Bucket{}, err
		}
	}
	withdrawAmount := decimalx.RoundDown(amount)
	out, err := collateralEntry.Vault.Take(withdrawAmount)
	if err != nil {
		return assets.Bucket{}, err
	}

	if err := e.positions.Update(id, func(p *position.Position) error {
		p.CollateralAmount = newAmount
		p.CR = newCR
		return nil
	}); err != nil {
		return assets.Bucket{}, err
	}
	return out, nil
}

// PartialClose implements partial_close: burns stabBucket against the
// position's debt, requiring the remaining debt to stay at or above
// minimum_mint and the resulting CR to stay above threshold.
func (e *Engine) PartialClose(id uint64, stabBucket *assets.Bucket) error {
	if stabBucket.Resource != assets.StabResource {
		return fmt.Errorf("%w: %s", ErrWrongResource, stabBucket.Resource)
	}
	pos, err := e.positions.Get(id)
	if err != nil {
		return err
	}
	if pos.Status != position.Healthy {
		return fmt.Errorf("%w: %s", ErrNotHealthy, pos.Status)
	}
	postDebt := pos.MintedStab.Sub(stabBucket.Amount)
	if postDebt.LessThan(e.params.MinimumMint) {
		return fmt.Errorf("%w: %s < %s", ErrMinMintViolated, postDebt, e.params.MinimumMint)
	}
	parentEntry, err := e.registry.Get(pos.ParentCollateral)
	if err != nil {
		return err
	}

	underlying, err := e.adapter.Underlying(pos.CollateralAmount, pos.Collateral, pos.IsPoolUnit)
	if err != nil {
		return err
	}
	newCR := underlying.Div(postDebt)
	if !newCR.GreaterThan(parentEntry.LiqThreshold) {
		return fmt.Errorf("%w: cr %s <= threshold %s", ErrWouldFallBelowMcr, newCR, parentEntry.LiqThreshold)
	}

	e.crIndex.Remove(pos.ParentCollateral, pos.CR, id)
	if err := e.crIndex.Insert(pos.ParentCollateral, newCR, id); err != nil {
		_ = e.crIndex.Insert(pos.ParentCollateral, pos.CR, id)
		return err
	}

	payment := stabBucket.TakeAll()
	repaid := payment.Amount
	if err := e.custody.Burn(&payment); err != nil {
		return err
	}
	if err := e.registry.AdjustMintedStab(pos.ParentCollateral, pos.Collateral, pos.IsPoolUnit, repaid.Neg()); err != nil {
		return err
	}
	adjustCollateralAmount(parentEntry, pos.CR, pos.MintedStab, newCR, postDebt)

	return e.positions.Update(id, func(p *position.Position) error {
		p.MintedStab = postDebt
		p.CR = newCR
		return nil
	})
}

// BorrowMore implements borrow_more: mints additional STAB against an
// already-healthy position, subject to the same CR and share-cap checks as
// opening.
func (e *Engine) BorrowMore(id uint64, amount decimal.Decimal) (assets.Bucket, error) {
	pos, err := e.positions.Get(id)
	if err != nil {
		return assets.Bucket{}, err
	}
	if pos.Status != position.Healthy {
		return assets.Bucket{}, fmt.Errorf("%w: %s", ErrNotHealthy, pos.Status)
	}
	parentEntry, err := e.registry.Get(pos.ParentCollateral)
	if err != nil {
		return assets.Bucket{}, err
	}
	newDebt := pos.MintedStab.Add(amount)

	underlying, err := e.adapter.Underlying(pos.CollateralAmount, pos.Collateral, pos.IsPoolUnit)
	if err != nil {
		return assets.Bucket{}, err
	}
	newCR := underlying.Div(newDebt)
	if !newCR.GreaterThan(parentEntry.LiqThreshold) {
		return assets.Bucket{}, fmt.Errorf("%w: cr %s <= threshold %s", ErrWouldFallBelowMcr, newCR, parentEntry.LiqThreshold)
	}

	// Validate share caps against projected post-borrow totals before
	// touching the CR index or any running totals.
	projectedParentMinted := parentEntry.MintedStab.Add(amount)
	circulating := e.custody.CirculatingStab().Add(amount)
	if collateral.StabShare(&collateral.Entry{MintedStab: projectedParentMinted}, circulating).GreaterThan(parentEntry.MaxStabShare) {
		return assets.Bucket{}, fmt.Errorf("%w: collateral %s stab share", ErrShareExceeded, parentEntry.Resource)
	}
	var poolEntry *collateral.Entry
	var projectedPoolMinted decimal.Decimal
	if pos.IsPoolUnit {
		poolEntry, err = e.registry.Get(pos.Collateral)
		if err != nil {
			return assets.Bucket{}, err
		}
		projectedPoolMinted = poolEntry.MintedStab.Add(amount)
		if collateral.PoolShare(&collateral.Entry{MintedStab: projectedPoolMinted}, &collateral.Entry{MintedStab: projectedParentMinted}).GreaterThan(poolEntry.MaxPoolShare) {
			return assets.Bucket{}, fmt.Errorf("%w: pool unit %s share", ErrShareExceeded, poolEntry.Resource)
		}
	}

	e.crIndex.Remove(pos.ParentCollateral, pos.CR, id)
	if err := e.crIndex.Insert(pos.ParentCollateral, newCR, id); err != nil {
		_ = e.crIndex.Insert(pos.ParentCollateral, pos.CR, id)
		return assets.Bucket{}, err
	}
	adjustCollateralAmount(parentEntry, pos.CR, pos.MintedStab, newCR, newDebt)
	parentEntry.MintedStab = projectedParentMinted
	if pos.IsPoolUnit {
		poolEntry.MintedStab = projectedPoolMinted
	}

	minted := e.custody.Mint(amount)
	if err := e.positions.Update(id, func(p *position.Position) error {
		p.MintedStab = newDebt
		p.CR = newCR
		return nil
	}); err != nil {
		return assets.Bucket{}, err
	}
	return minted, nil
}

// CloseCDP implements close_cdp: repays the entire debt and releases all
// collateral. Only a Healthy position may close.
func (e *Engine) CloseCDP(id uint64, stabBucket *assets.Bucket) (assets.Bucket, assets.Bucket, error) {
	if stabBucket.Resource != assets.StabResource {
		return assets.Bucket{}, assets.Bucket{}, fmt.Errorf("%w: %s", ErrWrongResource, stabBucket.Resource)
	}
	pos, err := e.positions.Get(id)
	if err != nil {
		return assets.Bucket{}, assets.Bucket{}, err
	}
	if pos.Status != position.Healthy {
		return assets.Bucket{}, assets.Bucket{}, fmt.Errorf("%w: %s", ErrNotHealthy, pos.Status)
	}
	if stabBucket.Amount.LessThan(pos.MintedStab) {
		return assets.Bucket{}, assets.Bucket{}, fmt.Errorf("%w: have %s, need %s", ErrInsufficientPay, stabBucket.Amount, pos.MintedStab)
	}
	parentEntry, err := e.registry.Get(pos.ParentCollateral)
	if err != nil {
		return assets.Bucket{}, assets.Bucket{}, err
	}

	payment, err := stabBucket.Take(assets.StabResource, pos.MintedStab)
	if err != nil {
		return assets.Bucket{}, assets.Bucket{}, err
	}
	if err := e.custody.Burn(&payment); err != nil {
		return assets.Bucket{}, assets.Bucket{}, err
	}
	if err := e.registry.AdjustMintedStab(pos.ParentCollateral, pos.Collateral, pos.IsPoolUnit, pos.MintedStab.Neg()); err != nil {
		return assets.Bucket{}, assets.Bucket{}, err
	}
	adjustCollateralAmount(parentEntry, pos.CR, pos.MintedStab, decimal.Zero, decimal.Zero)
	e.crIndex.Remove(pos.ParentCollateral, pos.CR, id)

	collateralEntry := parentEntry
	if pos.IsPoolUnit {
		collateralEntry, err = e.registry.Get(pos.Collateral)
		if err != nil {
			return assets.Bucket{}, assets.Bucket{}, err
		}
	}
	withdrawAmount := decimalx.RoundDown(pos.CollateralAmount)
	collateralOut, err := collateralEntry.Vault.Take(withdrawAmount)
	if err != nil {
		return assets.Bucket{}, assets.Bucket{}, err
	}

	if err := e.positions.Update(id, func(p *position.Position) error {
		p.Status = position.Closed
		p.CollateralAmount = decimal.Zero
		return nil
	}); err != nil {
		return assets.Bucket{}, assets.Bucket{}, err
	}
	return collateralOut, *stabBucket, nil
}

// RetrieveLeftoverCollateral implements retrieve_leftover_collateral:
// withdraws whatever collateral a terminal Liquidated/ForceLiquidated
// position still holds.
func (e *Engine) RetrieveLeftoverCollateral(id uint64) (assets.Bucket, error) {
	pos, err := e.positions.Get(id)
	if err != nil {
		return assets.Bucket{}, err
	}
	if pos.Status != position.Liquidated && pos.Status != position.ForceLiquidated {
		return assets.Bucket{}, fmt.Errorf("%w: %s", ErrNotLiquidated, pos.Status)
	}
	if pos.CollateralAmount.LessThanOrEqual(decimal.Zero) {
		return assets.Bucket{}, ErrNoLeftover
	}
	entry, err := e.registry.Get(pos.Collateral)
	if err != nil {
		return assets.Bucket{}, err
	}
	withdrawAmount := decimalx.RoundDown(pos.CollateralAmount)
	out, err := entry.Vault.Take(withdrawAmount)
	if err != nil {
		return assets.Bucket{}, err
	}
	if err := e.positions.Update(id, func(p *position.Position) error {
		p.CollateralAmount = decimal.Zero
		return nil
	}); err != nil {
		return assets.Bucket{}, err
	}
	return out, nil
}
