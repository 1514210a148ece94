package liquidation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"stabengine/internal/assets"
	"stabengine/internal/collateral"
	"stabengine/internal/custody"
	"stabengine/internal/decimalx"
	"stabengine/internal/pooladapter"
	"stabengine/internal/position"
	nativecommon "stabengine/native/common"
)

const moduleName = "liquidation"

// Params carries the liquidation-engine constants loaded from config.
type Params struct {
	LiquidationDelay      time.Duration
	UnmarkedDelay         time.Duration
	LiquidationFine       decimal.Decimal
	StabilisFine          decimal.Decimal
	ForceMintCRMultiplier decimal.Decimal
}

// Engine implements the liquidation lifecycle: marking the
// lowest-CR position for a parent collateral, the marked/saved rescan on
// mark, the liquidate-with-marker and liquidate-without-marker entry
// points, force-liquidate, and force-mint.
type Engine struct {
	positions *position.Store
	registry  *collateral.Registry
	adapter   *pooladapter.Adapter
	custody   *custody.Custody
	crIndex   *CRIndex
	markers   *MarkerStore
	markedIdx *MarkedIndex
	receipts  *ReceiptStore
	pauses    nativecommon.PauseView
	params    Params
	now       func() time.Time
}

// New wires a liquidation engine to its collaborators. now defaults to
// time.Now when nil, overridable by tests for deterministic delays.
func New(positions *position.Store, registry *collateral.Registry, adapter *pooladapter.Adapter, cu *custody.Custody, crIndex *CRIndex, markers *MarkerStore, markedIdx *MarkedIndex, receipts *ReceiptStore, params Params, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		positions: positions,
		registry:  registry,
		adapter:   adapter,
		custody:   cu,
		crIndex:   crIndex,
		markers:   markers,
		markedIdx: markedIdx,
		receipts:  receipts,
		params:    params,
		now:       now,
	}
}

// SetPauses wires the per-operation pause gate.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// adjustCollateralAmount keeps the registry's accounting scalar equal to
// the sum over positions of cr*minted_stab.
func adjustCollateralAmount(entry *collateral.Entry, crOld, debtOld, crNew, debtNew decimal.Decimal) {
	entry.CollateralAmount = entry.CollateralAmount.Add(crNew.Mul(debtNew).Sub(crOld.Mul(debtOld)))
}

// Outcome is the result of a mark-and-try-liquidate call: either a
// liquidation (Liquidated=true, Receipt populated) or a save
// (Liquidated=false, SavedMarker populated).
type Outcome struct {
	Liquidated  bool
	Payout      assets.Bucket // collateral paid to the caller
	Remainder   assets.Bucket // leftover STAB payment returned to the caller
	Receipt     Receipt
	SavedMarker Marker
}

// MarkForLiquidation implements mark_for_liquidation: marks the
// lowest-CR position of parent, recomputing its CR against the latest
// redemption rate, and immediately saves it back to Healthy if that
// recompute already clears the threshold and the CR bucket has room.
func (e *Engine) MarkForLiquidation(parent assets.ResourceID) (Marker, error) {
	if e == nil || e.positions == nil {
		return Marker{}, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return Marker{}, err
	}
	positionID, oldCR, ok := e.crIndex.Lowest(parent)
	if !ok {
		return Marker{}, ErrNoLiquidatablePosition
	}
	pos, err := e.positions.Get(positionID)
	if err != nil {
		return Marker{}, err
	}
	parentEntry, err := e.registry.Get(pos.ParentCollateral)
	if err != nil {
		return Marker{}, err
	}
	if !pos.CR.LessThan(parentEntry.LiqThreshold) {
		return Marker{}, ErrNotLiquidatable
	}

	underlying, err := e.adapter.Underlying(pos.CollateralAmount, pos.Collateral, pos.IsPoolUnit)
	if err != nil {
		return Marker{}, err
	}
	cr := underlying.Div(pos.MintedStab)

	adjustCollateralAmount(parentEntry, oldCR, pos.MintedStab, cr, pos.MintedStab)
	e.crIndex.Remove(pos.ParentCollateral, oldCR, positionID)

	placing := e.markers.NextPlacing()
	markerID := e.markers.Mint(Marker{Type: MarkTypeMarked, TimeMarked: e.now(), PositionID: positionID, Placing: placing})
	e.markedIdx.Insert(placing, positionID)

	if err := e.positions.Update(positionID, func(p *position.Position) error {
		p.Status = position.Marked
		p.MarkerID = markerID
		p.CR = cr
		return nil
	}); err != nil {
		return Marker{}, err
	}

	if cr.GreaterThan(parentEntry.LiqThreshold) {
		if saved, err := e.saveMarked(positionID, markerID, placing, cr, pos.ParentCollateral); err == nil {
			return saved, nil
		}
	}
	marker, _ := e.markers.Get(markerID)
	return marker, nil
}

// saveMarked moves a marked position back to Healthy, issuing a fresh
// Saved-type marker and re-inserting the position into the CR index. It
// leaves the position Marked (returning an error) if the CR bucket it
// would land in is already full.
func (e *Engine) saveMarked(positionID, markerID uint64, oldPlacing, cr decimal.Decimal, parent assets.ResourceID) (Marker, error) {
	if err := e.crIndex.Insert(parent, cr, positionID); err != nil {
		return Marker{}, err
	}
	e.markers.MarkUsed(markerID)
	e.markedIdx.Remove(oldPlacing)

	newPlacing := e.markers.NextPlacing()
	newMarkerID := e.markers.Mint(Marker{Type: MarkTypeSaved, TimeMarked: e.now(), PositionID: positionID, Placing: newPlacing})

	if err := e.positions.Update(positionID, func(p *position.Position) error {
		p.Status = position.Healthy
		p.CR = cr
		p.MarkerID = newMarkerID
		return nil
	}); err != nil {
		return Marker{}, err
	}
	marker, _ := e.markers.Get(newMarkerID)
	return marker, nil
}

// LiquidatePositionWithMarker implements liquidate_position_with_marker:
// the caller names the marker directly.
func (e *Engine) LiquidatePositionWithMarker(markerID uint64, payment *assets.Bucket) (Outcome, error) {
	return e.tryLiquidate(markerID, payment, e.params.LiquidationDelay)
}

// LiquidatePositionWithoutMarker implements
// liquidate_position_without_marker: either the caller names a position
// directly (automatic=false), or the engine walks the marked-position
// index in ascending placing order and liquidates the skip-th entry.
// The unmarked delay (mark age must additionally clear unmarked_delay on
// top of liquidation_delay) models the extra grace period a caller who
// did not do the marking themselves is given before acting on someone
// else's mark.
func (e *Engine) LiquidatePositionWithoutMarker(payment *assets.Bucket, automatic bool, skip int, positionID uint64) (Outcome, error) {
	if automatic {
		found, ok := e.markedIdx.NthAscending(skip)
		if !ok {
			return Outcome{}, ErrSkipOutOfRange
		}
		positionID = found
	}
	pos, err := e.positions.Get(positionID)
	if err != nil {
		return Outcome{}, err
	}
	return e.tryLiquidate(pos.MarkerID, payment, e.params.LiquidationDelay+e.params.UnmarkedDelay)
}

func (e *Engine) tryLiquidate(markerID uint64, payment *assets.Bucket, delay time.Duration) (Outcome, error) {
	if payment.Resource != assets.StabResource {
		return Outcome{}, fmt.Errorf("%w: %s", ErrWrongResource, payment.Resource)
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return Outcome{}, err
	}
	marker, ok := e.markers.Get(markerID)
	if !ok {
		return Outcome{}, ErrUnknownMarker
	}
	if marker.Used || marker.Type != MarkTypeMarked {
		return Outcome{}, ErrInvalidMarker
	}
	pos, err := e.positions.Get(marker.PositionID)
	if err != nil {
		return Outcome{}, err
	}
	if pos.Status != position.Marked {
		return Outcome{}, ErrNotMarked
	}
	if payment.Amount.LessThan(pos.MintedStab) {
		return Outcome{}, fmt.Errorf("%w: have %s, need %s", ErrInsufficientPay, payment.Amount, pos.MintedStab)
	}
	if e.now().Before(marker.TimeMarked.Add(delay)) {
		return Outcome{}, ErrTooEarly
	}

	parentEntry, err := e.registry.Get(pos.ParentCollateral)
	if err != nil {
		return Outcome{}, err
	}
	underlying, err := e.adapter.Underlying(pos.CollateralAmount, pos.Collateral, pos.IsPoolUnit)
	if err != nil {
		return Outcome{}, err
	}
	cr := underlying.Div(pos.MintedStab)

	if cr.LessThan(parentEntry.LiqThreshold) {
		return e.liquidate(payment, marker, markerID, pos, cr, parentEntry)
	}
	saved, err := e.saveMarked(pos.ID, markerID, marker.Placing, cr, pos.ParentCollateral)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Liquidated: false, Remainder: payment.TakeAll(), SavedMarker: saved}, nil
}

func (e *Engine) liquidate(payment *assets.Bucket, marker Marker, markerID uint64, pos position.Position, cr decimal.Decimal, parentEntry *collateral.Entry) (Outcome, error) {
	if err := e.registry.AdjustMintedStab(pos.ParentCollateral, pos.Collateral, pos.IsPoolUnit, pos.MintedStab.Neg()); err != nil {
		return Outcome{}, err
	}
	adjustCollateralAmount(parentEntry, pos.CR, pos.MintedStab, decimal.Zero, decimal.Zero)

	e.markedIdx.Remove(marker.Placing)
	e.markers.MarkUsed(markerID)

	repayment, err := payment.Take(assets.StabResource, pos.MintedStab)
	if err != nil {
		return Outcome{}, err
	}
	if err := e.custody.Burn(&repayment); err != nil {
		return Outcome{}, err
	}

	crPct := parentEntry.MCR.Mul(cr).Div(parentEntry.LiqThreshold)
	payout := ComputePayout(pos.CollateralAmount, crPct, e.params.LiquidationFine, e.params.StabilisFine)

	collateralEntry := parentEntry
	if pos.IsPoolUnit {
		collateralEntry, err = e.registry.Get(pos.Collateral)
		if err != nil {
			return Outcome{}, err
		}
	}

	liquidatorOut, err := collateralEntry.Vault.Take(decimalx.RoundDown(payout.Liquidator))
	if err != nil {
		return Outcome{}, err
	}
	if payout.Treasury.GreaterThan(decimal.Zero) {
		treasuryOut, err := collateralEntry.Vault.Take(decimalx.RoundDown(payout.Treasury))
		if err != nil {
			return Outcome{}, err
		}
		if err := collateralEntry.TreasuryVault.Put(&treasuryOut); err != nil {
			return Outcome{}, err
		}
	}

	leftover := pos.CollateralAmount.Sub(payout.Liquidator).Sub(payout.Treasury)

	receiptID := e.receipts.Mint(Receipt{
		Collateral:     pos.Collateral,
		StabBurnt:      pos.MintedStab,
		PctOwed:        payout.PctOwed,
		PctReceived:    payout.PctReceived,
		PositionID:     pos.ID,
		DateLiquidated: e.now(),
	})
	receipt, _ := e.receipts.Get(receiptID)

	if err := e.positions.Update(pos.ID, func(p *position.Position) error {
		p.Status = position.Liquidated
		p.CollateralAmount = leftover
		p.MintedStab = decimal.Zero
		return nil
	}); err != nil {
		return Outcome{}, err
	}

	return Outcome{Liquidated: true, Payout: liquidatorOut, Remainder: payment.TakeAll(), Receipt: receipt}, nil
}

// ForceLiquidate implements force_liquidate: liquidates part or all of
// the lowest-CR position even before it would normally qualify, taking
// the caller-chosen percentageToTake of the proportional collateral.
// With assertNonMarkable set, a position already below the threshold is
// rejected and left to the normal mark/liquidate path.
func (e *Engine) ForceLiquidate(parent assets.ResourceID, payment *assets.Bucket, percentageToTake decimal.Decimal, assertNonMarkable bool) (assets.Bucket, error) {
	if payment.Resource != assets.StabResource {
		return assets.Bucket{}, fmt.Errorf("%w: %s", ErrWrongResource, payment.Resource)
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return assets.Bucket{}, err
	}
	positionID, oldCR, ok := e.crIndex.Lowest(parent)
	if !ok {
		return assets.Bucket{}, ErrNoLiquidatablePosition
	}
	pos, err := e.positions.Get(positionID)
	if err != nil {
		return assets.Bucket{}, err
	}
	parentEntry, err := e.registry.Get(pos.ParentCollateral)
	if err != nil {
		return assets.Bucket{}, err
	}

	underlying, err := e.adapter.Underlying(pos.CollateralAmount, pos.Collateral, pos.IsPoolUnit)
	if err != nil {
		return assets.Bucket{}, err
	}
	cr := underlying.Div(pos.MintedStab)
	lcr := parentEntry.LiqThreshold

	// A position already below threshold has the normal mark/liquidate path
	// available; force-liquidation is reserved for positions above it.
	if assertNonMarkable && !cr.GreaterThan(lcr) {
		return assets.Bucket{}, ErrCrTooLowToForce
	}

	crPct := parentEntry.MCR.Mul(cr).Div(lcr)

	one := decimal.NewFromInt(1)
	var pctToLiquidate, paymentAmount, newStabAmount decimal.Decimal
	if payment.Amount.GreaterThan(pos.MintedStab) {
		pctToLiquidate, paymentAmount, newStabAmount = one, pos.MintedStab, decimal.Zero
	} else {
		pctToLiquidate = payment.Amount.Div(pos.MintedStab)
		paymentAmount = payment.Amount
		newStabAmount = pos.MintedStab.Sub(payment.Amount)
	}

	// Below 100% collateralization a partial take would strand debt on a
	// zero-collateral position.
	if !(crPct.GreaterThan(one) || pctToLiquidate.Equal(one)) {
		return assets.Bucket{}, ErrEntireLoanRequired
	}

	e.crIndex.Remove(pos.ParentCollateral, oldCR, positionID)

	newCollateralAmount := pos.CollateralAmount.Sub(pos.CollateralAmount.Mul(pctToLiquidate).Mul(percentageToTake).Div(crPct))
	if newCollateralAmount.LessThan(decimal.Zero) {
		newCollateralAmount = decimal.Zero
	}

	repayment, err := payment.Take(assets.StabResource, paymentAmount)
	if err != nil {
		return assets.Bucket{}, err
	}
	if err := e.custody.Burn(&repayment); err != nil {
		return assets.Bucket{}, err
	}
	if err := e.registry.AdjustMintedStab(pos.ParentCollateral, pos.Collateral, pos.IsPoolUnit, paymentAmount.Neg()); err != nil {
		return assets.Bucket{}, err
	}

	collateralEntry := parentEntry
	if pos.IsPoolUnit {
		collateralEntry, err = e.registry.Get(pos.Collateral)
		if err != nil {
			return assets.Bucket{}, err
		}
	}
	takeAmount := decimalx.RoundDown(pos.CollateralAmount.Sub(newCollateralAmount))
	collateralPayment, err := collateralEntry.Vault.Take(takeAmount)
	if err != nil {
		return assets.Bucket{}, err
	}
	newCollateralAmount = pos.CollateralAmount.Sub(collateralPayment.Amount)

	if pctToLiquidate.LessThan(one) {
		newUnderlying, err := e.adapter.Underlying(newCollateralAmount, pos.Collateral, pos.IsPoolUnit)
		if err != nil {
			return assets.Bucket{}, err
		}
		newCR := newUnderlying.Div(newStabAmount)
		adjustCollateralAmount(parentEntry, oldCR, pos.MintedStab, newCR, newStabAmount)
		if err := e.crIndex.Insert(pos.ParentCollateral, newCR, positionID); err != nil {
			return assets.Bucket{}, err
		}
		if err := e.positions.Update(positionID, func(p *position.Position) error {
			p.CollateralAmount = newCollateralAmount
			p.MintedStab = newStabAmount
			p.CR = newCR
			return nil
		}); err != nil {
			return assets.Bucket{}, err
		}
	} else {
		adjustCollateralAmount(parentEntry, oldCR, pos.MintedStab, decimal.Zero, decimal.Zero)
		if err := e.positions.Update(positionID, func(p *position.Position) error {
			p.Status = position.ForceLiquidated
			p.CollateralAmount = newCollateralAmount
			p.MintedStab = newStabAmount
			return nil
		}); err != nil {
			return assets.Bucket{}, err
		}
	}

	return collateralPayment, nil
}

// ForceMint implements force_mint: supplies extra collateral to the
// highest-CR position accepting the payment's resource, minting STAB at
// a rate that keeps the position at force_mint_cr_multiplier times the
// liquidation threshold, refunding any collateral beyond the supportable
// maximum.
func (e *Engine) ForceMint(parent assets.ResourceID, payment *assets.Bucket, internalStabPrice decimal.Decimal, percentageToSupply decimal.Decimal) (assets.Bucket, assets.Bucket, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return assets.Bucket{}, assets.Bucket{}, err
	}
	parentEntry, err := e.registry.Get(parent)
	if err != nil {
		return assets.Bucket{}, assets.Bucket{}, err
	}

	positionID, found, err := e.crIndex.DescendForResource(parent, func(candidateID uint64) (bool, error) {
		pos, err := e.positions.Get(candidateID)
		if err != nil {
			return false, err
		}
		return pos.Collateral == payment.Resource, nil
	})
	if err != nil {
		return assets.Bucket{}, assets.Bucket{}, err
	}
	if !found {
		return assets.Bucket{}, assets.Bucket{}, ErrNoSuitableForceMint
	}
	pos, err := e.positions.Get(positionID)
	if err != nil {
		return assets.Bucket{}, assets.Bucket{}, err
	}

	poolToReal, err := e.adapter.Underlying(decimal.NewFromInt(1), pos.Collateral, pos.IsPoolUnit)
	if err != nil {
		return assets.Bucket{}, assets.Bucket{}, err
	}

	minCR := e.params.ForceMintCRMultiplier.Mul(parentEntry.LiqThreshold)
	collateralEntry := parentEntry
	if pos.IsPoolUnit {
		collateralEntry, err = e.registry.Get(pos.Collateral)
		if err != nil {
			return assets.Bucket{}, assets.Bucket{}, err
		}
	}
	collateralPrice := parentEntry.MarketPrice

	k := internalStabPrice.Div(poolToReal.Mul(collateralPrice)).Mul(percentageToSupply)

	maxAddition := k.Mul(pos.CollateralAmount.Mul(poolToReal).Sub(minCR.Mul(pos.MintedStab))).Div(minCR.Sub(k.Mul(poolToReal)))

	refund := assets.Bucket{Resource: payment.Resource}
	if payment.Amount.GreaterThan(maxAddition) {
		refund, err = payment.Take(payment.Resource, decimalx.RoundUp(payment.Amount.Sub(maxAddition)))
		if err != nil {
			return assets.Bucket{}, assets.Bucket{}, err
		}
	}

	e.crIndex.Remove(pos.ParentCollateral, pos.CR, positionID)

	mintedAmount := payment.Amount.Div(k)
	newMintedStab := pos.MintedStab.Add(mintedAmount)
	newCollateralAmount := pos.CollateralAmount.Add(payment.Amount)
	newUnderlying, err := e.adapter.Underlying(newCollateralAmount, pos.Collateral, pos.IsPoolUnit)
	if err != nil {
		return assets.Bucket{}, assets.Bucket{}, err
	}
	newCR := newUnderlying.Div(newMintedStab)

	adjustCollateralAmount(parentEntry, pos.CR, pos.MintedStab, newCR, newMintedStab)
	if err := e.crIndex.Insert(pos.ParentCollateral, newCR, positionID); err != nil {
		return assets.Bucket{}, assets.Bucket{}, err
	}

	stabTokens := e.custody.Mint(mintedAmount)
	if err := e.registry.AdjustMintedStab(pos.ParentCollateral, pos.Collateral, pos.IsPoolUnit, mintedAmount); err != nil {
		return assets.Bucket{}, assets.Bucket{}, err
	}

	supplied := payment.TakeAll()
	if err := collateralEntry.Vault.Put(&supplied); err != nil {
		return assets.Bucket{}, assets.Bucket{}, err
	}

	if err := e.positions.Update(positionID, func(p *position.Position) error {
		p.MintedStab = newMintedStab
		p.CollateralAmount = newCollateralAmount
		p.CR = newCR
		return nil
	}); err != nil {
		return assets.Bucket{}, assets.Bucket{}, err
	}

	return stabTokens, refund, nil
}
