// Package engine composes the collateral registry, position store, pool
// adapter, custody, CDP engine, liquidation engine, and price controller
// into the single top-level entry point callers use, applying the
// per-parent-collateral plus global locking discipline around each
// operation.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stabengine/internal/assets"
	"stabengine/internal/cdp"
	"stabengine/internal/collateral"
	"stabengine/internal/controller"
	"stabengine/internal/custody"
	"stabengine/internal/liquidation"
	"stabengine/internal/pooladapter"
	"stabengine/internal/position"
	"stabengine/observability/metrics"
	nativecommon "stabengine/native/common"
)

// Engine is the single entry point callers use. It composes the
// collateral registry, position store, pool adapter, custody, CDP
// engine, liquidation engine, and price controller, and owns the lock
// discipline around every mutating call: a global mutex serializing
// cross-collateral state (circulating STAB, controller thresholds)
// composed with one per-parent-collateral RWMutex serializing that
// collateral's own position/CR-index mutations.
type Engine struct {
	globalMu sync.Mutex

	locksMu sync.Mutex
	locks   map[assets.ResourceID]*sync.RWMutex

	registry   *collateral.Registry
	positions  *position.Store
	adapter    *pooladapter.Adapter
	custody    *custody.Custody
	crIndex    *liquidation.CRIndex
	markers    *liquidation.MarkerStore
	markedIdx  *liquidation.MarkedIndex
	receipts   *liquidation.ReceiptStore
	cdpEngine  *cdp.Engine
	liqEngine  *liquidation.Engine
	controller *controller.Controller

	pauses *pauseFlags
	log    *slog.Logger
}

// New wires every component into one Engine, using the shared monotone
// counters from custody for marker and receipt ids.
func New(params Params, cu *custody.Custody, logger *slog.Logger) *Engine {
	registry := collateral.NewRegistry()
	positions := position.NewStore()
	adapter := pooladapter.NewAdapter()
	crIndex := liquidation.NewCRIndex(params.MaxVectorLength)
	markers := liquidation.NewMarkerStore(cu.NextMarkerID)
	markedIdx := liquidation.NewMarkedIndex()
	receipts := liquidation.NewReceiptStore(cu.NextReceiptID)
	pauses := newPauseFlags()

	cdpEngine := cdp.New(positions, registry, adapter, cu, crIndex, markers, markedIdx, cdp.Params{
		MinimumMint: params.MinimumMint,
		UnsafeFloor: assets.MinimumFractionalBadge,
	})
	cdpEngine.SetPauses(pauses)

	liqEngine := liquidation.New(positions, registry, adapter, cu, crIndex, markers, markedIdx, receipts, liquidation.Params{
		LiquidationDelay:      params.LiquidationDelay,
		UnmarkedDelay:         params.UnmarkedDelay,
		LiquidationFine:       params.LiquidationFine,
		StabilisFine:          params.StabilisFine,
		ForceMintCRMultiplier: params.ForceMintCRMultiplier,
	}, nil)
	liqEngine.SetPauses(pauses)

	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		locks:     make(map[assets.ResourceID]*sync.RWMutex),
		registry:  registry,
		positions: positions,
		adapter:   adapter,
		custody:   cu,
		crIndex:   crIndex,
		markers:   markers,
		markedIdx: markedIdx,
		receipts:  receipts,
		cdpEngine: cdpEngine,
		liqEngine: liqEngine,
		pauses:    pauses,
		log:       logger,
	}
}

// Params carries the subset of config.Config the engine's component
// constructors need.
type Params struct {
	MinimumMint           decimal.Decimal
	MaxVectorLength       int
	LiquidationDelay      time.Duration
	UnmarkedDelay         time.Duration
	LiquidationFine       decimal.Decimal
	StabilisFine          decimal.Decimal
	ForceMintCRMultiplier decimal.Decimal
}

// AttachController wires a previously-constructed price controller,
// separated from New because the controller itself depends on this
// engine's registry plus an oracle and market-price source supplied by
// the caller.
func (e *Engine) AttachController(c *controller.Controller) {
	e.controller = c
}

// Registry exposes the collateral registry for read-only registration
// and configuration calls made outside the hot operation path (adding a
// new collateral is an administrative action, not subject to the
// per-parent lock since the resource has no position traffic yet).
func (e *Engine) Registry() *collateral.Registry { return e.registry }

// Pauses exposes the OperationStopped gate for administrative toggling.
func (e *Engine) Pauses() nativecommon.PauseView { return e.pauses }

// SetPaused toggles the named module's pause flag ("cdp" stops openings
// only, "liquidation" stops marks, liquidations, force-liquidate, and
// force-mint).
func (e *Engine) SetPaused(module string, paused bool) {
	e.pauses.set(module, paused)
}

func (e *Engine) lockFor(parent assets.ResourceID) *sync.RWMutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[parent]
	if !ok {
		l = &sync.RWMutex{}
		e.locks[parent] = l
	}
	return l
}

func (e *Engine) parentOf(resource assets.ResourceID) (assets.ResourceID, error) {
	entry, err := e.registry.Get(resource)
	if err != nil {
		return "", err
	}
	return entry.Parent, nil
}

func (e *Engine) logResult(operation string, start time.Time, err error) {
	elapsed := time.Since(start)
	metrics.Engine().ObserveOperation(operation, err, elapsed)
	if err != nil {
		e.log.Error("engine operation failed", "operation", operation, "error", err, "elapsed_ms", elapsed.Milliseconds())
		return
	}
	e.log.Info("engine operation completed", "operation", operation, "elapsed_ms", elapsed.Milliseconds())
}

// OpenCDP locks the target collateral's parent and delegates to the CDP
// engine.
func (e *Engine) OpenCDP(collateralBucket *assets.Bucket, stabToMint decimal.Decimal, safe bool) (assets.Bucket, uint64, error) {
	start := time.Now()
	parent, err := e.parentOf(collateralBucket.Resource)
	if err != nil {
		e.logResult("open_cdp", start, err)
		return assets.Bucket{}, 0, err
	}

	e.globalMu.Lock()
	defer e.globalMu.Unlock()
	lock := e.lockFor(parent)
	lock.Lock()
	defer lock.Unlock()

	bucket, id, err := e.cdpEngine.OpenCDP(collateralBucket, stabToMint, safe, e.internalPrice())
	e.logResult("open_cdp", start, err)
	return bucket, id, err
}

// TopUpCDP locks the position's parent and delegates to the CDP engine.
func (e *Engine) TopUpCDP(id uint64, collateralBucket *assets.Bucket) error {
	start := time.Now()
	err := e.withPosition(id, func() error {
		return e.cdpEngine.TopUpCDP(id, collateralBucket)
	})
	e.logResult("top_up_cdp", start, err)
	return err
}

// RemoveCollateral locks the position's parent and delegates to the CDP
// engine.
func (e *Engine) RemoveCollateral(id uint64, amount decimal.Decimal) (assets.Bucket, error) {
	start := time.Now()
	var out assets.Bucket
	err := e.withPosition(id, func() error {
		var innerErr error
		out, innerErr = e.cdpEngine.RemoveCollateral(id, amount)
		return innerErr
	})
	e.logResult("remove_collateral", start, err)
	return out, err
}

// PartialClose locks the position's parent and delegates to the CDP
// engine.
func (e *Engine) PartialClose(id uint64, stabBucket *assets.Bucket) error {
	start := time.Now()
	err := e.withPosition(id, func() error {
		return e.cdpEngine.PartialClose(id, stabBucket)
	})
	e.logResult("partial_close_cdp", start, err)
	return err
}

// BorrowMore locks the position's parent and delegates to the CDP
// engine.
func (e *Engine) BorrowMore(id uint64, amount decimal.Decimal) (assets.Bucket, error) {
	start := time.Now()
	var out assets.Bucket
	err := e.withPosition(id, func() error {
		var innerErr error
		out, innerErr = e.cdpEngine.BorrowMore(id, amount)
		return innerErr
	})
	e.logResult("borrow_more", start, err)
	return out, err
}

// CloseCDP locks the position's parent and delegates to the CDP engine.
func (e *Engine) CloseCDP(id uint64, stabBucket *assets.Bucket) (assets.Bucket, assets.Bucket, error) {
	start := time.Now()
	var collateralOut, stabOut assets.Bucket
	err := e.withPosition(id, func() error {
		var innerErr error
		collateralOut, stabOut, innerErr = e.cdpEngine.CloseCDP(id, stabBucket)
		return innerErr
	})
	e.logResult("close_cdp", start, err)
	return collateralOut, stabOut, err
}

// RetrieveLeftoverCollateral locks the position's parent and delegates
// to the CDP engine.
func (e *Engine) RetrieveLeftoverCollateral(id uint64) (assets.Bucket, error) {
	start := time.Now()
	var out assets.Bucket
	err := e.withPosition(id, func() error {
		var innerErr error
		out, innerErr = e.cdpEngine.RetrieveLeftoverCollateral(id)
		return innerErr
	})
	e.logResult("retrieve_leftover_collateral", start, err)
	return out, err
}

func (e *Engine) withPosition(id uint64, fn func() error) error {
	pos, err := e.positions.Get(id)
	if err != nil {
		return err
	}
	e.globalMu.Lock()
	defer e.globalMu.Unlock()
	lock := e.lockFor(pos.ParentCollateral)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// MarkForLiquidation locks parent and delegates to the liquidation
// engine.
func (e *Engine) MarkForLiquidation(parent assets.ResourceID) (liquidation.Marker, error) {
	start := time.Now()
	e.globalMu.Lock()
	defer e.globalMu.Unlock()
	lock := e.lockFor(parent)
	lock.Lock()
	defer lock.Unlock()

	marker, err := e.liqEngine.MarkForLiquidation(parent)
	e.logResult("mark_for_liquidation", start, err)
	return marker, err
}

// LiquidatePositionWithMarker locks the marked position's parent and
// delegates to the liquidation engine.
func (e *Engine) LiquidatePositionWithMarker(markerID uint64, payment *assets.Bucket) (liquidation.Outcome, error) {
	start := time.Now()
	marker, ok := e.markers.Get(markerID)
	if !ok {
		err := liquidation.ErrUnknownMarker
		e.logResult("liquidate_with_marker", start, err)
		return liquidation.Outcome{}, err
	}
	pos, err := e.positions.Get(marker.PositionID)
	if err != nil {
		e.logResult("liquidate_with_marker", start, err)
		return liquidation.Outcome{}, err
	}

	e.globalMu.Lock()
	defer e.globalMu.Unlock()
	lock := e.lockFor(pos.ParentCollateral)
	lock.Lock()
	defer lock.Unlock()

	outcome, err := e.liqEngine.LiquidatePositionWithMarker(markerID, payment)
	e.logResult("liquidate_with_marker", start, err)
	return outcome, err
}

// LiquidatePositionWithoutMarker locks the target position's parent and
// delegates to the liquidation engine. Automatic mode cannot resolve a
// parent before the scan runs, so it takes the global lock only; callers
// relying on automatic mode under heavy concurrent load should expect
// coarser serialization than the marker-id path.
func (e *Engine) LiquidatePositionWithoutMarker(payment *assets.Bucket, automatic bool, skip int, positionID uint64) (liquidation.Outcome, error) {
	start := time.Now()
	e.globalMu.Lock()
	defer e.globalMu.Unlock()

	if !automatic {
		pos, err := e.positions.Get(positionID)
		if err == nil {
			lock := e.lockFor(pos.ParentCollateral)
			lock.Lock()
			defer lock.Unlock()
		}
	}

	outcome, err := e.liqEngine.LiquidatePositionWithoutMarker(payment, automatic, skip, positionID)
	e.logResult("liquidate_without_marker", start, err)
	return outcome, err
}

// ForceLiquidate locks parent and delegates to the liquidation engine.
func (e *Engine) ForceLiquidate(parent assets.ResourceID, payment *assets.Bucket, percentageToTake decimal.Decimal, assertNonMarkable bool) (assets.Bucket, error) {
	start := time.Now()
	e.globalMu.Lock()
	defer e.globalMu.Unlock()
	lock := e.lockFor(parent)
	lock.Lock()
	defer lock.Unlock()

	out, err := e.liqEngine.ForceLiquidate(parent, payment, percentageToTake, assertNonMarkable)
	e.logResult("force_liquidate", start, err)
	return out, err
}

// ForceMint locks parent and delegates to the liquidation engine.
func (e *Engine) ForceMint(parent assets.ResourceID, payment *assets.Bucket, percentageToSupply decimal.Decimal) (assets.Bucket, assets.Bucket, error) {
	start := time.Now()
	e.globalMu.Lock()
	defer e.globalMu.Unlock()
	lock := e.lockFor(parent)
	lock.Lock()
	defer lock.Unlock()

	minted, refund, err := e.liqEngine.ForceMint(parent, payment, e.internalPrice(), percentageToSupply)
	e.logResult("force_mint", start, err)
	return minted, refund, err
}

// UpdateController runs one price-controller step under the global
// lock, since it recomputes every collateral's derived liquidation
// threshold.
func (e *Engine) UpdateController() error {
	if e.controller == nil {
		return nil
	}
	start := time.Now()
	e.globalMu.Lock()
	defer e.globalMu.Unlock()
	err := e.controller.Update()
	metrics.Engine().ObserveControllerStep("update", time.Since(start))
	e.logResult("controller_update", start, err)
	return err
}

func (e *Engine) internalPrice() decimal.Decimal {
	if e.controller == nil {
		return decimal.NewFromInt(1)
	}
	return e.controller.InternalPrice()
}

// FreeStab mints amount STAB outside any position, the supply hook the
// flash-loan collaborator draws on. It demands a full controller badge:
// fractional proofs are not enough to create unbacked supply.
func (e *Engine) FreeStab(badge assets.Badge, amount decimal.Decimal) (assets.Bucket, error) {
	if !badge.Authorizes(decimal.NewFromInt(1)) {
		return assets.Bucket{}, fmt.Errorf("engine: free_stab requires a full badge, got %s", badge.Fraction)
	}
	e.globalMu.Lock()
	defer e.globalMu.Unlock()
	return e.custody.Mint(amount), nil
}

// BurnStab destroys the supplied STAB, the repayment hook the flash-loan
// collaborator settles through. A fractional controller badge suffices.
func (e *Engine) BurnStab(badge assets.Badge, bucket *assets.Bucket) error {
	if !badge.Authorizes(assets.MinimumFractionalBadge) {
		return fmt.Errorf("engine: burn_stab requires at least a %s badge, got %s", assets.MinimumFractionalBadge, badge.Fraction)
	}
	e.globalMu.Lock()
	defer e.globalMu.Unlock()
	return e.custody.Burn(bucket)
}

// Position returns a copy of one position record.
func (e *Engine) Position(id uint64) (position.Position, error) {
	return e.positions.Get(id)
}

// CollateralEntry returns a copy of one collateral entry's scalar fields,
// excluding the vault pointers which are never exposed to callers.
func (e *Engine) CollateralEntry(resource assets.ResourceID) (collateral.Entry, error) {
	entry, err := e.registry.Get(resource)
	if err != nil {
		return collateral.Entry{}, err
	}
	return *entry, nil
}
