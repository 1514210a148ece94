package liquidation

import stderrors "errors"

var (
	ErrNilState               = stderrors.New("liquidation: engine not wired")
	ErrNoLiquidatablePosition = stderrors.New("liquidation: no position available")
	ErrNotLiquidatable        = stderrors.New("liquidation: position CR above threshold")
	ErrUnknownMarker          = stderrors.New("liquidation: unknown marker")
	ErrInvalidMarker          = stderrors.New("liquidation: marker already used or not a mark")
	ErrNotMarked              = stderrors.New("liquidation: position not marked")
	ErrInsufficientPay        = stderrors.New("liquidation: insufficient STAB supplied")
	ErrTooEarly               = stderrors.New("liquidation: delay has not yet elapsed")
	ErrWrongResource          = stderrors.New("liquidation: wrong resource supplied")
	ErrCrTooLowToForce        = stderrors.New("liquidation: CR below threshold, use normal liquidation")
	ErrEntireLoanRequired     = stderrors.New("liquidation: CR below 100%, entire loan must be force-liquidated")
	ErrNoSuitableForceMint    = stderrors.New("liquidation: no position accepts this collateral for force-mint")
	ErrSkipOutOfRange         = stderrors.New("liquidation: skip exceeds marked-position count")
)
