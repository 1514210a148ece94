// Package cdp implements the collateralized-debt-position lifecycle:
// open, top-up, remove-collateral, borrow-more, partial-close, close,
// and leftover retrieval after liquidation.
package cdp

import stderrors "errors"

var (
	ErrNilState          = stderrors.New("cdp: engine not wired")
	ErrNotAccepted       = stderrors.New("cdp: collateral not accepted")
	ErrMinMintViolated   = stderrors.New("cdp: minted stab below minimum_mint")
	ErrInsufficientValue = stderrors.New("cdp: collateral value too low")
	ErrShareExceeded     = stderrors.New("cdp: share cap exceeded")
	ErrWrongResource     = stderrors.New("cdp: wrong resource supplied")
	ErrInsufficientPay   = stderrors.New("cdp: insufficient payment")
	ErrWouldFallBelowMcr = stderrors.New("cdp: action would put CR below liquidation threshold")
	ErrInsufficientSave  = stderrors.New("cdp: insufficient collateral to save position")
	ErrNotHealthy        = stderrors.New("cdp: position not healthy")
	ErrNotLiquidated     = stderrors.New("cdp: position not liquidated")
	ErrNoLeftover        = stderrors.New("cdp: no leftover collateral")
)
