// Package controller implements the PI price controller: it tracks
// the internal STAB target price against an external market reading,
// accumulates a windowed error history, and adjusts a compounding
// interest rate that nudges the internal price back toward the market.
package controller

import (
	stderrors "errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stabengine/internal/collateral"
	"stabengine/internal/decimalx"
	"stabengine/internal/oracle"
)

var ErrNoCachedPrices = stderrors.New("controller: number_of_cached_prices must be positive")

// MarketPriceSource reads the STAB token's external market price, the
// one signal the PI loop steers the internal price toward.
type MarketPriceSource interface {
	StabMarketPrice() (decimal.Decimal, error)
}

// Params carries the controller constants loaded from config.
type Params struct {
	Kp                   decimal.Decimal
	Ki                   decimal.Decimal
	MaxInterestRate      decimal.Decimal
	MinInterestRate      decimal.Decimal
	AllowedDeviation     decimal.Decimal
	MaxPriceError        decimal.Decimal
	PriceErrorOffset     decimal.Decimal
	NumberOfCachedPrices uint64
	UpdateDelay          time.Duration
	BasePrice            decimal.Decimal
}

// Controller owns the internal STAB price and interest rate, and drives
// the collateral registry's derived liquidation thresholds whenever
// either the internal price or an external collateral quote changes.
type Controller struct {
	mu       sync.Mutex
	params   Params
	oracle   oracle.PriceOracle
	registry *collateral.Registry
	market   MarketPriceSource
	now      func() time.Time

	internalPrice  decimal.Decimal
	interestRate   decimal.Decimal
	errors         []decimal.Decimal
	errorsTotal    decimal.Decimal
	lastChangedIdx uint64
	fullCache      bool
	lastUpdate     time.Time
}

// New constructs a Controller seeded at params.BasePrice and an interest
// rate of 1 (no compounding yet). now defaults to time.Now when nil.
func New(params Params, priceOracle oracle.PriceOracle, registry *collateral.Registry, market MarketPriceSource, now func() time.Time) (*Controller, error) {
	if params.NumberOfCachedPrices == 0 {
		return nil, ErrNoCachedPrices
	}
	if now == nil {
		now = time.Now
	}
	return &Controller{
		params:        params,
		oracle:        priceOracle,
		registry:      registry,
		market:        market,
		now:           now,
		internalPrice: params.BasePrice,
		interestRate:  decimal.NewFromInt(1),
		errors:        make([]decimal.Decimal, params.NumberOfCachedPrices),
		lastUpdate:    now(),
	}, nil
}

// InternalPrice returns the current compounding STAB target price.
func (c *Controller) InternalPrice() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internalPrice
}

// InterestRate returns the current per-minute compounding rate.
func (c *Controller) InterestRate() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interestRate
}

// Update refreshes every accepted collateral's USD price from the
// oracle, then — once update_delay minutes have elapsed since the last
// price step — runs one PI step against the external market reading.
func (c *Controller) Update() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.updateCollateralPrices(); err != nil {
		return err
	}

	passedMinutes := decimal.NewFromFloat(c.now().Sub(c.lastUpdate).Minutes())
	delayMinutes := decimal.NewFromFloat(c.params.UpdateDelay.Minutes())
	if passedMinutes.GreaterThanOrEqual(delayMinutes) {
		return c.updateInternalPrice(passedMinutes)
	}
	return nil
}

// updateCollateralPrices mirrors update_collateral_prices: unaccepted or
// unknown resources returned by the oracle are silently skipped rather
// than treated as an error.
func (c *Controller) updateCollateralPrices() error {
	quotes, err := c.oracle.GetPrices()
	if err != nil {
		return err
	}
	for _, q := range quotes {
		entry, err := c.registry.Get(q.Resource)
		if err != nil || !entry.Accepted {
			continue
		}
		_ = c.registry.SetMarketPrice(q.Resource, q.Price, c.internalPrice)
	}
	return nil
}

// updateInternalPrice mirrors update_internal_price: clamp the raw price
// error, fold it into a fixed-size ring buffer of recent errors, adjust
// the interest rate by the PI term when the error exceeds the allowed
// deviation, then compound the internal price by interestRate^elapsed.
func (c *Controller) updateInternalPrice(passedMinutes decimal.Decimal) error {
	marketPrice, err := c.market.StabMarketPrice()
	if err != nil {
		return err
	}

	priceError := marketPrice.Mul(c.params.BasePrice).Mul(c.params.PriceErrorOffset).Sub(c.internalPrice)
	if priceError.GreaterThan(c.params.MaxPriceError) {
		priceError = c.params.MaxPriceError
	}

	n := c.params.NumberOfCachedPrices
	var toChangeIdx uint64
	if c.lastChangedIdx >= n {
		c.fullCache = true
		toChangeIdx = 1
	} else {
		toChangeIdx = c.lastChangedIdx + 1
	}

	slot := (toChangeIdx - 1) % n
	if !c.fullCache {
		c.errorsTotal = c.errorsTotal.Add(priceError)
	} else {
		c.errorsTotal = c.errorsTotal.Add(priceError).Sub(c.errors[slot])
	}
	c.lastChangedIdx = toChangeIdx
	c.errors[slot] = priceError

	if priceError.Abs().GreaterThan(c.params.AllowedDeviation.Mul(c.internalPrice)) {
		proportional := c.params.Kp.Mul(priceError.Div(c.internalPrice))
		integral := c.params.Ki.Mul(c.errorsTotal.Div(c.internalPrice.Mul(decimal.NewFromInt(int64(n)))))
		c.interestRate = c.interestRate.Sub(proportional.Add(integral).Mul(passedMinutes))
		c.interestRate = decimalx.Clamp(c.interestRate, c.params.MinInterestRate, c.params.MaxInterestRate)
	}

	c.internalPrice = c.internalPrice.Mul(decimalx.Pow(c.interestRate, passedMinutes))
	c.lastUpdate = c.now()
	c.registry.RecomputeAllThresholds(c.internalPrice)
	return nil
}
