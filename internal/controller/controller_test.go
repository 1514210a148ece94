package controller

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"stabengine/internal/collateral"
	"stabengine/internal/oracle"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type clock struct {
	now time.Time
}

func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

func testParams() Params {
	return Params{
		Kp:                   dec("0.01"),
		Ki:                   dec("0.01"),
		MaxInterestRate:      dec("1.1"),
		MinInterestRate:      dec("0.9"),
		AllowedDeviation:     dec("0.005"),
		MaxPriceError:        dec("0.5"),
		PriceErrorOffset:     dec("1"),
		NumberOfCachedPrices: 3,
		UpdateDelay:          time.Minute,
		BasePrice:            dec("1"),
	}
}

func newController(t *testing.T, params Params, marketPrice string) (*Controller, *collateral.Registry, *oracle.StaticOracle, *oracle.StaticMarketPrice, *clock) {
	t.Helper()
	registry := collateral.NewRegistry()
	require.NoError(t, registry.RegisterCollateral("XRD", dec("1.5"), dec("1"), dec("1"), dec("1"), true))
	priceOracle := oracle.NewStaticOracle()
	market := oracle.NewStaticMarketPrice(dec(marketPrice))
	clk := &clock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	c, err := New(params, priceOracle, registry, market, func() time.Time { return clk.now })
	require.NoError(t, err)
	return c, registry, priceOracle, market, clk
}

func TestNewRejectsZeroCacheSize(t *testing.T) {
	params := testParams()
	params.NumberOfCachedPrices = 0
	_, err := New(params, oracle.NewStaticOracle(), collateral.NewRegistry(), oracle.NewStaticMarketPrice(dec("1")), nil)
	require.ErrorIs(t, err, ErrNoCachedPrices)
}

func TestUpdateRefreshesCollateralPrices(t *testing.T) {
	c, registry, priceOracle, _, _ := newController(t, testParams(), "1")
	priceOracle.Set("XRD", dec("0.5"))
	priceOracle.Set("UNKNOWN", dec("7")) // silently skipped

	require.NoError(t, c.Update())

	entry, err := registry.Get("XRD")
	require.NoError(t, err)
	require.True(t, entry.MarketPrice.Equal(dec("0.5")))
	// liq_threshold = 1.5 * 1 / 0.5
	require.True(t, entry.LiqThreshold.Equal(dec("3")), "threshold %s", entry.LiqThreshold)
}

func TestUpdateIdempotentWithoutElapsedTime(t *testing.T) {
	c, _, _, _, clk := newController(t, testParams(), "1.1")

	clk.advance(time.Minute)
	require.NoError(t, c.Update())
	price := c.InternalPrice()
	rate := c.InterestRate()

	// Same instant again: the PI step must not run twice.
	require.NoError(t, c.Update())
	require.True(t, c.InternalPrice().Equal(price), "price moved: %s -> %s", price, c.InternalPrice())
	require.True(t, c.InterestRate().Equal(rate), "rate moved: %s -> %s", rate, c.InterestRate())
}

func TestPositiveErrorLowersInterestRate(t *testing.T) {
	c, _, _, _, clk := newController(t, testParams(), "1.1")

	prev := c.InterestRate()
	for i := 0; i < 5; i++ {
		clk.advance(time.Minute)
		require.NoError(t, c.Update())
		rate := c.InterestRate()
		require.True(t, rate.LessThanOrEqual(prev), "rate rose on iteration %d: %s -> %s", i, prev, rate)
		prev = rate
	}
	require.True(t, prev.LessThan(dec("1")), "rate never dropped below 1: %s", prev)
}

func TestInterestRateClampedAtMinimum(t *testing.T) {
	params := testParams()
	params.Kp = dec("10")
	params.Ki = dec("10")
	c, _, _, _, clk := newController(t, params, "1.4")

	for i := 0; i < 3; i++ {
		clk.advance(time.Minute)
		require.NoError(t, c.Update())
	}
	require.True(t, c.InterestRate().Equal(dec("0.9")), "rate %s", c.InterestRate())
}

func TestSmallErrorLeavesRateUntouched(t *testing.T) {
	// 1.004 is inside the 0.5% allowed deviation band.
	c, _, _, _, clk := newController(t, testParams(), "1.004")

	clk.advance(time.Minute)
	require.NoError(t, c.Update())
	require.True(t, c.InterestRate().Equal(dec("1")), "rate %s", c.InterestRate())
	require.True(t, c.InternalPrice().Equal(dec("1")), "price %s", c.InternalPrice())
}

func TestCompoundingMovesInternalPrice(t *testing.T) {
	c, registry, _, _, clk := newController(t, testParams(), "1.1")

	// First update lowers the rate below 1; the second compounds the
	// price down by rate^1.
	clk.advance(time.Minute)
	require.NoError(t, c.Update())
	clk.advance(time.Minute)
	require.NoError(t, c.Update())
	require.True(t, c.InternalPrice().LessThan(dec("1")), "price %s", c.InternalPrice())

	// The registry thresholds follow the internal price: mcr * internal /
	// market, with the market price still 1.
	entry, err := registry.Get("XRD")
	require.NoError(t, err)
	want := dec("1.5").Mul(c.InternalPrice()).Div(dec("1"))
	require.True(t, entry.LiqThreshold.Equal(want), "threshold %s want %s", entry.LiqThreshold, want)
}

func TestPriceErrorCarriesBasePriceFactor(t *testing.T) {
	// With a base price of 2, a 1.2 market reading is a USD price of 2.4
	// against an internal price seeded at 2: a +0.4 error, not the -0.8
	// a missing base-price factor would produce.
	params := testParams()
	params.BasePrice = dec("2")
	registry := collateral.NewRegistry()
	require.NoError(t, registry.RegisterCollateral("XRD", dec("1.5"), dec("1"), dec("2"), dec("1"), true))
	clk := &clock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	c, err := New(params, oracle.NewStaticOracle(), registry, oracle.NewStaticMarketPrice(dec("1.2")), func() time.Time { return clk.now })
	require.NoError(t, err)

	clk.advance(time.Minute)
	require.NoError(t, c.Update())

	require.True(t, c.errors[0].Equal(dec("0.4")), "stored error %s, want 0.4", c.errors[0])
	// A positive error lowers the rate; the sign flips if the factor is
	// dropped.
	require.True(t, c.InterestRate().LessThan(dec("1")), "rate %s", c.InterestRate())
}

func TestErrorRingBufferRollsOver(t *testing.T) {
	c, _, _, market, clk := newController(t, testParams(), "1.1")

	// Fill the 3-slot buffer, then overwrite the oldest sample with a
	// different error and check the running sum tracks the window.
	for i := 0; i < 3; i++ {
		clk.advance(time.Minute)
		require.NoError(t, c.Update())
	}
	market.Set(dec("1.2"))
	clk.advance(time.Minute)
	require.NoError(t, c.Update())

	var want decimal.Decimal
	for _, e := range c.errors {
		want = want.Add(e)
	}
	require.True(t, c.errorsTotal.Equal(want), "running sum %s, window sum %s", c.errorsTotal, want)
	require.True(t, c.fullCache)
}
