package detector

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// fakeGas returns a fixed per-chain estimate.
type fakeGas struct {
	pct   map[string]float64
	err   error
	calls int
}

func (f *fakeGas) Estimate(_ context.Context, chain string) (float64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.pct[chain], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func cexQuote(venue string, price float64) domain.VenueQuote {
	return domain.VenueQuote{VenueID: venue, Kind: domain.VenueCentralized, Price: price}
}

func dexQuote(venue, chain string, price float64) domain.VenueQuote {
	return domain.VenueQuote{VenueID: venue, Kind: domain.VenueDecentralized, Chain: chain, Price: price}
}

func TestDetectCEXGap(t *testing.T) {
	d := New(Config{TradingFeePct: 0.1, SlippageGapFraction: 0.1, MinLiquidityUSD: 10_000}, nil, testLogger())

	quotes := []domain.VenueQuote{
		cexQuote("binance", 2000),
		cexQuote("kraken", 2040),
	}
	opps := d.Detect(context.Background(), "ETH/USDT", quotes, 1.0, 100_000)
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, domain.CompareCEXCEX, opp.Type)
	assert.Equal(t, "binance", opp.BuyVenue)
	assert.Equal(t, "kraken", opp.SellVenue)
	assert.InDelta(t, 2.0, opp.GrossGapPct, 1e-9)
	// Fees: 0.1 per leg on both legs + 10% of the gap as slippage, no gas.
	assert.InDelta(t, 0.2, opp.Fees.TradingFeePct, 1e-9)
	assert.InDelta(t, 0.2, opp.Fees.SlippagePct, 1e-9)
	assert.Zero(t, opp.Fees.GasFeePct)
	assert.InDelta(t, 1.6, opp.NetProfitPct, 1e-9)
	assert.False(t, opp.Analyzed)
	assert.False(t, opp.Executed)
	assert.NotEmpty(t, opp.ID)
}

func TestDetectQuoteOrderDoesNotChangeSides(t *testing.T) {
	d := New(Config{TradingFeePct: 0.1}, nil, testLogger())

	forward := d.Detect(context.Background(), "ETH/USDT",
		[]domain.VenueQuote{cexQuote("a", 2000), cexQuote("b", 2040)}, 1.0, 100_000)
	reversed := d.Detect(context.Background(), "ETH/USDT",
		[]domain.VenueQuote{cexQuote("b", 2040), cexQuote("a", 2000)}, 1.0, 100_000)

	require.Len(t, forward, 1)
	require.Len(t, reversed, 1)
	assert.Equal(t, forward[0].BuyVenue, reversed[0].BuyVenue)
	assert.Equal(t, forward[0].SellVenue, reversed[0].SellVenue)
	assert.InDelta(t, forward[0].NetProfitPct, reversed[0].NetProfitPct, 1e-9)
}

func TestDetectSubThresholdGapSkipped(t *testing.T) {
	gas := &fakeGas{}
	d := New(Config{TradingFeePct: 0.1}, gas, testLogger())

	// 0.5% gap against a 1% threshold: skipped before any fee work.
	opps := d.Detect(context.Background(), "BTC/USDT",
		[]domain.VenueQuote{cexQuote("a", 60_000), cexQuote("b", 60_300)}, 1.0, 1_000_000)
	assert.Empty(t, opps)
	assert.Zero(t, gas.calls)
}

func TestDetectNetProfitMustBePositive(t *testing.T) {
	// Per-leg fee of 1% eats the entire 2% gap (2x1% trading + slippage).
	d := New(Config{TradingFeePct: 1.0}, nil, testLogger())

	opps := d.Detect(context.Background(), "ETH/USDT",
		[]domain.VenueQuote{cexQuote("a", 2000), cexQuote("b", 2040)}, 1.0, 100_000)
	assert.Empty(t, opps)
}

func TestDetectLiquidityFloor(t *testing.T) {
	d := New(Config{TradingFeePct: 0.1, MinLiquidityUSD: 50_000}, nil, testLogger())
	quotes := []domain.VenueQuote{cexQuote("a", 2000), cexQuote("b", 2040)}

	assert.Empty(t, d.Detect(context.Background(), "ETH/USDT", quotes, 1.0, 49_999))
	assert.Len(t, d.Detect(context.Background(), "ETH/USDT", quotes, 1.0, 50_000), 1)
}

func TestDetectGasOnDEXLegsOnly(t *testing.T) {
	gas := &fakeGas{pct: map[string]float64{"ethereum": 0.3}}
	d := New(Config{TradingFeePct: 0.1}, gas, testLogger())

	opps := d.Detect(context.Background(), "ETH/USDT",
		[]domain.VenueQuote{
			cexQuote("binance", 2000),
			dexQuote("ethereum:uniswap_v3", "ethereum", 2060),
		}, 1.0, 100_000)
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, domain.CompareCEXDEX, opp.Type)
	// Gas charged for the one on-chain leg only.
	assert.InDelta(t, 0.3, opp.Fees.GasFeePct, 1e-9)

	bothDEX := d.Detect(context.Background(), "ETH/USDT",
		[]domain.VenueQuote{
			dexQuote("ethereum:uniswap_v3", "ethereum", 2000),
			dexQuote("ethereum:sushiswap", "ethereum", 2060),
		}, 1.0, 100_000)
	require.Len(t, bothDEX, 1)
	assert.Equal(t, domain.CompareDEXDEX, bothDEX[0].Type)
	assert.InDelta(t, 0.6, bothDEX[0].Fees.GasFeePct, 1e-9)
}

func TestDetectGasFailureDegradesToZero(t *testing.T) {
	gas := &fakeGas{err: errors.New("rpc down")}
	d := New(Config{TradingFeePct: 0.1}, gas, testLogger())

	opps := d.Detect(context.Background(), "ETH/USDT",
		[]domain.VenueQuote{
			cexQuote("binance", 2000),
			dexQuote("ethereum:uniswap_v3", "ethereum", 2060),
		}, 1.0, 100_000)
	require.Len(t, opps, 1)
	assert.Zero(t, opps[0].Fees.GasFeePct)
}

func TestDetectSortsByNetProfitDescending(t *testing.T) {
	d := New(Config{TradingFeePct: 0.05}, nil, testLogger())

	quotes := []domain.VenueQuote{
		cexQuote("a", 2000),
		cexQuote("b", 2040), // 2% gap vs a
		cexQuote("c", 2100), // 5% gap vs a, ~2.9% vs b
	}
	opps := d.Detect(context.Background(), "ETH/USDT", quotes, 1.0, 100_000)
	require.GreaterOrEqual(t, len(opps), 2)
	for i := 1; i < len(opps); i++ {
		assert.GreaterOrEqual(t, opps[i-1].NetProfitPct, opps[i].NetProfitPct)
	}
	assert.Equal(t, "a", opps[0].BuyVenue)
	assert.Equal(t, "c", opps[0].SellVenue)
}

func TestDetectIgnoresNonPositivePrices(t *testing.T) {
	d := New(Config{TradingFeePct: 0.1}, nil, testLogger())

	opps := d.Detect(context.Background(), "ETH/USDT",
		[]domain.VenueQuote{cexQuote("a", 0), cexQuote("b", 2040)}, 1.0, 100_000)
	assert.Empty(t, opps)
}

func TestDetectDefaultSlippageFraction(t *testing.T) {
	d := New(Config{TradingFeePct: 0.1}, nil, testLogger())

	opps := d.Detect(context.Background(), "ETH/USDT",
		[]domain.VenueQuote{cexQuote("a", 2000), cexQuote("b", 2040)}, 1.0, 100_000)
	require.Len(t, opps, 1)
	assert.InDelta(t, 0.2, opps[0].Fees.SlippagePct, 1e-9)
}
