package catalog

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

type fakeProvider struct {
	id      string
	tickers []domain.TickerInfo
	err     error
}

func (f *fakeProvider) VenueID() string { return f.id }

func (f *fakeProvider) ListTickers(_ context.Context) ([]domain.TickerInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tickers, nil
}

func (f *fakeProvider) FetchQuote(_ context.Context, pairKey string) (domain.PriceQuote, error) {
	return domain.PriceQuote{}, errors.New("not implemented")
}

type fakeFeed struct {
	protocols map[string][]string
	err       error
}

func (f *fakeFeed) ListProtocols(_ context.Context, chain string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.protocols[chain], nil
}

func (f *fakeFeed) FetchRecentTrades(_ context.Context, _, _ string, _ int) ([]domain.TradeRecord, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func ticker(pair string, volume float64) domain.TickerInfo {
	return domain.TickerInfo{PairKey: pair, Price: 1, QuoteVolume: volume}
}

func TestDiscoverVenuesPriorityOrder(t *testing.T) {
	providers := []domain.MarketDataProvider{
		&fakeProvider{id: "newexchange", tickers: []domain.TickerInfo{ticker("BTC/USDT", 1)}},
		&fakeProvider{id: "kraken", tickers: []domain.TickerInfo{ticker("BTC/USDT", 1)}},
		&fakeProvider{id: "binance", tickers: []domain.TickerInfo{ticker("BTC/USDT", 1)}},
	}
	feed := &fakeFeed{protocols: map[string][]string{"ethereum": {"uniswap_v3"}}}

	b := NewBuilder(Config{TopVenueCount: 10}, providers, feed, []string{"ethereum"}, testLogger())
	venues := b.DiscoverVenues(context.Background())
	require.Len(t, venues, 4)

	// Known venues rank by liquidity; unknown ones keep discovery order after.
	assert.Equal(t, "binance", venues[0].ID)
	assert.Equal(t, "kraken", venues[1].ID)
	assert.Equal(t, "newexchange", venues[2].ID)
	assert.Equal(t, "ethereum", venues[3].ID)
	assert.Equal(t, domain.VenueDecentralized, venues[3].Kind)
	for _, v := range venues {
		assert.True(t, v.Active)
		assert.True(t, v.Capabilities.BulkQuote)
	}
}

func TestDiscoverVenuesFailedProbeExcluded(t *testing.T) {
	providers := []domain.MarketDataProvider{
		&fakeProvider{id: "binance", err: errors.New("down")},
		&fakeProvider{id: "kraken", tickers: []domain.TickerInfo{ticker("BTC/USDT", 1)}},
	}
	b := NewBuilder(Config{TopVenueCount: 10}, providers, nil, nil, testLogger())

	venues := b.DiscoverVenues(context.Background())
	require.Len(t, venues, 1)
	assert.Equal(t, "kraken", venues[0].ID)
}

func TestDiscoverVenuesAllFailReturnsEmpty(t *testing.T) {
	providers := []domain.MarketDataProvider{
		&fakeProvider{id: "binance", err: errors.New("down")},
		&fakeProvider{id: "kraken", err: errors.New("down")},
	}
	feed := &fakeFeed{err: errors.New("indexer down")}

	b := NewBuilder(Config{TopVenueCount: 10}, providers, feed, []string{"ethereum"}, testLogger())
	assert.Empty(t, b.DiscoverVenues(context.Background()))
}

func TestDiscoverVenuesTruncatesToTopN(t *testing.T) {
	providers := []domain.MarketDataProvider{
		&fakeProvider{id: "binance", tickers: []domain.TickerInfo{ticker("BTC/USDT", 1)}},
		&fakeProvider{id: "coinbase", tickers: []domain.TickerInfo{ticker("BTC/USDT", 1)}},
		&fakeProvider{id: "kraken", tickers: []domain.TickerInfo{ticker("BTC/USDT", 1)}},
	}
	b := NewBuilder(Config{TopVenueCount: 2}, providers, nil, nil, testLogger())

	venues := b.DiscoverVenues(context.Background())
	require.Len(t, venues, 2)
	assert.Equal(t, "binance", venues[0].ID)
	assert.Equal(t, "coinbase", venues[1].ID)
}

func TestIdentifyTopPairsAccumulatesVolume(t *testing.T) {
	providers := []domain.MarketDataProvider{
		&fakeProvider{id: "binance", tickers: []domain.TickerInfo{
			ticker("BTC/USDT", 500_000),
			ticker("ETH/USDT", 300_000),
		}},
		&fakeProvider{id: "kraken", tickers: []domain.TickerInfo{
			ticker("ETH/USDT", 400_000), // accumulates to 700k, overtaking BTC
		}},
	}
	b := NewBuilder(Config{MinVolumeUSD: 100_000}, providers, nil, nil, testLogger())

	venues := []domain.Venue{
		{ID: "binance", Kind: domain.VenueCentralized, Active: true},
		{ID: "kraken", Kind: domain.VenueCentralized, Active: true},
	}
	pairs := b.IdentifyTopPairs(context.Background(), venues, 10)
	assert.Equal(t, []string{"ETH/USDT", "BTC/USDT"}, pairs)
}

func TestIdentifyTopPairsVolumeFloor(t *testing.T) {
	providers := []domain.MarketDataProvider{
		&fakeProvider{id: "binance", tickers: []domain.TickerInfo{
			ticker("BTC/USDT", 500_000),
			ticker("DUST/USDT", 50),
		}},
	}
	b := NewBuilder(Config{MinVolumeUSD: 100_000}, providers, nil, nil, testLogger())

	venues := []domain.Venue{{ID: "binance", Kind: domain.VenueCentralized, Active: true}}
	pairs := b.IdentifyTopPairs(context.Background(), venues, 10)
	assert.Equal(t, []string{"BTC/USDT"}, pairs)
}

func TestIdentifyTopPairsFallbackPadding(t *testing.T) {
	providers := []domain.MarketDataProvider{
		&fakeProvider{id: "binance", tickers: []domain.TickerInfo{ticker("BTC/USDT", 500_000)}},
	}
	b := NewBuilder(Config{
		MinVolumeUSD:  100_000,
		FallbackPairs: []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "XRP/USDT"},
	}, providers, nil, nil, testLogger())

	venues := []domain.Venue{{ID: "binance", Kind: domain.VenueCentralized, Active: true}}
	pairs := b.IdentifyTopPairs(context.Background(), venues, 3)

	// Padded from the fallback list, skipping the already-present BTC/USDT.
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}, pairs)
}

func TestIdentifyTopPairsAllVenuesFailUsesFallback(t *testing.T) {
	providers := []domain.MarketDataProvider{
		&fakeProvider{id: "binance", err: errors.New("down")},
	}
	b := NewBuilder(Config{
		MinVolumeUSD:  100_000,
		FallbackPairs: []string{"BTC/USDT", "ETH/USDT"},
	}, providers, nil, nil, testLogger())

	venues := []domain.Venue{{ID: "binance", Kind: domain.VenueCentralized, Active: true}}
	pairs := b.IdentifyTopPairs(context.Background(), venues, 2)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, pairs)
}

func TestIdentifyTopPairsTruncatesToTarget(t *testing.T) {
	providers := []domain.MarketDataProvider{
		&fakeProvider{id: "binance", tickers: []domain.TickerInfo{
			ticker("BTC/USDT", 500_000),
			ticker("ETH/USDT", 400_000),
			ticker("SOL/USDT", 300_000),
		}},
	}
	b := NewBuilder(Config{MinVolumeUSD: 100_000}, providers, nil, nil, testLogger())

	venues := []domain.Venue{{ID: "binance", Kind: domain.VenueCentralized, Active: true}}
	pairs := b.IdentifyTopPairs(context.Background(), venues, 2)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, pairs)
}

func TestIdentifyTopPairsSkipsInactiveVenues(t *testing.T) {
	probed := &fakeProvider{id: "binance", tickers: []domain.TickerInfo{ticker("BTC/USDT", 500_000)}}
	b := NewBuilder(Config{MinVolumeUSD: 1}, []domain.MarketDataProvider{probed}, nil, nil, testLogger())

	pairs := b.IdentifyTopPairs(context.Background(),
		[]domain.Venue{{ID: "binance", Kind: domain.VenueCentralized, Active: false}}, 5)
	assert.Empty(t, pairs)
}
