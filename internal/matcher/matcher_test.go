package matcher

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// fakeFeed serves canned protocol lists and trade records per chain.
type fakeFeed struct {
	protocols map[string][]string
	trades    map[string][]domain.TradeRecord // keyed by chain+"/"+protocol
	errChains map[string]bool
}

func (f *fakeFeed) ListProtocols(_ context.Context, chain string) ([]string, error) {
	if f.errChains[chain] {
		return nil, errors.New("indexer unavailable")
	}
	return f.protocols[chain], nil
}

func (f *fakeFeed) FetchRecentTrades(_ context.Context, chain, protocol string, _ int) ([]domain.TradeRecord, error) {
	return f.trades[chain+"/"+protocol], nil
}

// fakeProvider is a centralized venue serving a fixed ticker list.
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

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func record(chain, exchange, base, quote string, price, volume float64) domain.TradeRecord {
	return domain.TradeRecord{
		Chain:     chain,
		Exchange:  exchange,
		Base:      domain.Currency{Symbol: base},
		Quote:     domain.Currency{Symbol: quote},
		PriceUSD:  price,
		VolumeUSD: volume,
		TxCount:   1,
	}
}

func dexVenue(chain string) domain.Venue {
	return domain.Venue{ID: chain, Kind: domain.VenueDecentralized, Chain: chain, Active: true}
}

func cexVenue(id string) domain.Venue {
	return domain.Venue{ID: id, Kind: domain.VenueCentralized, Active: true}
}

func TestMatchCommonPairsMergesAcrossChains(t *testing.T) {
	feed := &fakeFeed{
		protocols: map[string][]string{
			"ethereum": {"uniswap_v3"},
			"bsc":      {"pancakeswap"},
		},
		trades: map[string][]domain.TradeRecord{
			"ethereum/uniswap_v3": {record("ethereum", "uniswap_v3", "weth", "usdt", 2000, 1_000_000)},
			"bsc/pancakeswap":     {record("bsc", "pancakeswap", "WETH", "USDT", 2010, 500_000)},
		},
	}
	m := New(Config{MaxSubMarkets: 5, MaxRecords: 50}, nil, feed, testLogger())

	res, err := m.MatchCommonPairs(context.Background(), []domain.Venue{dexVenue("ethereum"), dexVenue("bsc")}, 2)
	require.NoError(t, err)
	require.Len(t, res.Aggregates, 1)

	agg := res.Aggregates[0]
	assert.Equal(t, "WETH/USDT", agg.PairKey)
	assert.Equal(t, 2, agg.ExchangeCount)
	assert.Equal(t, []string{"ethereum", "bsc"}, agg.Chains)
	assert.Equal(t, []string{"uniswap_v3", "pancakeswap"}, agg.Exchanges)
	assert.InDelta(t, 1_500_000, agg.VolumeUSD, 1e-6)
	// Latest-seen record wins the price.
	assert.InDelta(t, 2010, agg.PriceUSD, 1e-9)
	assert.Len(t, res.Quotes["WETH/USDT"], 2)
}

func TestMatchCommonPairsSkipsMalformedRecords(t *testing.T) {
	feed := &fakeFeed{
		protocols: map[string][]string{"ethereum": {"uniswap_v3"}},
		trades: map[string][]domain.TradeRecord{
			"ethereum/uniswap_v3": {
				record("ethereum", "uniswap_v3", "", "usdt", 1, 100),
				record("ethereum", "uniswap_v3", "weth", "", 1, 100),
				record("ethereum", "uniswap_v3", "weth", "usdt", 2000, 100),
			},
		},
	}
	m := New(Config{MaxSubMarkets: 5, MaxRecords: 50}, nil, feed, testLogger())

	res, err := m.MatchCommonPairs(context.Background(), []domain.Venue{dexVenue("ethereum")}, 1)
	require.NoError(t, err)
	require.Len(t, res.Aggregates, 1)
	assert.Equal(t, "WETH/USDT", res.Aggregates[0].PairKey)
	assert.InDelta(t, 100, res.Aggregates[0].VolumeUSD, 1e-9)
}

func TestMatchCommonPairsDiversityDedup(t *testing.T) {
	// The same (chain, protocol) quoting a pair twice counts once toward
	// diversity; volume still accumulates.
	feed := &fakeFeed{
		protocols: map[string][]string{"ethereum": {"uniswap_v3"}},
		trades: map[string][]domain.TradeRecord{
			"ethereum/uniswap_v3": {
				record("ethereum", "uniswap_v3", "weth", "usdt", 2000, 100),
				record("ethereum", "uniswap_v3", "weth", "usdt", 2001, 200),
			},
		},
	}
	m := New(Config{MaxSubMarkets: 5, MaxRecords: 50}, nil, feed, testLogger())

	res, err := m.MatchCommonPairs(context.Background(), []domain.Venue{dexVenue("ethereum")}, 1)
	require.NoError(t, err)
	require.Len(t, res.Aggregates, 1)
	assert.Equal(t, 1, res.Aggregates[0].ExchangeCount)
	assert.InDelta(t, 300, res.Aggregates[0].VolumeUSD, 1e-9)
	assert.Len(t, res.Quotes["WETH/USDT"], 1)
}

func TestMatchCommonPairsMinVenueCountFilter(t *testing.T) {
	feed := &fakeFeed{
		protocols: map[string][]string{"ethereum": {"uniswap_v3", "sushiswap"}},
		trades: map[string][]domain.TradeRecord{
			"ethereum/uniswap_v3": {
				record("ethereum", "uniswap_v3", "weth", "usdt", 2000, 100),
				record("ethereum", "uniswap_v3", "rare", "usdt", 1, 10),
			},
			"ethereum/sushiswap": {record("ethereum", "sushiswap", "weth", "usdt", 2002, 50)},
		},
	}
	m := New(Config{MaxSubMarkets: 5, MaxRecords: 50}, nil, feed, testLogger())

	res, err := m.MatchCommonPairs(context.Background(), []domain.Venue{dexVenue("ethereum")}, 2)
	require.NoError(t, err)
	require.Len(t, res.Aggregates, 1)
	assert.Equal(t, "WETH/USDT", res.Aggregates[0].PairKey)
	_, rareKept := res.Quotes["RARE/USDT"]
	assert.False(t, rareKept)
}

func TestMatchCommonPairsSortedByDiversity(t *testing.T) {
	feed := &fakeFeed{
		protocols: map[string][]string{"ethereum": {"uniswap_v3", "sushiswap", "curve"}},
		trades: map[string][]domain.TradeRecord{
			"ethereum/uniswap_v3": {
				record("ethereum", "uniswap_v3", "aaa", "usdt", 1, 10),
				record("ethereum", "uniswap_v3", "bbb", "usdt", 1, 10),
			},
			"ethereum/sushiswap": {
				record("ethereum", "sushiswap", "aaa", "usdt", 1, 10),
				record("ethereum", "sushiswap", "bbb", "usdt", 1, 10),
			},
			"ethereum/curve": {record("ethereum", "curve", "bbb", "usdt", 1, 10)},
		},
	}
	m := New(Config{MaxSubMarkets: 5, MaxRecords: 50}, nil, feed, testLogger())

	res, err := m.MatchCommonPairs(context.Background(), []domain.Venue{dexVenue("ethereum")}, 1)
	require.NoError(t, err)
	require.Len(t, res.Aggregates, 2)
	assert.Equal(t, "BBB/USDT", res.Aggregates[0].PairKey)
	assert.Equal(t, 3, res.Aggregates[0].ExchangeCount)
	assert.Equal(t, "AAA/USDT", res.Aggregates[1].PairKey)
}

func TestMatchCommonPairsFailedChainExcluded(t *testing.T) {
	feed := &fakeFeed{
		protocols: map[string][]string{"bsc": {"pancakeswap"}},
		trades: map[string][]domain.TradeRecord{
			"bsc/pancakeswap": {record("bsc", "pancakeswap", "weth", "usdt", 2010, 500)},
		},
		errChains: map[string]bool{"ethereum": true},
	}
	m := New(Config{MaxSubMarkets: 5, MaxRecords: 50}, nil, feed, testLogger())

	res, err := m.MatchCommonPairs(context.Background(), []domain.Venue{dexVenue("ethereum"), dexVenue("bsc")}, 1)
	require.NoError(t, err)
	require.Len(t, res.Aggregates, 1)
	assert.Equal(t, []string{"bsc"}, res.Aggregates[0].Chains)
}

func TestMatchCommonPairsIncludesCEXTickers(t *testing.T) {
	feed := &fakeFeed{
		protocols: map[string][]string{"ethereum": {"uniswap_v3"}},
		trades: map[string][]domain.TradeRecord{
			"ethereum/uniswap_v3": {record("ethereum", "uniswap_v3", "eth", "usdt", 2000, 500)},
		},
	}
	providers := map[string]domain.MarketDataProvider{
		"binance": &fakeProvider{id: "binance", tickers: []domain.TickerInfo{
			{PairKey: "ETH/USDT", Price: 2005, QuoteVolume: 9_000_000},
		}},
	}
	m := New(Config{MaxSubMarkets: 5, MaxRecords: 50}, providers, feed, testLogger())

	res, err := m.MatchCommonPairs(context.Background(),
		[]domain.Venue{cexVenue("binance"), dexVenue("ethereum")}, 2)
	require.NoError(t, err)
	require.Len(t, res.Aggregates, 1)

	agg := res.Aggregates[0]
	assert.Equal(t, "ETH/USDT", agg.PairKey)
	assert.Equal(t, 2, agg.ExchangeCount)

	quotes := res.Quotes["ETH/USDT"]
	require.Len(t, quotes, 2)
	assert.Equal(t, "binance", quotes[0].VenueID)
	assert.Equal(t, domain.VenueCentralized, quotes[0].Kind)
	assert.Equal(t, "ethereum:uniswap_v3", quotes[1].VenueID)
	assert.Equal(t, domain.VenueDecentralized, quotes[1].Kind)
}

func TestMatchCommonPairsDeterministicMergeOrder(t *testing.T) {
	feed := &fakeFeed{
		protocols: map[string][]string{
			"ethereum": {"uniswap_v3"},
			"bsc":      {"pancakeswap"},
		},
		trades: map[string][]domain.TradeRecord{
			"ethereum/uniswap_v3": {record("ethereum", "uniswap_v3", "weth", "usdt", 2000, 100)},
			"bsc/pancakeswap":     {record("bsc", "pancakeswap", "weth", "usdt", 2010, 100)},
		},
	}
	m := New(Config{MaxSubMarkets: 5, MaxRecords: 50}, nil, feed, testLogger())

	venues := []domain.Venue{dexVenue("ethereum"), dexVenue("bsc")}
	for i := 0; i < 10; i++ {
		res, err := m.MatchCommonPairs(context.Background(), venues, 1)
		require.NoError(t, err)
		require.Len(t, res.Aggregates, 1)
		// Chains and price merge in venue order regardless of goroutine
		// completion order.
		assert.Equal(t, []string{"ethereum", "bsc"}, res.Aggregates[0].Chains)
		assert.InDelta(t, 2010, res.Aggregates[0].PriceUSD, 1e-9)
	}
}
