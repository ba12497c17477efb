package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscan/internal/catalog"
	"github.com/alanyoungcy/arbscan/internal/detector"
	"github.com/alanyoungcy/arbscan/internal/domain"
	"github.com/alanyoungcy/arbscan/internal/matcher"
)

// fakeProvider serves fixed tickers and per-pair quotes for one venue.
type fakeProvider struct {
	mu       sync.Mutex
	id       string
	tickers  []domain.TickerInfo
	quotes   map[string]domain.PriceQuote
	quoteErr error

	block   chan struct{} // when set, FetchQuote blocks until closed
	entered chan struct{} // signaled when a blocked fetch begins
}

func (f *fakeProvider) VenueID() string { return f.id }

func (f *fakeProvider) ListTickers(_ context.Context) ([]domain.TickerInfo, error) {
	return f.tickers, nil
}

func (f *fakeProvider) FetchQuote(ctx context.Context, pairKey string) (domain.PriceQuote, error) {
	if f.block != nil {
		if f.entered != nil {
			select {
			case f.entered <- struct{}{}:
			default:
			}
		}
		select {
		case <-f.block:
		case <-ctx.Done():
			return domain.PriceQuote{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quoteErr != nil {
		return domain.PriceQuote{}, f.quoteErr
	}
	q, ok := f.quotes[pairKey]
	if !ok {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	return q, nil
}

// memOppStore records inserted opportunities.
type memOppStore struct {
	mu   sync.Mutex
	opps []domain.ArbitrageOpportunity
}

func (s *memOppStore) InsertBatch(_ context.Context, opps []domain.ArbitrageOpportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opps = append(s.opps, opps...)
	return nil
}

func (s *memOppStore) MarkAnalyzed(context.Context, string) error { return nil }
func (s *memOppStore) MarkExecuted(context.Context, string) error { return nil }

func (s *memOppStore) ListRecent(context.Context, int) ([]domain.ArbitrageOpportunity, error) {
	return nil, nil
}

func (s *memOppStore) ListByPair(context.Context, string, domain.ListOpts) ([]domain.ArbitrageOpportunity, error) {
	return nil, nil
}

func (s *memOppStore) ListBefore(context.Context, time.Time) ([]domain.ArbitrageOpportunity, error) {
	return nil, nil
}

func (s *memOppStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

// memSnapStore records upserted snapshots.
type memSnapStore struct {
	mu    sync.Mutex
	snaps []domain.VenuePriceSnapshot
}

func (s *memSnapStore) UpsertBatch(_ context.Context, snaps []domain.VenuePriceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snaps...)
	return nil
}

func (s *memSnapStore) ListByPair(context.Context, string, domain.ListOpts) ([]domain.VenuePriceSnapshot, error) {
	return nil, nil
}

func (s *memSnapStore) ListPairs(context.Context, domain.ListOpts) ([]string, error) {
	return nil, nil
}

func (s *memSnapStore) ListBefore(context.Context, time.Time) ([]domain.VenuePriceSnapshot, error) {
	return nil, nil
}

func (s *memSnapStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

// memBus records published events.
type memBus struct {
	mu     sync.Mutex
	events map[string][][]byte
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.events == nil {
		b.events = make(map[string][][]byte)
	}
	b.events[channel] = append(b.events[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

// memCatalogCache holds one catalog in memory and counts reads and writes.
type memCatalogCache struct {
	mu        sync.Mutex
	venues    []domain.Venue
	pairs     []string
	getVenues int
	setVenues int
	getPairs  int
	setPairs  int
}

func (c *memCatalogCache) SetVenues(_ context.Context, venues []domain.Venue) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setVenues++
	c.venues = venues
	return nil
}

func (c *memCatalogCache) GetVenues(context.Context) ([]domain.Venue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getVenues++
	if c.venues == nil {
		return nil, domain.ErrNotFound
	}
	return c.venues, nil
}

func (c *memCatalogCache) SetTrackedPairs(_ context.Context, pairs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setPairs++
	c.pairs = pairs
	return nil
}

func (c *memCatalogCache) GetTrackedPairs(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getPairs++
	if c.pairs == nil {
		return nil, domain.ErrNotFound
	}
	return c.pairs, nil
}

// memQuoteCache records quote writes.
type memQuoteCache struct {
	mu     sync.Mutex
	quotes map[string]domain.PriceQuote // by venue ID
}

func (c *memQuoteCache) SetQuote(_ context.Context, q domain.PriceQuote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.quotes == nil {
		c.quotes = make(map[string]domain.PriceQuote)
	}
	c.quotes[q.VenueID] = q
	return nil
}

func (c *memQuoteCache) GetQuotes(_ context.Context, _ string, venueIDs []string) (map[string]domain.PriceQuote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]domain.PriceQuote)
	for _, id := range venueIDs {
		if q, ok := c.quotes[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newTestEngine wires an engine over two fake centralized venues quoting
// ETH/USDT at a 2% gap.
func newTestEngine(t *testing.T, opts Options) (*Engine, *fakeProvider, *fakeProvider) {
	t.Helper()

	binance := &fakeProvider{
		id: "binance",
		tickers: []domain.TickerInfo{
			{PairKey: "ETH/USDT", Price: 2000, QuoteVolume: 9_000_000},
		},
		quotes: map[string]domain.PriceQuote{
			"ETH/USDT": {VenueID: "binance", PairKey: "ETH/USDT", Price: 2000, Volume: 9_000_000},
		},
	}
	kraken := &fakeProvider{
		id: "kraken",
		tickers: []domain.TickerInfo{
			{PairKey: "ETH/USDT", Price: 2040, QuoteVolume: 4_000_000},
		},
		quotes: map[string]domain.PriceQuote{
			"ETH/USDT": {VenueID: "kraken", PairKey: "ETH/USDT", Price: 2040, Volume: 4_000_000},
		},
	}

	providers := map[string]domain.MarketDataProvider{
		"binance": binance,
		"kraken":  kraken,
	}
	providerList := []domain.MarketDataProvider{binance, kraken}

	cat := catalog.NewBuilder(catalog.Config{
		TopVenueCount:   10,
		TargetPairCount: 5,
		MinVolumeUSD:    1000,
	}, providerList, nil, nil, testLogger())

	m := matcher.New(matcher.Config{MaxSubMarkets: 5, MaxRecords: 50}, providers, nil, testLogger())
	det := detector.New(detector.Config{TradingFeePct: 0.1}, nil, testLogger())

	eng := New(Config{
		ThresholdPct:    1.0,
		MinVenueCount:   2,
		TargetPairCount: 5,
	}, cat, m, det, providers, opts, testLogger())
	return eng, binance, kraken
}

func TestRefreshCatalog(t *testing.T) {
	eng, _, _ := newTestEngine(t, Options{})

	require.NoError(t, eng.RefreshCatalog(context.Background()))

	venues := eng.Venues()
	require.Len(t, venues, 2)
	assert.Equal(t, "binance", venues[0].ID)
	assert.Equal(t, "kraken", venues[1].ID)
	assert.Contains(t, eng.TrackedPairs(), "ETH/USDT")
}

func TestDetectForAllTrackedPairsFullCycle(t *testing.T) {
	opps := &memOppStore{}
	snaps := &memSnapStore{}
	bus := &memBus{}
	eng, _, _ := newTestEngine(t, Options{
		Snapshots:     snaps,
		Opportunities: opps,
		Bus:           bus,
	})

	found, err := eng.DetectForAllTrackedPairs(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)

	opp := found[0]
	assert.Equal(t, "ETH/USDT", opp.PairKey)
	assert.Equal(t, domain.CompareCEXCEX, opp.Type)
	assert.Equal(t, "binance", opp.BuyVenue)
	assert.Equal(t, "kraken", opp.SellVenue)
	assert.InDelta(t, 2.0, opp.GrossGapPct, 1e-9)

	// Persistence and bus fan-out happened.
	assert.Len(t, opps.opps, 1)
	assert.NotEmpty(t, snaps.snaps)
	assert.Len(t, bus.events["opportunities"], 1)
}

func TestDetectForAllTrackedPairsSkipsOverlappingCycle(t *testing.T) {
	block := make(chan struct{})
	entered := make(chan struct{}, 2)
	eng, binance, kraken := newTestEngine(t, Options{})
	binance.block = block
	binance.entered = entered
	kraken.block = block
	kraken.entered = entered

	require.NoError(t, eng.RefreshCatalog(context.Background()))
	_, err := eng.AggregatePairs(context.Background(), 2)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = eng.DetectForAllTrackedPairs(context.Background())
	}()

	// Wait until the first cycle is mid-flight inside a quote poll, then a
	// second call must be skipped, not queued.
	<-entered
	_, err = eng.DetectForAllTrackedPairs(context.Background())
	require.ErrorIs(t, err, domain.ErrCycleInFlight)

	close(block)
	<-done

	// Guard released after the cycle finished.
	_, err = eng.DetectForAllTrackedPairs(context.Background())
	require.NoError(t, err)
}

func TestDetectOpportunitiesNeedsTwoQuotes(t *testing.T) {
	eng, _, kraken := newTestEngine(t, Options{})
	kraken.quoteErr = errors.New("down")

	require.NoError(t, eng.RefreshCatalog(context.Background()))

	// Only one venue answers and there is no aggregation state to fall back
	// on, so no comparison is possible.
	opps, err := eng.DetectOpportunities(context.Background(), "ETH/USDT", 1.0)
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestDetectOpportunitiesFallsBackToAggregationQuotes(t *testing.T) {
	eng, _, kraken := newTestEngine(t, Options{})

	require.NoError(t, eng.RefreshCatalog(context.Background()))
	_, err := eng.AggregatePairs(context.Background(), 2)
	require.NoError(t, err)

	// Kraken's fresh poll fails, but its aggregation-pass quote fills in.
	kraken.mu.Lock()
	kraken.quoteErr = errors.New("down")
	kraken.mu.Unlock()

	opps, err := eng.DetectOpportunities(context.Background(), "ETH/USDT", 1.0)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, "binance", opps[0].BuyVenue)
	assert.Equal(t, "kraken", opps[0].SellVenue)
}

func TestAggregatePairsNoVenues(t *testing.T) {
	eng, _, _ := newTestEngine(t, Options{})

	aggs, err := eng.AggregatePairs(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, aggs)
}

func TestAggregatePairsLiquidityFromAggregate(t *testing.T) {
	eng, _, _ := newTestEngine(t, Options{})

	require.NoError(t, eng.RefreshCatalog(context.Background()))
	aggs, err := eng.AggregatePairs(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, aggs, 1)

	opps, err := eng.DetectOpportunities(context.Background(), "ETH/USDT", 1.0)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.InDelta(t, 13_000_000, opps[0].LiquidityUSD, 1e-3)
}

func TestRestoreCatalog(t *testing.T) {
	cache := &memCatalogCache{
		venues: []domain.Venue{{ID: "binance", Kind: domain.VenueCentralized, Active: true}},
		pairs:  []string{"ETH/USDT"},
	}
	eng, _, _ := newTestEngine(t, Options{CatalogCache: cache})

	require.True(t, eng.RestoreCatalog(context.Background()))

	venues := eng.Venues()
	require.Len(t, venues, 1)
	assert.Equal(t, "binance", venues[0].ID)
	assert.Equal(t, []string{"ETH/USDT"}, eng.TrackedPairs())
}

func TestRestoreCatalogMissLeavesEngineUntouched(t *testing.T) {
	eng, _, _ := newTestEngine(t, Options{CatalogCache: &memCatalogCache{}})

	assert.False(t, eng.RestoreCatalog(context.Background()))
	assert.Empty(t, eng.Venues())
}

func TestDetectCycleWarmStartsFromCatalogCache(t *testing.T) {
	cache := &memCatalogCache{
		venues: []domain.Venue{
			{ID: "binance", Kind: domain.VenueCentralized, Active: true},
			{ID: "kraken", Kind: domain.VenueCentralized, Active: true},
		},
		pairs: []string{"ETH/USDT"},
	}
	eng, _, _ := newTestEngine(t, Options{CatalogCache: cache})

	found, err := eng.DetectForAllTrackedPairs(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)

	// The cached catalog was consumed instead of rediscovering venues.
	assert.Equal(t, 1, cache.getVenues)
	assert.Zero(t, cache.setVenues)
}

func TestDetectCycleRefreshesOnCatalogCacheMiss(t *testing.T) {
	cache := &memCatalogCache{}
	eng, _, _ := newTestEngine(t, Options{CatalogCache: cache})

	found, err := eng.DetectForAllTrackedPairs(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)

	// Cache miss fell back to a full refresh, which repopulated the cache.
	assert.Equal(t, 1, cache.getVenues)
	assert.Equal(t, 1, cache.setVenues)
	assert.Equal(t, 1, cache.setPairs)
}

func TestDetectCycleWritesFreshQuotesToCache(t *testing.T) {
	quotes := &memQuoteCache{}
	eng, _, _ := newTestEngine(t, Options{QuoteCache: quotes})

	_, err := eng.DetectForAllTrackedPairs(context.Background())
	require.NoError(t, err)

	got, err := quotes.GetQuotes(context.Background(), "ETH/USDT", []string{"binance", "kraken"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2000.0, got["binance"].Price)
	assert.Equal(t, 2040.0, got["kraken"].Price)
}

func TestCycleLockerFailurePropagates(t *testing.T) {
	eng, _, _ := newTestEngine(t, Options{Locker: lockerFunc(func(context.Context, time.Duration) (func(), error) {
		return nil, domain.ErrCycleInFlight
	})})

	_, err := eng.DetectForAllTrackedPairs(context.Background())
	assert.ErrorIs(t, err, domain.ErrCycleInFlight)
}

type lockerFunc func(ctx context.Context, ttl time.Duration) (func(), error)

func (f lockerFunc) TryAcquire(ctx context.Context, ttl time.Duration) (func(), error) {
	return f(ctx, ttl)
}
