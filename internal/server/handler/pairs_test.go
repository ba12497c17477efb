package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

type fakePairSource struct {
	aggs    []domain.PairAggregate
	tracked []string
	venues  []domain.Venue
}

func (f *fakePairSource) Aggregates() []domain.PairAggregate { return f.aggs }
func (f *fakePairSource) TrackedPairs() []string             { return f.tracked }
func (f *fakePairSource) Venues() []domain.Venue             { return f.venues }

// fakeQuoteCache serves canned quotes keyed by venue, omitting misses the way
// the redis cache does.
type fakeQuoteCache struct {
	quotes map[string]domain.PriceQuote // by venue ID
	err    error
}

func (f *fakeQuoteCache) SetQuote(context.Context, domain.PriceQuote) error { return nil }

func (f *fakeQuoteCache) GetQuotes(_ context.Context, _ string, venueIDs []string) (map[string]domain.PriceQuote, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]domain.PriceQuote)
	for _, id := range venueIDs {
		if q, ok := f.quotes[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

type fakeSnapStore struct {
	byPair map[string][]domain.VenuePriceSnapshot
}

func (f *fakeSnapStore) UpsertBatch(context.Context, []domain.VenuePriceSnapshot) error { return nil }

func (f *fakeSnapStore) ListByPair(_ context.Context, pairKey string, _ domain.ListOpts) ([]domain.VenuePriceSnapshot, error) {
	return f.byPair[pairKey], nil
}

func (f *fakeSnapStore) ListPairs(context.Context, domain.ListOpts) ([]string, error) {
	return nil, nil
}

func (f *fakeSnapStore) ListBefore(context.Context, time.Time) ([]domain.VenuePriceSnapshot, error) {
	return nil, nil
}

func (f *fakeSnapStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func pairsMux(h *PairsHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/pairs", h.ListPairs)
	mux.HandleFunc("GET /api/pairs/{key}", h.GetPair)
	return mux
}

func TestListPairs(t *testing.T) {
	source := &fakePairSource{
		aggs:    []domain.PairAggregate{{PairKey: "ETH/USDT", ExchangeCount: 3}},
		tracked: []string{"ETH/USDT", "BTC/USDT"},
	}
	mux := pairsMux(NewPairsHandler(source, nil, nil, testLogger()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pairs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Pairs   []pairResponse `json:"pairs"`
		Tracked []string       `json:"tracked_pairs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Pairs, 1)
	assert.Equal(t, "ETH/USDT", body.Pairs[0].PairKey)
	assert.Equal(t, []string{"ETH/USDT", "BTC/USDT"}, body.Tracked)
}

func TestGetPairServesCachedQuotes(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	source := &fakePairSource{
		aggs: []domain.PairAggregate{{PairKey: "ETH/USDT", ExchangeCount: 2}},
		venues: []domain.Venue{
			{ID: "binance", Kind: domain.VenueCentralized, Active: true},
			{ID: "kraken", Kind: domain.VenueCentralized, Active: true},
			{ID: "ethereum:uniswap", Kind: domain.VenueDecentralized, Chain: "ethereum", Active: true},
		},
	}
	quotes := &fakeQuoteCache{quotes: map[string]domain.PriceQuote{
		"kraken":  {VenueID: "kraken", PairKey: "ETH/USDT", Price: 2040, Volume: 4e6, Timestamp: now},
		"binance": {VenueID: "binance", PairKey: "ETH/USDT", Price: 2000, Volume: 9e6, Timestamp: now},
	}}
	mux := pairsMux(NewPairsHandler(source, nil, quotes, testLogger()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pairs/ETH%2FUSDT", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		PairKey string          `json:"pair_key"`
		Quotes  []quoteResponse `json:"latest_quotes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ETH/USDT", body.PairKey)

	// Venue order, with the uncached venue omitted.
	require.Len(t, body.Quotes, 2)
	assert.Equal(t, "binance", body.Quotes[0].VenueID)
	assert.Equal(t, 2000.0, body.Quotes[0].Price)
	assert.Equal(t, "kraken", body.Quotes[1].VenueID)
	assert.Equal(t, 2040.0, body.Quotes[1].Price)
}

func TestGetPairQuoteCacheMissOmitsQuotes(t *testing.T) {
	source := &fakePairSource{
		aggs:   []domain.PairAggregate{{PairKey: "ETH/USDT"}},
		venues: []domain.Venue{{ID: "binance", Kind: domain.VenueCentralized, Active: true}},
	}
	mux := pairsMux(NewPairsHandler(source, nil, &fakeQuoteCache{}, testLogger()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pairs/ETH%2FUSDT", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotContains(t, body, "latest_quotes")
}

func TestGetPairIncludesSnapshots(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	source := &fakePairSource{}
	snaps := &fakeSnapStore{byPair: map[string][]domain.VenuePriceSnapshot{
		"ETH/USDT": {{PairKey: "ETH/USDT", VenueID: "binance", Price: 2000, VolumeUSD: 9e6, Timestamp: now}},
	}}
	mux := pairsMux(NewPairsHandler(source, snaps, nil, testLogger()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pairs/ETH%2FUSDT", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Snapshots []snapshotResponse `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Snapshots, 1)
	assert.Equal(t, "binance", body.Snapshots[0].VenueID)
}

func TestGetPairUnknownWithoutStoresIs404(t *testing.T) {
	mux := pairsMux(NewPairsHandler(&fakePairSource{}, nil, nil, testLogger()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pairs/NOPE%2FUSD", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
