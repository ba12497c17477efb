// Package matcher normalizes and deduplicates trading pairs observed across
// chains and protocols, producing one cross-venue aggregate per pair.
package matcher

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// Config tunes the matcher's fetch bounds.
type Config struct {
	MaxSubMarkets int // top-K protocols polled per decentralized venue
	MaxRecords    int // records fetched per sub-market
	QueryTimeout  time.Duration
	MaxInFlight   int64
}

// Matcher fetches per-venue records and merges them into pair aggregates.
type Matcher struct {
	cfg       Config
	providers map[string]domain.MarketDataProvider // by venue ID
	feed      domain.TradeFeedProvider
	logger    *slog.Logger
}

// New creates a matcher over the given providers and trade feed.
func New(
	cfg Config,
	providers map[string]domain.MarketDataProvider,
	feed domain.TradeFeedProvider,
	logger *slog.Logger,
) *Matcher {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 8
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 15 * time.Second
	}
	return &Matcher{
		cfg:       cfg,
		providers: providers,
		feed:      feed,
		logger:    logger.With(slog.String("component", "matcher")),
	}
}

// Result is one aggregation pass: the filtered, ranked aggregates plus the
// per-venue quotes that contributed to them, keyed by pair.
type Result struct {
	Aggregates []domain.PairAggregate
	Quotes     map[string][]domain.VenueQuote
}

// MatchCommonPairs fetches records from every active venue's sub-markets,
// merges them into per-pair aggregates, and returns the pairs quoted by at
// least minVenueCount distinct (chain, sub-market) combinations, sorted by
// descending diversity count (stable: equal counts keep first-discovered
// order). A failure fetching one venue or sub-market is logged and excluded;
// it never aborts aggregation for the others.
func (m *Matcher) MatchCommonPairs(ctx context.Context, venues []domain.Venue, minVenueCount int) (Result, error) {
	// Fan out fetches concurrently, but collect into indexed slots and merge
	// sequentially in venue order so the output is deterministic for a fixed
	// set of inputs.
	records := make([][]domain.TradeRecord, len(venues))

	sem := semaphore.NewWeighted(m.cfg.MaxInFlight)
	var wg sync.WaitGroup
	for i, v := range venues {
		if !v.Active {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(slot int, v domain.Venue) {
			defer wg.Done()
			defer sem.Release(1)
			records[slot] = m.fetchVenue(ctx, v)
		}(i, v)
	}
	wg.Wait()

	agg := newAccumulator()
	for _, batch := range records {
		for _, r := range batch {
			// Malformed records are skipped silently; the batch continues.
			if !r.Valid() {
				continue
			}
			agg.add(r)
		}
	}

	aggregates, quotes := agg.finish(minVenueCount)
	m.logger.InfoContext(ctx, "pair aggregation complete",
		slog.Int("venues", len(venues)),
		slog.Int("pairs", len(aggregates)),
		slog.Int("min_venue_count", minVenueCount),
	)
	return Result{Aggregates: aggregates, Quotes: quotes}, nil
}

// fetchVenue returns the trade records for one venue across its sub-markets.
// For a decentralized venue the sub-markets are the chain's top-K protocols;
// for a centralized venue the venue's own books are the single sub-market.
func (m *Matcher) fetchVenue(ctx context.Context, v domain.Venue) []domain.TradeRecord {
	if v.IsDecentralized() {
		return m.fetchChain(ctx, v.Chain)
	}
	return m.fetchCEX(ctx, v.ID)
}

func (m *Matcher) fetchChain(ctx context.Context, chain string) []domain.TradeRecord {
	if m.feed == nil {
		return nil
	}

	listCtx, cancel := context.WithTimeout(ctx, m.cfg.QueryTimeout)
	protocols, err := m.feed.ListProtocols(listCtx, chain)
	cancel()
	if err != nil {
		m.logger.WarnContext(ctx, "protocol list failed",
			slog.String("chain", chain),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if len(protocols) > m.cfg.MaxSubMarkets {
		protocols = protocols[:m.cfg.MaxSubMarkets]
	}

	var out []domain.TradeRecord
	for _, protocol := range protocols {
		fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.QueryTimeout)
		recs, err := m.feed.FetchRecentTrades(fetchCtx, chain, protocol, m.cfg.MaxRecords)
		cancel()
		if err != nil {
			m.logger.WarnContext(ctx, "trade fetch failed",
				slog.String("chain", chain),
				slog.String("protocol", protocol),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, recs...)
	}
	return out
}

// fetchCEX converts a centralized venue's bulk tickers into trade records so
// both venue kinds flow through the same aggregation path. The venue itself is
// the single sub-market and the chain component of the composite key is empty.
func (m *Matcher) fetchCEX(ctx context.Context, venueID string) []domain.TradeRecord {
	p, ok := m.providers[venueID]
	if !ok {
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.QueryTimeout)
	defer cancel()

	tickers, err := p.ListTickers(fetchCtx)
	if err != nil {
		m.logger.WarnContext(ctx, "ticker fetch failed",
			slog.String("venue", venueID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if len(tickers) > m.cfg.MaxRecords {
		tickers = tickers[:m.cfg.MaxRecords]
	}

	out := make([]domain.TradeRecord, 0, len(tickers))
	for _, t := range tickers {
		base, quote, ok := domain.SplitPairKey(t.PairKey)
		if !ok {
			continue
		}
		vol := t.QuoteVolume
		if vol == 0 {
			vol = t.BaseVolume
		}
		out = append(out, domain.TradeRecord{
			Exchange:  venueID,
			Base:      domain.Currency{Symbol: base},
			Quote:     domain.Currency{Symbol: quote},
			PriceUSD:  t.Price,
			VolumeUSD: vol,
		})
	}
	return out
}

// accumulator merges trade records into per-pair aggregates using keyed maps
// and explicit upserts.
type accumulator struct {
	byPair map[string]*pairState
	order  []string // pair keys in first-discovered order
}

type pairState struct {
	agg domain.PairAggregate
	// diversity holds composite chain|subMarket|pairKey entries; its
	// cardinality is the pair's diversity count.
	diversity map[string]bool
	exchanges map[string]bool
	chains    map[string]bool
	quotes    []domain.VenueQuote
	quoteSeen map[string]bool
}

func newAccumulator() *accumulator {
	return &accumulator{byPair: make(map[string]*pairState)}
}

func (a *accumulator) add(r domain.TradeRecord) {
	key := domain.PairKey(r.Base.Symbol, r.Quote.Symbol)

	st, ok := a.byPair[key]
	if !ok {
		st = &pairState{
			agg: domain.PairAggregate{
				PairKey: key,
				Base:    tokenMeta(r.Base),
				Quote:   tokenMeta(r.Quote),
			},
			diversity: make(map[string]bool),
			exchanges: make(map[string]bool),
			chains:    make(map[string]bool),
			quoteSeen: make(map[string]bool),
		}
		a.byPair[key] = st
		a.order = append(a.order, key)
	}

	// A venue quoting the same pair multiple times counts once.
	composite := r.Chain + "|" + r.Exchange + "|" + key
	st.diversity[composite] = true

	if r.Chain != "" && !st.chains[r.Chain] {
		st.chains[r.Chain] = true
		st.agg.Chains = append(st.agg.Chains, r.Chain)
	}
	if !st.exchanges[r.Exchange] {
		st.exchanges[r.Exchange] = true
		st.agg.Exchanges = append(st.agg.Exchanges, r.Exchange)
	}

	st.agg.VolumeUSD += r.VolumeUSD
	st.agg.TxCount += r.TxCount

	// Latest-seen windowed snapshot wins; records are never averaged.
	if r.PriceUSD > 0 {
		st.agg.PriceUSD = r.PriceUSD
		st.agg.Price10m = r.Price10m
		st.agg.Price1h = r.Price1h
	}

	// Fill token metadata from the first record that has it.
	if st.agg.Base.Name == domain.UnknownToken && r.Base.Name != "" {
		st.agg.Base.Name = r.Base.Name
	}
	if st.agg.Base.Address == "" && r.Base.Address != "" {
		st.agg.Base.Address = r.Base.Address
	}
	if st.agg.Quote.Name == domain.UnknownToken && r.Quote.Name != "" {
		st.agg.Quote.Name = r.Quote.Name
	}
	if st.agg.Quote.Address == "" && r.Quote.Address != "" {
		st.agg.Quote.Address = r.Quote.Address
	}

	// One quote per (chain, sub-market) feeds the detector.
	if r.PriceUSD > 0 && !st.quoteSeen[composite] {
		st.quoteSeen[composite] = true
		kind := domain.VenueDecentralized
		venueID := r.Exchange
		if r.Chain == "" {
			kind = domain.VenueCentralized
		} else {
			venueID = r.Chain + ":" + r.Exchange
		}
		st.quotes = append(st.quotes, domain.VenueQuote{
			VenueID: venueID,
			Kind:    kind,
			Chain:   r.Chain,
			Price:   r.PriceUSD,
			Volume:  r.VolumeUSD,
		})
	}
}

func (a *accumulator) finish(minVenueCount int) ([]domain.PairAggregate, map[string][]domain.VenueQuote) {
	now := time.Now().UTC()

	var aggregates []domain.PairAggregate
	quotes := make(map[string][]domain.VenueQuote)
	for _, key := range a.order {
		st := a.byPair[key]
		st.agg.ExchangeCount = len(st.diversity)
		if st.agg.ExchangeCount < minVenueCount {
			continue
		}
		st.agg.UpdatedAt = now
		aggregates = append(aggregates, st.agg)
		quotes[key] = st.quotes
	}

	sort.SliceStable(aggregates, func(i, j int) bool {
		return aggregates[i].ExchangeCount > aggregates[j].ExchangeCount
	})
	return aggregates, quotes
}

func tokenMeta(c domain.Currency) domain.TokenMeta {
	meta := domain.TokenMeta{
		Symbol:  c.Symbol,
		Name:    c.Name,
		Address: c.Address,
	}
	if meta.Name == "" {
		meta.Name = domain.UnknownToken
	}
	return meta
}
