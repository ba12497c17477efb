// Package catalog discovers addressable venues and identifies the top trading
// pairs to track, ranked by accumulated volume across venues.
package catalog

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// Config tunes venue discovery and pair identification.
type Config struct {
	TopVenueCount   int
	TargetPairCount int
	MinVolumeUSD    float64
	FallbackPairs   []string
	QueryTimeout    time.Duration
	MaxInFlight     int64
}

// Builder discovers venues and ranks trading pairs. It holds no cross-cycle
// state; every call rebuilds its output from live queries.
type Builder struct {
	cfg       Config
	providers []domain.MarketDataProvider // candidate centralized venues, discovery order
	feed      domain.TradeFeedProvider
	chains    []string // candidate chains, discovery order
	logger    *slog.Logger
}

// NewBuilder creates a catalog builder over the candidate centralized venues
// and chains.
func NewBuilder(
	cfg Config,
	providers []domain.MarketDataProvider,
	feed domain.TradeFeedProvider,
	chains []string,
	logger *slog.Logger,
) *Builder {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 8
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 15 * time.Second
	}
	return &Builder{
		cfg:       cfg,
		providers: providers,
		feed:      feed,
		chains:    chains,
		logger:    logger.With(slog.String("component", "catalog")),
	}
}

// DiscoverVenues probes every candidate venue for the required bulk price
// capability and returns the active set, ordered by the known-liquidity
// priority list (unknown venues keep discovery order after all known ones)
// and truncated to the configured top-N. A probe failure excludes that venue
// only; if every candidate fails the result is empty, not an error.
func (b *Builder) DiscoverVenues(ctx context.Context) []domain.Venue {
	type probeResult struct {
		venue domain.Venue
		ok    bool
	}

	total := len(b.providers) + len(b.chains)
	results := make([]probeResult, total)

	sem := semaphore.NewWeighted(b.cfg.MaxInFlight)
	var wg sync.WaitGroup

	for i, p := range b.providers {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(slot int, p domain.MarketDataProvider) {
			defer wg.Done()
			defer sem.Release(1)
			results[slot] = probeResult{venue: b.probeCEX(ctx, p), ok: true}
		}(i, p)
	}
	for i, chain := range b.chains {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(slot int, chain string) {
			defer wg.Done()
			defer sem.Release(1)
			results[slot] = probeResult{venue: b.probeChain(ctx, chain), ok: true}
		}(len(b.providers)+i, chain)
	}
	wg.Wait()

	active := make([]domain.Venue, 0, total)
	for _, r := range results {
		if r.ok && r.venue.Active {
			active = append(active, r.venue)
		}
	}

	// Known venues sort by liquidity rank; unknown ones keep their relative
	// discovery order after all known venues.
	sort.SliceStable(active, func(i, j int) bool {
		ri, iKnown := priorityRank(active[i].ID)
		rj, jKnown := priorityRank(active[j].ID)
		switch {
		case iKnown && jKnown:
			return ri < rj
		case iKnown:
			return true
		default:
			return false
		}
	})

	if b.cfg.TopVenueCount > 0 && len(active) > b.cfg.TopVenueCount {
		active = active[:b.cfg.TopVenueCount]
	}

	b.logger.InfoContext(ctx, "venue discovery complete",
		slog.Int("candidates", total),
		slog.Int("active", len(active)),
	)
	return active
}

// probeCEX checks that the venue answers its bulk ticker endpoint.
func (b *Builder) probeCEX(ctx context.Context, p domain.MarketDataProvider) domain.Venue {
	v := domain.Venue{
		ID:           p.VenueID(),
		Kind:         domain.VenueCentralized,
		Capabilities: domain.Capabilities{BulkQuote: true},
	}

	probeCtx, cancel := context.WithTimeout(ctx, b.cfg.QueryTimeout)
	defer cancel()

	tickers, err := p.ListTickers(probeCtx)
	if err != nil {
		b.logger.WarnContext(ctx, "venue probe failed",
			slog.String("venue", p.VenueID()),
			slog.String("error", err.Error()),
		)
		return v
	}
	if len(tickers) == 0 {
		b.logger.WarnContext(ctx, "venue probe returned no tickers",
			slog.String("venue", p.VenueID()),
		)
		return v
	}

	v.Active = true
	return v
}

// probeChain checks that the trade feed indexes at least one protocol on the
// chain.
func (b *Builder) probeChain(ctx context.Context, chain string) domain.Venue {
	v := domain.Venue{
		ID:           chain,
		Kind:         domain.VenueDecentralized,
		Chain:        chain,
		Capabilities: domain.Capabilities{BulkQuote: true},
	}

	if b.feed == nil {
		return v
	}

	probeCtx, cancel := context.WithTimeout(ctx, b.cfg.QueryTimeout)
	defer cancel()

	protocols, err := b.feed.ListProtocols(probeCtx, chain)
	if err != nil {
		b.logger.WarnContext(ctx, "chain probe failed",
			slog.String("chain", chain),
			slog.String("error", err.Error()),
		)
		return v
	}
	if len(protocols) == 0 {
		return v
	}

	v.Active = true
	return v
}

// IdentifyTopPairs queries each active centralized venue for its quoted pairs,
// accumulates volume per canonical pair key across venues, discards pairs
// below the minimum-volume floor, and returns the top targetCount keys by
// accumulated volume. When fewer than targetCount pairs survive, the fixed
// fallback list pads the result (skipping keys already present) until
// targetCount is reached or the fallback list is exhausted. Per-venue query
// failures are logged and skipped.
func (b *Builder) IdentifyTopPairs(ctx context.Context, venues []domain.Venue, targetCount int) []string {
	active := make(map[string]bool, len(venues))
	for _, v := range venues {
		if v.Kind == domain.VenueCentralized && v.Active {
			active[v.ID] = true
		}
	}

	type venueTickers struct {
		tickers []domain.TickerInfo
	}
	results := make([]venueTickers, len(b.providers))

	sem := semaphore.NewWeighted(b.cfg.MaxInFlight)
	var wg sync.WaitGroup
	for i, p := range b.providers {
		if !active[p.VenueID()] {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(slot int, p domain.MarketDataProvider) {
			defer wg.Done()
			defer sem.Release(1)

			queryCtx, cancel := context.WithTimeout(ctx, b.cfg.QueryTimeout)
			defer cancel()

			tickers, err := p.ListTickers(queryCtx)
			if err != nil {
				b.logger.WarnContext(ctx, "pair query failed",
					slog.String("venue", p.VenueID()),
					slog.String("error", err.Error()),
				)
				return
			}
			results[slot] = venueTickers{tickers: tickers}
		}(i, p)
	}
	wg.Wait()

	// Merge sequentially in provider order so first-seen order, and with it
	// the final ranking of equal-volume pairs, is deterministic.
	volumes := make(map[string]float64)
	var order []string
	for _, r := range results {
		for _, t := range r.tickers {
			vol := t.QuoteVolume
			if vol == 0 {
				vol = t.BaseVolume
			}
			if _, seen := volumes[t.PairKey]; !seen {
				order = append(order, t.PairKey)
			}
			volumes[t.PairKey] += vol
		}
	}

	ranked := make([]string, 0, len(order))
	for _, key := range order {
		if volumes[key] >= b.cfg.MinVolumeUSD {
			ranked = append(ranked, key)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return volumes[ranked[i]] > volumes[ranked[j]]
	})

	if len(ranked) > targetCount {
		ranked = ranked[:targetCount]
	}

	// Pad from the fixed fallback list, skipping keys already present.
	if len(ranked) < targetCount {
		present := make(map[string]bool, len(ranked))
		for _, key := range ranked {
			present[key] = true
		}
		for _, key := range b.cfg.FallbackPairs {
			if len(ranked) >= targetCount {
				break
			}
			if present[key] {
				continue
			}
			ranked = append(ranked, key)
			present[key] = true
		}
	}

	b.logger.InfoContext(ctx, "top pairs identified",
		slog.Int("target", targetCount),
		slog.Int("ranked", len(ranked)),
	)
	return ranked
}
