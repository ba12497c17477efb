// Package engine is the core facade over catalog building, pair aggregation,
// and opportunity detection. One Engine is constructed per process and passed
// its collaborators explicitly; it holds no hidden global state.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/arbscan/internal/catalog"
	"github.com/alanyoungcy/arbscan/internal/detector"
	"github.com/alanyoungcy/arbscan/internal/domain"
	"github.com/alanyoungcy/arbscan/internal/matcher"
)

// Config tunes the engine's cycle behavior.
type Config struct {
	ThresholdPct    float64
	MinVenueCount   int
	TargetPairCount int
	QueryTimeout    time.Duration
	MaxInFlight     int64
	CycleLockTTL    time.Duration
}

// Engine wires the catalog builder, matcher, and detector into the operations
// the orchestration shim invokes. All operations are idempotent given
// identical upstream data.
type Engine struct {
	cfg      Config
	catalog  *catalog.Builder
	matcher  *matcher.Matcher
	detector *detector.Detector

	providers map[string]domain.MarketDataProvider

	// Optional collaborators; nil disables the respective side effect.
	catalogCache domain.CatalogCache
	quoteCache   domain.QuoteCache
	snapshots    domain.SnapshotStore
	opps         domain.OpportunityStore
	bus          domain.SignalBus
	locker       domain.CycleLocker

	logger *slog.Logger

	// inFlight is the in-process run-guard: a new full cycle is skipped, not
	// queued, while one is running.
	inFlight atomic.Bool

	// State below is rebuilt wholesale each cycle and read-only between
	// rebuilds.
	mu           sync.RWMutex
	venues       []domain.Venue
	trackedPairs []string
	aggregates   []domain.PairAggregate
	aggByPair    map[string]domain.PairAggregate
	quotesByPair map[string][]domain.VenueQuote
}

// Options carries the optional collaborators for New.
type Options struct {
	CatalogCache  domain.CatalogCache
	QuoteCache    domain.QuoteCache
	Snapshots     domain.SnapshotStore
	Opportunities domain.OpportunityStore
	Bus           domain.SignalBus
	Locker        domain.CycleLocker
}

// New creates an Engine.
func New(
	cfg Config,
	cat *catalog.Builder,
	m *matcher.Matcher,
	det *detector.Detector,
	providers map[string]domain.MarketDataProvider,
	opts Options,
	logger *slog.Logger,
) *Engine {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 8
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 15 * time.Second
	}
	if cfg.CycleLockTTL <= 0 {
		cfg.CycleLockTTL = 5 * time.Minute
	}
	return &Engine{
		cfg:          cfg,
		catalog:      cat,
		matcher:      m,
		detector:     det,
		providers:    providers,
		catalogCache: opts.CatalogCache,
		quoteCache:   opts.QuoteCache,
		snapshots:    opts.Snapshots,
		opps:         opts.Opportunities,
		bus:          opts.Bus,
		locker:       opts.Locker,
		logger:       logger.With(slog.String("component", "engine")),
		aggByPair:    make(map[string]domain.PairAggregate),
		quotesByPair: make(map[string][]domain.VenueQuote),
	}
}

// RefreshCatalog rediscovers venues and re-identifies the tracked pairs,
// replacing the engine's catalog wholesale. Zero surviving venues is a valid
// (degraded) outcome, not an error.
func (e *Engine) RefreshCatalog(ctx context.Context) error {
	venues := e.catalog.DiscoverVenues(ctx)
	pairs := e.catalog.IdentifyTopPairs(ctx, venues, e.cfg.TargetPairCount)

	e.mu.Lock()
	e.venues = venues
	e.trackedPairs = pairs
	e.mu.Unlock()

	if e.catalogCache != nil {
		if err := e.catalogCache.SetVenues(ctx, venues); err != nil {
			e.logger.WarnContext(ctx, "catalog cache write failed", slog.String("error", err.Error()))
		}
		if err := e.catalogCache.SetTrackedPairs(ctx, pairs); err != nil {
			e.logger.WarnContext(ctx, "tracked pairs cache write failed", slog.String("error", err.Error()))
		}
	}

	e.logger.InfoContext(ctx, "catalog refreshed",
		slog.Int("venues", len(venues)),
		slog.Int("tracked_pairs", len(pairs)),
	)
	return nil
}

// RestoreCatalog loads the catalog persisted by a previous process from the
// catalog cache, so a restart can begin detecting without waiting for a full
// rediscovery. It returns true only when a non-empty venue set was restored;
// a cache miss or read failure leaves the engine untouched so the caller can
// fall back to RefreshCatalog.
func (e *Engine) RestoreCatalog(ctx context.Context) bool {
	if e.catalogCache == nil {
		return false
	}

	venues, err := e.catalogCache.GetVenues(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.WarnContext(ctx, "catalog cache read failed", slog.String("error", err.Error()))
		}
		return false
	}
	if len(venues) == 0 {
		return false
	}

	pairs, err := e.catalogCache.GetTrackedPairs(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.WarnContext(ctx, "tracked pairs cache read failed", slog.String("error", err.Error()))
		}
		pairs = nil
	}

	e.mu.Lock()
	e.venues = venues
	e.trackedPairs = pairs
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "catalog restored from cache",
		slog.Int("venues", len(venues)),
		slog.Int("tracked_pairs", len(pairs)),
	)
	return true
}

// Venues returns the current active venue set.
func (e *Engine) Venues() []domain.Venue {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Venue, len(e.venues))
	copy(out, e.venues)
	return out
}

// TrackedPairs returns the current tracked pair keys.
func (e *Engine) TrackedPairs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.trackedPairs))
	copy(out, e.trackedPairs)
	return out
}

// Aggregates returns the aggregates from the last aggregation pass.
func (e *Engine) Aggregates() []domain.PairAggregate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.PairAggregate, len(e.aggregates))
	copy(out, e.aggregates)
	return out
}

// AggregatePairs runs a matching pass over the current venue set and replaces
// the engine's aggregate state. Snapshots derived from the pass are handed to
// the persistence sink; a sink failure is logged and the in-memory result is
// still returned.
func (e *Engine) AggregatePairs(ctx context.Context, minVenueCount int) ([]domain.PairAggregate, error) {
	e.mu.RLock()
	venues := e.venues
	e.mu.RUnlock()

	if len(venues) == 0 {
		e.logger.WarnContext(ctx, "no active venues, skipping aggregation")
		return nil, nil
	}

	res, err := e.matcher.MatchCommonPairs(ctx, venues, minVenueCount)
	if err != nil {
		return nil, fmt.Errorf("engine: match pairs: %w", err)
	}

	byPair := make(map[string]domain.PairAggregate, len(res.Aggregates))
	for _, agg := range res.Aggregates {
		byPair[agg.PairKey] = agg
	}

	e.mu.Lock()
	e.aggregates = res.Aggregates
	e.aggByPair = byPair
	e.quotesByPair = res.Quotes
	e.mu.Unlock()

	if e.snapshots != nil {
		snaps := snapshotsFrom(res)
		if err := e.snapshots.UpsertBatch(ctx, snaps); err != nil {
			e.logger.ErrorContext(ctx, "snapshot persistence failed",
				slog.Int("count", len(snaps)),
				slog.String("error", err.Error()),
			)
		}
	}

	return res.Aggregates, nil
}

// DetectOpportunities gathers the pair's per-venue quotes (fresh polls for
// centralized venues, the last aggregation pass for on-chain ones) and scores
// every venue combination against thresholdPct.
func (e *Engine) DetectOpportunities(ctx context.Context, pairKey string, thresholdPct float64) ([]domain.ArbitrageOpportunity, error) {
	quotes, liquidity := e.collectQuotes(ctx, pairKey)
	if len(quotes) < 2 {
		return nil, nil
	}
	return e.detector.Detect(ctx, pairKey, quotes, thresholdPct, liquidity), nil
}

// DetectForAllTrackedPairs runs one full detection cycle: restore or refresh
// the catalog when empty, aggregate pairs, then detect per pair. A cycle is skipped with
// ErrCycleInFlight when another one is still running; persistence failures
// never void the returned result.
func (e *Engine) DetectForAllTrackedPairs(ctx context.Context) ([]domain.ArbitrageOpportunity, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return nil, domain.ErrCycleInFlight
	}
	defer e.inFlight.Store(false)

	if e.locker != nil {
		release, err := e.locker.TryAcquire(ctx, e.cfg.CycleLockTTL)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	started := time.Now()

	e.mu.RLock()
	haveVenues := len(e.venues) > 0
	e.mu.RUnlock()
	if !haveVenues && !e.RestoreCatalog(ctx) {
		if err := e.RefreshCatalog(ctx); err != nil {
			return nil, err
		}
	}

	if _, err := e.AggregatePairs(ctx, e.cfg.MinVenueCount); err != nil {
		return nil, err
	}

	// Aggregated pairs first (already ranked by diversity), then tracked
	// pairs the aggregation pass did not cover.
	e.mu.RLock()
	pairs := make([]string, 0, len(e.aggregates)+len(e.trackedPairs))
	seen := make(map[string]bool)
	for _, agg := range e.aggregates {
		pairs = append(pairs, agg.PairKey)
		seen[agg.PairKey] = true
	}
	for _, key := range e.trackedPairs {
		if !seen[key] {
			pairs = append(pairs, key)
		}
	}
	e.mu.RUnlock()

	var all []domain.ArbitrageOpportunity
	for _, key := range pairs {
		opps, err := e.DetectOpportunities(ctx, key, e.cfg.ThresholdPct)
		if err != nil {
			e.logger.WarnContext(ctx, "detection failed for pair",
				slog.String("pair", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		all = append(all, opps...)
	}

	if e.opps != nil && len(all) > 0 {
		if err := e.opps.InsertBatch(ctx, all); err != nil {
			e.logger.ErrorContext(ctx, "opportunity persistence failed",
				slog.Int("count", len(all)),
				slog.String("error", err.Error()),
			)
		}
	}

	e.publish(ctx, all)

	e.logger.InfoContext(ctx, "detection cycle complete",
		slog.Int("pairs", len(pairs)),
		slog.Int("opportunities", len(all)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return all, nil
}

// collectQuotes builds the detector input for one pair: fresh quotes from the
// active centralized venues plus the decentralized quotes retained from the
// last aggregation pass. The second return value is the pair's liquidity
// figure (aggregate volume when known, else the sum of fresh quote volumes).
func (e *Engine) collectQuotes(ctx context.Context, pairKey string) ([]domain.VenueQuote, float64) {
	e.mu.RLock()
	venues := e.venues
	aggQuotes := e.quotesByPair[pairKey]
	agg, haveAgg := e.aggByPair[pairKey]
	e.mu.RUnlock()

	// Fresh CEX polls, bounded and per-venue tolerant. Results land in
	// indexed slots so ordering stays deterministic.
	var cexVenues []domain.Venue
	for _, v := range venues {
		if v.Kind == domain.VenueCentralized && v.Active {
			cexVenues = append(cexVenues, v)
		}
	}
	fresh := make([]domain.PriceQuote, len(cexVenues))
	ok := make([]bool, len(cexVenues))

	sem := semaphore.NewWeighted(e.cfg.MaxInFlight)
	var wg sync.WaitGroup
	for i, v := range cexVenues {
		p, exists := e.providers[v.ID]
		if !exists {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(slot int, p domain.MarketDataProvider) {
			defer wg.Done()
			defer sem.Release(1)

			qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
			defer cancel()

			q, err := p.FetchQuote(qctx, pairKey)
			if err != nil {
				e.logger.WarnContext(ctx, "quote poll failed",
					slog.String("venue", p.VenueID()),
					slog.String("pair", pairKey),
					slog.String("error", err.Error()),
				)
				return
			}
			fresh[slot] = q
			ok[slot] = true
		}(i, p)
	}
	wg.Wait()

	var quotes []domain.VenueQuote
	present := make(map[string]bool)
	var freshVolume float64
	for i, v := range cexVenues {
		if !ok[i] || fresh[i].Price <= 0 {
			continue
		}
		if e.quoteCache != nil {
			if err := e.quoteCache.SetQuote(ctx, fresh[i]); err != nil {
				e.logger.WarnContext(ctx, "quote cache write failed",
					slog.String("venue", v.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		quotes = append(quotes, domain.VenueQuote{
			VenueID: v.ID,
			Kind:    domain.VenueCentralized,
			Price:   fresh[i].Price,
			Volume:  fresh[i].Volume,
		})
		present[v.ID] = true
		freshVolume += fresh[i].Volume
	}

	// Aggregation-pass quotes fill in the venues not freshly polled
	// (decentralized ones, plus any centralized venue whose poll failed).
	for _, q := range aggQuotes {
		if present[q.VenueID] {
			continue
		}
		quotes = append(quotes, q)
		present[q.VenueID] = true
	}

	liquidity := freshVolume
	if haveAgg {
		liquidity = agg.VolumeUSD
	}
	return quotes, liquidity
}

// publish emits one bus event per opportunity for downstream consumers (the
// WebSocket hub, notifiers). Publish failures are logged only.
func (e *Engine) publish(ctx context.Context, opps []domain.ArbitrageOpportunity) {
	if e.bus == nil {
		return
	}
	for _, opp := range opps {
		evt, err := json.Marshal(map[string]any{
			"event":          "opportunity_detected",
			"id":             opp.ID,
			"pair":           opp.PairKey,
			"type":           string(opp.Type),
			"buy_venue":      opp.BuyVenue,
			"buy_price":      opp.BuyPrice,
			"sell_venue":     opp.SellVenue,
			"sell_price":     opp.SellPrice,
			"gross_gap_pct":  opp.GrossGapPct,
			"net_profit_pct": opp.NetProfitPct,
		})
		if err != nil {
			continue
		}
		if err := e.bus.Publish(ctx, "opportunities", evt); err != nil {
			e.logger.WarnContext(ctx, "bus publish failed",
				slog.String("opp_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// snapshotsFrom flattens a matching pass into per-venue snapshot rows.
func snapshotsFrom(res matcher.Result) []domain.VenuePriceSnapshot {
	var snaps []domain.VenuePriceSnapshot
	for _, agg := range res.Aggregates {
		for _, q := range res.Quotes[agg.PairKey] {
			snaps = append(snaps, domain.VenuePriceSnapshot{
				PairKey:   agg.PairKey,
				VenueID:   q.VenueID,
				Network:   q.Chain,
				Price:     q.Price,
				VolumeUSD: q.Volume,
				Timestamp: agg.UpdatedAt,
			})
		}
	}
	return snaps
}
