package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbscan/internal/catalog"
	"github.com/alanyoungcy/arbscan/internal/detector"
	"github.com/alanyoungcy/arbscan/internal/engine"
	"github.com/alanyoungcy/arbscan/internal/matcher"
	"github.com/alanyoungcy/arbscan/internal/pipeline"
	"github.com/alanyoungcy/arbscan/internal/server"
	"github.com/alanyoungcy/arbscan/internal/server/handler"
	"github.com/alanyoungcy/arbscan/internal/server/ws"
)

// DetectMode runs the headless detection pipeline: catalog refresh loop,
// detection loop, and (when enabled) the archive loop. No HTTP surface.
func (a *App) DetectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting detect mode")

	eng := a.buildEngine(deps)
	orch := a.buildOrchestrator(deps, eng)
	return orch.Run(ctx)
}

// ServeMode runs the HTTP + WebSocket API only. Detection cycles run on demand
// via POST /api/engine/run; no background loops are started.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	eng := a.buildEngine(deps)

	g, ctx := errgroup.WithContext(ctx)

	// Warm the catalog so the status and pair endpoints have something to
	// show before the first on-demand cycle. A catalog cached by a previous
	// process is preferred over a full rediscovery.
	g.Go(func() error {
		if eng.RestoreCatalog(ctx) {
			return nil
		}
		if err := eng.RefreshCatalog(ctx); err != nil {
			a.logger.WarnContext(ctx, "initial catalog refresh failed",
				slog.String("error", err.Error()),
			)
		}
		return nil
	})

	a.startHTTPServer(ctx, g, deps, eng)

	return g.Wait()
}

// FullMode runs the detection pipeline and the HTTP API in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	eng := a.buildEngine(deps)
	orch := a.buildOrchestrator(deps, eng)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := orch.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}

	return g.Wait()
}

// buildEngine assembles the catalog builder, matcher, detector, and engine from
// the wired dependencies and the static configuration.
func (a *App) buildEngine(deps *Dependencies) *engine.Engine {
	cat := catalog.NewBuilder(catalog.Config{
		TopVenueCount:   a.cfg.Catalog.TopVenueCount,
		TargetPairCount: a.cfg.Catalog.TargetPairCount,
		MinVolumeUSD:    a.cfg.Catalog.MinVolumeUSD,
		FallbackPairs:   a.cfg.Catalog.FallbackPairs,
		QueryTimeout:    a.cfg.Engine.QueryTimeout.Duration,
		MaxInFlight:     int64(a.cfg.Engine.MaxInFlight),
	}, deps.ProviderList, deps.Feed, deps.Chains, a.logger)

	m := matcher.New(matcher.Config{
		MaxSubMarkets: a.cfg.Matcher.MaxSubMarkets,
		MaxRecords:    a.cfg.Matcher.MaxRecords,
		QueryTimeout:  a.cfg.Engine.QueryTimeout.Duration,
		MaxInFlight:   int64(a.cfg.Engine.MaxInFlight),
	}, deps.Providers, deps.Feed, a.logger)

	det := detector.New(detector.Config{
		TradingFeePct:       a.cfg.Detector.TradingFeePct,
		SlippageGapFraction: a.cfg.Detector.SlippageGapFraction,
		MinLiquidityUSD:     a.cfg.Detector.MinLiquidityUSD,
	}, deps.GasEstimator, a.logger)

	return engine.New(engine.Config{
		ThresholdPct:    a.cfg.Detector.ThresholdPct,
		MinVenueCount:   a.cfg.Matcher.MinVenueCount,
		TargetPairCount: a.cfg.Catalog.TargetPairCount,
		QueryTimeout:    a.cfg.Engine.QueryTimeout.Duration,
		MaxInFlight:     int64(a.cfg.Engine.MaxInFlight),
		CycleLockTTL:    a.cfg.Engine.CycleLockTTL.Duration,
	}, cat, m, det, deps.Providers, engine.Options{
		CatalogCache:  deps.CatalogCache,
		QuoteCache:    deps.QuoteCache,
		Snapshots:     deps.SnapshotStore,
		Opportunities: deps.OpportunityStore,
		Bus:           deps.SignalBus,
		Locker:        deps.CycleLocker,
	}, a.logger)
}

// buildOrchestrator assembles the background loop runner around the engine.
// The archive loop is attached only when blob storage was wired.
func (a *App) buildOrchestrator(deps *Dependencies, eng *engine.Engine) *pipeline.Orchestrator {
	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(
			deps.Archiver,
			deps.OpportunityStore,
			deps.SnapshotStore,
			a.cfg.Pipeline.ArchiveRetentionDays,
			a.logger,
		)
	}

	return pipeline.NewOrchestrator(pipeline.Config{
		DetectInterval:  a.cfg.Pipeline.DetectInterval.Duration,
		CatalogInterval: a.cfg.Pipeline.CatalogInterval.Duration,
		ArchiveEnabled:  a.cfg.Pipeline.ArchiveEnabled,
		ArchiveInterval: a.cfg.Pipeline.ArchiveInterval.Duration,
	}, eng, archiver, deps.Alerter, a.logger)
}

// startHTTPServer adds the WebSocket hub and the HTTP server goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Engine) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("ws hub: %w", err)
	})

	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(a.logger),
		Pairs:         handler.NewPairsHandler(eng, deps.SnapshotStore, deps.QuoteCache, a.logger),
		Opportunities: handler.NewOpportunitiesHandler(deps.OpportunityStore, a.logger),
		Engine:        handler.NewEngineHandler(eng, a.logger),
		Status:        handler.NewStatusHandler(a.cfg.Mode, startedAt, eng),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		err := srv.Start()
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
