// Package pipeline runs the periodic background loops: catalog refresh,
// detection cycles, and cold-storage archival.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbscan/internal/domain"
	"github.com/alanyoungcy/arbscan/internal/engine"
	"github.com/alanyoungcy/arbscan/internal/notify"
)

// Config tunes the orchestrator's loop intervals.
type Config struct {
	DetectInterval  time.Duration
	CatalogInterval time.Duration
	ArchiveEnabled  bool
	ArchiveInterval time.Duration
}

// Orchestrator manages the pipeline goroutines around one Engine.
type Orchestrator struct {
	cfg      Config
	engine   *engine.Engine
	archiver *Archiver                  // nil when archival is disabled
	alerter  *notify.OpportunityAlerter // nil when notifications are disabled
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator. archiver and alerter may be nil.
func NewOrchestrator(
	cfg Config,
	eng *engine.Engine,
	archiver *Archiver,
	alerter *notify.OpportunityAlerter,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		engine:   eng,
		archiver: archiver,
		alerter:  alerter,
		logger:   logger.With(slog.String("component", "pipeline")),
	}
}

// Run starts the loops as concurrent goroutines using an errgroup. Each
// goroutine respects ctx cancellation. If any goroutine returns a non-context
// error, the errgroup cancels the shared context and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("detect_interval", o.cfg.DetectInterval),
		slog.Duration("catalog_interval", o.cfg.CatalogInterval),
		slog.Bool("archive_enabled", o.cfg.ArchiveEnabled && o.archiver != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.runCatalogLoop(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("catalog loop: %w", err)
	})

	g.Go(func() error {
		err := o.runDetectLoop(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("detect loop: %w", err)
	})

	if o.cfg.ArchiveEnabled && o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunLoop(ctx, o.cfg.ArchiveInterval)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archive loop: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}

// runCatalogLoop refreshes the venue/pair catalog immediately and then on
// every tick. A failed refresh keeps the previous catalog.
func (o *Orchestrator) runCatalogLoop(ctx context.Context) error {
	if err := o.engine.RefreshCatalog(ctx); err != nil {
		o.logger.Error("catalog refresh failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(o.cfg.CatalogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("catalog loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := o.engine.RefreshCatalog(ctx); err != nil {
				o.logger.Error("catalog refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// runDetectLoop runs a full detection cycle immediately and then on every
// tick. An overlapping cycle is skipped, not queued.
func (o *Orchestrator) runDetectLoop(ctx context.Context) error {
	o.detectOnce(ctx)

	ticker := time.NewTicker(o.cfg.DetectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("detect loop stopped")
			return ctx.Err()
		case <-ticker.C:
			o.detectOnce(ctx)
		}
	}
}

func (o *Orchestrator) detectOnce(ctx context.Context) {
	opps, err := o.engine.DetectForAllTrackedPairs(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrCycleInFlight) {
			o.logger.Warn("detection cycle still running, skipping tick")
			return
		}
		o.logger.Error("detection cycle failed", slog.String("error", err.Error()))
		if o.alerter != nil {
			if alertErr := o.alerter.AlertCycleFailure(ctx, err); alertErr != nil {
				o.logger.Error("cycle failure alert failed", slog.String("error", alertErr.Error()))
			}
		}
		return
	}
	if len(opps) == 0 {
		return
	}
	o.logger.Info("detection cycle produced opportunities", slog.Int("count", len(opps)))

	if o.alerter != nil {
		if err := o.alerter.Alert(ctx, opps); err != nil {
			o.logger.Error("opportunity alert failed", slog.String("error", err.Error()))
		}
	}
}
