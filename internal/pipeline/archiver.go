package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// Archiver moves aged detection history from the database to cold storage
// and then prunes the archived rows from the primary store.
type Archiver struct {
	blobArchiver  domain.Archiver
	opps          domain.OpportunityStore
	snaps         domain.SnapshotStore
	retentionDays int
	logger        *slog.Logger
}

// NewArchiver creates an Archiver. Rows older than retentionDays are moved on
// every run.
func NewArchiver(
	blobArchiver domain.Archiver,
	opps domain.OpportunityStore,
	snaps domain.SnapshotStore,
	retentionDays int,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		opps:          opps,
		snaps:         snaps,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive pass. Rows are deleted from the primary store
// only after their archive upload succeeded.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	oppCount, err := a.blobArchiver.ArchiveOpportunities(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving opportunities before %v: %w", cutoff, err)
	}
	if oppCount > 0 {
		deleted, err := a.opps.DeleteBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("pruning archived opportunities: %w", err)
		}
		a.logger.Info("archived opportunities",
			slog.Int64("archived", oppCount),
			slog.Int64("pruned", deleted),
		)
	}

	snapCount, err := a.blobArchiver.ArchiveSnapshots(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving snapshots before %v: %w", cutoff, err)
	}
	if snapCount > 0 {
		deleted, err := a.snaps.DeleteBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("pruning archived snapshots: %w", err)
		}
		a.logger.Info("archived snapshots",
			slog.Int64("archived", snapCount),
			slog.Int64("pruned", deleted),
		)
	}

	a.logger.Info("archive run complete",
		slog.Int64("opportunities_archived", oppCount),
		slog.Int64("snapshots_archived", snapCount),
	)
	return nil
}

// RunLoop runs archive passes on the given interval until the context is
// cancelled. A failed pass is logged and retried on the next tick.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archive loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
