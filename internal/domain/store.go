package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// SnapshotStore persists per-venue price snapshots. Rows are keyed by
// (pair key, venue, network); an upsert replaces the previous observation.
type SnapshotStore interface {
	UpsertBatch(ctx context.Context, snaps []VenuePriceSnapshot) error
	ListByPair(ctx context.Context, pairKey string, opts ListOpts) ([]VenuePriceSnapshot, error)
	ListPairs(ctx context.Context, opts ListOpts) ([]string, error)
	ListBefore(ctx context.Context, before time.Time) ([]VenuePriceSnapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OpportunityStore persists detected arbitrage opportunities.
type OpportunityStore interface {
	InsertBatch(ctx context.Context, opps []ArbitrageOpportunity) error
	MarkAnalyzed(ctx context.Context, id string) error
	MarkExecuted(ctx context.Context, id string) error
	ListRecent(ctx context.Context, limit int) ([]ArbitrageOpportunity, error)
	ListByPair(ctx context.Context, pairKey string, opts ListOpts) ([]ArbitrageOpportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]ArbitrageOpportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
