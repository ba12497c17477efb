package domain

import (
	"context"
	"time"
)

// CatalogCache holds the rebuildable per-cycle venue/pair catalog. The cached
// catalog is advisory: a refresh always overwrites it wholesale.
type CatalogCache interface {
	SetVenues(ctx context.Context, venues []Venue) error
	GetVenues(ctx context.Context) ([]Venue, error)
	SetTrackedPairs(ctx context.Context, pairs []string) error
	GetTrackedPairs(ctx context.Context) ([]string, error)
}

// QuoteCache provides fast access to the latest per-venue quotes.
type QuoteCache interface {
	SetQuote(ctx context.Context, q PriceQuote) error
	// GetQuotes returns the cached quotes for a pair keyed by venue ID;
	// venues without a cached quote are omitted.
	GetQuotes(ctx context.Context, pairKey string, venueIDs []string) (map[string]PriceQuote, error)
}

// SignalBus provides pub/sub fan-out of engine events (detected opportunities,
// cycle status) to downstream consumers such as the WebSocket hub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// CycleLocker guards against overlapping detection cycles. TryAcquire returns
// ErrCycleInFlight when another cycle holds the lock.
type CycleLocker interface {
	TryAcquire(ctx context.Context, ttl time.Duration) (release func(), err error)
}

// RateLimiter bounds request rates per key across processes.
type RateLimiter interface {
	// Allow reports whether one more request for key fits inside the window
	// and counts it when it does.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
