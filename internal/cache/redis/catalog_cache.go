package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

const (
	venuesKey       = "catalog:venues"
	trackedPairsKey = "catalog:pairs"

	// catalogTTL bounds staleness when the refresher stops writing.
	catalogTTL = 2 * time.Hour
)

// CatalogCache implements domain.CatalogCache using JSON blobs. Each refresh
// replaces the stored catalog wholesale.
type CatalogCache struct {
	rdb *redis.Client
}

// NewCatalogCache creates a CatalogCache backed by the given Client.
func NewCatalogCache(c *Client) *CatalogCache {
	return &CatalogCache{rdb: c.Underlying()}
}

// SetVenues stores the active venue set.
func (cc *CatalogCache) SetVenues(ctx context.Context, venues []domain.Venue) error {
	data, err := json.Marshal(venues)
	if err != nil {
		return fmt.Errorf("redis: marshal venues: %w", err)
	}
	if err := cc.rdb.Set(ctx, venuesKey, data, catalogTTL).Err(); err != nil {
		return fmt.Errorf("redis: set venues: %w", err)
	}
	return nil
}

// GetVenues retrieves the cached venue set. It returns domain.ErrNotFound when
// no catalog has been stored yet.
func (cc *CatalogCache) GetVenues(ctx context.Context) ([]domain.Venue, error) {
	data, err := cc.rdb.Get(ctx, venuesKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get venues: %w", err)
	}

	var venues []domain.Venue
	if err := json.Unmarshal(data, &venues); err != nil {
		return nil, fmt.Errorf("redis: unmarshal venues: %w", err)
	}
	return venues, nil
}

// SetTrackedPairs stores the current tracked pair keys.
func (cc *CatalogCache) SetTrackedPairs(ctx context.Context, pairs []string) error {
	data, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("redis: marshal pairs: %w", err)
	}
	if err := cc.rdb.Set(ctx, trackedPairsKey, data, catalogTTL).Err(); err != nil {
		return fmt.Errorf("redis: set pairs: %w", err)
	}
	return nil
}

// GetTrackedPairs retrieves the cached tracked pair keys. It returns
// domain.ErrNotFound when no catalog has been stored yet.
func (cc *CatalogCache) GetTrackedPairs(ctx context.Context) ([]string, error) {
	data, err := cc.rdb.Get(ctx, trackedPairsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get pairs: %w", err)
	}

	var pairs []string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("redis: unmarshal pairs: %w", err)
	}
	return pairs, nil
}

// Compile-time interface check.
var _ domain.CatalogCache = (*CatalogCache)(nil)
