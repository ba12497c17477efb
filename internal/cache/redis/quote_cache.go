package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// quoteTTL expires stale per-venue quotes so the detector never compares
// prices from a venue that stopped answering long ago.
const quoteTTL = 10 * time.Minute

// QuoteCache implements domain.QuoteCache using Redis hashes. Each venue's
// quote for a pair is stored at key "quote:{venueID}:{pairKey}" with numeric
// fields encoded as strings.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(venueID, pairKey string) string {
	return "quote:" + venueID + ":" + pairKey
}

// SetQuote stores one venue's latest quote for a pair.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.PriceQuote) error {
	key := quoteKey(q.VenueID, q.PairKey)
	fields := map[string]interface{}{
		"price":     strconv.FormatFloat(q.Price, 'f', -1, 64),
		"price_10m": strconv.FormatFloat(q.Price10m, 'f', -1, 64),
		"price_1h":  strconv.FormatFloat(q.Price1h, 'f', -1, 64),
		"price_3h":  strconv.FormatFloat(q.Price3h, 'f', -1, 64),
		"volume":    strconv.FormatFloat(q.Volume, 'f', -1, 64),
		"trades":    strconv.Itoa(q.TradeCount),
		"ts":        strconv.FormatInt(q.Timestamp.UnixNano(), 10),
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s %s: %w", q.VenueID, q.PairKey, err)
	}
	return nil
}

// GetQuotes retrieves the cached quotes for a pair across multiple venues
// using a pipeline. Venues without a cached quote are silently omitted.
func (qc *QuoteCache) GetQuotes(ctx context.Context, pairKey string, venueIDs []string) (map[string]domain.PriceQuote, error) {
	if len(venueIDs) == 0 {
		return map[string]domain.PriceQuote{}, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(venueIDs))
	for _, id := range venueIDs {
		cmds[id] = pipe.HGetAll(ctx, quoteKey(id, pairKey))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[string]domain.PriceQuote, len(venueIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := decodeQuote(id, pairKey, vals)
		if err != nil {
			continue
		}
		result[id] = q
	}
	return result, nil
}

func decodeQuote(venueID, pairKey string, vals map[string]string) (domain.PriceQuote, error) {
	q := domain.PriceQuote{VenueID: venueID, PairKey: pairKey}

	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse price %s %s: %w", venueID, pairKey, err)
	}
	q.Price = price

	q.Price10m, _ = strconv.ParseFloat(vals["price_10m"], 64)
	q.Price1h, _ = strconv.ParseFloat(vals["price_1h"], 64)
	q.Price3h, _ = strconv.ParseFloat(vals["price_3h"], 64)
	q.Volume, _ = strconv.ParseFloat(vals["volume"], 64)
	q.TradeCount, _ = strconv.Atoi(vals["trades"])

	if tsNano, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		q.Timestamp = time.Unix(0, tsNano)
	}
	return q, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
