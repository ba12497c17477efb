// Package cex implements the market-data provider for centralized venues via
// a unified REST ticker gateway. One Client serves exactly one venue so every
// failure is attributable to it.
package cex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// Client is the REST client for one centralized venue's ticker gateway.
type Client struct {
	venueID    string
	baseURL    string
	bulkQuote  bool
	httpClient *http.Client
}

// NewClient creates a market-data client for the given venue.
//
// baseURL is the gateway root, e.g. "https://api.binance.com". The timeout
// applies per request; on timeout the venue is treated as failed for the
// cycle, not retried.
func NewClient(venueID, baseURL string, bulkQuote bool, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		venueID:   venueID,
		baseURL:   baseURL,
		bulkQuote: bulkQuote,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// VenueID identifies the venue this client serves.
func (c *Client) VenueID() string { return c.venueID }

// SupportsBulk reports whether the venue advertises the bulk ticker endpoint.
func (c *Client) SupportsBulk() bool { return c.bulkQuote }

// ListTickers returns all currently quoted pairs with 24h volume in a single
// bulk call. Venues without the bulk capability return ErrVenueUnavailable so
// the catalog builder can exclude them during discovery.
func (c *Client) ListTickers(ctx context.Context) ([]domain.TickerInfo, error) {
	if !c.bulkQuote {
		return nil, fmt.Errorf("cex %s: bulk tickers: %w", c.venueID, domain.ErrVenueUnavailable)
	}

	body, err := c.doGet(ctx, "/api/v1/tickers", nil)
	if err != nil {
		return nil, fmt.Errorf("cex %s: list tickers: %w", c.venueID, err)
	}

	var payload []tickerPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("cex %s: decode tickers: %w", c.venueID, err)
	}

	tickers := make([]domain.TickerInfo, 0, len(payload))
	for _, t := range payload {
		base, quote, ok := domain.SplitPairKey(t.Pair)
		if !ok {
			continue
		}
		tickers = append(tickers, domain.TickerInfo{
			PairKey:     domain.PairKey(base, quote),
			Price:       t.Last,
			Bid:         t.Bid,
			Ask:         t.Ask,
			BaseVolume:  t.BaseVolume,
			QuoteVolume: t.QuoteVolume,
		})
	}
	return tickers, nil
}

// FetchQuote returns the current quote for a single pair, including the
// windowed prices when the gateway reports them.
func (c *Client) FetchQuote(ctx context.Context, pairKey string) (domain.PriceQuote, error) {
	params := url.Values{}
	params.Set("pair", pairKey)

	body, err := c.doGet(ctx, "/api/v1/ticker", params)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("cex %s: fetch quote %s: %w", c.venueID, pairKey, err)
	}

	var payload quotePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("cex %s: decode quote %s: %w", c.venueID, pairKey, err)
	}

	ts := time.Now().UTC()
	if payload.Timestamp > 0 {
		ts = time.UnixMilli(payload.Timestamp).UTC()
	}

	// Quote-currency volume when available, else base.
	volume := payload.QuoteVolume
	if volume == 0 {
		volume = payload.BaseVolume
	}

	return domain.PriceQuote{
		VenueID:    c.venueID,
		PairKey:    pairKey,
		Price:      payload.Last,
		Price10m:   payload.Price10m,
		Price1h:    payload.Price1h,
		Price3h:    payload.Price3h,
		Volume:     volume,
		TradeCount: payload.TradeCount,
		Timestamp:  ts,
	}, nil
}

// doGet performs a GET request against the gateway and returns the raw body.
// Non-2xx responses are surfaced as errors wrapping ErrVenueUnavailable.
func (c *Client) doGet(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVenueUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ep errorPayload
		if json.Unmarshal(body, &ep) == nil && ep.Error != "" {
			return nil, fmt.Errorf("%w: status %d: %s", domain.ErrVenueUnavailable, resp.StatusCode, ep.Error)
		}
		return nil, fmt.Errorf("%w: status %d", domain.ErrVenueUnavailable, resp.StatusCode)
	}

	return body, nil
}

// Compile-time interface check.
var _ domain.MarketDataProvider = (*Client)(nil)
