// Package dexfeed implements the trade-feed provider on top of a GraphQL
// DEX indexer. It serves every configured chain through a single endpoint.
package dexfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// Client is a GraphQL client for the DEX trade indexer. It exposes the
// per-chain protocol list and windowed trade aggregates the matcher consumes.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new trade-feed client.
//
// graphqlURL is the indexer endpoint, e.g.
// "https://graphql.bitquery.io". The timeout applies per query.
func NewClient(graphqlURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// ListProtocols returns the DEX protocols indexed on the given chain, ordered
// by descending trade count so callers can take the top-K most liquid ones.
func (c *Client) ListProtocols(ctx context.Context, chain string) ([]string, error) {
	query := `
		query Protocols($network: EthereumNetwork!) {
			ethereum(network: $network) {
				dexTrades(options: { desc: "count" }) {
					protocol
					count
				}
			}
		}
	`

	variables := map[string]any{
		"network": chain,
	}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("dexfeed: list protocols %s: %w", chain, err)
	}

	var result struct {
		Ethereum struct {
			DexTrades []struct {
				Protocol string `json:"protocol"`
				Count    int64  `json:"count"`
			} `json:"dexTrades"`
		} `json:"ethereum"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("dexfeed: decode protocols %s: %w", chain, err)
	}

	protocols := make([]string, 0, len(result.Ethereum.DexTrades))
	for _, t := range result.Ethereum.DexTrades {
		if t.Protocol == "" {
			continue
		}
		protocols = append(protocols, t.Protocol)
	}
	return protocols, nil
}

// FetchRecentTrades returns up to limit aggregated trade records for one
// protocol on one chain. Each record carries the current price plus the
// −10m/−1h/−3h window prices, aggregated USD volume, and trade count.
// Records with incomplete currency info are returned as-is; callers decide
// whether to skip them.
func (c *Client) FetchRecentTrades(ctx context.Context, chain, protocol string, limit int) ([]domain.TradeRecord, error) {
	now := time.Now().UTC()

	query := `
		query RecentTrades($network: EthereumNetwork!, $protocol: String!, $limit: Int!,
		                   $ago10m: ISO8601DateTime!, $ago1h: ISO8601DateTime!, $ago3h: ISO8601DateTime!) {
			ethereum(network: $network) {
				dexTrades(
					options: { desc: "tradeAmount", limit: $limit }
					protocol: { is: $protocol }
				) {
					baseCurrency { symbol name address }
					quoteCurrency { symbol name address }
					quotePrice
					prices10m: quotePrice(time: { till: $ago10m })
					prices1h: quotePrice(time: { till: $ago1h })
					prices3h: quotePrice(time: { till: $ago3h })
					tradeAmount(in: USD)
					trades: count
				}
			}
		}
	`

	variables := map[string]any{
		"network":  chain,
		"protocol": protocol,
		"limit":    limit,
		"ago10m":   now.Add(-10 * time.Minute).Format(time.RFC3339),
		"ago1h":    now.Add(-1 * time.Hour).Format(time.RFC3339),
		"ago3h":    now.Add(-3 * time.Hour).Format(time.RFC3339),
	}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("dexfeed: fetch trades %s/%s: %w", chain, protocol, err)
	}

	var result struct {
		Ethereum struct {
			DexTrades []struct {
				BaseCurrency  currencyPayload `json:"baseCurrency"`
				QuoteCurrency currencyPayload `json:"quoteCurrency"`
				QuotePrice    float64         `json:"quotePrice"`
				Prices10m     float64         `json:"prices10m"`
				Prices1h      float64         `json:"prices1h"`
				Prices3h      float64         `json:"prices3h"`
				TradeAmount   float64         `json:"tradeAmount"`
				Trades        int             `json:"trades"`
			} `json:"dexTrades"`
		} `json:"ethereum"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("dexfeed: decode trades %s/%s: %w", chain, protocol, err)
	}

	records := make([]domain.TradeRecord, 0, len(result.Ethereum.DexTrades))
	for _, t := range result.Ethereum.DexTrades {
		records = append(records, domain.TradeRecord{
			Chain:     chain,
			Exchange:  protocol,
			Base:      domain.Currency{Symbol: t.BaseCurrency.Symbol, Name: t.BaseCurrency.Name, Address: t.BaseCurrency.Address},
			Quote:     domain.Currency{Symbol: t.QuoteCurrency.Symbol, Name: t.QuoteCurrency.Name, Address: t.QuoteCurrency.Address},
			PriceUSD:  t.QuotePrice,
			Price10m:  t.Prices10m,
			Price1h:   t.Prices1h,
			Price3h:   t.Prices3h,
			VolumeUSD: t.TradeAmount,
			TxCount:   t.Trades,
		})
	}
	return records, nil
}

// currencyPayload is the wire shape of a currency object in trade responses.
type currencyPayload struct {
	Symbol  string `json:"symbol"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// doQuery executes a GraphQL query and returns the raw data payload.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

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
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrVenueUnavailable, resp.StatusCode, truncate(body, 256))
	}

	var envelope graphqlResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", envelope.Errors[0].Message)
	}

	return envelope.Data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Compile-time interface check.
var _ domain.TradeFeedProvider = (*Client)(nil)
