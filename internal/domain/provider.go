package domain

import "context"

// TickerInfo is one tradable pair with volume as reported by a centralized
// venue's bulk ticker endpoint.
type TickerInfo struct {
	PairKey     string
	Price       float64
	Bid         float64
	Ask         float64
	BaseVolume  float64
	QuoteVolume float64
}

// MarketDataProvider is the per-centralized-venue price source. Every call may
// fail; failures must be attributable to the specific venue.
type MarketDataProvider interface {
	// VenueID identifies the venue this provider serves.
	VenueID() string
	// ListTickers returns all currently quoted pairs with volume in a single
	// bulk call. Venues without the BulkQuote capability return
	// ErrVenueUnavailable.
	ListTickers(ctx context.Context) ([]TickerInfo, error)
	// FetchQuote returns the current quote for a single pair.
	FetchQuote(ctx context.Context, pairKey string) (PriceQuote, error)
}

// TradeFeedProvider is the per-chain DEX trade source.
type TradeFeedProvider interface {
	// ListProtocols returns the DEX protocols indexed on a chain, most
	// liquid first.
	ListProtocols(ctx context.Context, chain string) ([]string, error)
	// FetchRecentTrades returns up to limit aggregated trade records for one
	// protocol on one chain, with multi-window prices attached.
	FetchRecentTrades(ctx context.Context, chain, protocol string, limit int) ([]TradeRecord, error)
}

// GasEstimator estimates the chain-gas cost of an on-chain leg, expressed in
// percent of trade notional.
type GasEstimator interface {
	Estimate(ctx context.Context, chain string) (float64, error)
}
