package domain

import "time"

// PairAggregate is the cross-venue view of one trading pair, built fresh on
// every aggregation pass from the current batch of observations. It is never
// persisted incrementally.
type PairAggregate struct {
	PairKey string

	// ExchangeCount is the diversity count: the number of distinct
	// (chain, sub-market) combinations that quoted the pair, not the number
	// of raw records.
	ExchangeCount int

	Base  TokenMeta
	Quote TokenMeta

	// Exchanges lists contributing sub-markets in first-seen order.
	Exchanges []string
	// Chains lists the chains the pair appears on, in first-seen order.
	Chains []string

	VolumeUSD float64
	TxCount   int

	// Latest-seen windowed price snapshot. Records are not averaged; the
	// latest relevant record wins.
	PriceUSD  float64
	Price10m  float64
	Price1h   float64
	UpdatedAt time.Time
}

// VenuePriceSnapshot is one venue's contribution to a pair, in the shape the
// persistence sink upserts (keyed by venue+network within the pair).
type VenuePriceSnapshot struct {
	PairKey   string
	VenueID   string
	Network   string
	Price     float64
	VolumeUSD float64
	Timestamp time.Time
}
