package domain

import "time"

// PriceQuote is a single venue's observation of a pair at one poll. It is
// immutable once produced; the next poll supersedes it rather than mutating.
// The windowed prices are zero when the venue did not report them.
type PriceQuote struct {
	VenueID    string
	PairKey    string
	Price      float64
	Price10m   float64
	Price1h    float64
	Price3h    float64
	Volume     float64 // quote-currency denominated when available, else base
	TradeCount int
	Timestamp  time.Time
}

// VenueQuote is the detector's input: one venue's current price for a pair,
// tagged with the venue's kind and chain so fee legs can be attributed.
type VenueQuote struct {
	VenueID string
	Kind    VenueKind
	Chain   string
	Price   float64
	Volume  float64
}
