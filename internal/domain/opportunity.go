package domain

import "time"

// ComparisonType labels which venue categories an opportunity spans.
type ComparisonType string

const (
	CompareCEXCEX ComparisonType = "CEX-CEX"
	CompareDEXDEX ComparisonType = "DEX-DEX"
	CompareCEXDEX ComparisonType = "CEX-DEX"
)

// FeeBreakdown itemizes the estimated costs of taking both legs of an
// opportunity, all expressed in percent of notional.
type FeeBreakdown struct {
	TradingFeePct float64 // fixed rate applied to both legs
	SlippagePct   float64 // configurable fraction of the gross gap
	GasFeePct     float64 // non-zero only when at least one leg is on-chain
}

// Total returns the summed fee estimate in percent.
func (f FeeBreakdown) Total() float64 {
	return f.TradingFeePct + f.SlippagePct + f.GasFeePct
}

// ArbitrageOpportunity is a fee-adjusted price gap between two venues for one
// pair. The engine only ever produces Analyzed=false, Executed=false; both
// flags are flipped by downstream consumers.
type ArbitrageOpportunity struct {
	ID      string
	PairKey string
	Type    ComparisonType

	BuyVenue  string
	BuyPrice  float64
	SellVenue string
	SellPrice float64

	// GrossGapPct = (SellPrice - BuyPrice) / BuyPrice * 100.
	GrossGapPct  float64
	Fees         FeeBreakdown
	NetProfitPct float64
	LiquidityUSD float64

	Analyzed   bool
	Executed   bool
	DetectedAt time.Time
}
