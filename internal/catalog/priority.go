package catalog

// liquidityPriority ranks well-known venues by typical liquidity. Venues not
// in this map keep their discovery order and sort after every known venue.
var liquidityPriority = map[string]int{
	"binance":  0,
	"coinbase": 1,
	"okx":      2,
	"bybit":    3,
	"kraken":   4,
	"gateio":   5,
	"kucoin":   6,
	"bitget":   7,
	"huobi":    8,
	"mexc":     9,
}

// priorityRank returns the venue's rank in the known-liquidity list and
// whether the venue is known at all.
func priorityRank(venueID string) (int, bool) {
	rank, ok := liquidityPriority[venueID]
	return rank, ok
}
