package domain

// Currency identifies one side of a trade record as reported by a trade feed.
type Currency struct {
	Symbol  string
	Name    string
	Address string
}

// TradeRecord is an aggregated trade/price record for a pair on one DEX
// protocol, as returned by a trade-feed provider. Records with missing
// currency symbols are malformed and must be skipped, never fatal.
type TradeRecord struct {
	Chain     string
	Exchange  string // sub-market / protocol name, e.g. "uniswap_v3"
	Base      Currency
	Quote     Currency
	PriceUSD  float64
	Price10m  float64
	Price1h   float64
	Price3h   float64
	VolumeUSD float64
	TxCount   int
}

// Valid reports whether the record carries the fields the matcher requires.
func (r TradeRecord) Valid() bool {
	return r.Base.Symbol != "" && r.Quote.Symbol != ""
}
