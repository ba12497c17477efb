package cex

// tickerPayload is the wire shape of one entry in the gateway's bulk ticker
// response.
type tickerPayload struct {
	Pair        string  `json:"pair"`
	Last        float64 `json:"last"`
	Bid         float64 `json:"bid"`
	Ask         float64 `json:"ask"`
	BaseVolume  float64 `json:"base_volume"`
	QuoteVolume float64 `json:"quote_volume"`
	TradeCount  int     `json:"trade_count"`
	Timestamp   int64   `json:"timestamp"` // unix milliseconds
}

// quotePayload is the wire shape of a single-pair quote response, which adds
// the windowed prices the bulk endpoint omits.
type quotePayload struct {
	tickerPayload
	Price10m float64 `json:"price_10m"`
	Price1h  float64 `json:"price_1h"`
	Price3h  float64 `json:"price_3h"`
}

// errorPayload is the gateway's error envelope.
type errorPayload struct {
	Error string `json:"error"`
}
