package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// PairSource provides the current aggregation state.
type PairSource interface {
	Aggregates() []domain.PairAggregate
	TrackedPairs() []string
	Venues() []domain.Venue
}

// PairsHandler serves the cross-venue pair endpoints.
type PairsHandler struct {
	source PairSource
	snaps  domain.SnapshotStore // optional; when nil, per-venue history is omitted
	quotes domain.QuoteCache    // optional; when nil, latest quotes are omitted
	logger *slog.Logger
}

// NewPairsHandler creates a PairsHandler over the given aggregation source.
func NewPairsHandler(source PairSource, snaps domain.SnapshotStore, quotes domain.QuoteCache, logger *slog.Logger) *PairsHandler {
	return &PairsHandler{source: source, snaps: snaps, quotes: quotes, logger: logger}
}

type pairResponse struct {
	PairKey       string    `json:"pair_key"`
	ExchangeCount int       `json:"exchange_count"`
	BaseSymbol    string    `json:"base_symbol"`
	BaseName      string    `json:"base_name"`
	QuoteSymbol   string    `json:"quote_symbol"`
	QuoteName     string    `json:"quote_name"`
	Exchanges     []string  `json:"exchanges"`
	Chains        []string  `json:"chains"`
	VolumeUSD     float64   `json:"volume_usd"`
	TxCount       int       `json:"tx_count"`
	PriceUSD      float64   `json:"price_usd"`
	Price10m      float64   `json:"price_10m,omitempty"`
	Price1h       float64   `json:"price_1h,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type snapshotResponse struct {
	VenueID    string    `json:"venue_id"`
	Network    string    `json:"network,omitempty"`
	Price      float64   `json:"price"`
	VolumeUSD  float64   `json:"volume_usd"`
	ObservedAt time.Time `json:"observed_at"`
}

type quoteResponse struct {
	VenueID    string    `json:"venue_id"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
	ObservedAt time.Time `json:"observed_at"`
}

func toPairResponse(agg domain.PairAggregate) pairResponse {
	return pairResponse{
		PairKey:       agg.PairKey,
		ExchangeCount: agg.ExchangeCount,
		BaseSymbol:    agg.Base.Symbol,
		BaseName:      agg.Base.Name,
		QuoteSymbol:   agg.Quote.Symbol,
		QuoteName:     agg.Quote.Name,
		Exchanges:     agg.Exchanges,
		Chains:        agg.Chains,
		VolumeUSD:     agg.VolumeUSD,
		TxCount:       agg.TxCount,
		PriceUSD:      agg.PriceUSD,
		Price10m:      agg.Price10m,
		Price1h:       agg.Price1h,
		UpdatedAt:     agg.UpdatedAt,
	}
}

// ListPairs returns the pairs from the latest aggregation pass, ranked by
// venue diversity, plus the tracked pair keys.
// GET /api/pairs
func (h *PairsHandler) ListPairs(w http.ResponseWriter, r *http.Request) {
	aggs := h.source.Aggregates()

	pairs := make([]pairResponse, 0, len(aggs))
	for _, agg := range aggs {
		pairs = append(pairs, toPairResponse(agg))
	}

	tracked := h.source.TrackedPairs()
	if tracked == nil {
		tracked = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pairs":         pairs,
		"tracked_pairs": tracked,
	})
}

// GetPair returns one pair's aggregate, the freshest cached per-venue quotes,
// and its stored per-venue snapshot history.
// GET /api/pairs/{key}
func (h *PairsHandler) GetPair(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing pair key")
		return
	}

	var found *domain.PairAggregate
	for _, agg := range h.source.Aggregates() {
		if agg.PairKey == key {
			found = &agg
			break
		}
	}

	resp := map[string]any{"pair_key": key}
	if found != nil {
		resp["aggregate"] = toPairResponse(*found)
	}

	if h.quotes != nil {
		venues := h.source.Venues()
		ids := make([]string, 0, len(venues))
		for _, v := range venues {
			ids = append(ids, v.ID)
		}

		cached, err := h.quotes.GetQuotes(r.Context(), key, ids)
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: quote cache read failed",
				slog.String("pair", key),
				slog.String("error", err.Error()),
			)
		} else if len(cached) > 0 {
			// Venue order, so the response is stable across requests.
			out := make([]quoteResponse, 0, len(cached))
			for _, v := range venues {
				q, ok := cached[v.ID]
				if !ok {
					continue
				}
				out = append(out, quoteResponse{
					VenueID:    q.VenueID,
					Price:      q.Price,
					Volume:     q.Volume,
					ObservedAt: q.Timestamp,
				})
			}
			resp["latest_quotes"] = out
		}
	}

	if h.snaps != nil {
		snaps, err := h.snaps.ListByPair(r.Context(), key, parseListOpts(r))
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			h.logger.ErrorContext(r.Context(), "handler: list snapshots failed",
				slog.String("pair", key),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to list snapshots")
			return
		}

		out := make([]snapshotResponse, 0, len(snaps))
		for _, s := range snaps {
			out = append(out, snapshotResponse{
				VenueID:    s.VenueID,
				Network:    s.Network,
				Price:      s.Price,
				VolumeUSD:  s.VolumeUSD,
				ObservedAt: s.Timestamp,
			})
		}
		resp["snapshots"] = out
	}

	if found == nil && h.snaps == nil {
		writeError(w, http.StatusNotFound, "pair not found")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
