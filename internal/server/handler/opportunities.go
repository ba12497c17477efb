package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// OpportunitiesHandler serves detected-opportunity endpoints.
type OpportunitiesHandler struct {
	store  domain.OpportunityStore
	logger *slog.Logger
}

// NewOpportunitiesHandler creates an OpportunitiesHandler over the given store.
func NewOpportunitiesHandler(store domain.OpportunityStore, logger *slog.Logger) *OpportunitiesHandler {
	return &OpportunitiesHandler{store: store, logger: logger}
}

type opportunityResponse struct {
	ID            string    `json:"id"`
	PairKey       string    `json:"pair_key"`
	Type          string    `json:"type"`
	BuyVenue      string    `json:"buy_venue"`
	BuyPrice      float64   `json:"buy_price"`
	SellVenue     string    `json:"sell_venue"`
	SellPrice     float64   `json:"sell_price"`
	GrossGapPct   float64   `json:"gross_gap_pct"`
	TradingFeePct float64   `json:"trading_fee_pct"`
	SlippagePct   float64   `json:"slippage_pct"`
	GasFeePct     float64   `json:"gas_fee_pct"`
	NetProfitPct  float64   `json:"net_profit_pct"`
	LiquidityUSD  float64   `json:"liquidity_usd"`
	Analyzed      bool      `json:"analyzed"`
	Executed      bool      `json:"executed"`
	DetectedAt    time.Time `json:"detected_at"`
}

func toOpportunityResponse(o domain.ArbitrageOpportunity) opportunityResponse {
	return opportunityResponse{
		ID:            o.ID,
		PairKey:       o.PairKey,
		Type:          string(o.Type),
		BuyVenue:      o.BuyVenue,
		BuyPrice:      o.BuyPrice,
		SellVenue:     o.SellVenue,
		SellPrice:     o.SellPrice,
		GrossGapPct:   o.GrossGapPct,
		TradingFeePct: o.Fees.TradingFeePct,
		SlippagePct:   o.Fees.SlippagePct,
		GasFeePct:     o.Fees.GasFeePct,
		NetProfitPct:  o.NetProfitPct,
		LiquidityUSD:  o.LiquidityUSD,
		Analyzed:      o.Analyzed,
		Executed:      o.Executed,
		DetectedAt:    o.DetectedAt,
	}
}

func toOpportunityResponses(opps []domain.ArbitrageOpportunity) []opportunityResponse {
	out := make([]opportunityResponse, 0, len(opps))
	for _, o := range opps {
		out = append(out, toOpportunityResponse(o))
	}
	return out
}

// ListRecent returns the most recently detected opportunities. An optional
// pair query parameter filters to one pair.
// GET /api/opportunities/recent?limit=20&pair=BTC/USDT
func (h *OpportunitiesHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}

	var opps []domain.ArbitrageOpportunity
	var err error
	if pair := r.URL.Query().Get("pair"); pair != "" {
		opps, err = h.store.ListByPair(r.Context(), pair, domain.ListOpts{Limit: limit})
	} else {
		opps, err = h.store.ListRecent(r.Context(), limit)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list opportunities failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"opportunities": toOpportunityResponses(opps),
	})
}

// MarkAnalyzed flags one opportunity as analyzed.
// POST /api/opportunities/{id}/analyzed
func (h *OpportunitiesHandler) MarkAnalyzed(w http.ResponseWriter, r *http.Request) {
	h.markFlag(w, r, "analyzed", h.store.MarkAnalyzed)
}

// MarkExecuted flags one opportunity as executed.
// POST /api/opportunities/{id}/executed
func (h *OpportunitiesHandler) MarkExecuted(w http.ResponseWriter, r *http.Request) {
	h.markFlag(w, r, "executed", h.store.MarkExecuted)
}

func (h *OpportunitiesHandler) markFlag(
	w http.ResponseWriter,
	r *http.Request,
	flag string,
	mark func(ctx context.Context, id string) error,
) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing opportunity id")
		return
	}

	if err := mark(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "opportunity not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: mark opportunity failed",
			slog.String("id", id),
			slog.String("flag", flag),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update opportunity")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, flag: true})
}
