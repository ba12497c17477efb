package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// EngineRunner triggers detection cycles on demand.
type EngineRunner interface {
	DetectForAllTrackedPairs(ctx context.Context) ([]domain.ArbitrageOpportunity, error)
	RefreshCatalog(ctx context.Context) error
}

// EngineHandler serves on-demand engine operations.
type EngineHandler struct {
	engine EngineRunner
	logger *slog.Logger
}

// NewEngineHandler creates an EngineHandler over the given runner.
func NewEngineHandler(engine EngineRunner, logger *slog.Logger) *EngineHandler {
	return &EngineHandler{engine: engine, logger: logger}
}

// RunCycle triggers one full detection cycle and returns its opportunities.
// A cycle already in flight yields 409.
// POST /api/engine/run
func (h *EngineHandler) RunCycle(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "handler: detection cycle requested")

	started := time.Now()
	opps, err := h.engine.DetectForAllTrackedPairs(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrCycleInFlight) {
			writeError(w, http.StatusConflict, "detection cycle already running")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: detection cycle failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "detection cycle failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"opportunities": toOpportunityResponses(opps),
		"elapsed_ms":    time.Since(started).Milliseconds(),
	})
}

// RefreshCatalog re-runs venue discovery and pair identification.
// POST /api/engine/catalog/refresh
func (h *EngineHandler) RefreshCatalog(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "handler: catalog refresh requested")

	if err := h.engine.RefreshCatalog(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: catalog refresh failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "catalog refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"refreshed_at": time.Now().UTC().Format(time.RFC3339),
	})
}
