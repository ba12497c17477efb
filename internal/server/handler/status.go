package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// EngineState exposes the engine's current catalog for the status endpoint.
type EngineState interface {
	Venues() []domain.Venue
	TrackedPairs() []string
	Aggregates() []domain.PairAggregate
}

// StatusHandler serves the backend status for dashboards.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	engine    EngineState
}

// NewStatusHandler creates a StatusHandler with the given run mode.
func NewStatusHandler(mode string, startedAt time.Time, engine EngineState) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, engine: engine}
}

type venueResponse struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Chain  string `json:"chain,omitempty"`
	Active bool   `json:"active"`
}

// GetStatus responds with the run mode, uptime, and current catalog summary.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	venues := h.engine.Venues()
	out := make([]venueResponse, 0, len(venues))
	for _, v := range venues {
		out = append(out, venueResponse{
			ID:     v.ID,
			Kind:   string(v.Kind),
			Chain:  v.Chain,
			Active: v.Active,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":             h.mode,
		"uptime_seconds":   int64(time.Since(h.startedAt).Seconds()),
		"venues":           out,
		"tracked_pairs":    len(h.engine.TrackedPairs()),
		"aggregated_pairs": len(h.engine.Aggregates()),
	})
}
