package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

type fakeRunner struct {
	opps       []domain.ArbitrageOpportunity
	runErr     error
	refreshErr error
	refreshed  bool
}

func (f *fakeRunner) DetectForAllTrackedPairs(context.Context) ([]domain.ArbitrageOpportunity, error) {
	return f.opps, f.runErr
}

func (f *fakeRunner) RefreshCatalog(context.Context) error {
	f.refreshed = true
	return f.refreshErr
}

func TestRunCycle(t *testing.T) {
	h := NewEngineHandler(&fakeRunner{opps: []domain.ArbitrageOpportunity{{ID: "opp-1"}}}, testLogger())

	rec := httptest.NewRecorder()
	h.RunCycle(rec, httptest.NewRequest(http.MethodPost, "/api/engine/run", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "opp-1")
}

func TestRunCycleConflictWhileInFlight(t *testing.T) {
	h := NewEngineHandler(&fakeRunner{runErr: domain.ErrCycleInFlight}, testLogger())

	rec := httptest.NewRecorder()
	h.RunCycle(rec, httptest.NewRequest(http.MethodPost, "/api/engine/run", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRefreshCatalogEndpoint(t *testing.T) {
	runner := &fakeRunner{}
	h := NewEngineHandler(runner, testLogger())

	rec := httptest.NewRecorder()
	h.RefreshCatalog(rec, httptest.NewRequest(http.MethodPost, "/api/engine/catalog/refresh", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, runner.refreshed)
}
