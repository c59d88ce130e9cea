package api

import (
	"net/http"

	"github.com/okian/invoicerisk/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthHandler serves liveness and metrics.
type HealthHandler struct {
	stats StatsProvider
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(stats StatsProvider) *HealthHandler {
	return &HealthHandler{stats: stats}
}

type healthResponse struct {
	Status           string `json:"status"`
	ModelsLoaded     bool   `json:"models_loaded"`
	BenchmarkEntries int    `json:"benchmark_entries"`
}

// HandleHealth handles GET /healthz. The service answers 200 in fallback
// mode too; "degraded" tells operators that models are missing.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	st := h.stats.GetStats()
	resp := healthResponse{
		Status:           "ok",
		ModelsLoaded:     st.ModelsLoaded,
		BenchmarkEntries: st.BenchmarkEntries,
	}
	switch {
	case !st.Started:
		resp.Status = "starting"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	case !st.ModelsLoaded:
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleMetrics handles GET /metrics from the service registry.
func (h *HealthHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
