package api

import (
	"net/http"

	"github.com/okian/invoicerisk/internal/domain/benchmark"
	"github.com/okian/invoicerisk/pkg/logger"
)

// AdminHandler exposes model and benchmark management.
type AdminHandler struct {
	deps Dependencies
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(deps Dependencies) *AdminHandler {
	return &AdminHandler{deps: deps}
}

type reloadResponse struct {
	Reloaded bool   `json:"reloaded"`
	Version  string `json:"version,omitempty"`
	Entries  int    `json:"entries,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HandleModelStatus handles GET /v1/models.
func (h *AdminHandler) HandleModelStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.ModelStatus())
}

// HandleReloadModels handles POST /v1/models/reload. A failed reload keeps
// the previous models serving and answers 500 with the load error.
func (h *AdminHandler) HandleReloadModels(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.ReloadModels(r.Context()); err != nil {
		status, _ := statusFor(err)
		logger.Named("http").Warn(r.Context(), "model reload failed", logger.Error(err))
		writeJSON(w, status, reloadResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, reloadResponse{Reloaded: true, Version: h.deps.ModelStatus().Version})
}

// HandleReloadBenchmarks handles POST /v1/benchmarks/reload.
func (h *AdminHandler) HandleReloadBenchmarks(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.ReloadBenchmarks(r.Context()); err != nil {
		status, _ := statusFor(err)
		writeJSON(w, status, reloadResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, reloadResponse{Reloaded: true, Entries: h.deps.GetStats().BenchmarkEntries})
}

type benchmarksResponse struct {
	PracticeArea string                    `json:"practice_area,omitempty"`
	Benchmarks   []benchmark.RateBenchmark `json:"benchmarks"`
}

// HandleListBenchmarks handles GET /v1/benchmarks?practice_area=.
func (h *AdminHandler) HandleListBenchmarks(w http.ResponseWriter, r *http.Request) {
	area := r.URL.Query().Get("practice_area")
	list, err := h.deps.Benchmarks(area)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []benchmark.RateBenchmark{}
	}
	writeJSON(w, http.StatusOK, benchmarksResponse{PracticeArea: area, Benchmarks: list})
}
