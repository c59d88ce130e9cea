package api

import (
	"net/http"

	"github.com/okian/invoicerisk/internal/domain/model"
	"github.com/okian/invoicerisk/internal/domain/types"
)

// ScoreHandler serves the synchronous scoring and benchmarking endpoints.
type ScoreHandler struct {
	deps         Dependencies
	maxBodyBytes int64
}

// NewScoreHandler creates a new score handler.
func NewScoreHandler(deps Dependencies, maxBodyBytes int64) *ScoreHandler {
	return &ScoreHandler{deps: deps, maxBodyBytes: maxBodyBytes}
}

func (h *ScoreHandler) decode(w http.ResponseWriter, r *http.Request, op string) (types.CompareRequest, bool) {
	var req types.CompareRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return req, false
	}
	if req.LineItems == nil {
		writeError(w, WrapKind(op, ErrBadRequest, errMissingLineItems))
		return req, false
	}
	return req, true
}

// HandleScore handles POST /v1/score.
func (h *ScoreHandler) HandleScore(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r, "score")
	if !ok {
		return
	}
	resp, err := h.deps.ScoreRecords(r.Context(), req.LineItems)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleBenchmark handles POST /v1/benchmark.
func (h *ScoreHandler) HandleBenchmark(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r, "benchmark")
	if !ok {
		return
	}
	cmp, err := h.deps.Compare(r.Context(), req.PracticeArea, model.FromRecords(req.LineItems))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

// HandleAnalyze handles POST /v1/analyze: scoring plus benchmarking.
func (h *ScoreHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r, "analyze")
	if !ok {
		return
	}
	res, err := h.deps.Analyze(r.Context(), req.PracticeArea, model.FromRecords(req.LineItems))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
