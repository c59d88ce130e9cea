package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/okian/invoicerisk/internal/domain/model"
	"github.com/okian/invoicerisk/internal/domain/types"
)

var errMissingLineItems = errors.New("line_items is required")

// JobResponse acknowledges a submission.
type JobResponse struct {
	JobID     string          `json:"job_id"`
	Status    model.JobStatus `json:"status,omitempty"`
	Duplicate bool            `json:"duplicate"`
}

// JobsHandler handles job submission and lookup.
type JobsHandler struct {
	deps         Dependencies
	maxBodyBytes int64
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(deps Dependencies, maxBodyBytes int64) *JobsHandler {
	return &JobsHandler{deps: deps, maxBodyBytes: maxBodyBytes}
}

// HandleSubmit handles POST /v1/jobs. New jobs answer 202, resubmissions 200.
func (h *JobsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req types.JobRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, WrapKind("submit job", ErrBadRequest, err))
		return
	}
	if req.LineItems == nil {
		writeError(w, WrapKind("submit job", ErrBadRequest, errMissingLineItems))
		return
	}

	rec, duplicate, err := h.deps.SubmitJob(r.Context(), req.JobID, req.PracticeArea, model.FromRecords(req.LineItems))
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusAccepted
	if duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, JobResponse{JobID: rec.ID, Status: rec.Status, Duplicate: duplicate})
}

// HandleGet handles GET /v1/jobs/{jobID}.
func (h *JobsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.Job(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

