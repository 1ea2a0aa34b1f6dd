package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"coursestream/internal/storage"
	"coursestream/internal/transcode"
)

type conversionRequest struct {
	SourcePath string `json:"sourcePath"`
	BaseName   string `json:"baseName"`
}

type batchRequest struct {
	Candidates []transcode.Candidate `json:"candidates"`
}

type jobResponse struct {
	ID        string `json:"id"`
	BaseName  string `json:"baseName"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func toJobResponse(job storage.TranscodeJob) jobResponse {
	return jobResponse{
		ID:        job.ID,
		BaseName:  job.BaseName,
		Status:    string(job.Status),
		Error:     job.Error,
		CreatedAt: job.CreatedAt.Format(timeFormat),
		UpdatedAt: job.UpdatedAt.Format(timeFormat),
	}
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Jobs handles POST /api/jobs: request conversion of one source file.
// An asset whose manifest already exists yields 200 with an
// "already-converted" marker instead of a new job.
func (h *Handler) Jobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	var req conversionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}
	if strings.TrimSpace(req.SourcePath) == "" || strings.TrimSpace(req.BaseName) == "" {
		writeError(w, http.StatusBadRequest, errors.New("sourcePath and baseName are required"))
		return
	}

	job, err := h.Orchestrator.RequestConversion(r.Context(), req.SourcePath, req.BaseName)
	if errors.Is(err, transcode.ErrAlreadyConverted) {
		writeJSON(w, http.StatusOK, map[string]string{
			"baseName": req.BaseName,
			"result":   "already-converted",
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.New("unable to queue conversion"))
		h.logger().Error("queue conversion failed", "base_name", req.BaseName, "error", err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

// JobsBatch handles POST /api/jobs/batch: apply conversion to every
// candidate, reporting a per-file outcome. One bad candidate never aborts
// the rest.
func (h *Handler) JobsBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}
	if len(req.Candidates) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("candidates are required"))
		return
	}
	outcomes := h.Orchestrator.RequestConversionForAll(r.Context(), req.Candidates)
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

// JobByID handles GET /api/jobs/{id}: poll a job's status.
func (h *Handler) JobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, errors.New("job not found"))
		return
	}
	job, err := h.Store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, errors.New("job not found"))
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func errMethodNotAllowed(method string) error {
	return fmt.Errorf("method %s not allowed", method)
}
