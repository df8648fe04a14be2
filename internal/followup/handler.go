package followup

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

// Handler exposes follow-up job status to operators.
type Handler struct {
	jobs   JobRecorder
	logger *logging.Logger
}

func NewHandler(jobs JobRecorder, logger *logging.Logger) *Handler {
	if jobs == nil {
		panic("followup: job recorder required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{jobs: jobs, logger: logger}
}

// JobStatus returns the tracked state of one job.
// GET /admin/jobs/{jobID}
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing job id"})
		return
	}
	job, err := h.jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, ErrJobNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load job", "job_id", jobID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
