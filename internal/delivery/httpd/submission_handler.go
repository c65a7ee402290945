package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gradeflow/eval-service/internal/models"
)

func (h *Handler) EnqueueSubmission(w http.ResponseWriter, r *http.Request) {
	var req models.EnqueueSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()
	resp, err := h.evalService.EnqueueSubmission(ctx, &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submission_id")
	if submissionID == "" {
		writeError(w, http.StatusBadRequest, "Submission ID is required")
		return
	}

	ctx := r.Context()
	result, err := h.evalService.GetResult(ctx, submissionID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, result)
}

func (h *Handler) GetSimilarityReport(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submission_id")
	if submissionID == "" {
		writeError(w, http.StatusBadRequest, "Submission ID is required")
		return
	}

	ctx := r.Context()
	report, err := h.evalService.GetSimilarityReport(ctx, submissionID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, report)
}

func (h *Handler) CancelSubmission(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submission_id")
	if submissionID == "" {
		writeError(w, http.StatusBadRequest, "Submission ID is required")
		return
	}

	ctx := r.Context()
	if err := h.evalService.Cancel(ctx, submissionID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]string{
		"submission_id": submissionID,
		"status":        "cancellation_requested",
	})
}
