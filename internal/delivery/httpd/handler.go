package httpd

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/gradeflow/eval-service/internal/models"
	"github.com/gradeflow/eval-service/internal/service"
)

type Handler struct {
	evalService service.EvaluationService
	logger      zerolog.Logger
}

func NewHandler(evalService service.EvaluationService, logger zerolog.Logger) *Handler {
	return &Handler{
		evalService: evalService,
		logger:      logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	// Health check
	router.Get("/health", h.HealthCheck)
	router.Get("/status", h.GetServiceStatus)

	// Versioned API
	router.Route("/api/v1", func(api chi.Router) {
		api.Route("/submissions", func(r chi.Router) {
			r.Post("/", h.EnqueueSubmission)
			r.Get("/{submission_id}/result", h.GetResult)
			r.Get("/{submission_id}/similarity", h.GetSimilarityReport)
			r.Delete("/{submission_id}", h.CancelSubmission)
		})

		api.Route("/assignments", func(r chi.Router) {
			r.Get("/{assignment_id}/rubric", h.GetRubric)
			r.Put("/{assignment_id}/rubric", h.UpsertRubric)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	response := map[string]interface{}{
		"success": true,
		"data":    data,
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Internal service error")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
