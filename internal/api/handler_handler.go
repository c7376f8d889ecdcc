package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/batchcore/batchcore/internal/api/shared"
	"github.com/batchcore/batchcore/internal/task"
)

// RegistryHandler serves introspection over registered handler types:
// circuit breaker state and retry metrics.
type RegistryHandler struct {
	registry *task.Registry
	logger   *slog.Logger
}

// NewRegistryHandler creates a RegistryHandler.
func NewRegistryHandler(registry *task.Registry, logger *slog.Logger) *RegistryHandler {
	return &RegistryHandler{
		registry: registry,
		logger:   logger,
	}
}

// GetCircuitStatus handles GET /api/handlers/{type}/circuit requests.
func (h *RegistryHandler) GetCircuitStatus(w http.ResponseWriter, r *http.Request) {
	taskType := chi.URLParam(r, "type")

	status, err := h.registry.CircuitStatus(taskType)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, status)
}

// GetRetryMetrics handles GET /api/handlers/{type}/metrics requests.
func (h *RegistryHandler) GetRetryMetrics(w http.ResponseWriter, r *http.Request) {
	taskType := chi.URLParam(r, "type")

	metrics, err := h.registry.Metrics(taskType)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, metrics)
}

// ResetRetryMetrics handles POST /api/handlers/{type}/metrics/reset
// requests. Metrics are never reset implicitly.
func (h *RegistryHandler) ResetRetryMetrics(w http.ResponseWriter, r *http.Request) {
	taskType := chi.URLParam(r, "type")

	if err := h.registry.ResetMetrics(taskType); err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	h.logger.Info("retry metrics reset", "task_type", taskType)
	w.WriteHeader(http.StatusNoContent)
}
