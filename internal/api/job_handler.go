// Package api implements the HTTP surface over the batch engine: job
// submission and lifecycle endpoints plus per-handler-type
// introspection. The engine itself never depends on this package.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/batchcore/batchcore/internal/api/shared"
	"github.com/batchcore/batchcore/internal/job"
	"github.com/batchcore/batchcore/internal/task"
)

// JobHandler handles job-related HTTP requests.
type JobHandler struct {
	coordinator *job.Coordinator
	validator   *validator.Validate
	logger      *slog.Logger
}

// NewJobHandler creates a JobHandler around the coordinator.
func NewJobHandler(coordinator *job.Coordinator, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		coordinator: coordinator,
		validator:   validator.New(),
		logger:      logger,
	}
}

// CreateJob handles POST /api/jobs requests.
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	tasks, err := resolveTaskSpecs(req.Tasks)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := h.coordinator.CreateJob(req.Name, tasks, req.MaxConcurrentTasks)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, CreateJobResponse{JobID: jobID})
}

// resolveTaskSpecs turns request task specs into engine tasks,
// translating key-based dependency references into task IDs.
func resolveTaskSpecs(specs []TaskSpec) ([]task.Task, error) {
	idsByKey := make(map[string]uuid.UUID, len(specs))
	for _, spec := range specs {
		if _, dup := idsByKey[spec.Key]; dup {
			return nil, fmt.Errorf("duplicate task key %q", spec.Key)
		}
		idsByKey[spec.Key] = uuid.New()
	}

	tasks := make([]task.Task, 0, len(specs))
	for _, spec := range specs {
		deps := make([]uuid.UUID, 0, len(spec.DependsOn))
		for _, key := range spec.DependsOn {
			depID, ok := idsByKey[key]
			if !ok {
				return nil, fmt.Errorf("task %q depends on unknown key %q", spec.Key, key)
			}
			deps = append(deps, depID)
		}

		maxRetries := -1 // coordinator applies the engine default
		if spec.MaxRetries != nil {
			maxRetries = *spec.MaxRetries
		}

		tasks = append(tasks, task.Task{
			ID:           idsByKey[spec.Key],
			Type:         spec.Type,
			Payload:      spec.Payload,
			Priority:     spec.Priority,
			Dependencies: deps,
			MaxRetries:   maxRetries,
			Timeout:      time.Duration(spec.TimeoutMS) * time.Millisecond,
		})
	}
	return tasks, nil
}

// RunJob handles POST /api/jobs/{id}/run requests. The job runs to
// completion before the summary is returned.
func (h *JobHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.coordinator.RunJob(r.Context(), jobID, nil)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewJobSummaryResponse(summary))
}

// GetJobStatus handles GET /api/jobs/{id} requests.
func (h *JobHandler) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	info, err := h.coordinator.GetJobStatus(jobID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, info)
}

// CancelJob handles POST /api/jobs/{id}/cancel requests.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	cancelled := h.coordinator.CancelJob(jobID)
	shared.RespondWithJSON(w, r, http.StatusOK, CancelJobResponse{Cancelled: cancelled})
}

// CleanupJobs handles POST /api/jobs/cleanup requests, removing
// terminal jobs older than the requested age.
func (h *JobHandler) CleanupJobs(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	removed := h.coordinator.CleanupCompletedJobs(time.Duration(req.MaxAgeSeconds) * time.Second)
	shared.RespondWithJSON(w, r, http.StatusOK, CleanupResponse{Removed: removed})
}

// getPathUUID extracts and parses a UUID path parameter.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, fmt.Errorf("path parameter %q is required", paramName)
	}

	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, fmt.Errorf("path parameter %q is not a valid UUID", paramName)
	}
	return id, nil
}
