package api

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/batchcore/batchcore/internal/job"
	"github.com/batchcore/batchcore/internal/task"
)

// TaskSpec describes one task in a job submission. Tasks reference
// each other through client-chosen keys; the handler assigns UUIDs and
// resolves the key references before handing the job to the
// coordinator.
type TaskSpec struct {
	// Key identifies the task within the request, for dependency
	// references. Must be unique per job.
	Key string `json:"key" validate:"required"`

	// Type selects the registered handler.
	Type string `json:"type" validate:"required"`

	// Payload is passed to the handler untouched.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Priority breaks ties among ready tasks; higher runs first.
	Priority int `json:"priority"`

	// DependsOn lists the keys of tasks that must finish first.
	DependsOn []string `json:"depends_on,omitempty"`

	// MaxRetries overrides the engine default when set.
	MaxRetries *int `json:"max_retries,omitempty" validate:"omitempty,gte=0"`

	// TimeoutMS bounds one attempt, in milliseconds. Zero disables the
	// per-attempt deadline.
	TimeoutMS int `json:"timeout_ms" validate:"gte=0"`
}

// CreateJobRequest defines the payload for the job creation endpoint.
type CreateJobRequest struct {
	Name               string     `json:"name"                 validate:"required,max=200"`
	Tasks              []TaskSpec `json:"tasks"                validate:"required,min=1,dive"`
	MaxConcurrentTasks int        `json:"max_concurrent_tasks" validate:"gte=0"`
}

// CreateJobResponse is returned on successful job creation.
type CreateJobResponse struct {
	JobID uuid.UUID `json:"job_id"`
}

// JobSummaryResponse mirrors the coordinator's summary for API
// clients, with durations in milliseconds.
type JobSummaryResponse struct {
	JobID           uuid.UUID            `json:"job_id"`
	Name            string               `json:"name"`
	Status          job.Status           `json:"status"`
	TotalTasks      int                  `json:"total_tasks"`
	CompletedTasks  int                  `json:"completed_tasks"`
	FailedTasks     int                  `json:"failed_tasks"`
	SuccessRate     float64              `json:"success_rate"`
	ExecutionTimeMS int64                `json:"execution_time_ms"`
	TaskResults     []TaskResultResponse `json:"task_results"`
}

// TaskResultResponse is the API view of one task's terminal result.
type TaskResultResponse struct {
	TaskID          uuid.UUID      `json:"task_id"`
	Status          task.Status    `json:"status"`
	Result          any            `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	ErrorKind       task.ErrorKind `json:"error_kind,omitempty"`
	Retries         int            `json:"retries"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
}

// NewJobSummaryResponse converts a coordinator summary.
func NewJobSummaryResponse(s job.Summary) JobSummaryResponse {
	results := make([]TaskResultResponse, 0, len(s.TaskResults))
	for _, res := range s.TaskResults {
		results = append(results, TaskResultResponse{
			TaskID:          res.TaskID,
			Status:          res.Status,
			Result:          res.Value,
			Error:           res.Error,
			ErrorKind:       res.ErrorKind,
			Retries:         res.Retries,
			ExecutionTimeMS: res.ExecutionTime.Milliseconds(),
		})
	}
	return JobSummaryResponse{
		JobID:           s.JobID,
		Name:            s.Name,
		Status:          s.Status,
		TotalTasks:      s.TotalTasks,
		CompletedTasks:  s.CompletedTasks,
		FailedTasks:     s.FailedTasks,
		SuccessRate:     s.SuccessRate,
		ExecutionTimeMS: s.ExecutionTime.Milliseconds(),
		TaskResults:     results,
	}
}

// CancelJobResponse reports whether the cancellation was accepted.
type CancelJobResponse struct {
	Cancelled bool `json:"cancelled"`
}

// CleanupRequest defines the payload for the job cleanup endpoint.
type CleanupRequest struct {
	MaxAgeSeconds int `json:"max_age_seconds" validate:"gte=0"`
}

// CleanupResponse reports how many finished jobs were removed.
type CleanupResponse struct {
	Removed int `json:"removed"`
}
