package api

import (
	"errors"
	"net/http"

	"github.com/batchcore/batchcore/internal/job"
	"github.com/batchcore/batchcore/internal/task"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status
// codes based on the error type. This prevents leaking internal error
// types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Bad request errors: invalid job/task definitions. Checked first
	// because a rejected submission may also wrap ErrHandlerNotFound.
	case errors.Is(err, job.ErrInvalidJob):
		return http.StatusBadRequest

	// Not found errors
	case errors.Is(err, job.ErrJobNotFound),
		errors.Is(err, task.ErrHandlerNotFound):
		return http.StatusNotFound

	// Conflict: the job exists but is not in a runnable state
	case errors.Is(err, job.ErrNotRunnable):
		return http.StatusConflict

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, job.ErrInvalidJob):
		// Validation detail is safe to surface; it describes the
		// caller's own submission.
		return err.Error()

	case errors.Is(err, job.ErrJobNotFound):
		return "Job not found"

	case errors.Is(err, task.ErrHandlerNotFound):
		return "Unknown task type"

	case errors.Is(err, job.ErrNotRunnable):
		return "Job has already been started"

	default:
		return "An unexpected error occurred"
	}
}
