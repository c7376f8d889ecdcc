// Package task defines the unit-of-work model for the batch engine:
// tasks, their results, the handler registry that binds task types to
// executable handlers, and the executor that runs a single task with
// timeout, retry, and circuit-breaker protection.
package task

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a task.
type Status string

// Possible task status values.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether no further status transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Handler is the externally-supplied function that performs a task's
// actual work. The payload is opaque to the engine; handlers validate
// it against their own schema. The returned value is recorded on the
// TaskResult as-is.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// Task is one schedulable unit of work within a job.
type Task struct {
	// ID uniquely identifies the task within its job.
	ID uuid.UUID `json:"id"`

	// Type is the key used to look up the registered handler.
	Type string `json:"type"`

	// Payload is arbitrary structured data passed through to the
	// handler. The scheduler never inspects it.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Priority breaks ties among simultaneously-ready tasks; higher
	// runs first.
	Priority int `json:"priority"`

	// Dependencies are IDs of tasks in the same job that must reach a
	// terminal result before this task becomes eligible to run.
	Dependencies []uuid.UUID `json:"dependencies,omitempty"`

	// MaxRetries bounds re-execution after a failed attempt. The
	// handler is called at most MaxRetries+1 times.
	MaxRetries int `json:"max_retries"`

	// Timeout bounds a single attempt. Zero means no per-attempt
	// deadline.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ErrorKind classifies a task failure for reporting.
type ErrorKind string

// Failure categories surfaced on TaskResult.
const (
	ErrorKindTimeout       ErrorKind = "timeout"
	ErrorKindHandler       ErrorKind = "handler"
	ErrorKindCircuitOpen   ErrorKind = "circuit_open"
	ErrorKindConfiguration ErrorKind = "configuration"
)

// Result is the immutable outcome of a task's final attempt. Exactly
// one Result exists per task once its job finishes.
type Result struct {
	TaskID        uuid.UUID     `json:"task_id"`
	Status        Status        `json:"status"`
	Value         any           `json:"result,omitempty"`
	Error         string        `json:"error,omitempty"`
	ErrorKind     ErrorKind     `json:"error_kind,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
	Retries       int           `json:"retries"`
	CompletedAt   time.Time     `json:"completed_at"`
}
