// Package job owns the batch-job lifecycle: creation and validation,
// dependency-ordered execution under a concurrency bound, result
// aggregation, cancellation, and in-memory cleanup of finished jobs.
package job

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/batchcore/batchcore/internal/task"
)

// Status represents the overall state of a batch job.
type Status string

// Possible job status values.
const (
	StatusPending            Status = "pending"
	StatusRunning            Status = "running"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusCancelled          Status = "cancelled"
	StatusPartiallyCompleted Status = "partially_completed"
)

// Terminal reports whether the job can no longer change state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusPartiallyCompleted:
		return true
	}
	return false
}

// Job is a named batch of tasks executed together under one
// concurrency bound. The coordinator exclusively mutates it while
// running; once the status is terminal it never changes again.
type Job struct {
	mu sync.Mutex

	id            uuid.UUID
	name          string
	tasks         map[uuid.UUID]task.Task
	maxConcurrent int

	status      Status
	cancelled   bool
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time

	results   map[uuid.UUID]task.Result
	completed int
	failed    int
	skipped   int
}

func newJob(name string, tasks []task.Task, maxConcurrent int) *Job {
	byID := make(map[uuid.UUID]task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	return &Job{
		id:            uuid.New(),
		name:          name,
		tasks:         byID,
		maxConcurrent: maxConcurrent,
		status:        StatusPending,
		createdAt:     time.Now(),
		results:       make(map[uuid.UUID]task.Result, len(tasks)),
	}
}

// ID returns the job's unique identifier.
func (j *Job) ID() uuid.UUID {
	return j.id
}

// Name returns the job's display name.
func (j *Job) Name() string {
	return j.name
}

// markRunning transitions a pending job to running. Reports false if
// the job was not pending.
func (j *Job) markRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != StatusPending {
		return false
	}
	j.status = StatusRunning
	j.startedAt = time.Now()
	return true
}

// cancel requests cancellation. Reports false once the job is already
// terminal; cancelling a pending or running job always succeeds.
func (j *Job) cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.Terminal() {
		return false
	}
	j.cancelled = true
	if j.status == StatusPending {
		// Never started: settle immediately.
		j.status = StatusCancelled
		j.completedAt = time.Now()
	}
	return true
}

func (j *Job) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

// record stores one task's terminal result and updates the aggregate
// counters. Results are delivered serially by the coordinator's run
// loop, but introspection reads race against it, hence the lock.
func (j *Job) record(res task.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.results[res.TaskID] = res
	switch res.Status {
	case task.StatusCompleted:
		j.completed++
	case task.StatusFailed:
		j.failed++
	case task.StatusSkipped:
		j.skipped++
	}
}

// settle derives and applies the terminal status once every task has a
// result. Terminal status is derived, never chosen.
func (j *Job) settle() {
	j.mu.Lock()
	defer j.mu.Unlock()

	total := len(j.tasks)
	switch {
	case j.cancelled:
		j.status = StatusCancelled
	case j.completed == total:
		j.status = StatusCompleted
	case j.completed > 0:
		j.status = StatusPartiallyCompleted
	default:
		j.status = StatusFailed
	}
	j.completedAt = time.Now()
}

// StatusInfo is a point-in-time view of a job for introspection.
type StatusInfo struct {
	Status         Status  `json:"status"`
	Progress       float64 `json:"progress"`
	TotalTasks     int     `json:"total_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
	FailedTasks    int     `json:"failed_tasks"`
}

// statusInfo snapshots the job's status and fractional progress.
func (j *Job) statusInfo() StatusInfo {
	j.mu.Lock()
	defer j.mu.Unlock()

	total := len(j.tasks)
	progress := 0.0
	if total > 0 {
		progress = float64(j.completed+j.failed+j.skipped) / float64(total)
	}
	return StatusInfo{
		Status:         j.status,
		Progress:       progress,
		TotalTasks:     total,
		CompletedTasks: j.completed,
		FailedTasks:    j.failed,
	}
}

// Summary is the aggregate outcome of a finished run, returned to the
// caller instead of raising errors across the async boundary.
type Summary struct {
	JobID          uuid.UUID     `json:"job_id"`
	Name           string        `json:"name"`
	Status         Status        `json:"status"`
	TotalTasks     int           `json:"total_tasks"`
	CompletedTasks int           `json:"completed_tasks"`
	FailedTasks    int           `json:"failed_tasks"`
	SuccessRate    float64       `json:"success_rate"`
	TaskResults    []task.Result `json:"task_results"`
	ExecutionTime  time.Duration `json:"execution_time"`
}

// summary builds the Summary for a settled job.
func (j *Job) summary() Summary {
	j.mu.Lock()
	defer j.mu.Unlock()

	total := len(j.tasks)
	rate := 0.0
	if total > 0 {
		rate = float64(j.completed) / float64(total)
	}

	results := make([]task.Result, 0, len(j.results))
	for _, res := range j.results {
		results = append(results, res)
	}

	elapsed := time.Duration(0)
	if !j.startedAt.IsZero() && !j.completedAt.IsZero() {
		elapsed = j.completedAt.Sub(j.startedAt)
	}

	return Summary{
		JobID:          j.id,
		Name:           j.name,
		Status:         j.status,
		TotalTasks:     total,
		CompletedTasks: j.completed,
		FailedTasks:    j.failed,
		SuccessRate:    rate,
		TaskResults:    results,
		ExecutionTime:  elapsed,
	}
}

// terminalBefore reports whether the job finished before the cutoff,
// for cleanup sweeps.
func (j *Job) terminalBefore(cutoff time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status.Terminal() && !j.completedAt.IsZero() && j.completedAt.Before(cutoff)
}
