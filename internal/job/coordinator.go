package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/batchcore/batchcore/internal/scheduler"
	"github.com/batchcore/batchcore/internal/task"
)

// Errors surfaced by the coordinator. Validation errors abort job
// creation; they are never retried.
var (
	ErrJobNotFound   = errors.New("job not found")
	ErrNoTasks       = errors.New("job must contain at least one task")
	ErrNotRunnable   = errors.New("job has already been started")
	ErrInvalidJob    = errors.New("invalid job definition")
	ErrNilDependency = errors.New("task has an unset dependency id")
)

// ProgressFunc is invoked by the coordinator after every task result
// with the job id, fractional progress, and the running completed and
// failed counts.
type ProgressFunc func(jobID uuid.UUID, progress float64, completed, failed int)

// Config holds coordinator defaults applied to job submissions that
// leave the corresponding fields unset.
type Config struct {
	// DefaultMaxConcurrent bounds parallelism for jobs submitted
	// without an explicit limit. Values < 1 default to 4.
	DefaultMaxConcurrent int

	// DefaultMaxRetries applies to tasks submitted with a negative
	// retry count.
	DefaultMaxRetries int
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		DefaultMaxConcurrent: 4,
		DefaultMaxRetries:    3,
	}
}

// Coordinator owns every job in the process. The handler registry is
// shared, long-lived state passed in at construction; jobs and their
// results live here until cleaned up.
type Coordinator struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job

	registry  *task.Registry
	executor  *task.Executor
	scheduler *scheduler.Scheduler
	config    Config
	logger    *slog.Logger
}

// NewCoordinator creates a Coordinator using the given shared handler
// registry and single-task executor.
func NewCoordinator(
	registry *task.Registry,
	executor *task.Executor,
	sched *scheduler.Scheduler,
	config Config,
	logger *slog.Logger,
) *Coordinator {
	if config.DefaultMaxConcurrent < 1 {
		config.DefaultMaxConcurrent = DefaultConfig().DefaultMaxConcurrent
	}
	if config.DefaultMaxRetries < 0 {
		config.DefaultMaxRetries = DefaultConfig().DefaultMaxRetries
	}
	return &Coordinator{
		jobs:      make(map[uuid.UUID]*Job),
		registry:  registry,
		executor:  executor,
		scheduler: sched,
		config:    config,
		logger:    logger,
	}
}

// CreateJob validates the task set and registers a new pending job.
// Validation failures (no tasks, unregistered handler types, missing
// or cyclic dependencies) abort creation; nothing is stored.
func (c *Coordinator) CreateJob(name string, tasks []task.Task, maxConcurrent int) (uuid.UUID, error) {
	if len(tasks) == 0 {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidJob, ErrNoTasks)
	}

	for i := range tasks {
		if tasks[i].ID == uuid.Nil {
			tasks[i].ID = uuid.New()
		}
		if tasks[i].MaxRetries < 0 {
			tasks[i].MaxRetries = c.config.DefaultMaxRetries
		}
		if !c.registry.Registered(tasks[i].Type) {
			return uuid.Nil, fmt.Errorf("%w: %w: %q", ErrInvalidJob, task.ErrHandlerNotFound, tasks[i].Type)
		}
		for _, dep := range tasks[i].Dependencies {
			if dep == uuid.Nil {
				return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidJob, ErrNilDependency)
			}
		}
	}

	if err := scheduler.Validate(tasks); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	if maxConcurrent < 1 {
		maxConcurrent = c.config.DefaultMaxConcurrent
	}

	jb := newJob(name, tasks, maxConcurrent)

	c.mu.Lock()
	c.jobs[jb.ID()] = jb
	c.mu.Unlock()

	c.logger.Info("job created",
		"job_id", jb.ID(),
		"name", name,
		"tasks", len(tasks),
		"max_concurrent", maxConcurrent)
	return jb.ID(), nil
}

// RunJob executes a pending job to completion and returns its summary.
// Every dispatchable task runs to a terminal result regardless of
// sibling failures; only cancellation skips work, and even then the
// already-running tasks finish and record. ctx cancellation abandons
// dispatching (process shutdown), not individual running handlers.
func (c *Coordinator) RunJob(ctx context.Context, jobID uuid.UUID, progress ProgressFunc) (Summary, error) {
	jb, err := c.job(jobID)
	if err != nil {
		return Summary{}, err
	}
	if !jb.markRunning() {
		return Summary{}, fmt.Errorf("%w: job %s", ErrNotRunnable, jobID)
	}

	logger := c.logger.With("job_id", jobID, "job_name", jb.Name())
	logger.Info("job started", "tasks", len(jb.tasks), "max_concurrent", jb.maxConcurrent)

	pending := make(map[uuid.UUID]task.Task, len(jb.tasks))
	for id, t := range jb.tasks {
		pending[id] = t
	}
	terminal := make(map[uuid.UUID]struct{}, len(jb.tasks))

	sem := semaphore.NewWeighted(int64(jb.maxConcurrent))
	resultCh := make(chan task.Result)
	inflight := 0

	deliver := func(res task.Result) {
		terminal[res.TaskID] = struct{}{}
		jb.record(res)
		if progress != nil {
			info := jb.statusInfo()
			progress(jobID, info.Progress, info.CompletedTasks, info.FailedTasks)
		}
	}

	for len(pending) > 0 || inflight > 0 {
		if jb.isCancelled() {
			// Skip everything that has not been dispatched yet.
			for id, t := range pending {
				delete(pending, id)
				deliver(skippedResult(t, "job cancelled before task was dispatched"))
			}
		} else {
			ready := c.scheduler.Ready(pending, terminal)
			if len(ready) == 0 && inflight == 0 && len(pending) > 0 {
				// Should be unreachable behind CreateJob validation;
				// degrade instead of deadlocking.
				ready = c.scheduler.ReleaseAll(pending)
			}
			for _, t := range ready {
				delete(pending, t.ID)
				inflight++
				go c.dispatch(ctx, jb, t, sem, resultCh)
			}
		}

		if inflight > 0 {
			// Results are consumed one at a time; this loop is the
			// only writer of the job's aggregates.
			deliver(<-resultCh)
			inflight--
		}
	}

	jb.settle()
	summary := jb.summary()
	logger.Info("job finished",
		"status", summary.Status,
		"completed", summary.CompletedTasks,
		"failed", summary.FailedTasks,
		"duration", summary.ExecutionTime)
	return summary, nil
}

// dispatch waits for a concurrency slot, re-checks cancellation, and
// executes one task. The slot is released on every exit path.
func (c *Coordinator) dispatch(
	ctx context.Context,
	jb *Job,
	t task.Task,
	sem *semaphore.Weighted,
	out chan<- task.Result,
) {
	if err := sem.Acquire(ctx, 1); err != nil {
		out <- skippedResult(t, "run context cancelled while waiting for a slot")
		return
	}
	defer sem.Release(1)

	// Cancellation may have arrived while this task waited for a slot;
	// it has not started yet, so it must not start now.
	if jb.isCancelled() {
		out <- skippedResult(t, "job cancelled before task was dispatched")
		return
	}

	out <- c.executor.Execute(ctx, t)
}

func skippedResult(t task.Task, reason string) task.Result {
	return task.Result{
		TaskID:      t.ID,
		Status:      task.StatusSkipped,
		Error:       reason,
		CompletedAt: time.Now(),
	}
}

// GetJobStatus returns the job's current status and fractional
// progress.
func (c *Coordinator) GetJobStatus(jobID uuid.UUID) (StatusInfo, error) {
	jb, err := c.job(jobID)
	if err != nil {
		return StatusInfo{}, err
	}
	return jb.statusInfo(), nil
}

// GetJobSummary returns the summary of a job. Before the job settles
// the summary reflects partial progress.
func (c *Coordinator) GetJobSummary(jobID uuid.UUID) (Summary, error) {
	jb, err := c.job(jobID)
	if err != nil {
		return Summary{}, err
	}
	return jb.summary(), nil
}

// CancelJob requests cancellation. Running tasks finish and record
// their results; tasks that have not started are skipped. Reports
// false for unknown or already-terminal jobs.
func (c *Coordinator) CancelJob(jobID uuid.UUID) bool {
	jb, err := c.job(jobID)
	if err != nil {
		return false
	}
	cancelled := jb.cancel()
	if cancelled {
		c.logger.Info("job cancellation requested", "job_id", jobID)
	}
	return cancelled
}

// CleanupCompletedJobs removes terminal jobs that finished more than
// maxAge ago, freeing their task results. Returns how many jobs were
// removed. This is in-memory garbage collection, not persistence.
func (c *Coordinator) CleanupCompletedJobs(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, jb := range c.jobs {
		if jb.terminalBefore(cutoff) {
			delete(c.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Info("cleaned up finished jobs", "removed", removed, "max_age", maxAge)
	}
	return removed
}

func (c *Coordinator) job(jobID uuid.UUID) (*Job, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	jb, ok := c.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return jb, nil
}
