package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/batchcore/batchcore/internal/breaker"
	"github.com/batchcore/batchcore/internal/retry"
)

// ErrTimeout is the sentinel wrapped into an attempt error when a
// task's per-attempt deadline elapses before the handler returns.
var ErrTimeout = errors.New("task attempt timed out")

// Executor runs a single task: it resolves the handler, gates every
// attempt through the type's circuit breaker, enforces the per-attempt
// timeout, and retries failed attempts using the backoff policy.
type Executor struct {
	registry *Registry
	policy   *retry.Policy
	logger   *slog.Logger
}

// NewExecutor creates an Executor. The registry supplies handlers,
// breakers, and metrics; the policy supplies backoff delays between
// retry attempts.
func NewExecutor(registry *Registry, policy *retry.Policy, logger *slog.Logger) *Executor {
	return &Executor{
		registry: registry,
		policy:   policy,
		logger:   logger,
	}
}

// Execute runs one task to a terminal Result. The handler is called at
// most t.MaxRetries+1 times. A circuit-open rejection counts as a
// failed attempt but skips the backoff sleep: waiting out a backoff
// against an open breaker would defeat the point of failing fast.
func (e *Executor) Execute(ctx context.Context, t Task) Result {
	started := time.Now()
	logger := e.logger.With("task_id", t.ID, "task_type", t.Type)

	reg, err := e.registry.lookup(t.Type)
	if err != nil {
		logger.Error("task references unregistered handler", "error", err)
		return e.failed(t, started, 0, err, ErrorKindConfiguration)
	}

	var lastErr error
	attempt := 0
	for {
		attempt++

		value, err := e.attempt(ctx, reg, t)
		if err == nil {
			logger.Debug("task completed", "attempt", attempt)
			return Result{
				TaskID:        t.ID,
				Status:        StatusCompleted,
				Value:         value,
				ExecutionTime: time.Since(started),
				Retries:       attempt - 1,
				CompletedAt:   time.Now(),
			}
		}
		lastErr = err

		if attempt > t.MaxRetries {
			break
		}

		if errors.Is(err, breaker.ErrOpen) {
			// Fail fast: a rejected call consumes a retry but never a
			// backoff delay.
			logger.Debug("attempt rejected by open circuit", "attempt", attempt)
			continue
		}

		delay := e.policy.Delay(attempt)
		logger.Debug("attempt failed, backing off",
			"attempt", attempt,
			"delay", delay,
			"error", err)
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			// The surrounding run is shutting down; stop retrying and
			// report the last attempt's failure.
			break
		}
	}

	kind := classify(lastErr)
	logger.Warn("task failed after exhausting attempts",
		"attempts", attempt,
		"error_kind", kind,
		"error", lastErr)
	return e.failed(t, started, attempt-1, lastErr, kind)
}

// attempt performs one breaker-gated handler call and records its
// outcome on the breaker and the metrics log. Rejected calls never
// reach the handler and are not recorded as handler attempts.
func (e *Executor) attempt(ctx context.Context, reg *registration, t Task) (any, error) {
	if err := reg.breaker.Allow(); err != nil {
		return nil, err
	}

	attemptCtx := ctx
	cancel := func() {}
	if t.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, t.Timeout)
	}
	defer cancel()

	started := time.Now()
	value, err := invoke(attemptCtx, reg.handler, t.Payload)
	duration := time.Since(started)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrTimeout, t.Timeout)
		}
		reg.breaker.RecordFailure()
		reg.metrics.Record(false, duration, err)
		return nil, err
	}

	reg.breaker.RecordSuccess()
	reg.metrics.Record(true, duration, nil)
	return value, nil
}

type handlerOutcome struct {
	value any
	err   error
}

// invoke runs the handler in its own goroutine so a hung handler
// cannot outlive the attempt deadline. Handler panics are converted to
// errors; a single failing task must never take down the engine.
func invoke(ctx context.Context, h Handler, payload json.RawMessage) (any, error) {
	done := make(chan handlerOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- handlerOutcome{err: fmt.Errorf("handler panicked: %v", p)}
			}
		}()
		value, err := h(ctx, payload)
		done <- handlerOutcome{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.value, out.err
	}
}

// classify maps an attempt error to its reporting category.
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, breaker.ErrOpen):
		return ErrorKindCircuitOpen
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	default:
		return ErrorKindHandler
	}
}

func (e *Executor) failed(t Task, started time.Time, retries int, err error, kind ErrorKind) Result {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Result{
		TaskID:        t.ID,
		Status:        StatusFailed,
		Error:         msg,
		ErrorKind:     kind,
		ExecutionTime: time.Since(started),
		Retries:       retries,
		CompletedAt:   time.Now(),
	}
}

// sleep blocks for d or until ctx is cancelled. A zero or negative d
// returns immediately.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
