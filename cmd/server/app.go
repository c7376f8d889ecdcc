package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/batchcore/batchcore/internal/breaker"
	"github.com/batchcore/batchcore/internal/config"
	"github.com/batchcore/batchcore/internal/job"
	"github.com/batchcore/batchcore/internal/retry"
	"github.com/batchcore/batchcore/internal/scheduler"
	"github.com/batchcore/batchcore/internal/task"
)

// application holds the wired components shared by the HTTP layer.
type application struct {
	config      *config.Config
	logger      *slog.Logger
	registry    *task.Registry
	coordinator *job.Coordinator
}

// newApplication builds the engine from configuration: the shared
// handler registry, the per-task executor, and the job coordinator.
func newApplication(cfg *config.Config, logger *slog.Logger) *application {
	registry := task.NewRegistry(breaker.Settings{
		Threshold: cfg.Engine.BreakerThreshold,
		Timeout:   time.Duration(cfg.Engine.BreakerTimeoutSeconds) * time.Second,
	})

	policy := retry.NewPolicy(retry.Config{
		Strategy:   retry.Strategy(cfg.Engine.Backoff.Strategy),
		BaseDelay:  time.Duration(cfg.Engine.Backoff.BaseDelayMS) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.Engine.Backoff.MaxDelayMS) * time.Millisecond,
		Multiplier: cfg.Engine.Backoff.Multiplier,
		Jitter:     cfg.Engine.Backoff.Jitter,
	}, nil)

	executor := task.NewExecutor(registry, policy, logger)

	coordinator := job.NewCoordinator(registry, executor, scheduler.New(logger), job.Config{
		DefaultMaxConcurrent: cfg.Engine.DefaultMaxConcurrent,
		DefaultMaxRetries:    cfg.Engine.DefaultMaxRetries,
	}, logger)

	app := &application{
		config:      cfg,
		logger:      logger,
		registry:    registry,
		coordinator: coordinator,
	}
	app.registerBuiltinHandlers()
	return app
}

// registerBuiltinHandlers installs the generic handlers shipped with
// the server. Deployments embed this package and register their own
// domain handlers alongside these.
func (app *application) registerBuiltinHandlers() {
	// echo returns its payload unchanged; used for smoke tests.
	app.registry.Register("echo", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var value any
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &value); err != nil {
				return nil, fmt.Errorf("invalid echo payload: %w", err)
			}
		}
		return value, nil
	})

	// sleep pauses for duration_ms; used to exercise concurrency
	// bounds and timeouts.
	app.registry.Register("sleep", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			DurationMS int `json:"duration_ms"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid sleep payload: %w", err)
		}

		select {
		case <-time.After(time.Duration(req.DurationMS) * time.Millisecond):
			return map[string]any{"slept_ms": req.DurationMS}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// cleanup runs after the HTTP server has shut down.
func (app *application) cleanup() {
	// Drop finished jobs so a supervised restart starts clean; jobs
	// are in-memory only.
	removed := app.coordinator.CleanupCompletedJobs(0)
	app.logger.Info("application cleanup completed", "jobs_removed", removed)
}
