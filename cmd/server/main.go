// Package main implements the entry point for the batch engine
// server, which accepts batch jobs over HTTP and executes them with
// bounded parallelism, retries, and circuit breaking.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"

	"github.com/batchcore/batchcore/internal/config"
	"github.com/batchcore/batchcore/internal/platform/logger"
)

func main() {
	app, err := initializeApp()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.startHTTPServer(context.Background(), app.setupRouter()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// initializeApp loads configuration and wires the application
// components together.
func initializeApp() (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	slog.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"default_max_concurrent", cfg.Engine.DefaultMaxConcurrent,
		"backoff_strategy", cfg.Engine.Backoff.Strategy)

	return newApplication(cfg, appLogger), nil
}
