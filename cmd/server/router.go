package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/batchcore/batchcore/internal/api"
)

// setupRouter creates and configures the application router with all
// routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	jobHandler := api.NewJobHandler(app.coordinator, app.logger)
	registryHandler := api.NewRegistryHandler(app.registry, app.logger)

	r.Route("/api", func(r chi.Router) {
		// Job lifecycle
		r.Post("/jobs", jobHandler.CreateJob)
		r.Post("/jobs/cleanup", jobHandler.CleanupJobs)
		r.Post("/jobs/{id}/run", jobHandler.RunJob)
		r.Get("/jobs/{id}", jobHandler.GetJobStatus)
		r.Post("/jobs/{id}/cancel", jobHandler.CancelJob)

		// Handler-type introspection
		r.Get("/handlers/{type}/circuit", registryHandler.GetCircuitStatus)
		r.Get("/handlers/{type}/metrics", registryHandler.GetRetryMetrics)
		r.Post("/handlers/{type}/metrics/reset", registryHandler.ResetRetryMetrics)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
