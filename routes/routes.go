package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/taskpilot/taskpilot/app"
	"github.com/taskpilot/taskpilot/handlers"
	"github.com/taskpilot/taskpilot/middleware"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)

	// Dispatches block for the duration of the fallback chain, so the router
	// timeout must sit above the per-attempt timeout, not the usual few seconds.
	r.Use(chimiddleware.Timeout(deps.Config.Dispatch.AttemptTimeout + time.Minute))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	taskHandler := handlers.NewTaskHandler(deps.Dispatcher, deps.Logger)
	fallbackHandler := handlers.NewFallbackHandler(deps.Fallback, deps.Logger)
	outcomeHandler := handlers.NewOutcomeHandler(deps.Stores.Outcomes, deps.Logger)
	backendHandler := handlers.NewBackendHandler(deps.Registry, deps.Logger)
	healthHandler := handlers.NewHealthHandler(deps.Stores.Pinger, deps.Logger)
	tokenHandler := handlers.NewTokenHandler(deps.Auth, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	// Token exchange; callers authenticate with the static API token in the
	// body, so this stays outside the bearer-auth group.
	r.Post("/auth/token", tokenHandler.HandleMintToken)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)

		// Task dispatch and dry-run routing
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", taskHandler.HandleSubmitTask)
			r.Post("/route", taskHandler.HandleRouteTask)
		})

		// Orchestrator status summary
		r.Get("/status", taskHandler.HandleStatus)

		// Manual fallback control
		r.Route("/fallback", func(r chi.Router) {
			r.Post("/rate-limit", fallbackHandler.HandleRateLimit)
			r.Post("/clear", fallbackHandler.HandleClear)
		})

		// Durable task outcomes
		r.Route("/outcomes", func(r chi.Router) {
			r.Get("/unreported", outcomeHandler.HandleListUnreported)
			r.Get("/{taskID}", outcomeHandler.HandleGetOutcome)
			r.Post("/{taskID}/report", outcomeHandler.HandleMarkReported)
		})

		// Backend directory
		r.Get("/backends", backendHandler.HandleListBackends)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
