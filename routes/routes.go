package routes

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/upb/tavern-oracle/app"
	"github.com/upb/tavern-oracle/handlers"
	"github.com/upb/tavern-oracle/middleware"
	"github.com/upb/tavern-oracle/utils"
)

// requestTimeout bounds a whole request, including every provider attempt
const requestTimeout = 60 * time.Second

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}

	healthHandler := handlers.NewHealthHandler(db, deps.CachePinger(), deps.Orchestrator, deps.Logger)
	completionHandler := handlers.NewCompletionHandler(deps.Orchestrator, deps.Logger)
	providerHandler := handlers.NewProviderHandler(deps.Orchestrator, deps.Logger)
	usageHandler := handlers.NewUsageHandler(deps.CompletionLogs, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	if deps.MetricsRegistry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.MetricsRegistry, promhttp.HandlerOpts{}))
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/completions", completionHandler.HandleComplete)
		r.Get("/providers", providerHandler.HandleListProviders)

		// Maintenance (require admin role)
		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireRole(middleware.RoleAdmin))

			r.Delete("/cache", providerHandler.HandleClearCache)
			r.Post("/providers/probe", providerHandler.HandleProbe)
			r.Get("/usage", usageHandler.HandleSummary)
			r.Get("/usage/recent", usageHandler.HandleRecent)
			r.Get("/usage/requests/{requestID}", usageHandler.HandleGetByRequestID)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusNotFound, "endpoint not found", nil)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}
