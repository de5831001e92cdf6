package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/upb/tavern-oracle/services/orchestrator"
	"github.com/upb/tavern-oracle/services/providers"
	"github.com/upb/tavern-oracle/utils"
	"go.uber.org/zap"
)

// Check states
const (
	checkHealthy      = "healthy"
	checkUnhealthy    = "unhealthy"
	checkDegraded     = "degraded"
	checkNotEnabled   = "not_configured"
	readinessDeadline = 5 * time.Second
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Pinger is a dependency that can report its own reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProviderStatusSource reports provider availability
type ProviderStatusSource interface {
	GetProviderStatus() []orchestrator.ProviderStatusView
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db        *sql.DB
	cache     Pinger
	providers ProviderStatusSource
	logger    *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db and cache may be nil when
// the deployment runs without Postgres or Redis.
func NewHealthHandler(db *sql.DB, cache Pinger, providers ProviderStatusSource, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		cache:     cache,
		providers: providers,
		logger:    logger,
	}
}

// HandleHealth handles GET /healthz.
// Basic liveness check, always 200 while the process is serving.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    checkHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz.
// Database and cache failures make the service unready. Having no remote
// provider available only degrades it, since the local fallback still answers.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessDeadline)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	switch {
	case h.db == nil:
		checks["database"] = checkNotEnabled
	case h.checkDatabase(ctx) != nil:
		checks["database"] = checkUnhealthy
		allHealthy = false
	default:
		checks["database"] = checkHealthy
	}

	switch {
	case h.cache == nil:
		checks["cache"] = checkNotEnabled
	default:
		if err := h.cache.Ping(ctx); err != nil {
			h.logger.Warn("cache health check failed", zap.Error(err))
			checks["cache"] = checkUnhealthy
			allHealthy = false
		} else {
			checks["cache"] = checkHealthy
		}
	}

	checks["providers"] = h.providerState()

	status := checkHealthy
	httpStatus := http.StatusOK
	if !allHealthy {
		status = checkUnhealthy
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		return err
	}

	var result int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		h.logger.Warn("database query check failed", zap.Error(err))
		return err
	}

	return nil
}

func (h *HealthHandler) providerState() string {
	if h.providers == nil {
		return checkNotEnabled
	}
	for _, p := range h.providers.GetProviderStatus() {
		if p.Name != providers.LocalFallbackName && p.Available && !p.RateLimited {
			return checkHealthy
		}
	}
	return checkDegraded
}
