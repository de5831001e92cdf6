package handlers

import (
	"context"
	"net/http"

	"github.com/upb/tavern-oracle/middleware"
	"github.com/upb/tavern-oracle/services"
	"github.com/upb/tavern-oracle/services/orchestrator"
	"github.com/upb/tavern-oracle/utils"
	"go.uber.org/zap"
)

// ProviderAdmin exposes provider diagnostics and maintenance
type ProviderAdmin interface {
	GetProviderStatus() []orchestrator.ProviderStatusView
	CurrentProvider() string
	ClearCache(ctx context.Context) error
	ProbeProviders(ctx context.Context) ([]orchestrator.ProbeResult, error)
}

// ProviderStatusResponse is the body of GET /api/v1/providers
type ProviderStatusResponse struct {
	Current   string                            `json:"current,omitempty"`
	Providers []orchestrator.ProviderStatusView `json:"providers"`
}

// ProviderHandler handles provider status and admin operations
type ProviderHandler struct {
	service ProviderAdmin
	logger  *zap.Logger
}

// NewProviderHandler creates a new ProviderHandler
func NewProviderHandler(service ProviderAdmin, logger *zap.Logger) *ProviderHandler {
	return &ProviderHandler{
		service: service,
		logger:  logger,
	}
}

// HandleListProviders handles GET /api/v1/providers
func (h *ProviderHandler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	response := ProviderStatusResponse{
		Current:   h.service.CurrentProvider(),
		Providers: h.service.GetProviderStatus(),
	}
	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write provider status response", zap.Error(err))
	}
}

// HandleProbe handles POST /api/v1/providers/probe
func (h *ProviderHandler) HandleProbe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	results, err := h.service.ProbeProviders(ctx)
	if err != nil {
		HandleServiceError(w, services.WrapError(services.ErrorTypeTransient, "provider probe interrupted", err), h.logger)
		return
	}

	healthy := 0
	for _, res := range results {
		if res.Healthy {
			healthy++
		}
	}
	h.logger.Info("providers probed",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.Int("probed", len(results)),
		zap.Int("healthy", healthy))

	if err := utils.WriteOK(w, results); err != nil {
		h.logger.Error("failed to write probe response", zap.Error(err))
	}
}

// HandleClearCache handles DELETE /api/v1/cache
func (h *ProviderHandler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.service.ClearCache(ctx); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	actor := ""
	if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
		actor = claims.Subject
	}
	h.logger.Info("response cache cleared",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("actor", actor))

	utils.WriteNoContent(w)
}
