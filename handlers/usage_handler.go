package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/upb/tavern-oracle/models"
	"github.com/upb/tavern-oracle/repositories"
	"github.com/upb/tavern-oracle/services"
	"github.com/upb/tavern-oracle/utils"
	"go.uber.org/zap"
)

const (
	defaultUsageWindow = 24 * time.Hour
	defaultPageSize    = 50
	maxPageSize        = 500

	// matches the longest request ID the request ID middleware accepts
	maxRequestIDLength = 128
)

// UsageSummaryResponse is the body of GET /api/v1/usage
type UsageSummaryResponse struct {
	Since     time.Time               `json:"since"`
	Providers []*models.ProviderUsage `json:"providers"`
}

// UsageHandler serves the completion usage log
type UsageHandler struct {
	repo   repositories.CompletionLogRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewUsageHandler creates a new UsageHandler. repo may be nil when no database is configured.
func NewUsageHandler(repo repositories.CompletionLogRepository, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// HandleSummary handles GET /api/v1/usage?window=24h
func (h *UsageHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}

	window := defaultUsageWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			_ = utils.WriteBadRequest(w, "window must be a positive duration such as 1h or 30m", nil)
			return
		}
		window = parsed
	}

	since := h.now().Add(-window)
	usage, err := h.repo.SummarizeByProvider(r.Context(), since)
	if err != nil {
		HandleServiceError(w, services.WrapError(services.ErrorTypeInternal, services.ErrDatabaseError.Message, err), h.logger)
		return
	}

	if err := utils.WriteOK(w, UsageSummaryResponse{Since: since, Providers: usage}); err != nil {
		h.logger.Error("failed to write usage response", zap.Error(err))
	}
}

// HandleRecent handles GET /api/v1/usage/recent?limit=50&offset=0
func (h *UsageHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}

	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		_ = utils.WriteBadRequest(w, "limit must be between 1 and "+strconv.Itoa(maxPageSize), nil)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		_ = utils.WriteBadRequest(w, "offset must be a non-negative integer", nil)
		return
	}

	logs, err := h.repo.ListRecent(r.Context(), limit, offset)
	if err != nil {
		HandleServiceError(w, services.WrapError(services.ErrorTypeInternal, services.ErrDatabaseError.Message, err), h.logger)
		return
	}

	if err := utils.WriteOK(w, logs); err != nil {
		h.logger.Error("failed to write usage response", zap.Error(err))
	}
}

// HandleGetByRequestID handles GET /api/v1/usage/requests/{requestID}
func (h *UsageHandler) HandleGetByRequestID(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}

	requestID := chi.URLParam(r, "requestID")
	if requestID == "" || len(requestID) > maxRequestIDLength {
		_ = utils.WriteBadRequest(w, "invalid request ID", nil)
		return
	}

	log, err := h.repo.GetByRequestID(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, repositories.ErrCompletionLogNotFound) {
			HandleServiceError(w, services.NewDomainError(services.ErrorTypeNotFound, "no usage log for request "+requestID, nil), h.logger)
			return
		}
		HandleServiceError(w, services.WrapError(services.ErrorTypeInternal, services.ErrDatabaseError.Message, err), h.logger)
		return
	}

	if err := utils.WriteOK(w, log); err != nil {
		h.logger.Error("failed to write usage response", zap.Error(err))
	}
}

func (h *UsageHandler) enabled(w http.ResponseWriter) bool {
	if h.repo != nil {
		return true
	}
	HandleServiceError(w, services.NewDomainError(services.ErrorTypeConfiguration, "usage log is not configured", nil), h.logger)
	return false
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
