package handlers

import (
	"context"
	"net/http"

	"github.com/upb/tavern-oracle/middleware"
	"github.com/upb/tavern-oracle/services/orchestrator"
	"github.com/upb/tavern-oracle/services/providers"
	"github.com/upb/tavern-oracle/utils"
	"go.uber.org/zap"
)

// CompletionRequest is the body of POST /api/v1/completions
type CompletionRequest struct {
	Messages          []ChatMessage `json:"messages" validate:"required,min=1,max=64,dive"`
	PreferredProvider string        `json:"preferred_provider,omitempty" validate:"omitempty,max=64"`
	MaxTokens         *int          `json:"max_tokens,omitempty" validate:"omitempty,gte=1,lte=4096"`
	Temperature       *float64      `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	SystemPrompt      string        `json:"system_prompt,omitempty" validate:"omitempty,max=8000"`
}

// ChatMessage represents a single chat message
type ChatMessage struct {
	Role    string `json:"role" validate:"required,chatrole"`
	Content string `json:"content" validate:"notblank,max=16000"`
}

// Completer produces in-character completions
type Completer interface {
	Complete(ctx context.Context, messages []providers.Message, options orchestrator.GenerationOptions) orchestrator.CompletionResult
}

// CompletionHandler handles completion requests
type CompletionHandler struct {
	service Completer
	logger  *zap.Logger
}

// NewCompletionHandler creates a new CompletionHandler
func NewCompletionHandler(service Completer, logger *zap.Logger) *CompletionHandler {
	return &CompletionHandler{
		service: service,
		logger:  logger,
	}
}

// HandleComplete handles POST /api/v1/completions.
// Provider failures never surface as HTTP errors: a degraded answer comes back
// with 200 and the reason in the result's error field.
func (h *CompletionHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req CompletionRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		h.logger.Debug("invalid completion request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	messages := make([]providers.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, providers.Message{Role: m.Role, Content: m.Content})
	}

	result := h.service.Complete(ctx, messages, orchestrator.GenerationOptions{
		PreferredProvider: req.PreferredProvider,
		MaxTokens:         req.MaxTokens,
		Temperature:       req.Temperature,
		SystemPrompt:      req.SystemPrompt,
		RequestID:         requestID,
	})

	if result.Degraded() {
		h.logger.Warn("served degraded completion",
			zap.String("request_id", requestID),
			zap.String("reason", result.Error))
	}

	if err := utils.WriteOK(w, result); err != nil {
		h.logger.Error("failed to write completion response", zap.Error(err))
	}
}
