package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/upb/tavern-oracle/services/providers"
	"go.uber.org/zap"
)

const (
	defaultName    = "openai"
	defaultBaseURL = "https://api.openai.com/v1"
)

// Adapter implements the Provider interface for any OpenAI-compatible
// chat-completions endpoint (Groq, Cerebras, OpenRouter, ...)
type Adapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAdapter creates a new OpenAI-compatible adapter
func NewAdapter(config providers.ProviderConfig, logger *zap.Logger) *Adapter {
	if config.Name == "" {
		config.Name = defaultName
	}

	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Adapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger.With(zap.String("provider", config.Name)),
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return a.config.Name
}

// Config returns the adapter configuration
func (a *Adapter) Config() providers.ProviderConfig {
	return a.config
}

// ChatCompletion performs one chat completion request. Retries are the caller's concern.
func (a *Adapter) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	startTime := time.Now()

	if a.config.APIKey == "" {
		return nil, providers.NewProviderError(a.Name(), providers.CategoryConfig, "credential missing", 0, false, nil)
	}

	// Build request body
	reqBody, err := json.Marshal(a.buildRequest(req))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.CategoryConfig, "failed to marshal request", 0, false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.CategoryConfig, "failed to create request", 0, false, err)
	}
	a.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, a.transportError(err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.CategoryMalformed, "failed to read response", httpResp.StatusCode, true, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.CategoryMalformed, "failed to unmarshal response", httpResp.StatusCode, true, err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, providers.NewProviderError(a.Name(), providers.CategoryMalformed, "response has no choices", httpResp.StatusCode, true, nil)
	}

	latency := time.Since(startTime)
	a.logger.Debug("chat completion succeeded",
		zap.String("request_id", req.RequestID),
		zap.String("model", chatResp.Model),
		zap.Duration("latency", latency))

	return a.convertResponse(&chatResp, latency), nil
}

// IsAvailable checks if the provider answers its model listing with the configured credential
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	return a.Probe(ctx) == nil
}

// Probe performs a model listing request and returns the classified failure, if any
func (a *Adapter) Probe(ctx context.Context) error {
	if a.config.APIKey == "" {
		return providers.NewProviderError(a.Name(), providers.CategoryConfig, "credential missing", 0, false, nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+"/models", nil)
	if err != nil {
		return providers.NewProviderError(a.Name(), providers.CategoryConfig, "failed to create request", 0, false, err)
	}
	a.setHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return a.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return a.handleErrorResponse(resp.StatusCode, body)
	}
	return nil
}

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}
}

// buildRequest converts the unified request to the wire format, applying provider defaults
func (a *Adapter) buildRequest(req *providers.ChatRequest) *ChatRequest {
	wire := &ChatRequest{
		Model:    req.Model,
		Messages: make([]Message, len(req.Messages)),
	}
	if wire.Model == "" {
		wire.Model = a.config.Model
	}

	for i, msg := range req.Messages {
		wire.Messages[i] = Message{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.config.MaxTokens
	}
	if maxTokens > 0 {
		wire.MaxTokens = &maxTokens
	}

	temperature := a.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	wire.Temperature = &temperature

	return wire
}

// convertResponse converts the wire response to the unified format
func (a *Adapter) convertResponse(wire *ChatResponse, latency time.Duration) *providers.ChatResponse {
	resp := &providers.ChatResponse{
		ID:       wire.ID,
		Model:    wire.Model,
		Provider: a.Name(),
		Choices:  make([]providers.Choice, len(wire.Choices)),
		Latency:  latency,
		Created:  time.Unix(wire.Created, 0),
	}
	if resp.Model == "" {
		resp.Model = a.config.Model
	}

	if wire.Usage != nil {
		resp.Usage = &providers.Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		}
	}

	for i, choice := range wire.Choices {
		resp.Choices[i] = providers.Choice{
			Index: choice.Index,
			Message: providers.Message{
				Role:    choice.Message.Role,
				Content: choice.Message.Content,
			},
			FinishReason: choice.FinishReason,
		}
	}

	return resp
}

// transportError classifies a failure that produced no HTTP response
func (a *Adapter) transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return providers.NewProviderError(a.Name(), providers.CategoryTimeout, "request timed out", 0, true, err)
	}
	if errors.Is(err, context.Canceled) {
		return providers.NewProviderError(a.Name(), providers.CategoryNetwork, "request canceled", 0, false, err)
	}
	return providers.NewProviderError(a.Name(), providers.CategoryNetwork, "HTTP request failed", 0, true, err)
}

// handleErrorResponse handles non-2xx responses
func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	message := http.StatusText(statusCode)

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	provErr := providers.NewStatusError(a.Name(), statusCode, message)
	provErr.Code = errResp.Error.Type
	return provErr
}

// Wire types

type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

var _ providers.Provider = (*Adapter)(nil)

// String implements fmt.Stringer for log output
func (a *Adapter) String() string {
	return fmt.Sprintf("%s(%s)", a.config.Name, a.config.BaseURL)
}
