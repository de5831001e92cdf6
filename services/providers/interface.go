package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// LocalFallbackName is the name of the always-available local responder
const LocalFallbackName = "local-fallback"

// Provider represents a chat completion backend
type Provider interface {
	// Name returns the provider name (e.g., "groq", "cerebras")
	Name() string

	// ChatCompletion performs a single chat completion request
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// IsAvailable probes whether the backend is reachable with the configured credential
	IsAvailable(ctx context.Context) bool
}

// ChatRequest represents a chat completion request
type ChatRequest struct {
	// Model identifier (e.g., "llama-3.1-8b-instant")
	Model string `json:"model"`

	// Messages in the conversation
	Messages []Message `json:"messages"`

	// MaxTokens limits the response length
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 to 2.0)
	Temperature *float64 `json:"temperature,omitempty"`

	// RequestID correlates provider calls with the originating completion
	RequestID string `json:"-"`
}

// Message represents a single message in a conversation
type Message struct {
	// Role can be "system", "user", or "assistant"
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`

	// Timestamp is informational only and never sent upstream
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatResponse represents a chat completion response
type ChatResponse struct {
	ID       string        `json:"id"`
	Model    string        `json:"model"`
	Provider string        `json:"provider"`
	Choices  []Choice      `json:"choices"`
	Usage    *Usage        `json:"usage,omitempty"`
	Latency  time.Duration `json:"latency"`
	Created  time.Time     `json:"created"`
}

// Content returns the first choice's message content
func (r *ChatResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// FinishReason returns the first choice's finish reason
func (r *ChatResponse) FinishReason() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].FinishReason
}

// Choice represents a completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage statistics
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderConfig holds the static configuration of one provider
type ProviderConfig struct {
	// Name is the registry key
	Name string

	// BaseURL for the OpenAI-compatible API
	BaseURL string

	// APIKey for bearer authentication
	APIKey string

	// Model used when the request does not name one
	Model string

	// MaxTokens is the default token budget
	MaxTokens int

	// Temperature is the default sampling temperature
	Temperature float64

	// Timeout for a single HTTP call
	Timeout time.Duration

	// Headers are sent with every request
	Headers map[string]string
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		MaxTokens:   150,
		Temperature: 0.8,
		Timeout:     30 * time.Second,
		Headers:     make(map[string]string),
	}
}

// ErrorCategory classifies provider failures by cause
type ErrorCategory string

const (
	CategoryAuth       ErrorCategory = "auth"
	CategoryServer     ErrorCategory = "server"
	CategoryRateLimit  ErrorCategory = "rate_limit"
	CategoryTimeout    ErrorCategory = "timeout"
	CategoryNetwork    ErrorCategory = "network"
	CategoryMalformed  ErrorCategory = "malformed"
	CategoryBadRequest ErrorCategory = "bad_request"
	CategoryConfig     ErrorCategory = "config"
)

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the provider's error code, if any
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (0 when no response was received)
	StatusCode int

	// Category is the failure cause
	Category ErrorCategory

	// Retryable indicates another attempt against the same provider may succeed
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	msg := e.Provider + ": " + e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider string, category ErrorCategory, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Message:    message,
		StatusCode: statusCode,
		Category:   category,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// NewStatusError builds a ProviderError from a non-2xx HTTP status
func NewStatusError(provider string, statusCode int, message string) *ProviderError {
	category, retryable := categorizeStatus(statusCode)
	return &ProviderError{
		Provider:   provider,
		Message:    message,
		StatusCode: statusCode,
		Category:   category,
		Retryable:  retryable,
	}
}

func categorizeStatus(statusCode int) (ErrorCategory, bool) {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return CategoryAuth, false
	case statusCode == http.StatusTooManyRequests:
		return CategoryRateLimit, false
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return CategoryTimeout, true
	case statusCode >= 500:
		return CategoryServer, true
	default:
		return CategoryBadRequest, false
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}

// AsProviderError extracts a ProviderError from an error chain
func AsProviderError(err error) (*ProviderError, bool) {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr, true
	}
	return nil, false
}
