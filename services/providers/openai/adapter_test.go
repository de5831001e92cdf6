package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/upb/tavern-oracle/services/providers"
	"go.uber.org/zap"
)

func newTestAdapter(baseURL string) *Adapter {
	return NewAdapter(providers.ProviderConfig{
		Name:        "groq",
		APIKey:      "test-key",
		BaseURL:     baseURL,
		Model:       "llama-3.1-8b-instant",
		MaxTokens:   150,
		Temperature: 0.8,
		Timeout:     5 * time.Second,
	}, zap.NewNop())
}

func TestNewAdapter(t *testing.T) {
	adapter := NewAdapter(providers.ProviderConfig{APIKey: "test-key"}, nil)

	if adapter == nil {
		t.Fatal("NewAdapter() returned nil")
	}

	if adapter.Name() != "openai" {
		t.Errorf("Name() = %s, want openai", adapter.Name())
	}

	if adapter.config.BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %s, want %s", adapter.config.BaseURL, defaultBaseURL)
	}

	if adapter.config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", adapter.config.Timeout)
	}
}

func TestNewAdapter_TrimsBaseURL(t *testing.T) {
	adapter := NewAdapter(providers.ProviderConfig{Name: "cerebras", BaseURL: "https://api.cerebras.ai/v1/"}, zap.NewNop())

	if adapter.Config().BaseURL != "https://api.cerebras.ai/v1" {
		t.Errorf("BaseURL = %s", adapter.Config().BaseURL)
	}
	if adapter.Name() != "cerebras" {
		t.Errorf("Name() = %s, want cerebras", adapter.Name())
	}
}

func TestAdapter_ChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}

		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}

		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}

		body, _ := io.ReadAll(r.Body)
		var req ChatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("invalid request body: %v", err)
		}

		if req.Model != "llama-3.1-8b-instant" {
			t.Errorf("Model = %s, want default model", req.Model)
		}
		if req.MaxTokens == nil || *req.MaxTokens != 150 {
			t.Errorf("MaxTokens = %v, want 150", req.MaxTokens)
		}
		if req.Temperature == nil || *req.Temperature != 0.2 {
			t.Errorf("Temperature = %v, want 0.2", req.Temperature)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("Messages = %+v", req.Messages)
		}

		resp := ChatResponse{
			ID:      "chatcmpl-test123",
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   req.Model,
			Choices: []Choice{
				{
					Message:      Message{Role: "assistant", Content: "Pull up a stool, stranger."},
					FinishReason: "stop",
				},
			},
			Usage: &Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)

	temperature := 0.2
	req := &providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: "You are Greta, the innkeeper."},
			{Role: "user", Content: "Hello"},
		},
		Temperature: &temperature,
	}

	resp, err := adapter.ChatCompletion(context.Background(), req)
	if err != nil {
		t.Fatalf("ChatCompletion() error = %v", err)
	}

	if resp.Provider != "groq" {
		t.Errorf("Provider = %s, want groq", resp.Provider)
	}

	if resp.Content() != "Pull up a stool, stranger." {
		t.Errorf("Unexpected response content: %s", resp.Content())
	}

	if resp.FinishReason() != "stop" {
		t.Errorf("FinishReason = %s, want stop", resp.FinishReason())
	}

	if resp.Usage == nil || resp.Usage.TotalTokens != 30 {
		t.Errorf("Usage = %+v, want 30 total tokens", resp.Usage)
	}
}

func TestAdapter_ChatCompletion_StatusErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantCategory  providers.ErrorCategory
		wantRetryable bool
		wantMessage   string
	}{
		{
			name:         "unauthorized",
			status:       http.StatusUnauthorized,
			body:         `{"error":{"message":"Invalid API Key","type":"invalid_request_error","code":"invalid_api_key"}}`,
			wantCategory: providers.CategoryAuth,
			wantMessage:  "Invalid API Key",
		},
		{
			name:          "server error without body",
			status:        http.StatusInternalServerError,
			body:          ``,
			wantCategory:  providers.CategoryServer,
			wantRetryable: true,
			wantMessage:   "Internal Server Error",
		},
		{
			name:         "too many requests",
			status:       http.StatusTooManyRequests,
			body:         `{"error":{"message":"Rate limit reached","type":"tokens"}}`,
			wantCategory: providers.CategoryRateLimit,
			wantMessage:  "Rate limit reached",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			adapter := newTestAdapter(server.URL)
			_, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{
				Messages: []providers.Message{{Role: "user", Content: "test"}},
			})
			if err == nil {
				t.Fatal("Expected error but got none")
			}

			provErr, ok := providers.AsProviderError(err)
			if !ok {
				t.Fatalf("Expected ProviderError, got %T", err)
			}

			if provErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", provErr.StatusCode, tt.status)
			}
			if provErr.Category != tt.wantCategory {
				t.Errorf("Category = %s, want %s", provErr.Category, tt.wantCategory)
			}
			if provErr.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", provErr.Retryable, tt.wantRetryable)
			}
			if provErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", provErr.Message, tt.wantMessage)
			}
		})
	}
}

func TestAdapter_ChatCompletion_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"choices": [`},
		{"no choices", `{"id":"x","choices":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestAdapter(server.URL).ChatCompletion(context.Background(), &providers.ChatRequest{
				Messages: []providers.Message{{Role: "user", Content: "test"}},
			})

			provErr, ok := providers.AsProviderError(err)
			if !ok {
				t.Fatalf("Expected ProviderError, got %v", err)
			}
			if provErr.Category != providers.CategoryMalformed || !provErr.Retryable {
				t.Errorf("got category %s retryable %v", provErr.Category, provErr.Retryable)
			}
		})
	}
}

func TestAdapter_ChatCompletion_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	adapter := NewAdapter(providers.ProviderConfig{
		Name:    "groq",
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 50 * time.Millisecond,
	}, zap.NewNop())

	_, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "test"}},
	})

	provErr, ok := providers.AsProviderError(err)
	if !ok {
		t.Fatalf("Expected ProviderError, got %v", err)
	}
	if provErr.Category != providers.CategoryTimeout {
		t.Errorf("Category = %s, want timeout", provErr.Category)
	}
	if !provErr.Retryable {
		t.Error("timeouts should be retryable")
	}
}

func TestAdapter_ChatCompletion_MissingCredential(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	adapter := NewAdapter(providers.ProviderConfig{Name: "cerebras", BaseURL: server.URL}, zap.NewNop())
	_, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{})

	provErr, ok := providers.AsProviderError(err)
	if !ok {
		t.Fatalf("Expected ProviderError, got %v", err)
	}
	if provErr.Category != providers.CategoryConfig || provErr.Retryable {
		t.Errorf("got category %s retryable %v", provErr.Category, provErr.Retryable)
	}
	if called {
		t.Error("no request should be sent without a credential")
	}
}

func TestAdapter_Probe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("Expected path /models, got %s", r.URL.Path)
		}
		if strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	if !newTestAdapter(server.URL).IsAvailable(context.Background()) {
		t.Error("expected provider to be available")
	}

	bad := NewAdapter(providers.ProviderConfig{Name: "groq", APIKey: "wrong", BaseURL: server.URL}, zap.NewNop())
	err := bad.Probe(context.Background())
	provErr, ok := providers.AsProviderError(err)
	if !ok || provErr.Category != providers.CategoryAuth {
		t.Errorf("Probe() = %v, want auth error", err)
	}
}
