package models

// GenerationOptions are the caller-supplied knobs for one completion
type GenerationOptions struct {
	PreferredProvider string   `json:"preferred_provider,omitempty"`
	MaxTokens         *int     `json:"max_tokens,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	SystemPrompt      string   `json:"system_prompt,omitempty"`

	// RequestID is used for log correlation only and never affects the fingerprint
	RequestID string `json:"-"`
}

// TokenUsage represents token counts reported by a provider
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResult is what every completion call returns, including degraded ones
type CompletionResult struct {
	Content      string      `json:"content"`
	Provider     string      `json:"provider"`
	Model        string      `json:"model"`
	Usage        *TokenUsage `json:"usage,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`

	// Error is set only when the result came from the local fallback path
	Error string `json:"error,omitempty"`

	Cached    bool   `json:"cached"`
	RequestID string `json:"request_id,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Degraded reports whether the result was produced without a remote provider
func (r CompletionResult) Degraded() bool {
	return r.Error != ""
}
