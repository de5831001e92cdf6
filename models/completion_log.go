package models

import (
	"time"

	"github.com/google/uuid"
)

// CompletionOutcome represents how a completion was served
type CompletionOutcome string

const (
	CompletionOutcomeSuccess  CompletionOutcome = "success"
	CompletionOutcomeCached   CompletionOutcome = "cached"
	CompletionOutcomeFallback CompletionOutcome = "fallback"
)

// CompletionLog is one row of the completion usage log
type CompletionLog struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	RequestID   string            `json:"request_id" db:"request_id"`
	Fingerprint string            `json:"fingerprint" db:"fingerprint"`
	Outcome     CompletionOutcome `json:"outcome" db:"outcome"`

	// Provider details
	Provider string `json:"provider" db:"provider"`
	Model    string `json:"model" db:"model"`

	// Metrics
	PromptTokens     int   `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens" db:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens" db:"total_tokens"`
	LatencyMs        int64 `json:"latency_ms" db:"latency_ms"`

	ErrorMessage *string   `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the CompletionLog model
func (CompletionLog) TableName() string {
	return "completion_logs"
}

// NewCompletionLog builds a log row from a finished completion
func NewCompletionLog(fingerprint string, result CompletionResult) *CompletionLog {
	log := &CompletionLog{
		ID:          uuid.New(),
		RequestID:   result.RequestID,
		Fingerprint: fingerprint,
		Outcome:     CompletionOutcomeSuccess,
		Provider:    result.Provider,
		Model:       result.Model,
		LatencyMs:   result.LatencyMs,
		CreatedAt:   time.Now(),
	}

	switch {
	case result.Cached:
		log.Outcome = CompletionOutcomeCached
	case result.Degraded():
		log.Outcome = CompletionOutcomeFallback
		msg := result.Error
		log.ErrorMessage = &msg
	}

	if result.Usage != nil {
		log.PromptTokens = result.Usage.PromptTokens
		log.CompletionTokens = result.Usage.CompletionTokens
		log.TotalTokens = result.Usage.TotalTokens
	}

	return log
}

// ProviderUsage aggregates completion logs for one provider and outcome
type ProviderUsage struct {
	Provider     string            `json:"provider" db:"provider"`
	Outcome      CompletionOutcome `json:"outcome" db:"outcome"`
	Requests     int64             `json:"requests" db:"requests"`
	TotalTokens  int64             `json:"total_tokens" db:"total_tokens"`
	AvgLatencyMs float64           `json:"avg_latency_ms" db:"avg_latency_ms"`
}
