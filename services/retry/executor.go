// Package retry runs a single provider call with bounded attempts and
// exponential backoff between them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/upb/tavern-oracle/services/providers"
	"go.uber.org/zap"
)

const (
	// DefaultMaxAttempts is the number of calls made before giving up
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the wait after the first failed attempt
	DefaultBaseDelay = time.Second
)

// ExhaustedError is returned when every attempt failed. It unwraps to the last error.
type ExhaustedError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: failed after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// AttemptHook is called after every failed attempt
type AttemptHook func(provider string, attempt int, err error)

// Executor wraps provider calls with retries. It does not decide whether an
// error should cool a provider down; it only stops early on errors marked
// non-retryable.
type Executor struct {
	maxAttempts int
	baseDelay   time.Duration
	sleep       SleepFunc
	onFailure   AttemptHook
	logger      *zap.Logger
}

// Option configures an Executor
type Option func(*Executor)

// WithSleep overrides how the executor waits between attempts
func WithSleep(sleep SleepFunc) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

// WithAttemptHook registers a callback for failed attempts
func WithAttemptHook(hook AttemptHook) Option {
	return func(e *Executor) {
		e.onFailure = hook
	}
}

// NewExecutor creates an executor. Non-positive arguments fall back to the defaults.
func NewExecutor(maxAttempts int, baseDelay time.Duration, logger *zap.Logger, opts ...Option) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Executor{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		sleep:       sleepContext,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxAttempts returns the configured attempt bound
func (e *Executor) MaxAttempts() int {
	return e.maxAttempts
}

// Delay returns the wait after the given 0-indexed attempt: 2^attempt * base
func (e *Executor) Delay(attempt int) time.Duration {
	return e.baseDelay << uint(attempt)
}

// Execute calls the provider until it succeeds, returns a non-retryable
// error, the context is done, or the attempts run out.
func (e *Executor) Execute(ctx context.Context, provider providers.Provider, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	name := provider.Name()
	var lastErr error

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		resp, err := provider.ChatCompletion(ctx, req)
		if err == nil {
			if attempt > 0 {
				e.logger.Info("provider call succeeded after retry",
					zap.String("provider", name),
					zap.String("request_id", req.RequestID),
					zap.Int("attempt", attempt+1))
			}
			return resp, nil
		}

		lastErr = err
		if e.onFailure != nil {
			e.onFailure(name, attempt+1, err)
		}

		e.logger.Warn("provider call failed",
			zap.String("provider", name),
			zap.String("request_id", req.RequestID),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", e.maxAttempts),
			zap.Error(err))

		if !providers.IsRetryable(err) || attempt == e.maxAttempts-1 {
			return nil, &ExhaustedError{Provider: name, Attempts: attempt + 1, Err: lastErr}
		}

		if err := e.sleep(ctx, e.Delay(attempt)); err != nil {
			return nil, &ExhaustedError{Provider: name, Attempts: attempt + 1, Err: errors.Join(lastErr, err)}
		}
	}

	return nil, &ExhaustedError{Provider: name, Attempts: e.maxAttempts, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
