package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultWindow is the length of a provider's counting window
	DefaultWindow = 60 * time.Second

	// DefaultCeiling is the number of calls allowed per window
	DefaultCeiling = 100
)

// window is the per-provider counter. It is reset once the clock passes resetAt.
type window struct {
	count   int
	resetAt time.Time
}

// UsageStats represents the current window of a provider
type UsageStats struct {
	Provider string    `json:"provider"`
	Count    int       `json:"count"`
	Ceiling  int       `json:"ceiling"`
	ResetAt  time.Time `json:"reset_at"`
	Limited  bool      `json:"limited"`
}

// Limiter is an advisory fixed-window rate limiter keyed by provider name.
// It never blocks; callers decide what to do with a limited provider.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	length  time.Duration
	ceiling int
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock overrides the limiter clock
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a limiter. Non-positive arguments fall back to the defaults.
func NewLimiter(length time.Duration, ceiling int, logger *zap.Logger, opts ...Option) *Limiter {
	if length <= 0 {
		length = DefaultWindow
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Limiter{
		windows: make(map[string]*window),
		length:  length,
		ceiling: ceiling,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// IsLimited reports whether the provider has used up its current window
func (l *Limiter) IsLimited(provider string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[provider]
	if !ok {
		return false
	}
	return w.count >= l.ceiling && !l.now().After(w.resetAt)
}

// RecordCall counts one call against the provider, opening a fresh window if needed
func (l *Limiter) RecordCall(provider string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.current(provider)
	w.count++

	if w.count == l.ceiling {
		l.logger.Info("provider reached rate ceiling",
			zap.String("provider", provider),
			zap.Int("ceiling", l.ceiling),
			zap.Time("reset_at", w.resetAt))
	}
}

// Saturate marks the provider's current window as full. Used when the provider
// itself reports throttling so later calls skip it until the window resets.
func (l *Limiter) Saturate(provider string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.current(provider)
	if w.count < l.ceiling {
		w.count = l.ceiling
	}

	l.logger.Warn("provider throttled upstream",
		zap.String("provider", provider),
		zap.Time("reset_at", w.resetAt))
}

// Usage returns the provider's current window
func (l *Limiter) Usage(provider string) UsageStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := UsageStats{Provider: provider, Ceiling: l.ceiling}
	w, ok := l.windows[provider]
	if !ok || l.now().After(w.resetAt) {
		return stats
	}

	stats.Count = w.count
	stats.ResetAt = w.resetAt
	stats.Limited = w.count >= l.ceiling
	return stats
}

// CleanupExpired removes windows whose reset time has passed
func (l *Limiter) CleanupExpired() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for name, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, name)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker starts a background worker to periodically drop expired windows
func (l *Limiter) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info("started rate limit cleanup worker", zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			if removed := l.CleanupExpired(); removed > 0 {
				l.logger.Debug("cleaned up expired rate windows", zap.Int("removed", removed))
			}
		case <-ctx.Done():
			l.logger.Info("stopping rate limit cleanup worker")
			return
		}
	}
}

// current returns the live window for provider (must be called with lock held)
func (l *Limiter) current(provider string) *window {
	now := l.now()
	w, ok := l.windows[provider]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(l.length)}
		l.windows[provider] = w
	}
	return w
}
