// Package orchestrator routes completion requests across remote providers.
//
// A call checks the response cache, then walks the candidate providers in
// priority order, skipping the ones that are cooling down or rate limited.
// Each candidate gets a bounded number of attempts through the retry executor.
// Serious failures put a provider on cooldown, provider throttling saturates
// its rate window, and everything else just moves on to the next candidate.
// When no remote provider answers, the local responder does. Complete never
// returns an error.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tavern-oracle/internal/observability"
	"github.com/upb/tavern-oracle/models"
	"github.com/upb/tavern-oracle/services"
	"github.com/upb/tavern-oracle/services/cache"
	"github.com/upb/tavern-oracle/services/providers"
	"github.com/upb/tavern-oracle/services/providers/local"
	"github.com/upb/tavern-oracle/services/ratelimit"
	"github.com/upb/tavern-oracle/services/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultCooldown is how long a provider is skipped after a serious error
const DefaultCooldown = 5 * time.Minute

const recordTimeout = 2 * time.Second

// DefaultSharedTimeout bounds a coalesced provider call once it is detached
// from the caller that started it
const DefaultSharedTimeout = 90 * time.Second

// CompletionResult is returned by every Complete call
type CompletionResult = models.CompletionResult

// GenerationOptions are the per-call options
type GenerationOptions = models.GenerationOptions

// ProviderStatusView is the diagnostic view of one provider
type ProviderStatusView struct {
	Name          string     `json:"name"`
	Model         string     `json:"model"`
	Available     bool       `json:"available"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	RateLimited   bool       `json:"rate_limited"`
	Current       bool       `json:"current"`
}

// CompletionRecorder persists finished completions, e.g. to a usage log
type CompletionRecorder interface {
	RecordCompletion(ctx context.Context, fingerprint string, result CompletionResult) error
}

// Config holds orchestration policy
type Config struct {
	// FallbackOrder is the default candidate order. Empty means registration order.
	FallbackOrder []string
	Cooldown      time.Duration
}

// Orchestrator owns the provider registry, rate limiter and response cache
type Orchestrator struct {
	registry *providers.Registry
	limiter  *ratelimit.Limiter
	cache    cache.ResponseCache
	executor *retry.Executor
	fallback providers.Provider
	order    []string
	cooldown time.Duration
	now      func() time.Time
	logger   *zap.Logger
	metrics  *observability.Metrics
	recorder CompletionRecorder
	inflight singleflight.Group

	// sharedTimeout bounds a coalesced call detached from its caller
	sharedTimeout time.Duration

	mu      sync.RWMutex
	current string
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock overrides the clock used for cooldowns and latency
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithSharedTimeout bounds how long a coalesced provider call may run
func WithSharedTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.sharedTimeout = d
		}
	}
}

// WithMetrics enables Prometheus metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithRecorder reports every completion to recorder
func WithRecorder(recorder CompletionRecorder) Option {
	return func(o *Orchestrator) {
		o.recorder = recorder
	}
}

// WithFallbackResponder replaces the local keyword responder
func WithFallbackResponder(fallback providers.Provider) Option {
	return func(o *Orchestrator) {
		o.fallback = fallback
	}
}

// New creates an orchestrator. The fallback responder is registered in the
// registry under the local fallback name if it is not there yet.
func New(
	registry *providers.Registry,
	limiter *ratelimit.Limiter,
	responseCache cache.ResponseCache,
	executor *retry.Executor,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}

	o := &Orchestrator{
		registry:      registry,
		limiter:       limiter,
		cache:         responseCache,
		executor:      executor,
		fallback:      local.NewResponder(),
		order:         append([]string(nil), cfg.FallbackOrder...),
		cooldown:      cfg.Cooldown,
		sharedTimeout: DefaultSharedTimeout,
		now:           time.Now,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(o)
	}

	if _, ok := registry.Get(providers.LocalFallbackName); !ok {
		_ = registry.Register(o.fallback, providers.ProviderConfig{Model: local.Model})
	}

	return o
}

// Complete returns a completion for messages. It never fails: when every
// remote provider is unusable the local responder answers and the result's
// Error field says why.
func (o *Orchestrator) Complete(ctx context.Context, messages []providers.Message, options GenerationOptions) (result CompletionResult) {
	start := o.now()
	requestID := options.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	key := cache.Fingerprint(messages, options)

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("completion panicked",
				zap.String("request_id", requestID),
				zap.Any("panic", r))
			result = o.localResult(ctx, o.buildRequest(messages, options, requestID), fmt.Sprintf("internal error: %v", r))
		}
		result.RequestID = requestID
		result.LatencyMs = o.now().Sub(start).Milliseconds()
		o.finish(ctx, key, result, o.now().Sub(start))
	}()

	if hit, ok := o.lookup(ctx, key, requestID); ok {
		hit.Cached = true
		return hit
	}

	if err := ctx.Err(); err != nil {
		return o.cancelledResult(ctx, messages, options, requestID)
	}

	// The shared call must outlive whichever caller started it, so it runs
	// detached and each caller waits on its own context.
	ch := o.inflight.DoChan(key, func() (any, error) {
		return o.sharedDispatch(ctx, key, messages, options, requestID), nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			o.logger.Debug("joined in-flight completion",
				zap.String("request_id", requestID),
				zap.String("fingerprint", key))
		}
		return res.Val.(CompletionResult)
	case <-ctx.Done():
		return o.cancelledResult(ctx, messages, options, requestID)
	}
}

// sharedDispatch runs dispatch detached from the caller's cancellation. A
// panic here would escape singleflight's goroutine, so it is turned into a
// fallback result for every waiter.
func (o *Orchestrator) sharedDispatch(ctx context.Context, key string, messages []providers.Message, options GenerationOptions, requestID string) (result CompletionResult) {
	sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.sharedTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("completion panicked",
				zap.String("request_id", requestID),
				zap.Any("panic", r))
			result = o.localResult(sharedCtx, o.buildRequest(messages, options, requestID), fmt.Sprintf("internal error: %v", r))
		}
	}()

	return o.dispatch(sharedCtx, key, messages, options, requestID)
}

func (o *Orchestrator) cancelledResult(ctx context.Context, messages []providers.Message, options GenerationOptions, requestID string) CompletionResult {
	reason := services.ErrAllProvidersFailed.Message + ": request cancelled: " + ctx.Err().Error()
	return o.localResult(ctx, o.buildRequest(messages, options, requestID), reason)
}

// GetProviderStatus returns a snapshot of every registered provider
func (o *Orchestrator) GetProviderStatus() []ProviderStatusView {
	o.mu.RLock()
	current := o.current
	o.mu.RUnlock()

	statuses := o.registry.Statuses()
	views := make([]ProviderStatusView, 0, len(statuses))
	for _, s := range statuses {
		views = append(views, ProviderStatusView{
			Name:          s.Name,
			Model:         s.Model,
			Available:     s.Available,
			CooldownUntil: s.CooldownUntil,
			RateLimited:   o.limiter.IsLimited(s.Name),
			Current:       s.Name == current,
		})
	}
	return views
}

// CurrentProvider returns the provider that served the latest remote completion
func (o *Orchestrator) CurrentProvider() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current
}

// ClearCache drops every cached completion
func (o *Orchestrator) ClearCache(ctx context.Context) error {
	if err := o.cache.Clear(ctx); err != nil {
		return services.WrapError(services.ErrorTypeInternal, services.ErrCacheFailed.Message, err)
	}
	o.logger.Info("response cache cleared")
	return nil
}

// Classify maps a provider call failure onto the orchestrator's error taxonomy
func Classify(err error) services.ErrorType {
	if err == nil {
		return ""
	}

	if provErr, ok := providers.AsProviderError(err); ok {
		switch provErr.Category {
		case providers.CategoryAuth, providers.CategoryServer:
			return services.ErrorTypeSerious
		case providers.CategoryRateLimit:
			return services.ErrorTypeRateLimited
		case providers.CategoryConfig, providers.CategoryBadRequest:
			return services.ErrorTypeConfiguration
		default:
			return services.ErrorTypeTransient
		}
	}

	if errors.Is(err, providers.ErrProviderNotFound) {
		return services.ErrorTypeConfiguration
	}
	return services.ErrorTypeTransient
}

// dispatch walks the candidates and falls back locally when none succeeds
func (o *Orchestrator) dispatch(ctx context.Context, key string, messages []providers.Message, options GenerationOptions, requestID string) CompletionResult {
	// Another caller may have filled the cache while this one waited to run
	if hit, ok := o.peek(ctx, key); ok {
		hit.Cached = true
		return hit
	}

	req := o.buildRequest(messages, options, requestID)
	candidates := o.candidates(options.PreferredProvider)
	var failures []string

	for _, name := range candidates {
		if err := ctx.Err(); err != nil {
			failures = append(failures, "request cancelled")
			break
		}

		entry, ok := o.registry.Get(name)
		if !ok {
			o.logger.Warn("skipping unknown provider", zap.String("provider", name), zap.String("request_id", requestID))
			failures = append(failures, name+": not configured")
			continue
		}
		if !entry.Available {
			failures = append(failures, name+": unavailable")
			continue
		}
		if o.limiter.IsLimited(name) {
			failures = append(failures, name+": rate limited")
			continue
		}

		resp, err := o.executor.Execute(ctx, &countingProvider{Provider: entry.Provider, o: o}, req)
		if err == nil {
			result := toResult(resp, name, entry.Config.Model)
			o.setCurrent(name)
			if err := o.cache.Put(ctx, key, result); err != nil {
				o.logger.Warn("failed to cache completion", zap.String("fingerprint", key), zap.Error(err))
			}
			return result
		}

		kind := o.handleFailure(name, err, requestID)
		failures = append(failures, fmt.Sprintf("%s: %s", name, kind))
	}

	reason := services.ErrAllProvidersFailed.Message
	if len(failures) > 0 {
		reason += ": " + strings.Join(failures, "; ")
	}
	o.logger.Warn("falling back to local responder",
		zap.String("request_id", requestID),
		zap.String("reason", reason))

	return o.localResult(ctx, req, reason)
}

// handleFailure applies the side effects of a classified failure
func (o *Orchestrator) handleFailure(name string, err error, requestID string) services.ErrorType {
	kind := Classify(err)

	switch kind {
	case services.ErrorTypeSerious:
		until := o.now().Add(o.cooldown)
		if setErr := o.registry.SetAvailability(name, false, &until); setErr != nil {
			o.logger.Error("failed to cool down provider", zap.String("provider", name), zap.Error(setErr))
		}
		o.metrics.RecordCooldown(name)
		o.metrics.SetProvidersAvailable(o.availableRemote())
		o.logger.Warn("provider cooled down",
			zap.String("provider", name),
			zap.String("request_id", requestID),
			zap.Time("cooldown_until", until),
			zap.Error(err))
	case services.ErrorTypeRateLimited:
		o.limiter.Saturate(name)
	default:
		o.logger.Info("provider failed",
			zap.String("provider", name),
			zap.String("request_id", requestID),
			zap.String("classification", string(kind)),
			zap.Error(err))
	}

	return kind
}

// candidates returns the remote providers to try, preferred first, without duplicates
func (o *Orchestrator) candidates(preferred string) []string {
	order := o.order
	if len(order) == 0 {
		order = o.registry.Names()
	}

	seen := make(map[string]bool, len(order)+1)
	out := make([]string, 0, len(order)+1)
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || name == providers.LocalFallbackName || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	add(preferred)
	for _, name := range order {
		add(name)
	}
	return out
}

func (o *Orchestrator) buildRequest(messages []providers.Message, options GenerationOptions, requestID string) *providers.ChatRequest {
	msgs := make([]providers.Message, 0, len(messages)+1)
	if options.SystemPrompt != "" {
		msgs = append(msgs, providers.Message{Role: providers.RoleSystem, Content: options.SystemPrompt})
	}
	msgs = append(msgs, messages...)

	req := &providers.ChatRequest{
		Messages:    msgs,
		Temperature: options.Temperature,
		RequestID:   requestID,
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	return req
}

// lookup reads the cache and records the hit or miss
func (o *Orchestrator) lookup(ctx context.Context, key, requestID string) (CompletionResult, bool) {
	result, ok := o.peek(ctx, key)
	o.metrics.RecordCacheLookup(ok)
	if ok {
		o.logger.Debug("cache hit", zap.String("request_id", requestID), zap.String("fingerprint", key))
	}
	return result, ok
}

func (o *Orchestrator) peek(ctx context.Context, key string) (CompletionResult, bool) {
	result, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		o.logger.Warn("cache lookup failed", zap.String("fingerprint", key), zap.Error(err))
		return CompletionResult{}, false
	}
	return result, ok
}

// localResult asks the fallback responder. It never fails.
func (o *Orchestrator) localResult(ctx context.Context, req *providers.ChatRequest, reason string) CompletionResult {
	result := CompletionResult{
		Provider: providers.LocalFallbackName,
		Model:    local.Model,
		Error:    reason,
	}

	resp, err := o.fallback.ChatCompletion(ctx, req)
	if err != nil || resp.Content() == "" {
		result.Content = local.Reply(req.Messages)
		result.FinishReason = "stop"
		return result
	}

	result.Content = resp.Content()
	result.FinishReason = resp.FinishReason()
	if resp.Model != "" {
		result.Model = resp.Model
	}
	return result
}

// finish reports metrics and persists the completion
func (o *Orchestrator) finish(ctx context.Context, key string, result CompletionResult, elapsed time.Duration) {
	outcome := models.CompletionOutcomeSuccess
	switch {
	case result.Cached:
		outcome = models.CompletionOutcomeCached
	case result.Degraded():
		outcome = models.CompletionOutcomeFallback
	}
	o.metrics.RecordCompletion(result.Provider, string(outcome), elapsed)

	if o.recorder == nil {
		return
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := o.recorder.RecordCompletion(recordCtx, key, result); err != nil {
		o.logger.Warn("failed to record completion",
			zap.String("request_id", result.RequestID),
			zap.Error(err))
	}
}

func (o *Orchestrator) setCurrent(name string) {
	o.mu.Lock()
	o.current = name
	o.mu.Unlock()
}

func (o *Orchestrator) availableRemote() int {
	n := 0
	for _, s := range o.registry.Statuses() {
		if s.Name != providers.LocalFallbackName && s.Available {
			n++
		}
	}
	return n
}

func toResult(resp *providers.ChatResponse, provider, configuredModel string) CompletionResult {
	result := CompletionResult{
		Content:      resp.Content(),
		Provider:     provider,
		Model:        resp.Model,
		FinishReason: resp.FinishReason(),
	}
	if result.Model == "" {
		result.Model = configuredModel
	}
	if resp.Usage != nil {
		result.Usage = &models.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result
}

// countingProvider charges every attempt to the provider's rate window
type countingProvider struct {
	providers.Provider
	o *Orchestrator
}

func (p *countingProvider) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	p.o.limiter.RecordCall(p.Name())

	resp, err := p.Provider.ChatCompletion(ctx, req)
	if err != nil {
		p.o.metrics.RecordAttempt(p.Name(), string(Classify(err)))
		return nil, err
	}
	p.o.metrics.RecordAttempt(p.Name(), "ok")
	return resp, nil
}
