package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/upb/tavern-oracle/config"
	"github.com/upb/tavern-oracle/internal/observability"
	"github.com/upb/tavern-oracle/middleware"
	"github.com/upb/tavern-oracle/repositories"
	"github.com/upb/tavern-oracle/repositories/postgres"
	"github.com/upb/tavern-oracle/services/cache"
	"github.com/upb/tavern-oracle/services/orchestrator"
	"github.com/upb/tavern-oracle/services/providers"
	"github.com/upb/tavern-oracle/services/providers/openai"
	"github.com/upb/tavern-oracle/services/ratelimit"
	"github.com/upb/tavern-oracle/services/retry"
	"github.com/upb/tavern-oracle/services/usagelog"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const probeOnStartTimeout = 15 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	DB     *postgres.DB
	Redis  *redis.Client

	// Repository Factory, nil when no database is configured
	RepoFactory    *postgres.RepositoryFactory
	CompletionLogs repositories.CompletionLogRepository

	// Metrics
	MetricsRegistry *prometheus.Registry
	Metrics         *observability.Metrics

	// Orchestration
	Registry     *providers.Registry
	Limiter      *ratelimit.Limiter
	Cache        cache.ResponseCache
	Orchestrator *orchestrator.Orchestrator
	Recorder     *usagelog.Recorder
	Sweeper      *usagelog.Sweeper

	// Auth
	TokenIssuer    *middleware.HMACValidator
	AuthMiddleware *middleware.AuthMiddleware

	stop    context.CancelFunc
	workers *errgroup.Group
}

// NewDependencies creates and wires up all application dependencies.
// Background workers are not started until Start is called.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	deps.initMetrics(cfg)

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initCache(ctx, cfg); err != nil {
		deps.closeStores()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	if err := deps.initProviders(cfg); err != nil {
		deps.closeStores()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	deps.initOrchestrator(cfg)
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.Strings("providers", deps.Registry.Names()),
		zap.String("cache_backend", cfg.Orchestrator.CacheBackend),
		zap.Bool("usage_log", deps.Recorder != nil))
	return deps, nil
}

// initMetrics creates a private registry so tests can build several instances
func (d *Dependencies) initMetrics(cfg *config.Config) {
	if !cfg.Observability.MetricsEnabled {
		return
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.MetricsRegistry = reg
	d.Metrics = observability.NewMetrics(reg)
}

// initDatabase connects to PostgreSQL when configured and prepares the usage log schema
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if !cfg.Database.Enabled() {
		d.Logger.Info("database not configured, usage logging disabled")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	if err := factory.GetDB().InitSchema(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()
	d.CompletionLogs = factory.NewRepositories().CompletionLogs
	return nil
}

// initCache builds the response cache for the configured backend
func (d *Dependencies) initCache(ctx context.Context, cfg *config.Config) error {
	oc := cfg.Orchestrator

	switch oc.CacheBackend {
	case config.CacheBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Address, err)
		}

		d.Redis = client
		d.Cache = cache.NewRedisCache(client, oc.CacheTTL, d.Logger, cache.WithKeyPrefix(cfg.Redis.KeyPrefix))
		d.Logger.Info("redis response cache connected", zap.String("address", cfg.Redis.Address))

	default:
		d.Cache = cache.NewMemoryCache(oc.CacheMaxSize, oc.CacheTTL)
	}

	return nil
}

// initProviders registers an OpenAI-compatible adapter for every provider with a key
func (d *Dependencies) initProviders(cfg *config.Config) error {
	registry := providers.NewRegistry()

	for _, pc := range cfg.Providers.Configured() {
		adapter := openai.NewAdapter(toProviderConfig(pc), d.Logger)
		if err := registry.Register(adapter, adapter.Config()); err != nil {
			return fmt.Errorf("failed to register provider %s: %w", pc.Name, err)
		}
		d.Logger.Info("registered provider",
			zap.String("provider", pc.Name),
			zap.String("model", pc.Model))
	}

	if registry.Count() == 0 {
		d.Logger.Warn("no LLM providers configured, every completion will use the local fallback")
	}

	d.Registry = registry
	return nil
}

func (d *Dependencies) initOrchestrator(cfg *config.Config) {
	oc := cfg.Orchestrator

	d.Limiter = ratelimit.NewLimiter(oc.RateWindow, oc.RateCeiling, d.Logger)

	executor := retry.NewExecutor(oc.RetryMaxAttempts, oc.RetryBaseDelay, d.Logger)

	opts := []orchestrator.Option{orchestrator.WithMetrics(d.Metrics)}
	if d.CompletionLogs != nil {
		d.Recorder = usagelog.NewRecorder(d.CompletionLogs, d.Logger)
		opts = append(opts, orchestrator.WithRecorder(d.Recorder))

		if cfg.Database.LogRetention > 0 {
			d.Sweeper = usagelog.NewSweeper(d.CompletionLogs, cfg.Database.LogRetention, d.Logger)
		}
	}

	d.Orchestrator = orchestrator.New(
		d.Registry,
		d.Limiter,
		d.Cache,
		executor,
		orchestrator.Config{
			FallbackOrder: oc.FallbackOrder,
			Cooldown:      oc.Cooldown,
		},
		d.Logger,
		opts...,
	)
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	d.TokenIssuer = middleware.NewHMACValidator(cfg.Admin.JWTSecret, cfg.Admin.Issuer)
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.TokenIssuer, d.Logger)

	if cfg.Admin.JWTSecret == "" {
		d.Logger.Warn("admin JWT secret not set, admin endpoints will reject every request")
	}
}

// Start launches the background workers. They run until Close.
func (d *Dependencies) Start(ctx context.Context) {
	ctx, d.stop = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	d.workers = g

	oc := d.Config.Orchestrator

	g.Go(func() error {
		d.Limiter.StartCleanupWorker(gctx, oc.RateWindow)
		return nil
	})

	if mem, ok := d.Cache.(*cache.MemoryCache); ok {
		g.Go(func() error {
			mem.StartCleanupWorker(oc.CacheCleanupInterval, gctx.Done())
			return nil
		})
	}

	if d.Recorder != nil {
		g.Go(func() error {
			d.Recorder.Run(gctx)
			return nil
		})
	}

	if d.Sweeper != nil {
		g.Go(func() error {
			d.Sweeper.Run(gctx, d.Config.Database.RetentionSweepInterval)
			return nil
		})
	}

	if oc.ProbeOnStart {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, probeOnStartTimeout)
			defer cancel()

			results, err := d.Orchestrator.ProbeProviders(probeCtx)
			if err != nil {
				d.Logger.Warn("startup probe interrupted", zap.Error(err))
				return nil
			}
			for _, r := range results {
				d.Logger.Info("startup probe",
					zap.String("provider", r.Provider),
					zap.Bool("healthy", r.Healthy),
					zap.String("classification", string(r.Classification)))
			}
			return nil
		})
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	if d.stop != nil {
		d.stop()
		done := make(chan struct{})
		go func() {
			_ = d.workers.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			d.Logger.Warn("background workers did not stop before shutdown deadline")
		}
	}

	if d.Recorder != nil {
		written, dropped := d.Recorder.Stats()
		d.Logger.Info("usage log totals",
			zap.Int64("written", written),
			zap.Int64("dropped", dropped))
	}

	err := d.closeStores()

	// Sync logger
	_ = d.Logger.Sync()

	return err
}

func (d *Dependencies) closeStores() error {
	var errs []error

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	return errors.Join(errs...)
}

// CachePinger returns the cache as a readiness dependency, or nil when the
// backend lives in process
func (d *Dependencies) CachePinger() interface{ Ping(context.Context) error } {
	if rc, ok := d.Cache.(*cache.RedisCache); ok {
		return rc
	}
	return nil
}

func toProviderConfig(pc config.ProviderConfig) providers.ProviderConfig {
	headers := make(map[string]string, len(pc.Headers))
	for k, v := range pc.Headers {
		headers[k] = v
	}
	return providers.ProviderConfig{
		Name:        pc.Name,
		BaseURL:     pc.BaseURL,
		APIKey:      pc.APIKey,
		Model:       pc.Model,
		MaxTokens:   pc.MaxTokens,
		Temperature: pc.Temperature,
		Timeout:     pc.Timeout,
		Headers:     headers,
	}
}
