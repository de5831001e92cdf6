package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Cache backends
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Orchestrator  OrchestratorConfig
	Providers     ProvidersConfig
	Redis         RedisConfig
	Database      DatabaseConfig
	Admin         AdminConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// OrchestratorConfig holds routing, caching, rate limiting and retry policy
type OrchestratorConfig struct {
	FallbackOrder        []string
	Cooldown             time.Duration
	CacheBackend         string // memory or redis
	CacheTTL             time.Duration
	CacheMaxSize         int
	CacheCleanupInterval time.Duration
	RateWindow           time.Duration
	RateCeiling          int
	RetryMaxAttempts     int
	RetryBaseDelay       time.Duration
	ProbeOnStart         bool
}

// ProvidersConfig holds the remote provider configurations
type ProvidersConfig struct {
	Groq       ProviderConfig
	Cerebras   ProviderConfig
	OpenRouter ProviderConfig
}

// ProviderConfig holds one OpenAI-compatible provider's configuration
type ProviderConfig struct {
	Name        string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Headers     map[string]string
}

// RedisConfig holds Redis configuration for the shared response cache
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration

	// Usage log retention; zero disables the sweep
	LogRetention           time.Duration
	RetentionSweepInterval time.Duration
}

// AdminConfig holds the admin API token settings
type AdminConfig struct {
	JWTSecret string
	Issuer    string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Orchestrator: OrchestratorConfig{
			FallbackOrder:        getEnvAsSlice("FALLBACK_ORDER", []string{"groq", "cerebras", "openrouter"}),
			Cooldown:             getEnvAsDuration("PROVIDER_COOLDOWN", 5*time.Minute),
			CacheBackend:         strings.ToLower(getEnv("CACHE_BACKEND", CacheBackendMemory)),
			CacheTTL:             getEnvAsDuration("CACHE_TTL", 5*time.Minute),
			CacheMaxSize:         getEnvAsInt("CACHE_MAX_SIZE", 1000),
			CacheCleanupInterval: getEnvAsDuration("CACHE_CLEANUP_INTERVAL", time.Minute),
			RateWindow:           getEnvAsDuration("RATE_LIMIT_WINDOW", 60*time.Second),
			RateCeiling:          getEnvAsInt("RATE_LIMIT_CEILING", 100),
			RetryMaxAttempts:     getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			RetryBaseDelay:       getEnvAsDuration("RETRY_BASE_DELAY", time.Second),
			ProbeOnStart:         getEnvAsBool("PROBE_ON_START", false),
		},
		Providers: ProvidersConfig{
			Groq:     loadProviderConfig("groq", "GROQ", "https://api.groq.com/openai/v1", "llama-3.1-8b-instant"),
			Cerebras: loadProviderConfig("cerebras", "CEREBRAS", "https://api.cerebras.ai/v1", "llama3.1-8b"),
			OpenRouter: loadProviderConfig("openrouter", "OPENROUTER", "https://openrouter.ai/api/v1",
				"meta-llama/llama-3.1-8b-instruct:free"),
		},
		Redis: RedisConfig{
			Address:   getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "tavern-oracle:completion:"),
		},
		Database: loadDatabaseConfig(),
		Admin: AdminConfig{
			JWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
			Issuer:    getEnv("ADMIN_JWT_ISSUER", "tavern-oracle"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if referer := getEnv("OPENROUTER_SITE_URL", ""); referer != "" {
		cfg.Providers.OpenRouter.Headers["HTTP-Referer"] = referer
	}
	if title := getEnv("OPENROUTER_APP_NAME", "Tavern Oracle"); title != "" {
		cfg.Providers.OpenRouter.Headers["X-Title"] = title
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Orchestrator validation
	switch c.Orchestrator.CacheBackend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis address is required when CACHE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Orchestrator.CacheBackend)
	}
	if c.Orchestrator.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.Orchestrator.CacheCleanupInterval <= 0 {
		return fmt.Errorf("cache cleanup interval must be positive")
	}
	if c.Orchestrator.RateWindow <= 0 || c.Orchestrator.RateCeiling <= 0 {
		return fmt.Errorf("rate limit window and ceiling must be positive")
	}
	if c.Orchestrator.RetryMaxAttempts <= 0 {
		return fmt.Errorf("retry max attempts must be positive")
	}
	if c.Orchestrator.RetryBaseDelay <= 0 {
		return fmt.Errorf("retry base delay must be positive")
	}
	if c.Orchestrator.Cooldown <= 0 {
		return fmt.Errorf("provider cooldown must be positive")
	}

	for _, p := range c.Providers.All() {
		if p.Temperature < 0 || p.Temperature > 2 {
			return fmt.Errorf("%s temperature must be between 0 and 2", p.Name)
		}
		if p.MaxTokens <= 0 {
			return fmt.Errorf("%s max tokens must be positive", p.Name)
		}
	}

	// A zero retention keeps usage logs forever
	if c.Database.Enabled() {
		if c.Database.LogRetention < 0 {
			return fmt.Errorf("usage log retention must not be negative")
		}
		if c.Database.LogRetention > 0 && c.Database.RetentionSweepInterval <= 0 {
			return fmt.Errorf("usage log sweep interval must be positive")
		}
	}

	// Production requires credentials for at least one provider and the admin API
	if c.IsProduction() {
		if len(c.Providers.Configured()) == 0 {
			return fmt.Errorf("at least one LLM provider must be configured in production")
		}
		if c.Admin.JWTSecret == "" {
			return fmt.Errorf("admin JWT secret is required in production")
		}
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// All returns every known provider in declaration order
func (p ProvidersConfig) All() []ProviderConfig {
	return []ProviderConfig{p.Groq, p.Cerebras, p.OpenRouter}
}

// Configured returns the providers that have a credential
func (p ProvidersConfig) Configured() []ProviderConfig {
	var out []ProviderConfig
	for _, pc := range p.All() {
		if pc.APIKey != "" {
			out = append(out, pc)
		}
	}
	return out
}

// Enabled reports whether a database was configured. The usage log is optional.
func (c *DatabaseConfig) Enabled() bool {
	return c.ConnectionString != "" || c.Host != ""
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadProviderConfig reads <PREFIX>_API_KEY, <PREFIX>_BASE_URL, <PREFIX>_MODEL, ...
func loadProviderConfig(name, prefix, baseURL, model string) ProviderConfig {
	return ProviderConfig{
		Name:        name,
		APIKey:      getEnv(prefix+"_API_KEY", ""),
		BaseURL:     getEnv(prefix+"_BASE_URL", baseURL),
		Model:       getEnv(prefix+"_MODEL", model),
		MaxTokens:   getEnvAsInt(prefix+"_MAX_TOKENS", 150),
		Temperature: getEnvAsFloat(prefix+"_TEMPERATURE", 0.8),
		Timeout:     getEnvAsDuration(prefix+"_TIMEOUT", 30*time.Second),
		Headers:     make(map[string]string),
	}
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// With neither set the usage log is disabled.
func loadDatabaseConfig() DatabaseConfig {
	var cfg DatabaseConfig
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		cfg = DatabaseConfig{ConnectionString: dbURL}
	} else {
		cfg = DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "tavern"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "tavern_oracle"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		}
	}

	cfg.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", 25)
	cfg.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", 5)
	cfg.ConnMaxLifetime = getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.LogRetention = getEnvAsDuration("USAGE_LOG_RETENTION", 30*24*time.Hour)
	cfg.RetentionSweepInterval = getEnvAsDuration("USAGE_LOG_SWEEP_INTERVAL", time.Hour)
	return cfg
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice splits a comma-separated value, dropping empty items
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
