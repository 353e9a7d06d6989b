package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// AppConfig holds all application configuration for the FlipSync coordination
// runtime. Every field has a sensible default so the coordinator can run
// without any environment configuration at all.
type AppConfig struct {
	// Coordinator HTTP/WebSocket surface
	HTTPAddr string
	HTTPPort string

	// Observability Configuration
	JaegerEndpoint string
	PrometheusPort string

	// Health Check Port
	HealthPort string

	// Service Configuration
	ServiceName    string
	ServiceVersion string
	Environment    string
	LogLevel       string

	// Registry / task delegator tuning
	HealthCheckInterval   time.Duration
	DeadlineCheckInterval time.Duration

	// Marketplace collaborator credentials (spec.md §6)
	LWAAppID          string
	LWAClientSecret   string
	SPAPIRefreshToken string
	MarketplaceID     string

	// LLM adapter configuration
	AnthropicAPIKey string
	AnthropicModel  string

	// Persistence collaborator configuration
	PostgresDSN string
	RedisAddr   string
}

// Load loads configuration from environment variables with defaults.
func Load() *AppConfig {
	return &AppConfig{
		HTTPAddr: getEnv("FLIPSYNC_HTTP_ADDR", "0.0.0.0"),
		HTTPPort: getEnv("FLIPSYNC_HTTP_PORT", "8000"),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "127.0.0.1:4317"),
		PrometheusPort: getEnv("PROMETHEUS_PORT", "9090"),

		HealthPort: getEnv("HEALTH_PORT", "8080"),

		ServiceName:    getEnv("SERVICE_NAME", "flipsync-coordinator"),
		ServiceVersion: getEnv("SERVICE_VERSION", "1.0.0"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),

		HealthCheckInterval:   getEnvAsDuration("AGENT_HEALTH_CHECK_INTERVAL", 60*time.Second),
		DeadlineCheckInterval: getEnvAsDuration("TASK_DEADLINE_CHECK_INTERVAL", 30*time.Second),

		LWAAppID:          getEnv("LWA_APP_ID", ""),
		LWAClientSecret:   getEnv("LWA_CLIENT_SECRET", ""),
		SPAPIRefreshToken: getEnv("SP_API_REFRESH_TOKEN", ""),
		MarketplaceID:     getEnv("MARKETPLACE_ID", ""),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),

		PostgresDSN: getEnv("FLIPSYNC_POSTGRES_DSN", ""),
		RedisAddr:   getEnv("FLIPSYNC_REDIS_ADDR", ""),
	}
}

// GetHTTPAddress returns the full address the HTTP/WebSocket surface listens on.
func (c *AppConfig) GetHTTPAddress() string {
	return c.HTTPAddr + ":" + c.HTTPPort
}

// GetJaegerWebURL returns the Jaeger web interface URL.
func (c *AppConfig) GetJaegerWebURL() string {
	return "http://localhost:16686"
}

// GetPrometheusURL returns the Prometheus web interface URL.
func (c *AppConfig) GetPrometheusURL() string {
	return "http://localhost:" + c.PrometheusPort
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// BindFlags registers the coordinator's configuration flags on fs and binds
// them into v, so precedence runs flag > env var > config file > default,
// the same order cmd/coordinator's cobra front door follows for every
// server-level setting.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.String("http-addr", "0.0.0.0", "address the chat HTTP/WebSocket surface binds to")
	fs.String("http-port", "8000", "port the chat HTTP/WebSocket surface listens on")
	fs.String("jaeger-endpoint", "127.0.0.1:4317", "OTLP gRPC collector endpoint")
	fs.String("prometheus-port", "9090", "Prometheus metrics scrape port")
	fs.String("health-port", "8080", "health/readiness probe port")
	fs.String("service-name", "flipsync-coordinator", "service name reported to tracing/metrics")
	fs.String("service-version", "1.0.0", "service version reported to tracing/metrics")
	fs.String("environment", "development", "deployment environment label")
	fs.String("log-level", "INFO", "log level: DEBUG, INFO, WARN, ERROR")
	fs.Duration("health-check-interval", 60*time.Second, "agent registry health sweep interval")
	fs.Duration("deadline-check-interval", 30*time.Second, "task deadline monitor sweep interval (stored only; the task delegator always sweeps every 30s)")
	fs.String("postgres-dsn", "", "Postgres DSN for the chat repository (empty uses an in-memory repository)")
	fs.String("redis-addr", "", "Redis address for workflow snapshots (empty uses an in-memory store)")
	fs.String("anthropic-model", "claude-3-5-haiku-latest", "Anthropic model used by the assistant LLM adapter")

	for _, name := range []string{
		"http-addr", "http-port", "jaeger-endpoint", "prometheus-port", "health-port",
		"service-name", "service-version", "environment", "log-level",
		"health-check-interval", "deadline-check-interval",
		"postgres-dsn", "redis-addr", "anthropic-model",
	} {
		_ = v.BindPFlag(name, fs.Lookup(name))
	}

	v.SetEnvPrefix("flipsync")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// FromViper builds an AppConfig from a viper instance populated by BindFlags
// plus any config file v was told to read. Credentials that never belong in
// a flag or config file (OAuth secrets, API keys) are still read directly
// from the environment, matching spec.md §6's collaborator-credential rules.
func FromViper(v *viper.Viper) *AppConfig {
	return &AppConfig{
		HTTPAddr: v.GetString("http-addr"),
		HTTPPort: v.GetString("http-port"),

		JaegerEndpoint: v.GetString("jaeger-endpoint"),
		PrometheusPort: v.GetString("prometheus-port"),

		HealthPort: v.GetString("health-port"),

		ServiceName:    v.GetString("service-name"),
		ServiceVersion: v.GetString("service-version"),
		Environment:    v.GetString("environment"),
		LogLevel:       v.GetString("log-level"),

		HealthCheckInterval:   v.GetDuration("health-check-interval"),
		DeadlineCheckInterval: v.GetDuration("deadline-check-interval"),

		LWAAppID:          getEnv("LWA_APP_ID", ""),
		LWAClientSecret:   getEnv("LWA_CLIENT_SECRET", ""),
		SPAPIRefreshToken: getEnv("SP_API_REFRESH_TOKEN", ""),
		MarketplaceID:     getEnv("MARKETPLACE_ID", ""),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  v.GetString("anthropic-model"),

		PostgresDSN: v.GetString("postgres-dsn"),
		RedisAddr:   v.GetString("redis-addr"),
	}
}
