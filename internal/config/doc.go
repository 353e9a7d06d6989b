// Package config provides centralized configuration management for the
// FlipSync coordination runtime through environment variables with sensible
// defaults.
//
// # Overview
//
// The config package loads application configuration from environment
// variables, providing a single source of truth for the coordinator process:
//   - Coordinator HTTP/WebSocket surface address
//   - Observability stack endpoints (Jaeger, Prometheus)
//   - Health check port
//   - Registry health-check and task deadline polling intervals
//   - Marketplace collaborator credentials (LWA/SP-API)
//   - LLM adapter credentials
//   - Persistence collaborator connection strings (Postgres, Redis)
//   - Service metadata (name, version, environment)
//
// All configuration values have sensible defaults, so the coordinator can
// run without any environment variable configuration at all.
//
// # Quick Start
//
//	cfg := config.Load()
//	fmt.Printf("HTTP: %s\n", cfg.GetHTTPAddress())
//	fmt.Printf("Jaeger: %s\n", cfg.JaegerEndpoint)
//	fmt.Printf("Environment: %s\n", cfg.Environment)
//
// # Configuration Fields
//
// **Coordinator surface**:
//   - FLIPSYNC_HTTP_ADDR: bind address (default: "0.0.0.0")
//   - FLIPSYNC_HTTP_PORT: bind port (default: "8000")
//
// **Observability stack**:
//   - JAEGER_ENDPOINT: Jaeger OTLP endpoint (default: "127.0.0.1:4317")
//   - PROMETHEUS_PORT: Prometheus port (default: "9090")
//   - HEALTH_PORT: health/ready/metrics endpoint (default: "8080")
//
// **Registry and task delegator tuning**:
//   - AGENT_HEALTH_CHECK_INTERVAL: registry heartbeat sweep period (default: "60s")
//   - TASK_DEADLINE_CHECK_INTERVAL: stored as DeadlineCheckInterval (default: "30s");
//     the task delegator does not read it and always sweeps every 30s
//
// **Marketplace collaborator**:
//   - LWA_APP_ID, LWA_CLIENT_SECRET: Login with Amazon OAuth client credentials
//   - SP_API_REFRESH_TOKEN: refresh token exchanged for access tokens
//   - MARKETPLACE_ID: target marketplace identifier
//
// **LLM adapter**:
//   - ANTHROPIC_API_KEY: API key for the Anthropic client adapter
//   - ANTHROPIC_MODEL: model id (default: "claude-3-5-haiku-latest")
//
// **Persistence collaborators**:
//   - FLIPSYNC_POSTGRES_DSN: conversation/message repository DSN (empty uses the in-memory repository)
//   - FLIPSYNC_REDIS_ADDR: workflow snapshot store address (empty uses the in-memory store)
//
// **Service metadata**:
//   - SERVICE_NAME: service name for observability (default: "flipsync-coordinator")
//   - SERVICE_VERSION: service version (default: "1.0.0")
//   - ENVIRONMENT: deployment environment (default: "development")
//   - LOG_LEVEL: logging level - DEBUG, INFO, WARN, ERROR (default: "INFO")
//
// # Usage Examples
//
// **Basic configuration**:
//
//	cfg := config.Load()
//	addr := cfg.GetHTTPAddress() // "0.0.0.0:8000"
//
// **Custom environment**:
//
//	os.Setenv("FLIPSYNC_HTTP_PORT", "9000")
//	os.Setenv("ENVIRONMENT", "production")
//	os.Setenv("LOG_LEVEL", "WARN")
//
//	cfg := config.Load()
//	// uses production values
//
// # Configuration Precedence
//
// Configuration is loaded in this order:
//  1. Environment variables (if set)
//  2. Default values (if not set)
//
// # Integration with Other Packages
//
// **observability.DefaultConfig()**:
//
//	func DefaultConfig(serviceName string) observability.Config {
//	    appConfig := config.Load()
//	    return observability.Config{
//	        ServiceName:    serviceName,
//	        ServiceVersion: appConfig.ServiceVersion,
//	        JaegerEndpoint: appConfig.JaegerEndpoint,
//	        // ...
//	    }
//	}
//
// # Best Practices
//
// **Build the config once per process**:
//
//	// cmd/coordinator builds it once, from flags/env/config file:
//	cfg := config.FromViper(v)
//	// and passes it to components that need it
//
// **Don't mutate AppConfig**:
//
//	// AppConfig is a read-only snapshot of environment at startup
//	cfg := config.Load()
//	// don't modify cfg fields after loading
//
// **Use helper methods**:
//
//	addr := cfg.GetHTTPAddress() // prefer this
//	// over: addr := cfg.HTTPAddr + ":" + cfg.HTTPPort
//
// # Thread Safety
//
// AppConfig is safe to read from multiple goroutines once loaded.
// Do not modify AppConfig fields after calling Load().
package config
