// Package observability provides comprehensive observability infrastructure including
// distributed tracing, metrics collection, structured logging, and health checks.
//
// # Overview
//
// The observability package implements OpenTelemetry-based observability with:
//   - Distributed tracing (OpenTelemetry/Jaeger)
//   - Metrics collection (Prometheus)
//   - Structured logging (log/slog)
//   - Health check endpoints
//   - Graceful shutdown with trace flushing
//
// This package is the foundation for observability across the coordinator,
// providing consistent tracing, metrics, and logging for the event bus,
// registry, task delegator, pipeline controller, and every other component.
//
// # Quick Start
//
// Initialize observability for the process:
//
//	config := observability.DefaultConfig("flipsync-coordinator")
//	obs, err := observability.NewObservability(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer obs.Shutdown(context.Background())
//
//	// Use the components
//	logger := obs.Logger
//	tracer := obs.Tracer
//	meter := obs.Meter
//
// This automatically sets up:
//   - OTLP trace exporter to Jaeger
//   - Prometheus metrics exporter
//   - Structured logger with trace context
//   - Proper resource attributes (service name, version, environment)
//
// # Architecture
//
// The package provides layered observability:
//
//	┌─────────────────────────────────────────────┐
//	│         Application Code                    │
//	│   (bus, registry, tasks, pipeline, comm)    │
//	├─────────────────────────────────────────────┤
//	│         TraceManager                        │
//	│   - Span creation & management              │
//	│   - Task/event span attributes              │
//	│   - Context propagation                     │
//	├─────────────────────────────────────────────┤
//	│         MetricsManager                      │
//	│   - Counter metrics (events, errors)        │
//	│   - Histogram metrics (durations)           │
//	│   - Gauge metrics (goroutines, memory)      │
//	├─────────────────────────────────────────────┤
//	│         Logger (slog)                       │
//	│   - Structured logging                      │
//	│   - Trace context injection                 │
//	│   - Configurable log levels                 │
//	├─────────────────────────────────────────────┤
//	│         OpenTelemetry SDK                   │
//	│   - OTLP trace exporter → Jaeger            │
//	│   - Prometheus metrics exporter             │
//	│   - Resource detection                      │
//	└─────────────────────────────────────────────┘
//
// # Configuration
//
// **Config** specifies observability settings:
//
//	config := observability.Config{
//	    ServiceName:    "flipsync-coordinator",
//	    ServiceVersion: "1.0.0",
//	    JaegerEndpoint: "localhost:4317",    // OTLP gRPC endpoint
//	    PrometheusPort: "9090",
//	    Environment:    "production",
//	    LogLevel:       "INFO",              // DEBUG, INFO, WARN, ERROR
//	}
//
// **DefaultConfig** reads from environment via internal/config:
//
//	config := observability.DefaultConfig("flipsync-coordinator")
//
// # Distributed Tracing
//
// Use TraceManager for creating and managing spans:
//
//	traceManager := observability.NewTraceManager("flipsync-coordinator")
//
//	ctx, span := traceManager.StartSpan(ctx, "process_request")
//	defer span.End()
//
//	span.SetAttributes(
//	    attribute.String("conversation_id", convID),
//	    attribute.Int("message_count", 5),
//	)
//
//	if err != nil {
//	    traceManager.RecordError(span, err)
//	} else {
//	    traceManager.SetSpanSuccess(span)
//	}
//
// ## Bus and Task Tracing
//
// TraceManager provides specialized methods for bus publish/consume spans
// and task lifecycle spans:
//
//	ctx, span := traceManager.StartPublishSpan(ctx, "task.delegator", "task_assigned")
//	defer span.End()
//
//	ctx, span = traceManager.StartEventProcessingSpan(ctx, eventID, "task_completed", source, subject)
//	defer span.End()
//
//	traceManager.AddTaskAttributes(span, taskID, "reprice_listing", parameters)
//	traceManager.AddTaskResult(span, "completed", result, "")
//
// ## Context Propagation
//
// Propagate trace context across component boundaries (useful when a
// handler hands work off to another goroutine or an HTTP collaborator):
//
//	headers := make(map[string]string)
//	traceManager.InjectTraceContext(ctx, headers)
//	ctx = traceManager.ExtractTraceContext(ctx, headers)
//
// # Metrics Collection
//
// Use MetricsManager for recording metrics:
//
//	metricsManager, err := observability.NewMetricsManager(meter)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// ## Event Metrics
//
//	metricsManager.IncrementEventsProcessed(ctx, "task_completed", "tasks", true)
//	metricsManager.IncrementEventErrors(ctx, "task_completed", "tasks", "validation_error")
//	metricsManager.IncrementEventsPublished(ctx, "task_assigned", "tasks")
//
//	timer := metricsManager.StartTimer()
//	// ... do work ...
//	timer(ctx, "task_processing", "tasks")
//
// ## System Metrics
//
//	metricsManager.UpdateSystemMetrics(ctx)
//
// This records go_goroutines, go_memstats_alloc_bytes, and
// process_resident_memory_bytes.
//
// All metrics are exposed at /metrics on the health server's port
// (HEALTH_PORT, default :8080/metrics).
//
// # Structured Logging
//
// The package provides slog-based structured logging with trace context:
//
//	logger := obs.Logger
//	logger.InfoContext(ctx, "task assigned", "task_id", taskID, "agent_id", agentID)
//	logger.ErrorContext(ctx, "task failed", "task_id", taskID, "error", err)
//
// ## Log Levels
//
// Configure via LogLevel in config:
//   - DEBUG: Verbose logging + stdout output
//   - INFO: Standard operation logging
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//
// DEBUG mode enables dual output (observability handler + stdout) via
// CombinedHandler.
//
// # Health Checks
//
// The package includes health check infrastructure (see healthcheck.go):
//
//	healthServer := observability.NewHealthServer(port, serviceName, version)
//
//	healthServer.AddChecker("self", observability.NewBasicHealthChecker("self", func(ctx context.Context) error {
//	    return nil
//	}))
//
//	healthServer.AddChecker("marketplace", observability.NewCollaboratorHealthChecker(
//	    "marketplace", 5*time.Second, marketplaceAdapter.Ping,
//	))
//
//	go healthServer.Start(ctx)
//
// Health endpoints:
//   - GET /health: overall health status
//   - GET /ready: readiness (currently mirrors /health)
//   - GET /metrics: Prometheus metrics
//
// # Graceful Shutdown
//
// Always shut down observability to flush traces and metrics:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//
//	if err := obs.Shutdown(ctx); err != nil {
//	    log.Printf("observability shutdown error: %v", err)
//	}
//
// Without shutdown, recent traces may be lost.
//
// # Trace Visualization
//
// View traces in Jaeger UI at http://localhost:16686. Search by service
// name ("flipsync-coordinator"), operation name (TraceManager's
// "process_event", "publish_event", "consume_event", or any name passed to
// StartSpan), or tags ("task.id=...").
//
// # Metrics Dashboard
//
// View metrics in Prometheus at http://localhost:9090.
//
//	rate(events_processed_total[1m])
//	rate(event_errors_total[1m])
//	histogram_quantile(0.95, rate(event_processing_duration_seconds_bucket[5m]))
//	go_goroutines
//
// # Thread Safety
//
// All components are thread-safe: TraceManager, MetricsManager, and Logger
// can be used concurrently from multiple goroutines. Shutdown should be
// called once.
//
// # Best Practices
//
// Always pass context through to child operations, end spans with defer,
// record errors on the span before returning them, and prefer structured
// logging (logger.InfoContext(ctx, "message", "key", value)) over
// fmt.Sprintf-built log lines.
package observability
