// Package telemetry provides observability instrumentation for ynhctl:
// structured logging with zerolog, distributed tracing with OpenTelemetry,
// Prometheus metrics and an event fan-out for run timelines.
//
// # Setup
//
// Initialize telemetry once at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Logging
//
// The Logger wraps zerolog with helpers for the fields every run log line
// carries:
//
//	log := tel.Logger.NewComponentLogger("executor")
//	log = log.WithRunID(runID).WithHost(host)
//	log.Info("Run started")
//
// Components that take a zerolog.Logger directly use Zerolog().
//
// # Tracing
//
// The Tracer emits one span per run with child spans for the probe, the
// planning phase and each operation. Exporters: otlp (gRPC), stdout, none.
// Tracing is off by default; a CLI run produces no background traffic
// unless asked for.
//
// # Metrics
//
// Metrics keeps its own Prometheus registry so tests and embedding programs
// never fight over the default one. The histogram buckets stretch to ten
// minutes because a platform bootstrap on a slow host really takes that
// long. StartMetricsServer exposes /metrics when enabled.
//
// # Events
//
// EventPublisher implements engine.EventSink. The executor publishes every
// run timeline event into it; subscribers receive them in order, optionally
// filtered by level, type, run or entity. With EnableAsync the publisher
// buffers and never blocks the run; a full buffer drops events rather than
// stalling an operation.
//
// Events and log lines carry entity names and redacted specs only. Secrets
// are stripped before anything reaches this package.
package telemetry
