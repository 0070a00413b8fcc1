package telemetry_test

import (
	"context"
	"fmt"

	"github.com/ynhctl/ynhctl/pkg/engine"
	"github.com/ynhctl/ynhctl/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Start metrics server (non-blocking, no-op unless enabled)
	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("Reconciler started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.NewComponentLogger("executor")

	logger = logger.WithRunID("run-123").WithHost("server.example.org")

	logger.Debug("Probing host")
	logger.Info("Plan computed")

	err := fmt.Errorf("network timeout")
	logger.WithError(err).Warn("Operation will be retried")

	// Output varies, no output specified
}

// Example_eventSubscription demonstrates subscribing to run events.
func Example_eventSubscription() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Only failures, delivered synchronously.
	tel.Events.Subscribe(func(event engine.Event) {
		fmt.Printf("%s: %s\n", event.Type, event.Message)
	}, telemetry.FilterByLevel("error"))

	_ = tel.Events.Publish(context.Background(), &engine.Event{
		Type:    engine.EventTypeOperationFailed,
		RunID:   "run-123",
		Entity:  "example.org",
		Message: "domain creation failed",
	})
	_ = tel.Events.Publish(context.Background(), &engine.Event{
		Type:    engine.EventTypeOperationSucceeded,
		RunID:   "run-123",
		Entity:  "alice",
		Message: "user created",
	})

	// Output: operation_failed: domain creation failed
}

// Example_runInstrumentation demonstrates the run lifecycle helpers.
func Example_runInstrumentation() {
	cfg := telemetry.DefaultConfig()

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	runCtx := telemetry.WithRunContext(ctx, "run-123", "server.example.org")

	opCtx := telemetry.WithOperationContext(runCtx, "run-123", "op-1", "example.org", "create_domain")
	// ... execute the operation ...
	telemetry.EndOperationContext(opCtx, "create_domain", "succeeded", nil)

	telemetry.EndRunContext(runCtx, "succeeded", nil)

	// Output varies, no output specified
}
