package commands

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ynhctl/ynhctl/pkg/engine"
	"github.com/ynhctl/ynhctl/pkg/stores"
	"github.com/ynhctl/ynhctl/pkg/telemetry"
)

// applyDebounce coalesces bursts of file events in watch mode. Editors
// typically emit several writes per save.
const applyDebounce = 500 * time.Millisecond

type applyOptions struct {
	target        *targetFlags
	dryRun        bool
	timeout       time.Duration
	dbPath        string
	policyDir     string
	maxRetries    int
	metricsListen string
	watch         bool
}

func newApplyCommand() *cobra.Command {
	opts := &applyOptions{target: &targetFlags{}}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile a host to the desired state",
		Long: `Probe the host, compute the additive plan and execute it operation by
operation. Execution is strictly sequential; transient failures are
retried with backoff, and a failed operation blocks only its dependents.
A per-host advisory lock prevents concurrent runs against the same host.

The exit status is zero only when every operation succeeded or was a
no-op. Use --dry-run to see what would change without touching the host.`,
		Example: `  # Reconcile a remote host
  ynhctl apply -c host.yaml --target server.example.org

  # Preview without changing anything
  ynhctl apply -c host.yaml --target server.example.org --dry-run

  # Re-apply whenever the config file changes
  ynhctl apply -c host.yaml --target server.example.org --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			path, err := requireConfig()
			if err != nil {
				return err
			}

			tel, err := newApplyTelemetry(opts)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tel.Shutdown(shutdownCtx)
			}()

			if !opts.watch {
				return runApply(ctx, path, opts, tel)
			}
			return watchApply(ctx, path, opts, tel)
		},
	}

	opts.target.register(cmd)
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "compute and print the plan without executing it")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", engine.DefaultRunTimeout, "run deadline; remaining operations are skipped when it expires")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "state database path (default ~/.ynhctl/state.db)")
	cmd.Flags().StringVar(&opts.policyDir, "policy-dir", "", "enable the policy gate with this directory of .rego or .json files")
	cmd.Flags().IntVar(&opts.maxRetries, "max-retries", 0, "per-operation retry budget (0 for the default)")
	cmd.Flags().StringVar(&opts.metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "re-apply whenever the config file changes")
	return cmd
}

// newApplyTelemetry builds the telemetry stack for apply. Metrics stay off
// unless a listen address is given; events always flow so retries and
// skips surface in the log.
func newApplyTelemetry(opts *applyOptions) (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	if opts.metricsListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = opts.metricsListen
	}

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, err
	}

	tel.Events.Subscribe(func(event engine.Event) {
		evt := logger().Warn()
		if event.Level == "error" {
			evt = logger().Error()
		}
		evt.Str("event", string(event.Type)).
			Str("entity", event.Entity).
			Msg(event.Message)
	}, telemetry.FilterByLevel("warning"))

	if opts.metricsListen != "" {
		if err := tel.StartMetricsServer(); err != nil {
			return nil, err
		}
	}
	return tel, nil
}

// runApply performs one full reconciliation pass.
func runApply(ctx context.Context, path string, opts *applyOptions, tel *telemetry.Telemetry) error {
	desired, _, err := loadDesired(ctx, path)
	if err != nil {
		return err
	}

	transport, err := opts.target.newTransport(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = transport.Close() }()
	provider := opts.target.newProvider(transport)
	host := transport.Target()

	store, err := openStore(ctx, opts.dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runID := uuid.New().String()

	// The run deadline covers everything from lock admission through the
	// last operation.
	runCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	// The lock is taken before probing so two runs cannot interleave a
	// probe of one with mutations of the other.
	if !opts.dryRun {
		if err := store.AcquireLock(runCtx, host, runID); err != nil {
			if engine.IsLockHeld(err) {
				tel.Metrics.RecordLockContention(host)
			}
			return err
		}
		defer func() {
			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer releaseCancel()
			_ = store.ReleaseLock(releaseCtx, host, runID)
		}()
		go heartbeatLock(runCtx, store, host, runID)
	}

	probeStart := time.Now()
	actual, err := provider.Probe(runCtx)
	if err != nil {
		tel.Metrics.RecordProbe("failed", time.Since(probeStart))
		return fmt.Errorf("probing %s: %w", host, err)
	}
	tel.Metrics.RecordProbe("succeeded", time.Since(probeStart))

	plan, err := engine.NewPlanner().Plan(desired, actual)
	if err != nil {
		return err
	}

	if opts.policyDir != "" {
		result, err := evaluatePolicies(runCtx, plan, desired, opts.policyDir, opts.dryRun)
		if err != nil {
			return err
		}
		printPolicyFindings(result)
	}

	if plan.Empty() {
		fmt.Println("Nothing to do: host already matches the desired state.")
		return nil
	}

	executor := engine.NewExecutor(provider, store, tel.Events, engine.ExecutorConfig{
		MaxRetries: opts.maxRetries,
		DryRun:     opts.dryRun,
		User:       currentUsername(),
		RunID:      runID,
	})
	reporter := engine.NewReporter(*logger())
	executor.OnOutcome = reporter.OperationOutcome

	tel.Metrics.RecordRunStarted(host)
	instrCtx := telemetry.WithRunContext(tel.WithContext(runCtx), runID, host)

	report, err := executor.Execute(instrCtx, plan)
	if err != nil {
		telemetry.EndRunContext(instrCtx, string(engine.RunStatusFailed), err)
		return err
	}
	telemetry.EndRunContext(instrCtx, string(report.Status), nil)

	reporter.Summarize(report)
	if jsonOutput {
		if err := reporter.WriteJSON(os.Stdout, report); err != nil {
			return err
		}
	} else if err := reporter.WriteText(os.Stdout, report); err != nil {
		return err
	}

	if report.Status.Fatal() {
		return fmt.Errorf("run %s finished %s", report.RunID, report.Status)
	}
	return nil
}

// heartbeatLock renews the host lock until the run context ends so a long
// run is not reclaimed as stale by another operator.
func heartbeatLock(ctx context.Context, store *stores.SQLiteStore, host, runID string) {
	ticker := time.NewTicker(stores.DefaultLockStaleAfter / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.RefreshLock(ctx, host, runID); err != nil {
				logger().Warn().Err(err).Str("host", host).Msg("Lock heartbeat failed")
			}
		}
	}
}

// watchApply runs an apply pass, then re-runs on every config file change
// until the context is cancelled. A failing pass is reported and the watch
// continues; the next edit gets another chance.
func watchApply(ctx context.Context, path string, opts *applyOptions, tel *telemetry.Telemetry) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory, not the file: editors replace files on save,
	// which drops a watch installed on the file itself.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	runOnce := func() {
		if err := runApply(ctx, path, opts, tel); err != nil {
			logger().Error().Err(err).Msg("Apply failed")
		}
	}

	runOnce()
	logger().Info().Str("file", abs).Msg("Watching for configuration changes")

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(applyDebounce, func() {
				logger().Info().Str("file", abs).Msg("Configuration changed, re-applying")
				runOnce()
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger().Warn().Err(err).Msg("Watch error")
		}
	}
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
