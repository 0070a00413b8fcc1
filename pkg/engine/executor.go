package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Execution defaults.
const (
	// DefaultMaxRetries bounds transient-failure retries per operation.
	DefaultMaxRetries = 3

	// DefaultBaseBackoff is the first retry delay; it doubles per attempt.
	DefaultBaseBackoff = 1 * time.Second

	// DefaultMaxBackoff caps the retry delay.
	DefaultMaxBackoff = 1 * time.Minute

	// DefaultRunTimeout bounds a whole run.
	DefaultRunTimeout = 30 * time.Minute
)

// ExecutorConfig tunes run execution.
type ExecutorConfig struct {
	// MaxRetries overrides the per-operation retry budget when > 0.
	MaxRetries int

	// BaseBackoff is the initial retry delay.
	BaseBackoff time.Duration

	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration

	// DryRun records every executable operation as succeeded without
	// touching the host.
	DryRun bool

	// User is the operator recorded on the run.
	User string

	// RunID, when set, is used instead of a generated id. Callers that
	// acquire the host lock before executing pass the lock holder's id so
	// the run record and the lock row agree.
	RunID string
}

// DefaultExecutorConfig returns the default execution tuning.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxRetries:  DefaultMaxRetries,
		BaseBackoff: DefaultBaseBackoff,
		MaxBackoff:  DefaultMaxBackoff,
	}
}

// Executor applies a plan strictly sequentially against one host. No two
// operations ever run concurrently. Transient failures are retried with
// exponential backoff; any other failure halts the dependency branch rooted
// at the failed operation while independent branches continue. There is no
// rollback: the report states exactly what was and was not applied.
type Executor struct {
	applier  Applier
	recorder Recorder
	events   EventSink
	cfg      ExecutorConfig

	// OnOutcome, when set, is called once per operation as it reaches a
	// terminal status. The reporter uses it to stream one line per outcome.
	OnOutcome func(op *Operation)

	// sleep is swappable so tests run without real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor. recorder and events may be nil to disable
// persistence and event publication.
func NewExecutor(applier Applier, recorder Recorder, events EventSink, cfg ExecutorConfig) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	return &Executor{
		applier:  applier,
		recorder: recorder,
		events:   events,
		cfg:      cfg,
		sleep:    sleepContext,
	}
}

// Execute runs the plan to completion and returns the execution report.
// The context carries the run-level deadline: when it expires, the in-flight
// operation fails with a timeout and every remaining operation is skipped.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (*ExecutionReport, error) {
	if plan == nil {
		return nil, NewPermanentError("plan is nil", nil).WithCode(ErrCodeValidation)
	}
	if e.applier == nil && !e.cfg.DryRun {
		return nil, NewPermanentError("executor has no applier", nil).WithCode(ErrCodeInternal)
	}

	ops := make([]Operation, len(plan.Operations))
	copy(ops, plan.Operations)

	runID := e.cfg.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	report := &ExecutionReport{
		RunID:     runID,
		Host:      plan.Host,
		StartedAt: time.Now().UTC(),
		Status:    RunStatusRunning,
	}

	run := &Run{
		ID:        report.RunID,
		Host:      plan.Host,
		Status:    RunStatusRunning,
		StartedAt: report.StartedAt,
		User:      e.cfg.User,
	}
	if e.recorder != nil {
		if err := e.recorder.RecordRun(ctx, run); err != nil {
			return nil, fmt.Errorf("recording run: %w", err)
		}
	}
	e.publish(ctx, report.RunID, "", "", EventTypeRunStarted,
		fmt.Sprintf("run started with %d operation(s)", len(ops)))

	statusByID := make(map[string]*Operation, len(ops))
	for i := range ops {
		statusByID[ops[i].ID] = &ops[i]
	}

	for i := range ops {
		op := &ops[i]

		switch {
		case op.Status == StatusFailedFatal:
			// Conflicts arrive pre-failed from the planner; they only need
			// reporting and they block their dependents below.
			e.finishOperation(ctx, report.RunID, op)

		case ctx.Err() != nil:
			e.markSkippedByDeadline(ctx, report.RunID, op)

		case !e.dependenciesSatisfied(op, statusByID):
			op.Status = StatusSkipped
			op.SkipReason = SkipReasonBlocked
			e.finishOperation(ctx, report.RunID, op)

		default:
			e.executeOperation(ctx, report.RunID, op)
		}
	}

	report.Operations = append(report.Operations, ops...)
	report.Operations = append(report.Operations, plan.NoOps...)
	for i := range plan.NoOps {
		noop := report.Operations[len(ops)+i]
		e.outcome(&noop)
	}

	report.Summary = summarize(report.Operations)
	report.CompletedAt = time.Now().UTC()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)
	report.Status = e.runStatus(ctx, report.Summary)

	run.Status = report.Status
	run.Summary = report.Summary
	completed := report.CompletedAt
	run.CompletedAt = &completed
	run.Duration = report.Duration
	if e.recorder != nil {
		// Bookkeeping failures must not unwind a finished run.
		_ = e.recorder.RecordRun(ctx, run)
	}

	if report.Status == RunStatusSucceeded {
		e.publish(ctx, report.RunID, "", "", EventTypeRunCompleted,
			fmt.Sprintf("run completed: %d applied, %d no-op", report.Summary.Applied, report.Summary.NoOp))
	} else {
		e.publish(ctx, report.RunID, "", "", EventTypeRunFailed,
			fmt.Sprintf("run completed with status %s: %d failed, %d blocked, %d timed out",
				report.Status, report.Summary.Failed, report.Summary.Blocked, report.Summary.TimedOut))
	}

	return report, nil
}

// executeOperation runs one operation with bounded retries for transient
// failures.
func (e *Executor) executeOperation(ctx context.Context, runID string, op *Operation) {
	maxRetries := op.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.cfg.MaxRetries
	}

	started := time.Now().UTC()
	op.StartedAt = &started
	e.publish(ctx, runID, op.ID, op.Entity, EventTypeOperationStarted,
		fmt.Sprintf("applying %s", op.Entity))

	for attempt := 0; ; attempt++ {
		op.Status = StatusExecuting
		op.Attempts = attempt + 1
		e.record(ctx, runID, op)

		output, err := e.apply(ctx, op)
		op.Output = output

		if err == nil {
			op.Status = StatusSucceeded
			break
		}

		if ctx.Err() != nil {
			// The run deadline expired mid-operation: the attempt was
			// abandoned and the outcome on the host is unknown.
			op.Status = StatusFailedFatal
			op.Error = e.deadlineError(ctx, op)
			break
		}

		if IsRetryable(err) && attempt < maxRetries {
			op.Status = StatusFailedRetryable
			op.Error = asEngineError(err)
			e.record(ctx, runID, op)

			backoff := e.backoff(attempt)
			e.publish(ctx, runID, op.ID, op.Entity, EventTypeOperationRetried,
				fmt.Sprintf("transient failure, retrying in %s (attempt %d/%d): %v",
					backoff.Round(time.Millisecond), attempt+1, maxRetries, err))
			if sleepErr := e.sleep(ctx, backoff); sleepErr != nil {
				op.Status = StatusFailedFatal
				op.Error = e.deadlineError(ctx, op)
				break
			}
			continue
		}

		op.Status = StatusFailedFatal
		op.Error = asEngineError(err)
		break
	}

	e.finishOperation(ctx, runID, op)
}

// apply invokes the collaborator, or simulates it for dry runs.
func (e *Executor) apply(ctx context.Context, op *Operation) (string, error) {
	if e.cfg.DryRun {
		return "(dry run)", nil
	}
	return e.applier.Apply(ctx, op)
}

// finishOperation stamps, records, publishes, and streams a terminal operation.
func (e *Executor) finishOperation(ctx context.Context, runID string, op *Operation) {
	completed := time.Now().UTC()
	op.CompletedAt = &completed
	if op.StartedAt != nil {
		op.Duration = completed.Sub(*op.StartedAt)
	}
	e.record(ctx, runID, op)

	switch op.Status {
	case StatusSucceeded:
		e.publish(ctx, runID, op.ID, op.Entity, EventTypeOperationSucceeded,
			fmt.Sprintf("applied %s", op.Entity))
	case StatusSkipped:
		e.publish(ctx, runID, op.ID, op.Entity, EventTypeOperationSkipped,
			fmt.Sprintf("%s %s", op.SkipReason.Display(), op.Entity))
	default:
		e.publish(ctx, runID, op.ID, op.Entity, EventTypeOperationFailed,
			fmt.Sprintf("failed %s: %v", op.Entity, op.Error))
	}
	e.outcome(op)
}

// markSkippedByDeadline skips an operation that never started because the
// run deadline expired or the run was cancelled.
func (e *Executor) markSkippedByDeadline(ctx context.Context, runID string, op *Operation) {
	op.Status = StatusSkipped
	if errors.Is(ctx.Err(), context.Canceled) {
		op.SkipReason = SkipReasonCancelled
	} else {
		op.SkipReason = SkipReasonTimeout
	}
	e.finishOperation(ctx, runID, op)
}

// dependenciesSatisfied reports whether every operation this one depends on
// succeeded. A failed or skipped dependency blocks the whole branch; the
// first unsatisfied dependency is recorded as the blocker.
func (e *Executor) dependenciesSatisfied(op *Operation, byID map[string]*Operation) bool {
	for _, depID := range op.DependsOn {
		dep, ok := byID[depID]
		if !ok {
			continue
		}
		if dep.Status != StatusSucceeded {
			op.BlockedBy = depID
			op.Error = NewPermanentError(
				fmt.Sprintf("dependency %s did not succeed", depID), nil,
			).WithCode(ErrCodeDependencyFailed).WithEntity(op.Entity)
			return false
		}
	}
	return true
}

// backoff computes the exponential retry delay with jitter.
func (e *Executor) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(e.cfg.BaseBackoff) * math.Pow(2, float64(attempt)))
	if delay > e.cfg.MaxBackoff {
		delay = e.cfg.MaxBackoff
	}
	// ±25% jitter keeps repeated runs from hammering in lockstep.
	jitter := (rand.Float64() - 0.5) * 0.5 * float64(delay)
	return delay + time.Duration(jitter)
}

// deadlineError classifies a context expiry for the in-flight operation.
func (e *Executor) deadlineError(ctx context.Context, op *Operation) *EngineError {
	if errors.Is(ctx.Err(), context.Canceled) {
		return NewPermanentError("run cancelled during operation", ctx.Err()).
			WithCode(ErrCodeTimeout).WithEntity(op.Entity).WithOperation(string(op.Kind))
	}
	return NewPermanentError("run deadline expired during operation", ctx.Err()).
		WithCode(ErrCodeTimeout).WithEntity(op.Entity).WithOperation(string(op.Kind))
}

// runStatus derives the terminal run status from the summary.
func (e *Executor) runStatus(ctx context.Context, s ReportSummary) RunStatus {
	if errors.Is(ctx.Err(), context.Canceled) {
		return RunStatusCancelled
	}
	switch {
	case s.Failed == 0 && s.TimedOut == 0:
		return RunStatusSucceeded
	case s.Applied > 0:
		return RunStatusPartial
	default:
		return RunStatusFailed
	}
}

// record persists one operation state transition, best-effort.
func (e *Executor) record(ctx context.Context, runID string, op *Operation) {
	if e.recorder == nil {
		return
	}
	_ = e.recorder.RecordOperation(ctx, runID, op)
}

// publish emits a timeline event, best-effort.
func (e *Executor) publish(ctx context.Context, runID, opID, entity string, t EventType, message string) {
	event := &Event{
		ID:          uuid.New().String(),
		Type:        t,
		Timestamp:   time.Now().UTC(),
		RunID:       runID,
		OperationID: opID,
		Entity:      entity,
		Message:     message,
		Level:       t.Severity(),
	}
	if e.recorder != nil {
		_ = e.recorder.RecordEvent(ctx, event)
	}
	if e.events != nil {
		_ = e.events.Publish(ctx, event)
	}
}

func (e *Executor) outcome(op *Operation) {
	if e.OnOutcome != nil {
		e.OnOutcome(op)
	}
}

// summarize counts terminal outcomes across all reported operations.
func summarize(ops []Operation) ReportSummary {
	s := ReportSummary{Total: len(ops)}
	for _, op := range ops {
		switch op.Status {
		case StatusSucceeded:
			s.Applied++
		case StatusFailedFatal:
			s.Failed++
		case StatusSkipped:
			switch op.SkipReason {
			case SkipReasonNoop:
				s.NoOp++
			case SkipReasonBlocked:
				s.Blocked++
			case SkipReasonTimeout, SkipReasonCancelled:
				s.TimedOut++
			}
		}
		if op.Attempts > 1 {
			s.Retries += op.Attempts - 1
		}
	}
	return s
}

// asEngineError classifies an arbitrary error; unclassified errors are
// permanent.
func asEngineError(err error) *EngineError {
	if err == nil {
		return nil
	}
	var e *EngineError
	if errors.As(err, &e) {
		return e
	}
	return NewPermanentError("operation failed", err).WithCode(ErrCodeCommandFailed)
}

// sleepContext sleeps for d unless the context expires first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
