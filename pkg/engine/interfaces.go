package engine

import (
	"context"
)

// Prober observes the actual state of a host. Probing is strictly read-only:
// implementations must not issue any mutating command.
type Prober interface {
	// Probe collects the host snapshot. A host without the platform installed
	// yields an empty snapshot, not an error; a probe error means the host was
	// unreachable or its answers could not be parsed.
	Probe(ctx context.Context) (*HostState, error)
}

// Applier performs a single planned operation against the host. It returns
// the collaborator's captured output and classifies failures: transient
// errors are retried by the executor, everything else halts the operation's
// dependency branch.
type Applier interface {
	Apply(ctx context.Context, op *Operation) (output string, err error)
}

// Recorder persists run progress as execution proceeds. Implementations must
// tolerate being called for the same operation id repeatedly (status
// transitions overwrite). A nil Recorder disables persistence.
type Recorder interface {
	// RecordRun inserts or updates the run row.
	RecordRun(ctx context.Context, run *Run) error

	// RecordOperation inserts or updates one operation's state for a run.
	RecordOperation(ctx context.Context, runID string, op *Operation) error

	// RecordEvent appends a timeline event.
	RecordEvent(ctx context.Context, event *Event) error
}

// EventSink receives timeline events as they happen. A nil EventSink
// disables event publication.
type EventSink interface {
	Publish(ctx context.Context, event *Event) error
}

// HostLocker provides the run-level advisory lock scoped to one host.
// Acquire fails with a lockheld error when another live run holds the lock;
// implementations reclaim locks whose holder went stale.
type HostLocker interface {
	AcquireLock(ctx context.Context, host, runID string) error
	ReleaseLock(ctx context.Context, host, runID string) error
}
