package stores

import (
	"context"
	"errors"
	"time"

	"github.com/ynhctl/ynhctl/pkg/engine"
)

// ErrRunNotFound is returned when a run id does not exist in the store.
var ErrRunNotFound = errors.New("run not found")

// DefaultLockStaleAfter is how long a host lock may go without a heartbeat
// before another run is allowed to reclaim it.
const DefaultLockStaleAfter = 10 * time.Minute

// Store defines the persistence layer. It records run progress as the
// engine executes, serves the advisory per-host lock, and answers history
// queries for past runs.
type Store interface {
	engine.Recorder
	engine.HostLocker

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// RefreshLock renews the heartbeat on a held lock. Long runs call this
	// periodically so their lock is not reclaimed as stale mid-run.
	RefreshLock(ctx context.Context, host, runID string) error

	// History
	GetRun(ctx context.Context, id string) (*engine.Run, error)
	ListRuns(ctx context.Context, host string, limit, offset int) ([]*engine.Run, error)
	ListOperations(ctx context.Context, runID string) ([]*engine.Operation, error)
	ListEvents(ctx context.Context, runID string, limit, offset int) ([]*engine.Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
