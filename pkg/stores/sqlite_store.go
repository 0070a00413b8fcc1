package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/ynhctl/ynhctl/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// LockStaleAfter is the heartbeat age beyond which a host lock counts
	// as abandoned and may be reclaimed by another run.
	LockStaleAfter time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.LockStaleAfter == 0 {
		cfg.LockStaleAfter = DefaultLockStaleAfter
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Per-connection pragmas ride the DSN so every pooled connection gets
	// them, not just the one that ran Init.
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordRun inserts the run row, or updates it in place as the run
// progresses. The started_at, host, and operator columns are fixed at
// insert; everything else follows the run's lifecycle.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *engine.Run) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO runs (id, host, status, started_at, completed_at, duration_ms, operator, summary, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms,
			summary = excluded.summary,
			error = excluded.error,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.Host,
		run.Status,
		run.StartedAt.UTC(),
		nullableTime(run.CompletedAt),
		run.Duration.Milliseconds(),
		run.User,
		string(summary),
		run.Error,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	return nil
}

// RecordOperation inserts or updates one operation's state for a run.
// Status transitions for the same operation id overwrite the previous row,
// so recording is safe to repeat across retries.
func (s *SQLiteStore) RecordOperation(ctx context.Context, runID string, op *engine.Operation) error {
	payload, err := marshalPayload(op)
	if err != nil {
		return fmt.Errorf("failed to marshal operation payload: %w", err)
	}

	dependsOn, err := marshalStringSlice(op.DependsOn)
	if err != nil {
		return fmt.Errorf("failed to marshal operation dependencies: %w", err)
	}

	opErr, err := marshalOperationError(op.Error)
	if err != nil {
		return fmt.Errorf("failed to marshal operation error: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO operations (run_id, id, kind, entity, status, skip_reason, depends_on, blocked_by, payload,
			attempts, max_retries, started_at, completed_at, duration_ms, output, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, id) DO UPDATE SET
			status = excluded.status,
			skip_reason = excluded.skip_reason,
			blocked_by = excluded.blocked_by,
			attempts = excluded.attempts,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms,
			output = excluded.output,
			error = excluded.error,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		runID,
		op.ID,
		op.Kind,
		op.Entity,
		op.Status,
		op.SkipReason,
		dependsOn,
		op.BlockedBy,
		payload,
		op.Attempts,
		op.MaxRetries,
		nullableTime(op.StartedAt),
		nullableTime(op.CompletedAt),
		op.Duration.Milliseconds(),
		op.Output,
		opErr,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to record operation %s: %w", op.ID, err)
	}

	return nil
}

// RecordEvent appends a timeline event. Replaying an already-recorded
// event id is a no-op.
func (s *SQLiteStore) RecordEvent(ctx context.Context, event *engine.Event) error {
	details := "{}"
	if len(event.Details) > 0 {
		raw, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal event details: %w", err)
		}
		details = string(raw)
	}

	query := `
		INSERT INTO events (id, run_id, operation_id, entity, type, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.RunID,
		event.OperationID,
		event.Entity,
		event.Type,
		event.Level,
		event.Message,
		details,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	return nil
}

// AcquireLock takes the advisory lock for host on behalf of runID. A live
// lock held by another run fails with a lockheld error; a lock whose
// heartbeat has gone stale is reclaimed. Reacquiring a lock the run
// already holds refreshes it.
func (s *SQLiteStore) AcquireLock(ctx context.Context, host, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin lock transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	var holder string
	var heartbeat time.Time
	err = tx.QueryRowContext(ctx,
		"SELECT run_id, heartbeat_at FROM host_locks WHERE host = ?", host,
	).Scan(&holder, &heartbeat)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO host_locks (host, run_id, acquired_at, heartbeat_at) VALUES (?, ?, ?, ?)",
			host, runID, now, now); err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to inspect lock: %w", err)
	case holder == runID || now.Sub(heartbeat) > s.cfg.LockStaleAfter:
		if _, err := tx.ExecContext(ctx,
			"UPDATE host_locks SET run_id = ?, acquired_at = ?, heartbeat_at = ? WHERE host = ?",
			runID, now, now, host); err != nil {
			return fmt.Errorf("failed to reclaim lock: %w", err)
		}
	default:
		return engine.NewLockHeldError(host, holder)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit lock: %w", err)
	}

	return nil
}

// ReleaseLock drops the advisory lock, but only if runID still holds it.
func (s *SQLiteStore) ReleaseLock(ctx context.Context, host, runID string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM host_locks WHERE host = ? AND run_id = ?", host, runID)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check lock release: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("lock on host %s is not held by run %s", host, runID)
	}

	return nil
}

// RefreshLock renews the heartbeat on a held lock so it is not reclaimed
// as stale while a long operation runs.
func (s *SQLiteStore) RefreshLock(ctx context.Context, host, runID string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE host_locks SET heartbeat_at = ? WHERE host = ? AND run_id = ?",
		time.Now().UTC(), host, runID)
	if err != nil {
		return fmt.Errorf("failed to refresh lock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check lock refresh: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("lock on host %s is no longer held by run %s", host, runID)
	}

	return nil
}

const runColumns = "id, host, status, started_at, completed_at, duration_ms, operator, summary, error"

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.Run, error) {
	query := "SELECT " + runColumns + " FROM runs WHERE id = ?"

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns returns past runs, newest first. An empty host matches all hosts.
func (s *SQLiteStore) ListRuns(ctx context.Context, host string, limit, offset int) ([]*engine.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT " + runColumns + ` FROM runs
		WHERE (? = '' OR host = ?)
		ORDER BY started_at DESC, rowid DESC
		LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, host, host, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*engine.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

// ListOperations returns a run's operations in the order they were planned.
func (s *SQLiteStore) ListOperations(ctx context.Context, runID string) ([]*engine.Operation, error) {
	query := `
		SELECT id, kind, entity, status, skip_reason, depends_on, blocked_by, payload,
			attempts, max_retries, started_at, completed_at, duration_ms, output, error
		FROM operations
		WHERE run_id = ?
		ORDER BY rowid
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ops []*engine.Operation
	for rows.Next() {
		var op engine.Operation
		var startedAt, completedAt sql.NullTime
		var durationMS int64
		var dependsOn, payload, opErr string

		if err := rows.Scan(&op.ID, &op.Kind, &op.Entity, &op.Status, &op.SkipReason,
			&dependsOn, &op.BlockedBy, &payload, &op.Attempts, &op.MaxRetries,
			&startedAt, &completedAt, &durationMS, &op.Output, &opErr); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}

		op.StartedAt = timePtr(startedAt)
		op.CompletedAt = timePtr(completedAt)
		op.Duration = time.Duration(durationMS) * time.Millisecond
		if err := json.Unmarshal([]byte(dependsOn), &op.DependsOn); err != nil {
			return nil, fmt.Errorf("failed to unmarshal operation dependencies: %w", err)
		}
		if err := unmarshalPayload(payload, &op); err != nil {
			return nil, err
		}
		if opErr != "" {
			var engineErr engine.EngineError
			if err := json.Unmarshal([]byte(opErr), &engineErr); err != nil {
				return nil, fmt.Errorf("failed to unmarshal operation error: %w", err)
			}
			op.Error = &engineErr
		}

		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate operations: %w", err)
	}

	return ops, nil
}

// ListEvents returns a run's timeline events in the order they were recorded.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string, limit, offset int) ([]*engine.Event, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT id, run_id, operation_id, entity, type, level, message, details, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY rowid
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*engine.Event
	for rows.Next() {
		var event engine.Event
		var details string

		if err := rows.Scan(&event.ID, &event.RunID, &event.OperationID, &event.Entity,
			&event.Type, &event.Level, &event.Message, &details, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &event.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event details: %w", err)
			}
		}

		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database is reachable
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}

	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*engine.Run, error) {
	var run engine.Run
	var completedAt sql.NullTime
	var durationMS int64
	var summary string

	if err := row.Scan(&run.ID, &run.Host, &run.Status, &run.StartedAt,
		&completedAt, &durationMS, &run.User, &summary, &run.Error); err != nil {
		return nil, err
	}

	run.CompletedAt = timePtr(completedAt)
	run.Duration = time.Duration(durationMS) * time.Millisecond
	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run summary: %w", err)
	}

	return &run, nil
}

// marshalPayload serializes the operation's kind-specific spec. Secret
// fields and credential-bearing app args redact themselves during JSON
// encoding, so passwords never reach the database.
func marshalPayload(op *engine.Operation) (string, error) {
	payload := struct {
		Platform *engine.PlatformSpec `json:"platform,omitempty"`
		Domain   *engine.Domain       `json:"domain,omitempty"`
		User     *engine.UserSpec     `json:"user,omitempty"`
		App      *engine.AppSpec      `json:"app,omitempty"`
	}{op.Platform, op.Domain, op.User, op.App}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalPayload(payload string, op *engine.Operation) error {
	if payload == "" || payload == "{}" {
		return nil
	}

	var decoded struct {
		Platform *engine.PlatformSpec `json:"platform"`
		Domain   *engine.Domain       `json:"domain"`
		User     *engine.UserSpec     `json:"user"`
		App      *engine.AppSpec      `json:"app"`
	}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return fmt.Errorf("failed to unmarshal operation payload: %w", err)
	}

	op.Platform = decoded.Platform
	op.Domain = decoded.Domain
	op.User = decoded.User
	op.App = decoded.App
	return nil
}

func marshalStringSlice(values []string) (string, error) {
	if len(values) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func marshalOperationError(engineErr *engine.EngineError) (string, error) {
	if engineErr == nil {
		return "", nil
	}
	raw, err := json.Marshal(engineErr)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	out := t.Time
	return &out
}
