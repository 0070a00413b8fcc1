// Package transports provides the command channels the reconciler uses to
// reach a host: SSH for remote targets, a local runner when ynhctl runs on
// the host itself.
package transports

import (
	"context"
	"io"
	"io/fs"
	"strings"
	"time"
)

// Transport runs commands and places files on a target host. A run drives
// its transport strictly sequentially; implementations are not required to
// be goroutine-safe.
type Transport interface {
	// Connect prepares the transport. Calling it on a connected transport
	// verifies the connection instead of opening a second one.
	Connect(ctx context.Context) error

	// Close releases the transport's resources.
	Close() error

	// Run executes cmd and returns its result. A non-zero exit status is not
	// an error; callers inspect ExitCode. An error means the command could
	// not run or was cut short: connection loss, session failure, timeout.
	Run(ctx context.Context, cmd Command) (*ExecResult, error)

	// Upload writes src to remotePath with the given mode, creating parent
	// directories as needed.
	Upload(ctx context.Context, src io.Reader, remotePath string, mode fs.FileMode) error

	// Target describes the endpoint for logs and errors.
	Target() string
}

// Command is a single command invocation.
type Command struct {
	// Argv is the program and its arguments, unquoted.
	Argv []string

	// Sudo runs the command through "sudo -n". The target user must hold
	// passwordless sudo; -n fails instead of prompting.
	Sudo bool

	// Stdin is fed to the command's standard input.
	Stdin string

	// Timeout bounds this invocation; zero means the transport's default.
	Timeout time.Duration

	// Redact lists values that must never appear in logs or error messages.
	Redact []string
}

// EffectiveArgv returns the argv to execute, with the sudo prefix applied.
func (c Command) EffectiveArgv() []string {
	if !c.Sudo {
		return c.Argv
	}
	return append([]string{"sudo", "-n"}, c.Argv...)
}

// redactedMarker replaces secret values in anything operator-visible.
const redactedMarker = "[REDACTED]"

// LogString renders the command for logging with redacted values masked.
func (c Command) LogString() string {
	s := ShellJoin(c.EffectiveArgv())
	for _, secret := range c.Redact {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, redactedMarker)
		}
	}
	return s
}

// ExecResult is the outcome of a command that ran to completion.
type ExecResult struct {
	// Stdout is the trimmed standard output.
	Stdout string

	// Stderr is the trimmed standard error.
	Stderr string

	// ExitCode is the command's exit status.
	ExitCode int

	// Duration is the wall-clock execution time.
	Duration time.Duration
}

// Redact masks the given values in the captured output so results can be
// logged or persisted safely.
func (r *ExecResult) Redact(values []string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		r.Stdout = strings.ReplaceAll(r.Stdout, v, redactedMarker)
		r.Stderr = strings.ReplaceAll(r.Stderr, v, redactedMarker)
	}
}

// TransportError is an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g. "connect", "exec", "upload").
	Op string

	// Err is the underlying error.
	Err error

	// IsTemporary marks errors worth retrying (timeouts, connection loss).
	IsTemporary bool

	// IsAuthError marks authentication and host-key failures.
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
