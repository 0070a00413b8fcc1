// Package local provides a transport that runs commands on the machine
// ynhctl itself runs on, for managing the host from the host.
package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ynhctl/ynhctl/pkg/transports"
)

const defaultCommandTimeout = 15 * time.Minute

// Transport executes commands directly, without a shell or a network hop.
type Transport struct {
	commandTimeout time.Duration
}

// New creates a local transport. commandTimeout bounds commands that do
// not carry their own timeout; zero means the default of 15 minutes.
func New(commandTimeout time.Duration) *Transport {
	if commandTimeout <= 0 {
		commandTimeout = defaultCommandTimeout
	}
	return &Transport{commandTimeout: commandTimeout}
}

// Connect is a no-op; the local machine is always reachable.
func (t *Transport) Connect(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (t *Transport) Close() error {
	return nil
}

// Target identifies the host commands run on.
func (t *Transport) Target() string {
	return "local"
}

// Run executes the command's argv directly. A non-zero exit status is
// reported through ExitCode, not as an error.
func (t *Transport) Run(ctx context.Context, command transports.Command) (*transports.ExecResult, error) {
	if len(command.Argv) == 0 {
		return nil, &transports.TransportError{
			Op:  "exec",
			Err: errors.New("command argv is empty"),
		}
	}

	timeout := command.Timeout
	if timeout <= 0 {
		timeout = t.commandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := command.EffectiveArgv()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if command.Stdin != "" {
		cmd.Stdin = strings.NewReader(command.Stdin)
	}

	log.Debug().
		Str("target", t.Target()).
		Str("command", command.LogString()).
		Msg("executing command")

	start := time.Now()
	err := cmd.Run()

	result := &transports.ExecResult{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}
	result.Redact(command.Redact)

	if err != nil {
		if ctx.Err() != nil {
			return result, &transports.TransportError{
				Op:          "exec",
				Err:         ctx.Err(),
				IsTemporary: true,
			}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, &transports.TransportError{Op: "exec", Err: err}
	}

	return result, nil
}

// Upload copies src to path on the local filesystem, creating parent
// directories as needed.
func (t *Transport) Upload(ctx context.Context, src io.Reader, path string, mode fs.FileMode) error {
	if err := ctx.Err(); err != nil {
		return &transports.TransportError{Op: "upload", Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &transports.TransportError{Op: "upload", Err: err}
	}

	if mode == 0 {
		mode = 0o644
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return &transports.TransportError{Op: "upload", Err: err}
	}
	defer file.Close()

	written, err := io.Copy(file, src)
	if err != nil {
		return &transports.TransportError{Op: "upload", Err: err}
	}

	log.Info().
		Str("path", path).
		Int64("bytes", written).
		Msg("file written")

	return nil
}
