package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/ynhctl/ynhctl/pkg/transports"
)

// Run executes a command on the remote host. A non-zero exit status is
// returned in the result, not as an error.
func (c *Client) Run(ctx context.Context, cmd transports.Command) (*transports.ExecResult, error) {
	sshClient, err := c.getClient()
	if err != nil {
		return nil, err
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = c.config.CommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, err := sshClient.NewSession()
	if err != nil {
		return nil, &transports.TransportError{
			Op:          "exec",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf
	if cmd.Stdin != "" {
		session.Stdin = strings.NewReader(cmd.Stdin)
	}

	log.Debug().
		Str("host", c.config.Host).
		Str("command", cmd.LogString()).
		Msg("executing command")

	started := time.Now()
	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(transports.ShellJoin(cmd.EffectiveArgv()))
	}()

	var runErr error
	select {
	case <-ctx.Done():
		// Best effort: ask the remote process to stop before abandoning it.
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		runErr = ctx.Err()
	case runErr = <-doneChan:
	}

	result := &transports.ExecResult{
		Stdout:   strings.TrimSpace(stdoutBuf.String()),
		Stderr:   strings.TrimSpace(stderrBuf.String()),
		Duration: time.Since(started),
	}
	result.Redact(cmd.Redact)

	log.Debug().
		Str("command", cmd.LogString()).
		Int("stdout_len", len(result.Stdout)).
		Int("stderr_len", len(result.Stderr)).
		Dur("duration", result.Duration).
		Msg("command completed")

	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, &transports.TransportError{
			Op:          "exec",
			Err:         runErr,
			IsTemporary: true,
		}
	}

	return result, nil
}
