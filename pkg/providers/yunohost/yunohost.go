// Package yunohost drives the platform CLI over a transport. It implements
// the engine's Prober and Applier for a single host: probing reads platform
// state in JSON mode, applying runs the converging commands the planner
// emitted.
package yunohost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ynhctl/ynhctl/pkg/engine"
	"github.com/ynhctl/ynhctl/pkg/transports"
)

const (
	// installedSentinel marks an installed platform on the host filesystem.
	installedSentinel = "/etc/yunohost/installed"

	// defaultInstallScript bootstraps the platform when the configuration
	// names no script of its own.
	defaultInstallScript = "https://install.yunohost.org"

	// defaultInstallTimeout bounds the platform bootstrap and app
	// installations, which legitimately run for many minutes.
	defaultInstallTimeout = 45 * time.Minute
)

// Options tunes provider behavior.
type Options struct {
	// UseSudo wraps every platform command in passwordless sudo. Required
	// when the transport user is not root.
	UseSudo bool

	// CommandTimeout bounds ordinary CLI commands; zero means the
	// transport's default.
	CommandTimeout time.Duration

	// InstallTimeout bounds bootstrap and app installation commands; zero
	// means 45 minutes.
	InstallTimeout time.Duration
}

// Provider probes and converges one host through the platform CLI.
type Provider struct {
	transport transports.Transport
	opts      Options
	logger    zerolog.Logger
}

// New creates a provider on top of an already configured transport.
func New(transport transports.Transport, opts Options) *Provider {
	if opts.InstallTimeout <= 0 {
		opts.InstallTimeout = defaultInstallTimeout
	}
	return &Provider{
		transport: transport,
		opts:      opts,
		logger:    log.With().Str("component", "provider").Logger(),
	}
}

// run executes one platform command, mapping transport failures to
// classified engine errors. A non-zero exit comes back in the result, not
// as an error.
func (p *Provider) run(ctx context.Context, cmd transports.Command) (*transports.ExecResult, error) {
	cmd.Sudo = p.opts.UseSudo
	if cmd.Timeout <= 0 {
		cmd.Timeout = p.opts.CommandTimeout
	}

	result, err := p.transport.Run(ctx, cmd)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return result, nil
}

// classifyTransportError maps transport failures onto the engine taxonomy:
// temporary transport trouble is retried, everything else is fatal.
func classifyTransportError(err error) *engine.EngineError {
	var terr *transports.TransportError
	if errors.As(err, &terr) && terr.Temporary() {
		return engine.NewTransientError("transport failure", err).
			WithCode(engine.ErrCodeNetworkTimeout)
	}
	return engine.NewPermanentError("transport failure", err).
		WithCode(engine.ErrCodeCommandFailed)
}

// cliFailure classifies a non-zero platform CLI exit. Only outputs carrying
// a network-timeout signature are retryable; every other failure is fatal
// for the operation's branch.
func cliFailure(what string, result *transports.ExecResult) *engine.EngineError {
	detail := result.Stderr
	if detail == "" {
		detail = result.Stdout
	}
	msg := fmt.Sprintf("%s failed (exit %d): %s", what, result.ExitCode, lastNonEmptyLine(detail))

	if isNetworkTimeout(result.Stdout + "\n" + result.Stderr) {
		return engine.NewTransientError(msg, nil).WithCode(engine.ErrCodeNetworkTimeout)
	}
	return engine.NewPermanentError(msg, nil).WithCode(engine.ErrCodeCommandFailed)
}

// networkTimeoutSignatures are the output fragments that mark a failed
// command as a network timeout. Matching is case-insensitive.
var networkTimeoutSignatures = []string{
	"timed out",
	"temporary failure in name resolution",
	"could not resolve host",
	"network is unreachable",
	"connection reset by peer",
	"failed to connect",
}

func isNetworkTimeout(output string) bool {
	lower := strings.ToLower(output)
	for _, sig := range networkTimeoutSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// lastNonEmptyLine extracts the most useful line from CLI output; the
// platform CLI prints its actual error last, under pages of log replay.
func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// combinedOutput renders a result for the operation record. Stderr follows
// stdout so the error context survives into the report.
func combinedOutput(result *transports.ExecResult) string {
	if result == nil {
		return ""
	}
	switch {
	case result.Stdout == "":
		return result.Stderr
	case result.Stderr == "":
		return result.Stdout
	default:
		return result.Stdout + "\n" + result.Stderr
	}
}
