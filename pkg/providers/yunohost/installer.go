package yunohost

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ynhctl/ynhctl/pkg/engine"
	"github.com/ynhctl/ynhctl/pkg/transports"
)

// remoteScriptPath is where a local install script lands on the host.
const remoteScriptPath = "/tmp/ynhctl-install.sh"

// installPlatform bootstraps the platform: the install script first, then
// post-installation with the main domain and admin password. The script is
// invoked opaquely, never parsed.
func (p *Provider) installPlatform(ctx context.Context, spec *engine.PlatformSpec) (string, error) {
	scriptOut, err := p.runInstallScript(ctx, spec.InstallScript)
	if err != nil {
		return scriptOut, err
	}

	postOut, err := p.postInstall(ctx, spec)
	return joinOutputs(scriptOut, postOut), err
}

func (p *Provider) runInstallScript(ctx context.Context, script string) (string, error) {
	if script == "" {
		script = defaultInstallScript
	}

	var cmd transports.Command
	if isRemoteScript(script) {
		// Fetch on the host and pipe to the shell, non-interactively.
		cmd = transports.Command{
			Argv: []string{
				"sh", "-c",
				fmt.Sprintf("curl -sSL %s | bash -s -- -a", transports.ShellQuote(script)),
			},
			Timeout: p.opts.InstallTimeout,
		}
	} else {
		file, err := os.Open(script)
		if err != nil {
			return "", engine.NewPermanentError(
				fmt.Sprintf("install script %s is not readable", script), err)
		}
		defer file.Close()

		if err := p.transport.Upload(ctx, file, remoteScriptPath, 0o755); err != nil {
			return "", classifyTransportError(err)
		}
		cmd = transports.Command{
			Argv:    []string{"bash", remoteScriptPath, "-a"},
			Timeout: p.opts.InstallTimeout,
		}
	}

	p.logger.Info().Str("script", script).Msg("running platform install script")

	result, err := p.run(ctx, cmd)
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		// The script refuses to run on an installed host; a retry after a
		// mid-bootstrap transport loss lands here.
		if alreadyConverged(result) {
			return "platform already installed", nil
		}
		return combinedOutput(result), cliFailure("platform install", result)
	}
	return combinedOutput(result), nil
}

func (p *Provider) postInstall(ctx context.Context, spec *engine.PlatformSpec) (string, error) {
	password := spec.AdminPassword.Value()
	result, err := p.run(ctx, transports.Command{
		Argv: []string{
			"yunohost", "tools", "postinstall",
			"--domain", spec.MainDomain,
			"--password", password,
			"--ignore-dyndns",
		},
		Timeout: p.opts.InstallTimeout,
		Redact:  []string{password},
	})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		if alreadyConverged(result) {
			return "post-installation already done", nil
		}
		return combinedOutput(result), cliFailure("post-installation", result)
	}
	return combinedOutput(result), nil
}

func isRemoteScript(script string) bool {
	return strings.HasPrefix(script, "http://") || strings.HasPrefix(script, "https://")
}

func joinOutputs(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n" + b
	}
}
