package yunohost

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ynhctl/ynhctl/pkg/engine"
	"github.com/ynhctl/ynhctl/pkg/transports"
)

// Apply performs one planned operation against the host. The captured CLI
// output comes back secret-redacted even when the operation fails.
func (p *Provider) Apply(ctx context.Context, op *engine.Operation) (string, error) {
	switch op.Kind {
	case engine.OpInstallPlatform:
		if op.Platform == nil {
			return "", engine.NewPermanentError("operation carries no platform payload", nil)
		}
		return p.installPlatform(ctx, op.Platform)
	case engine.OpCreateDomain:
		if op.Domain == nil {
			return "", engine.NewPermanentError("operation carries no domain payload", nil)
		}
		return p.createDomain(ctx, op.Domain)
	case engine.OpCreateUser:
		if op.User == nil {
			return "", engine.NewPermanentError("operation carries no user payload", nil)
		}
		return p.createUser(ctx, op.User)
	case engine.OpInstallApp:
		if op.App == nil {
			return "", engine.NewPermanentError("operation carries no app payload", nil)
		}
		return p.installApp(ctx, op.App)
	default:
		return "", engine.NewPermanentError(fmt.Sprintf("unknown operation kind %q", op.Kind), nil)
	}
}

// createDomain adds one domain. The platform bootstrap creates the main
// domain itself, so an already-present answer converges instead of failing.
func (p *Provider) createDomain(ctx context.Context, d *engine.Domain) (string, error) {
	result, err := p.run(ctx, transports.Command{
		Argv: []string{"yunohost", "domain", "add", d.Name},
	})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		if alreadyConverged(result) {
			return "domain already present", nil
		}
		return combinedOutput(result), cliFailure("domain add", result)
	}
	return combinedOutput(result), nil
}

func (p *Provider) createUser(ctx context.Context, u *engine.UserSpec) (string, error) {
	password := u.Password.Value()
	result, err := p.run(ctx, transports.Command{
		Argv: []string{
			"yunohost", "user", "create", u.Name,
			"-f", u.Firstname,
			"-l", u.Lastname,
			"-m", u.Mail,
			"-p", password,
		},
		Redact: []string{password},
	})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		if alreadyConverged(result) {
			return "user already present", nil
		}
		return combinedOutput(result), cliFailure("user create", result)
	}
	return combinedOutput(result), nil
}

func (p *Provider) installApp(ctx context.Context, a *engine.AppSpec) (string, error) {
	result, err := p.run(ctx, transports.Command{
		Argv: []string{
			"yunohost", "app", "install", a.Link,
			"--label", a.Label,
			"--args", EncodeAppArgs(a.Args),
			"--force",
		},
		Timeout: p.opts.InstallTimeout,
		Redact:  secretArgValues(a.Args),
	})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		if alreadyConverged(result) {
			return "app already installed", nil
		}
		return combinedOutput(result), cliFailure("app install", result)
	}
	return combinedOutput(result), nil
}

// EncodeAppArgs serializes app installation arguments to the query-string
// form the platform installer expects. Keys sort, so the serialization is
// deterministic.
func EncodeAppArgs(args map[string]string) string {
	values := url.Values{}
	for k, v := range args {
		values.Set(k, v)
	}
	return values.Encode()
}

// secretArgValues returns the app arg values that must never surface:
// anything under a password-like key.
func secretArgValues(args map[string]string) []string {
	var out []string
	for k, v := range args {
		if v != "" && engine.SecretArgKey(k) {
			out = append(out, v)
		}
	}
	return out
}

// alreadyConvergedSignatures are matched against failed CLI output, both
// the English messages and the raw i18n keys.
var alreadyConvergedSignatures = []string{
	"already exists",
	"already installed",
	"domain_exists",
	"user_already_exists",
	"app_already_installed",
}

// alreadyConverged reports whether a failed CLI command failed only because
// the entity it creates is already there. Retries after a mid-command
// transport loss land here when the first attempt did go through.
func alreadyConverged(result *transports.ExecResult) bool {
	lower := strings.ToLower(result.Stdout + "\n" + result.Stderr)
	for _, sig := range alreadyConvergedSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
