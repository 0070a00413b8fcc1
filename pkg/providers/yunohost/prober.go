package yunohost

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ynhctl/ynhctl/pkg/engine"
	"github.com/ynhctl/ynhctl/pkg/transports"
)

// Probe collects the host snapshot through the platform CLI in JSON mode.
// Probing is strictly read-only; a host without the platform installed
// yields an empty snapshot with Installed=false, not an error.
func (p *Provider) Probe(ctx context.Context) (*engine.HostState, error) {
	state := &engine.HostState{
		Host:     p.transport.Target(),
		ProbedAt: time.Now().UTC(),
	}

	installed, err := p.isInstalled(ctx)
	if err != nil {
		return nil, err
	}
	state.Installed = installed
	if !installed {
		p.logger.Info().Str("host", state.Host).Msg("platform not installed")
		return state, nil
	}

	if state.Domains, err = p.listDomains(ctx); err != nil {
		return nil, err
	}
	if state.MainDomain, err = p.mainDomain(ctx); err != nil {
		return nil, err
	}
	if state.Users, err = p.listUsers(ctx); err != nil {
		return nil, err
	}
	if state.Apps, err = p.listApps(ctx); err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("host", state.Host).
		Str("main_domain", state.MainDomain).
		Int("domains", len(state.Domains)).
		Int("users", len(state.Users)).
		Int("apps", len(state.Apps)).
		Msg("host probed")

	return state, nil
}

// isInstalled tests for the platform sentinel file. Exit 1 means absent,
// which is an answer, not a failure.
func (p *Provider) isInstalled(ctx context.Context) (bool, error) {
	result, err := p.run(ctx, transports.Command{
		Argv: []string{"test", "-e", installedSentinel},
	})
	if err != nil {
		return false, engine.NewProbeError("platform presence check: host unreachable", err).
			WithCode(engine.ErrCodeHostUnreachable)
	}
	return result.ExitCode == 0, nil
}

// probeRun executes one read-only CLI query. During probing every failure
// is a probe error: transport trouble means unreachable, a non-zero exit
// means the platform did not answer usably.
func (p *Provider) probeRun(ctx context.Context, what string, argv ...string) (*transports.ExecResult, error) {
	result, err := p.run(ctx, transports.Command{Argv: argv})
	if err != nil {
		return nil, engine.NewProbeError(fmt.Sprintf("%s: host unreachable", what), err).
			WithCode(engine.ErrCodeHostUnreachable)
	}
	if result.ExitCode != 0 {
		detail := result.Stderr
		if detail == "" {
			detail = result.Stdout
		}
		return nil, engine.NewProbeError(
			fmt.Sprintf("%s failed (exit %d): %s", what, result.ExitCode, lastNonEmptyLine(detail)),
			nil,
		).WithCode(engine.ErrCodeUnparseableOutput)
	}
	return result, nil
}

func probeParseError(what string, err error) *engine.EngineError {
	return engine.NewProbeError(fmt.Sprintf("%s: cannot parse platform output", what), err).
		WithCode(engine.ErrCodeUnparseableOutput)
}

func (p *Provider) listDomains(ctx context.Context) ([]string, error) {
	result, err := p.probeRun(ctx, "domain list", "yunohost", "domain", "list", "--output-as", "json")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Domains []string `json:"domains"`
	}
	if err := json.Unmarshal([]byte(result.Stdout), &payload); err != nil {
		return nil, probeParseError("domain list", err)
	}

	sort.Strings(payload.Domains)
	return payload.Domains, nil
}

func (p *Provider) mainDomain(ctx context.Context) (string, error) {
	result, err := p.probeRun(ctx, "main domain", "yunohost", "domain", "main-domain", "--output-as", "json")
	if err != nil {
		return "", err
	}

	var payload struct {
		CurrentMainDomain string `json:"current_main_domain"`
	}
	if err := json.Unmarshal([]byte(result.Stdout), &payload); err != nil {
		return "", probeParseError("main domain", err)
	}
	return payload.CurrentMainDomain, nil
}

func (p *Provider) listUsers(ctx context.Context) ([]engine.HostUser, error) {
	result, err := p.probeRun(ctx, "user list", "yunohost", "user", "list", "--output-as", "json")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Users map[string]struct {
			Username string `json:"username"`
			Fullname string `json:"fullname"`
			Mail     string `json:"mail"`
		} `json:"users"`
	}
	if err := json.Unmarshal([]byte(result.Stdout), &payload); err != nil {
		return nil, probeParseError("user list", err)
	}

	// The CLI keys users by name; sort the keys so the snapshot is
	// deterministic.
	names := make([]string, 0, len(payload.Users))
	for name := range payload.Users {
		names = append(names, name)
	}
	sort.Strings(names)

	users := make([]engine.HostUser, 0, len(names))
	for _, name := range names {
		u := payload.Users[name]
		users = append(users, engine.HostUser{
			Name:     name,
			FullName: u.Fullname,
			Mail:     u.Mail,
		})
	}
	return users, nil
}

func (p *Provider) listApps(ctx context.Context) ([]engine.HostApp, error) {
	result, err := p.probeRun(ctx, "app list", "yunohost", "app", "list", "--full", "--output-as", "json")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Apps []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Settings struct {
				Domain string `json:"domain"`
				Path   string `json:"path"`
			} `json:"settings"`
		} `json:"apps"`
	}
	if err := json.Unmarshal([]byte(result.Stdout), &payload); err != nil {
		return nil, probeParseError("app list", err)
	}

	apps := make([]engine.HostApp, 0, len(payload.Apps))
	for _, a := range payload.Apps {
		app := engine.HostApp{
			ID:     a.ID,
			Label:  a.Name,
			Domain: a.Settings.Domain,
		}
		if a.Settings.Path != "" {
			app.Path = engine.CanonicalPath(a.Settings.Path)
		}
		apps = append(apps, app)
	}

	sort.Slice(apps, func(i, j int) bool { return apps[i].ID < apps[j].ID })
	return apps, nil
}
