package yunohost

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ynhctl/ynhctl/pkg/engine"
	"github.com/ynhctl/ynhctl/pkg/transports"
)

const installedCheck = "test -e /etc/yunohost/installed"

// scriptInstalledHost scripts the full read-only answer set of a converged
// host: two domains, two users, one app.
func scriptInstalledHost(ft *fakeTransport) {
	ft.script(installedCheck, fakeResult{exitCode: 0})
	ft.script("yunohost domain list --output-as json", fakeResult{
		stdout: `{"domains": ["example.com", "blog.example.com"]}`,
	})
	ft.script("yunohost domain main-domain --output-as json", fakeResult{
		stdout: `{"current_main_domain": "example.com"}`,
	})
	ft.script("yunohost user list --output-as json", fakeResult{
		stdout: `{"users": {
			"jane": {"username": "jane", "fullname": "Jane Doe", "mail": "jane@example.com"},
			"bob": {"username": "bob", "fullname": "Bob B", "mail": "bob@blog.example.com"}
		}}`,
	})
	ft.script("yunohost app list --full --output-as json", fakeResult{
		stdout: `{"apps": [
			{"id": "ttrss", "name": "TTRSS", "settings": {"domain": "example.com", "path": "ttrss/"}}
		]}`,
	})
}

func TestProbe_NotInstalled(t *testing.T) {
	ft := newFakeTransport()
	ft.script(installedCheck, fakeResult{exitCode: 1})

	p := New(ft, Options{})
	state, err := p.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}

	if state.Installed {
		t.Error("Expected Installed=false")
	}
	if len(state.Domains) != 0 || len(state.Users) != 0 || len(state.Apps) != 0 {
		t.Error("Expected an empty snapshot for an uninstalled host")
	}
	if state.Host != ft.host {
		t.Errorf("Expected host %q, got %q", ft.host, state.Host)
	}
	if len(ft.commands) != 1 {
		t.Errorf("Expected a single presence check, got %d commands", len(ft.commands))
	}
}

func TestProbe_InstalledHost(t *testing.T) {
	ft := newFakeTransport()
	scriptInstalledHost(ft)

	p := New(ft, Options{})
	state, err := p.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}

	if !state.Installed {
		t.Fatal("Expected Installed=true")
	}
	if state.MainDomain != "example.com" {
		t.Errorf("Expected main domain 'example.com', got '%s'", state.MainDomain)
	}

	// Domains come back sorted.
	if len(state.Domains) != 2 || state.Domains[0] != "blog.example.com" || state.Domains[1] != "example.com" {
		t.Errorf("Expected sorted domains, got %v", state.Domains)
	}

	// User map keys sort so the snapshot is deterministic.
	if len(state.Users) != 2 || state.Users[0].Name != "bob" || state.Users[1].Name != "jane" {
		t.Fatalf("Expected sorted users [bob jane], got %v", state.Users)
	}
	if state.Users[1].Mail != "jane@example.com" || state.Users[1].FullName != "Jane Doe" {
		t.Errorf("Expected jane's attributes preserved, got %+v", state.Users[1])
	}

	if len(state.Apps) != 1 {
		t.Fatalf("Expected 1 app, got %d", len(state.Apps))
	}
	app := state.Apps[0]
	if app.ID != "ttrss" || app.Label != "TTRSS" || app.Domain != "example.com" {
		t.Errorf("Expected ttrss app attributes, got %+v", app)
	}
	if app.Path != "/ttrss" {
		t.Errorf("Expected canonical path '/ttrss', got '%s'", app.Path)
	}
}

func TestProbe_IsReadOnly(t *testing.T) {
	ft := newFakeTransport()
	scriptInstalledHost(ft)

	p := New(ft, Options{})
	if _, err := p.Probe(context.Background()); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}

	for _, cmd := range ft.commands {
		joined := strings.Join(cmd.Argv, " ")
		for _, verb := range []string{"add", "create", "install", "postinstall", "remove", "delete"} {
			if strings.Contains(joined, " "+verb) {
				t.Errorf("Probe issued a mutating command: %q", joined)
			}
		}
	}
}

func TestProbe_UnreachableHost(t *testing.T) {
	ft := newFakeTransport()
	ft.runErr = &transports.TransportError{
		Op:          "connect",
		Err:         errors.New("dial tcp: i/o timeout"),
		IsTemporary: true,
	}

	p := New(ft, Options{})
	_, err := p.Probe(context.Background())
	if err == nil {
		t.Fatal("Expected probe error, got nil")
	}

	var eerr *engine.EngineError
	if !errors.As(err, &eerr) {
		t.Fatalf("Expected EngineError, got %T", err)
	}
	if eerr.Class != engine.ErrorClassProbe {
		t.Errorf("Expected probe error class, got %s", eerr.Class)
	}
	if eerr.Code != engine.ErrCodeHostUnreachable {
		t.Errorf("Expected code %s, got %s", engine.ErrCodeHostUnreachable, eerr.Code)
	}
}

func TestProbe_UnparseableOutput(t *testing.T) {
	ft := newFakeTransport()
	scriptInstalledHost(ft)
	ft.script("yunohost domain list --output-as json", fakeResult{
		stdout: "WARNING: something is misconfigured",
	})

	p := New(ft, Options{})
	_, err := p.Probe(context.Background())
	if err == nil {
		t.Fatal("Expected probe error, got nil")
	}

	var eerr *engine.EngineError
	if !errors.As(err, &eerr) {
		t.Fatalf("Expected EngineError, got %T", err)
	}
	if eerr.Code != engine.ErrCodeUnparseableOutput {
		t.Errorf("Expected code %s, got %s", engine.ErrCodeUnparseableOutput, eerr.Code)
	}
}

func TestProbe_CLIFailure(t *testing.T) {
	ft := newFakeTransport()
	scriptInstalledHost(ft)
	ft.script("yunohost user list --output-as json", fakeResult{
		exitCode: 1,
		stderr:   "Error: unable to reach LDAP",
	})

	p := New(ft, Options{})
	_, err := p.Probe(context.Background())
	if err == nil {
		t.Fatal("Expected probe error, got nil")
	}

	var eerr *engine.EngineError
	if !errors.As(err, &eerr) {
		t.Fatalf("Expected EngineError, got %T", err)
	}
	if eerr.Code != engine.ErrCodeUnparseableOutput {
		t.Errorf("Expected code %s, got %s", engine.ErrCodeUnparseableOutput, eerr.Code)
	}
	if !strings.Contains(eerr.Message, "LDAP") {
		t.Errorf("Expected the CLI error cited, got %q", eerr.Message)
	}
}
