package yunohost

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ynhctl/ynhctl/pkg/engine"
)

func platformOp(script string) *engine.Operation {
	return &engine.Operation{
		ID:   engine.OperationID(engine.OpInstallPlatform, ""),
		Kind: engine.OpInstallPlatform,
		Platform: &engine.PlatformSpec{
			InstallScript: script,
			MainDomain:    "example.com",
			AdminPassword: engine.Secret("s3cret"),
		},
	}
}

const postinstallCmd = "yunohost tools postinstall --domain example.com --password s3cret --ignore-dyndns"

func TestInstallPlatform_RemoteScript(t *testing.T) {
	ft := newFakeTransport()
	ft.script("sh -c curl -sSL https://install.yunohost.org | bash -s -- -a",
		fakeResult{stdout: "Installation done"})
	ft.script(postinstallCmd, fakeResult{stdout: "YunoHost configured"})

	p := New(ft, Options{})
	output, err := p.Apply(context.Background(), platformOp(""))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if len(ft.commands) != 2 {
		t.Fatalf("Expected 2 commands (script, postinstall), got %d", len(ft.commands))
	}
	if len(ft.uploads) != 0 {
		t.Errorf("Expected no upload for a remote script, got %d", len(ft.uploads))
	}
	if !strings.Contains(output, "Installation done") || !strings.Contains(output, "YunoHost configured") {
		t.Errorf("Expected both command outputs, got %q", output)
	}

	// The admin password travels only inside the redacted postinstall command.
	post := ft.commands[1]
	found := false
	for _, v := range post.Redact {
		if v == "s3cret" {
			found = true
		}
	}
	if !found {
		t.Error("Expected the admin password in the postinstall redaction list")
	}
}

func TestInstallPlatform_LocalScript(t *testing.T) {
	scriptPath := filepath.Join(t.TempDir(), "install.sh")
	content := "#!/bin/bash\necho installing\n"
	if err := os.WriteFile(scriptPath, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}

	ft := newFakeTransport()
	ft.script("bash /tmp/ynhctl-install.sh -a", fakeResult{stdout: "Installation done"})
	ft.script(postinstallCmd, fakeResult{stdout: "YunoHost configured"})

	p := New(ft, Options{})
	if _, err := p.Apply(context.Background(), platformOp(scriptPath)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if len(ft.uploads) != 1 {
		t.Fatalf("Expected 1 upload, got %d", len(ft.uploads))
	}
	up := ft.uploads[0]
	if up.path != "/tmp/ynhctl-install.sh" {
		t.Errorf("Expected upload to /tmp/ynhctl-install.sh, got %s", up.path)
	}
	if up.mode != 0o755 {
		t.Errorf("Expected executable mode 0755, got %v", up.mode)
	}
	if up.data != content {
		t.Errorf("Expected script content round-tripped, got %q", up.data)
	}
}

func TestInstallPlatform_MissingLocalScript(t *testing.T) {
	p := New(newFakeTransport(), Options{})
	_, err := p.Apply(context.Background(), platformOp("/nonexistent/install.sh"))
	if err == nil {
		t.Fatal("Expected error for a missing local script")
	}
	if engine.IsRetryable(err) {
		t.Error("Expected a missing script to be fatal")
	}
}

func TestInstallPlatform_ScriptRefusesSecondRun(t *testing.T) {
	ft := newFakeTransport()
	ft.script("sh -c curl -sSL https://install.yunohost.org | bash -s -- -a",
		fakeResult{exitCode: 1, stderr: "YunoHost is already installed"})
	ft.script(postinstallCmd, fakeResult{stdout: "YunoHost configured"})

	p := New(ft, Options{})
	output, err := p.Apply(context.Background(), platformOp(""))
	if err != nil {
		t.Fatalf("Expected an already-installed host to converge, got: %v", err)
	}
	if !strings.Contains(output, "platform already installed") {
		t.Errorf("Expected convergence output, got %q", output)
	}
	if len(ft.commands) != 2 {
		t.Errorf("Expected postinstall to still run, got %d commands", len(ft.commands))
	}
}

func TestInstallPlatform_PostinstallFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.script("sh -c curl -sSL https://install.yunohost.org | bash -s -- -a",
		fakeResult{stdout: "Installation done"})
	ft.script(postinstallCmd, fakeResult{exitCode: 1, stderr: "Error: domain is unreachable from DNS"})

	p := New(ft, Options{})
	output, err := p.Apply(context.Background(), platformOp(""))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if engine.IsRetryable(err) {
		t.Error("Expected a postinstall rejection to be fatal")
	}
	if !strings.Contains(output, "Installation done") {
		t.Errorf("Expected the script output preserved alongside the failure, got %q", output)
	}
	if strings.Contains(err.Error(), "s3cret") {
		t.Errorf("Expected the admin password absent from the error, got %q", err.Error())
	}
}
