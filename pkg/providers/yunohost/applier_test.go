package yunohost

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ynhctl/ynhctl/pkg/engine"
	"github.com/ynhctl/ynhctl/pkg/transports"
)

func domainOp(name string) *engine.Operation {
	return &engine.Operation{
		ID:     engine.OperationID(engine.OpCreateDomain, name),
		Kind:   engine.OpCreateDomain,
		Domain: &engine.Domain{Name: name},
	}
}

func userOp(name, password string) *engine.Operation {
	return &engine.Operation{
		ID:   engine.OperationID(engine.OpCreateUser, name),
		Kind: engine.OpCreateUser,
		User: &engine.UserSpec{
			Name:      name,
			Password:  engine.Secret(password),
			Firstname: "Jane",
			Lastname:  "Doe",
			Mail:      name + "@example.com",
		},
	}
}

func appOp(label, link string, args map[string]string) *engine.Operation {
	return &engine.Operation{
		ID:   engine.OperationID(engine.OpInstallApp, engine.AppID(link)),
		Kind: engine.OpInstallApp,
		App:  &engine.AppSpec{Label: label, Link: link, Args: args},
	}
}

func TestApply_CreateDomain(t *testing.T) {
	ft := newFakeTransport()
	ft.script("yunohost domain add example.com", fakeResult{stdout: "Domain created"})

	p := New(ft, Options{})
	output, err := p.Apply(context.Background(), domainOp("example.com"))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if output != "Domain created" {
		t.Errorf("Expected CLI output returned, got %q", output)
	}
	if len(ft.commands) != 1 {
		t.Fatalf("Expected 1 command, got %d", len(ft.commands))
	}
}

func TestApply_CreateDomain_AlreadyPresent(t *testing.T) {
	ft := newFakeTransport()
	ft.script("yunohost domain add example.com", fakeResult{
		exitCode: 1,
		stderr:   "Error: The domain already exists",
	})

	p := New(ft, Options{})
	output, err := p.Apply(context.Background(), domainOp("example.com"))
	if err != nil {
		t.Fatalf("Expected an already-present domain to converge, got: %v", err)
	}
	if output != "domain already present" {
		t.Errorf("Expected convergence output, got %q", output)
	}
}

func TestApply_CreateDomain_Failure(t *testing.T) {
	ft := newFakeTransport()
	ft.script("yunohost domain add example.com", fakeResult{
		exitCode: 1,
		stderr:   "Error: DNS configuration rejected",
	})

	p := New(ft, Options{})
	_, err := p.Apply(context.Background(), domainOp("example.com"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if engine.IsRetryable(err) {
		t.Error("Expected a CLI rejection to be fatal, not retryable")
	}
	if !strings.Contains(err.Error(), "DNS configuration rejected") {
		t.Errorf("Expected the CLI error cited, got %q", err.Error())
	}
}

func TestApply_CreateUser(t *testing.T) {
	ft := newFakeTransport()
	ft.script("yunohost user create jane -f Jane -l Doe -m jane@example.com -p hunter2",
		fakeResult{stdout: "User jane created, password hunter2 set"})

	p := New(ft, Options{})
	output, err := p.Apply(context.Background(), userOp("jane", "hunter2"))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// The transport receives the real password but is told to redact it.
	cmd := ft.lastCommand(t)
	found := false
	for _, v := range cmd.Redact {
		if v == "hunter2" {
			found = true
		}
	}
	if !found {
		t.Error("Expected the user password in the command's redaction list")
	}
	if strings.Contains(output, "hunter2") {
		t.Errorf("Expected captured output redacted, got %q", output)
	}
}

func TestApply_InstallApp_EncodesArgs(t *testing.T) {
	ft := newFakeTransport()
	args := map[string]string{"domain": "example.com", "path": "/ttrss", "admin": "jane"}
	encoded := EncodeAppArgs(args)
	link := "https://github.com/YunoHost-Apps/ttrss_ynh"

	ft.script("yunohost app install "+link+" --label ttrss --args "+encoded+" --force",
		fakeResult{stdout: "Installation complete"})

	p := New(ft, Options{})
	output, err := p.Apply(context.Background(), appOp("ttrss", link, args))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if output != "Installation complete" {
		t.Errorf("Expected CLI output returned, got %q", output)
	}

	// Keys sort in the encoding so identical args always serialize the same.
	if encoded != "admin=jane&domain=example.com&path=%2Fttrss" {
		t.Errorf("Expected sorted query-string encoding, got %q", encoded)
	}
}

func TestApply_InstallApp_NetworkTimeoutIsRetryable(t *testing.T) {
	ft := newFakeTransport()
	link := "https://github.com/YunoHost-Apps/ttrss_ynh"
	args := map[string]string{"domain": "example.com", "path": "/ttrss"}

	ft.script("yunohost app install "+link+" --label ttrss --args "+EncodeAppArgs(args)+" --force",
		fakeResult{
			exitCode: 1,
			stderr:   "fatal: unable to access repository: Could not resolve host: github.com",
		})

	p := New(ft, Options{})
	_, err := p.Apply(context.Background(), appOp("ttrss", link, args))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !engine.IsRetryable(err) {
		t.Error("Expected a network-timeout failure to be retryable")
	}
}

func TestApply_InstallApp_ScriptFailureIsFatal(t *testing.T) {
	ft := newFakeTransport()
	link := "https://github.com/YunoHost-Apps/ttrss_ynh"
	args := map[string]string{"domain": "example.com", "path": "/ttrss"}

	ft.script("yunohost app install "+link+" --label ttrss --args "+EncodeAppArgs(args)+" --force",
		fakeResult{
			exitCode: 1,
			stderr:   "Error: the app install script failed",
		})

	p := New(ft, Options{})
	output, err := p.Apply(context.Background(), appOp("ttrss", link, args))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if engine.IsRetryable(err) {
		t.Error("Expected an install-script failure to be fatal")
	}
	if !strings.Contains(output, "install script failed") {
		t.Errorf("Expected captured output returned alongside the error, got %q", output)
	}
}

func TestApply_InstallApp_RedactsPasswordArgs(t *testing.T) {
	ft := newFakeTransport()
	link := "https://github.com/YunoHost-Apps/wordpress_ynh"
	args := map[string]string{"domain": "example.com", "path": "/blog", "admin_password": "s3cret"}

	ft.script("yunohost app install "+link+" --label blog --args "+EncodeAppArgs(args)+" --force",
		fakeResult{stdout: "admin password s3cret accepted"})

	p := New(ft, Options{})
	output, err := p.Apply(context.Background(), appOp("blog", link, args))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if strings.Contains(output, "s3cret") {
		t.Errorf("Expected password-like app args redacted, got %q", output)
	}
}

func TestApply_MissingPayload(t *testing.T) {
	p := New(newFakeTransport(), Options{})
	_, err := p.Apply(context.Background(), &engine.Operation{Kind: engine.OpCreateDomain})
	if err == nil {
		t.Fatal("Expected error for an operation without its payload")
	}
}

func TestApply_UnknownKind(t *testing.T) {
	p := New(newFakeTransport(), Options{})
	_, err := p.Apply(context.Background(), &engine.Operation{Kind: "reboot_host"})
	if err == nil {
		t.Fatal("Expected error for an unknown operation kind")
	}
	if engine.IsRetryable(err) {
		t.Error("Expected an unknown kind to be fatal")
	}
}

func TestApply_UseSudo(t *testing.T) {
	ft := newFakeTransport()
	ft.script("yunohost domain add example.com", fakeResult{})

	p := New(ft, Options{UseSudo: true})
	if _, err := p.Apply(context.Background(), domainOp("example.com")); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !ft.lastCommand(t).Sudo {
		t.Error("Expected the command marked for sudo")
	}
}

func TestApply_TransportLossIsRetryable(t *testing.T) {
	ft := newFakeTransport()
	ft.runErr = &transports.TransportError{
		Op:          "exec",
		Err:         errors.New("session: connection lost"),
		IsTemporary: true,
	}

	p := New(ft, Options{})
	_, err := p.Apply(context.Background(), domainOp("example.com"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !engine.IsRetryable(err) {
		t.Error("Expected a temporary transport failure to be retryable")
	}
}
