package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

const validYAML = `
main_domain: example.com
admin_password: s3cret
extra_domains:
  - blog.example.com
users:
  - name: jane
    pass: hunter2
    firstname: Jane
    lastname: Doe
    mail: jane@example.com
apps:
  - label: ttrss
    link: https://github.com/YunoHost-Apps/ttrss_ynh
    args:
      path: /ttrss
      domain: example.com
`

func TestParser_Load_ValidYAML(t *testing.T) {
	parser := NewParser()
	path := writeConfigFile(t, "host.yml", validYAML)

	cfg, err := parser.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.MainDomain != "example.com" {
		t.Errorf("Expected main domain example.com, got %s", cfg.MainDomain)
	}
	if cfg.AdminPassword.Value() != "s3cret" {
		t.Error("Expected admin password to round-trip")
	}
	if len(cfg.ExtraDomains) != 1 || cfg.ExtraDomains[0] != "blog.example.com" {
		t.Errorf("Expected one extra domain, got %v", cfg.ExtraDomains)
	}
	if len(cfg.Users) != 1 || cfg.Users[0].Name != "jane" {
		t.Fatalf("Expected user jane, got %+v", cfg.Users)
	}
	if cfg.Users[0].Password.Value() != "hunter2" {
		t.Error("Expected user password to round-trip")
	}
	if len(cfg.Apps) != 1 || cfg.Apps[0].Args["path"] != "/ttrss" {
		t.Errorf("Expected app args to decode, got %+v", cfg.Apps)
	}
}

func TestParser_Load_MissingMainDomain(t *testing.T) {
	parser := NewParser()
	path := writeConfigFile(t, "host.yml", "admin_password: s3cret\n")

	_, err := parser.Load(context.Background(), path)
	if err == nil {
		t.Fatal("Expected load to fail without main_domain")
	}

	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Expected LoadError, got %T", err)
	}
	if !strings.Contains(loadErr.Error(), "main_domain") {
		t.Errorf("Expected error to cite main_domain, got %q", loadErr.Error())
	}
}

func TestParser_Load_AppMissingPath(t *testing.T) {
	parser := NewParser()
	path := writeConfigFile(t, "host.yml", `
main_domain: example.com
admin_password: s3cret
apps:
  - label: ttrss
    link: ttrss
    args:
      domain: example.com
`)

	_, err := parser.Load(context.Background(), path)
	if err == nil {
		t.Fatal("Expected load to fail for app without path")
	}
	if !strings.Contains(err.Error(), "path") {
		t.Errorf("Expected error to cite path, got %q", err.Error())
	}
}

func TestParser_Load_UnknownKeyRejected(t *testing.T) {
	parser := NewParser()
	path := writeConfigFile(t, "host.yml", `
main_domain: example.com
admin_password: s3cret
main_domian_typo: oops
`)

	_, err := parser.Load(context.Background(), path)
	if err == nil {
		t.Fatal("Expected load to fail for unknown key")
	}
}

func TestParser_Load_MalformedYAML(t *testing.T) {
	parser := NewParser()
	path := writeConfigFile(t, "host.yml", "main_domain: [unclosed\n")

	parsed, err := parser.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse should report malformed content as issues, got error: %v", err)
	}
	if len(parsed.Errors) == 0 {
		t.Fatal("Expected parse errors for malformed YAML")
	}
	if parsed.Config != nil {
		t.Error("Expected no config alongside parse errors")
	}
}

func TestParser_Load_EmptyFile(t *testing.T) {
	parser := NewParser()
	path := writeConfigFile(t, "host.yml", "")

	_, err := parser.Load(context.Background(), path)
	if err == nil {
		t.Fatal("Expected load of empty file to fail")
	}
}

func TestParser_Load_MissingFile(t *testing.T) {
	parser := NewParser()

	_, err := parser.Load(context.Background(), filepath.Join(t.TempDir(), "nope.yml"))
	if err == nil {
		t.Fatal("Expected load of missing file to fail")
	}
}

func TestParser_Load_InvalidMail(t *testing.T) {
	parser := NewParser()
	path := writeConfigFile(t, "host.yml", `
main_domain: example.com
admin_password: s3cret
users:
  - name: jane
    pass: hunter2
    firstname: Jane
    lastname: Doe
    mail: not-a-mail-address
`)

	_, err := parser.Load(context.Background(), path)
	if err == nil {
		t.Fatal("Expected load to fail for invalid mail address")
	}
	if !strings.Contains(err.Error(), "mail") {
		t.Errorf("Expected error to cite mail, got %q", err.Error())
	}
}

const starlarkConfig = `
_domain = "example.com"

main_domain = _domain
admin_password = "s3cret"

def _user(name):
    return {
        "name": name,
        "pass": "pw-" + name,
        "firstname": name.capitalize(),
        "lastname": "Doe",
        "mail": name + "@" + _domain,
    }

users = [_user(n) for n in ["jane", "john"]]

apps = [{
    "label": "ttrss",
    "link": "ttrss",
    "args": {"path": "/ttrss", "domain": _domain},
}]
`

func TestParser_Load_Starlark(t *testing.T) {
	parser := NewParser()
	path := writeConfigFile(t, "host.star", starlarkConfig)

	cfg, err := parser.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.MainDomain != "example.com" {
		t.Errorf("Expected main domain example.com, got %s", cfg.MainDomain)
	}
	if len(cfg.Users) != 2 {
		t.Fatalf("Expected 2 generated users, got %d", len(cfg.Users))
	}
	if cfg.Users[0].Name != "jane" || cfg.Users[1].Name != "john" {
		t.Errorf("Expected declaration order preserved, got %s, %s", cfg.Users[0].Name, cfg.Users[1].Name)
	}
	if cfg.Users[1].Mail != "john@example.com" {
		t.Errorf("Expected generated mail, got %s", cfg.Users[1].Mail)
	}
	if len(cfg.Apps) != 1 || cfg.Apps[0].Args["domain"] != "example.com" {
		t.Errorf("Expected generated app, got %+v", cfg.Apps)
	}
}

func TestParser_Load_StarlarkSyntaxError(t *testing.T) {
	parser := NewParser()
	path := writeConfigFile(t, "host.star", "main_domain = (unclosed\n")

	parsed, err := parser.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse should report script errors as issues, got error: %v", err)
	}
	if len(parsed.Errors) == 0 {
		t.Fatal("Expected parse errors for broken Starlark")
	}
}

func TestConfig_ToRawConfig(t *testing.T) {
	parser := NewParser()
	path := writeConfigFile(t, "host.yml", validYAML)

	cfg, err := parser.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	raw := cfg.ToRawConfig()
	if raw.MainDomain != "example.com" {
		t.Errorf("Expected main domain to carry over, got %s", raw.MainDomain)
	}
	if raw.AdminPassword.Value() != "s3cret" {
		t.Error("Expected admin password to carry over")
	}
	if len(raw.Users) != 1 || raw.Users[0].Mail != "jane@example.com" {
		t.Errorf("Expected user to carry over, got %+v", raw.Users)
	}
	if len(raw.Apps) != 1 || raw.Apps[0].Label != "ttrss" {
		t.Errorf("Expected app to carry over, got %+v", raw.Apps)
	}

	// Mutating the raw copy must not touch the source config.
	raw.Apps[0].Args["path"] = "/changed"
	if cfg.Apps[0].Args["path"] != "/ttrss" {
		t.Error("Expected ToRawConfig to deep-copy app args")
	}
}

func TestLoadError_RedactsSecrets(t *testing.T) {
	parser := NewParser()
	path := writeConfigFile(t, "host.yml", `
main_domain: example.com
admin_password: super-secret-value
users:
  - name: jane
    pass: user-secret-value
    firstname: Jane
    lastname: Doe
    mail: jane@undeclared-but-syntactic.com
    bogus_key: x
`)

	_, err := parser.Load(context.Background(), path)
	if err == nil {
		t.Fatal("Expected load to fail for unknown user key")
	}
	msg := err.Error()
	if strings.Contains(msg, "super-secret-value") || strings.Contains(msg, "user-secret-value") {
		t.Errorf("Expected error message to redact secrets, got %q", msg)
	}
}
