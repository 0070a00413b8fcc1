package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ynhctl/ynhctl/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func appOperation(id, domain, path, label, link string) engine.Operation {
	return engine.Operation{
		ID:     id,
		Kind:   engine.OpInstallApp,
		Entity: domain + path,
		Status: engine.StatusPlanned,
		App: &engine.AppSpec{
			Label: label,
			Link:  link,
			Args: map[string]string{
				"domain": domain,
				"path":   path,
			},
		},
	}
}

func TestNewEngine_LoadsBuiltinPolicies(t *testing.T) {
	e := newTestEngine(t)

	policies := e.ListPolicies()
	if len(policies) < 5 {
		t.Errorf("Expected at least 5 built-in policies, got %d", len(policies))
	}

	if _, err := e.GetPolicy("root-placement"); err != nil {
		t.Errorf("Expected root-placement builtin, got error: %v", err)
	}
	if _, err := e.GetPolicy("plan-conflicts"); err != nil {
		t.Errorf("Expected plan-conflicts builtin, got error: %v", err)
	}
}

func TestEngine_EvaluatePlan_CleanPlanAllowed(t *testing.T) {
	e := newTestEngine(t)

	plan := &engine.Plan{
		Host:      "server.example.org",
		CreatedAt: time.Now(),
		Operations: []engine.Operation{
			appOperation("op-1", "example.org", "/wiki", "Wiki", "https://apps.example.org/wiki"),
		},
	}

	result, err := e.EvaluatePlan(context.Background(), plan, &PolicyContext{MainDomain: "example.org"})
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}

	if !result.Allowed {
		t.Errorf("Expected clean plan to be allowed, violations: %+v", result.Violations)
	}
	if len(result.Violations) != 0 {
		t.Errorf("Expected no violations, got %d", len(result.Violations))
	}
	if len(result.EvaluatedPolicies) < 5 {
		t.Errorf("Expected all builtins evaluated, got %v", result.EvaluatedPolicies)
	}
}

func TestEngine_EvaluatePlan_RootPlacementDenied(t *testing.T) {
	e := newTestEngine(t)

	plan := &engine.Plan{
		Host:      "server.example.org",
		CreatedAt: time.Now(),
		Operations: []engine.Operation{
			appOperation("op-1", "example.org", "/", "Wiki", "https://apps.example.org/wiki"),
		},
	}

	result, err := e.EvaluatePlan(context.Background(), plan, &PolicyContext{MainDomain: "example.org"})
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}

	if result.Allowed {
		t.Error("Expected plan with root placement on main domain to be denied")
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "root-placement" {
			found = true
			if v.Severity != SeverityError {
				t.Errorf("Expected error severity, got %s", v.Severity)
			}
			if v.OperationID != "op-1" {
				t.Errorf("Expected violation to reference op-1, got %q", v.OperationID)
			}
		}
	}
	if !found {
		t.Errorf("Expected root-placement violation, got %+v", result.Violations)
	}
}

func TestEngine_EvaluatePlan_RootPathOnExtraDomainAllowed(t *testing.T) {
	e := newTestEngine(t)

	plan := &engine.Plan{
		Host:      "server.example.org",
		CreatedAt: time.Now(),
		Operations: []engine.Operation{
			appOperation("op-1", "apps.example.org", "/", "Wiki", "https://apps.example.org/wiki"),
		},
	}

	result, err := e.EvaluatePlan(context.Background(), plan, &PolicyContext{MainDomain: "example.org"})
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}

	if !result.Allowed {
		t.Errorf("Expected root path on a non-main domain to be allowed, violations: %+v", result.Violations)
	}
}

func TestEngine_EvaluatePlan_InsecureSourceWarns(t *testing.T) {
	e := newTestEngine(t)

	plan := &engine.Plan{
		Host:      "server.example.org",
		CreatedAt: time.Now(),
		Operations: []engine.Operation{
			appOperation("op-1", "example.org", "/wiki", "Wiki", "http://apps.example.org/wiki"),
		},
	}

	result, err := e.EvaluatePlan(context.Background(), plan, &PolicyContext{MainDomain: "example.org"})
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}

	if !result.Allowed {
		t.Errorf("Expected warning-only plan to stay allowed, violations: %+v", result.Violations)
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "insecure-app-source" && v.Severity == SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected insecure-app-source warning, got %+v", result.Violations)
	}
}

func TestEngine_EvaluatePlan_PreFailedConflictDenied(t *testing.T) {
	e := newTestEngine(t)

	op := appOperation("op-1", "example.org", "/wiki", "Wiki", "https://apps.example.org/wiki")
	op.Status = engine.StatusFailedFatal

	plan := &engine.Plan{
		Host:       "server.example.org",
		CreatedAt:  time.Now(),
		Operations: []engine.Operation{op},
	}

	result, err := e.EvaluatePlan(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}

	if result.Allowed {
		t.Error("Expected plan with pre-failed operation to be denied")
	}

	blocking := result.Blocking()
	if len(blocking) == 0 {
		t.Fatal("Expected blocking violations")
	}
	if blocking[0].Policy != "plan-conflicts" {
		t.Errorf("Expected plan-conflicts violation, got %s", blocking[0].Policy)
	}
}

func TestEngine_EvaluatePlan_PlatformBootstrapWarns(t *testing.T) {
	e := newTestEngine(t)

	plan := &engine.Plan{
		Host:      "server.example.org",
		CreatedAt: time.Now(),
		Operations: []engine.Operation{
			{
				ID:     "op-1",
				Kind:   engine.OpInstallPlatform,
				Entity: "platform",
				Status: engine.StatusPlanned,
			},
		},
	}

	result, err := e.EvaluatePlan(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}

	if !result.Allowed {
		t.Errorf("Expected bootstrap warning to stay allowed, violations: %+v", result.Violations)
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "platform-bootstrap" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected platform-bootstrap warning, got %+v", result.Violations)
	}
}

func TestEngine_EvaluatePlan_DuplicateAppLabels(t *testing.T) {
	e := newTestEngine(t)

	plan := &engine.Plan{
		Host:      "server.example.org",
		CreatedAt: time.Now(),
		Operations: []engine.Operation{
			appOperation("op-1", "example.org", "/wiki", "Wiki", "https://apps.example.org/wiki"),
			appOperation("op-2", "apps.example.org", "/notes", "Wiki", "https://apps.example.org/notes"),
		},
	}

	result, err := e.EvaluatePlan(context.Background(), plan, &PolicyContext{MainDomain: "example.org"})
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "duplicate-app-label" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected duplicate-app-label warning, got %+v", result.Violations)
	}
}

func TestEngine_EvaluatePlan_EmptyPlan(t *testing.T) {
	e := newTestEngine(t)

	plan := &engine.Plan{Host: "server.example.org", CreatedAt: time.Now()}

	result, err := e.EvaluatePlan(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected empty plan to be allowed, violations: %+v", result.Violations)
	}
}

func TestEngine_DisablePolicy(t *testing.T) {
	e := newTestEngine(t)

	if err := e.DisablePolicy("insecure-app-source"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}

	plan := &engine.Plan{
		Host:      "server.example.org",
		CreatedAt: time.Now(),
		Operations: []engine.Operation{
			appOperation("op-1", "example.org", "/wiki", "Wiki", "http://apps.example.org/wiki"),
		},
	}

	result, err := e.EvaluatePlan(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if len(result.Violations) != 0 {
		t.Errorf("Expected no violations from disabled policy, got %+v", result.Violations)
	}

	if err := e.EnablePolicy("insecure-app-source"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}
	if err := e.DisablePolicy("no-such-policy"); err == nil {
		t.Error("Expected error disabling unknown policy")
	}
}

func TestEngine_LoadPolicies_CustomRegoFile(t *testing.T) {
	e := newTestEngine(t)

	dir := t.TempDir()
	rego := `# Blocks user creation on frozen hosts.
package ynhctl.policies.frozen

import rego.v1

deny contains msg if {
	some op in input.plan.operations
	op.kind == "create_user"
	msg := sprintf("user %s cannot be created on a frozen host", [op.entity])
}
`
	path := filepath.Join(dir, "frozen-users.rego")
	if err := os.WriteFile(path, []byte(rego), 0o644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	if err := e.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	plan := &engine.Plan{
		Host:      "server.example.org",
		CreatedAt: time.Now(),
		Operations: []engine.Operation{
			{
				ID:     "op-1",
				Kind:   engine.OpCreateUser,
				Entity: "alice",
				Status: engine.StatusPlanned,
				User:   &engine.UserSpec{Name: "alice", Mail: "alice@example.org"},
			},
		},
	}

	result, err := e.EvaluatePlan(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "frozen-users" {
			found = true
			if v.Message != "user alice cannot be created on a frozen host" {
				t.Errorf("Unexpected message: %q", v.Message)
			}
			// Raw string deny entries take the file's default severity.
			if v.Severity != SeverityWarning {
				t.Errorf("Expected warning severity, got %s", v.Severity)
			}
		}
	}
	if !found {
		t.Errorf("Expected frozen-users violation, got %+v", result.Violations)
	}
}

func TestEngine_ReplacePolicies_KeepsBuiltins(t *testing.T) {
	e := newTestEngine(t)

	custom := Policy{
		Name:     "always-empty",
		Severity: SeverityWarning,
		Enabled:  true,
		Rego: `package ynhctl.policies.empty

import rego.v1

deny contains msg if {
	false
	msg := "never"
}
`,
	}

	if err := e.ReplacePolicies([]Policy{custom}); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}

	if _, err := e.GetPolicy("root-placement"); err != nil {
		t.Errorf("Expected builtin to survive replace: %v", err)
	}
	if _, err := e.GetPolicy("always-empty"); err != nil {
		t.Errorf("Expected custom policy after replace: %v", err)
	}
}

func TestEngine_EvaluatePlan_SecretsNotVisibleToPolicies(t *testing.T) {
	e := newTestEngine(t)

	// A policy that denies whenever it can see the raw password value.
	leak := Policy{
		Name:     "leak-check",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package ynhctl.policies.leak

import rego.v1

deny contains msg if {
	some op in input.plan.operations
	op.app.args.password == "hunter2"
	msg := "saw the password"
}
`,
	}
	if err := e.ReplacePolicies([]Policy{leak}); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}

	op := appOperation("op-1", "example.org", "/wiki", "Wiki", "https://apps.example.org/wiki")
	op.App.Args["password"] = "hunter2"

	plan := &engine.Plan{
		Host:       "server.example.org",
		CreatedAt:  time.Now(),
		Operations: []engine.Operation{op},
	}

	result, err := e.EvaluatePlan(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}

	for _, v := range result.Violations {
		if v.Policy == "leak-check" {
			t.Error("Policy input exposed a raw credential value")
		}
	}
}

func TestExtractPackageName(t *testing.T) {
	tests := []struct {
		name     string
		rego     string
		expected string
	}{
		{
			name:     "simple package",
			rego:     "package ynhctl.policies.naming\n\ndeny contains msg if { false }",
			expected: "ynhctl.policies.naming",
		},
		{
			name:     "leading comments",
			rego:     "# a comment\n\npackage custom.rules\n",
			expected: "custom.rules",
		},
		{
			name:     "no package line",
			rego:     "deny contains msg if { false }",
			expected: defaultPackage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractPackageName(tt.rego)
			if got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}
