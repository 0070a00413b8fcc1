package config

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestStarlarkEvaluator_Evaluate_Globals(t *testing.T) {
	se := NewStarlarkEvaluator(5 * time.Second)

	script := `
main_domain = "example.com"
_private = "hidden"
count = 3
enabled = True
names = ["a", "b"]
settings = {"path": "/x"}
`
	result, err := se.Evaluate(context.Background(), script, nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if result.Output["main_domain"] != "example.com" {
		t.Errorf("Expected string global, got %v", result.Output["main_domain"])
	}
	if _, ok := result.Output["_private"]; ok {
		t.Error("Expected underscore globals to stay private")
	}
	if result.Output["count"] != int64(3) {
		t.Errorf("Expected int64 3, got %v (%T)", result.Output["count"], result.Output["count"])
	}
	if result.Output["enabled"] != true {
		t.Errorf("Expected bool true, got %v", result.Output["enabled"])
	}
	names, ok := result.Output["names"].([]interface{})
	if !ok || len(names) != 2 {
		t.Errorf("Expected list of 2, got %v", result.Output["names"])
	}
	settings, ok := result.Output["settings"].(map[string]interface{})
	if !ok || settings["path"] != "/x" {
		t.Errorf("Expected dict output, got %v", result.Output["settings"])
	}
}

func TestStarlarkEvaluator_Evaluate_FunctionsNotExported(t *testing.T) {
	se := NewStarlarkEvaluator(5 * time.Second)

	script := `
def helper():
    return 1

value = helper()
`
	result, err := se.Evaluate(context.Background(), script, nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if _, ok := result.Output["helper"]; ok {
		t.Error("Expected functions to be excluded from output")
	}
	if result.Output["value"] != int64(1) {
		t.Errorf("Expected computed value 1, got %v", result.Output["value"])
	}
}

func TestStarlarkEvaluator_Evaluate_Input(t *testing.T) {
	se := NewStarlarkEvaluator(5 * time.Second)

	input := map[string]interface{}{
		"base_domain": "example.com",
		"user_count":  2,
	}
	script := `
domains = [base_domain]
users = ["user" + str(i) for i in range(user_count)]
`
	result, err := se.Evaluate(context.Background(), script, input)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	users, ok := result.Output["users"].([]interface{})
	if !ok || len(users) != 2 {
		t.Fatalf("Expected 2 users, got %v", result.Output["users"])
	}
	if users[0] != "user0" || users[1] != "user1" {
		t.Errorf("Expected generated names, got %v", users)
	}
}

func TestStarlarkEvaluator_Evaluate_Builtins(t *testing.T) {
	se := NewStarlarkEvaluator(5 * time.Second)

	script := `
r = range(1, 7, 2)
e = enumerate(["a", "b"])
z = zip([1, 2], ["x", "y"])
`
	result, err := se.Evaluate(context.Background(), script, nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	r, ok := result.Output["r"].([]interface{})
	if !ok || len(r) != 3 || r[0] != int64(1) || r[2] != int64(5) {
		t.Errorf("Expected range [1 3 5], got %v", result.Output["r"])
	}
	e, ok := result.Output["e"].([]interface{})
	if !ok || len(e) != 2 {
		t.Errorf("Expected enumerate of 2, got %v", result.Output["e"])
	}
	z, ok := result.Output["z"].([]interface{})
	if !ok || len(z) != 2 {
		t.Errorf("Expected zip of 2, got %v", result.Output["z"])
	}
}

func TestStarlarkEvaluator_Evaluate_Error(t *testing.T) {
	se := NewStarlarkEvaluator(5 * time.Second)

	result, err := se.Evaluate(context.Background(), `x = undefined_name`, nil)
	if err == nil {
		t.Fatal("Expected evaluation error")
	}
	if result.Error == "" {
		t.Error("Expected result to carry the error message")
	}
}

func TestStarlarkEvaluator_Evaluate_Timeout(t *testing.T) {
	se := NewStarlarkEvaluator(50 * time.Millisecond)

	// Nested loops large enough to outlive the timeout.
	script := `
total = 0
for i in range(100000):
    for j in range(100000):
        total += 1
`
	_, err := se.Evaluate(context.Background(), script, nil)
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("Expected timeout in error, got %v", err)
	}
}

func TestStarlarkEvaluator_DefaultTimeout(t *testing.T) {
	se := NewStarlarkEvaluator(0)
	if se.timeout != 30*time.Second {
		t.Errorf("Expected 30s default timeout, got %v", se.timeout)
	}
}
