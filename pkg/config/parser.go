package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Parser loads operator configuration from YAML or Starlark sources,
// validates it against the embedded CUE schema, and decodes it into Config.
type Parser struct {
	schemaRegistry    *SchemaRegistry
	starlarkEvaluator *StarlarkEvaluator
	validator         *validator.Validate
}

// NewParser creates a Parser with the built-in schema registered.
func NewParser() *Parser {
	return &Parser{
		schemaRegistry:    NewSchemaRegistry(),
		starlarkEvaluator: NewStarlarkEvaluator(30 * time.Second),
		validator:         validator.New(),
	}
}

// Load parses the configuration file at path and returns the decoded Config.
// Any parse, schema, or structural violation fails the load; the returned
// error lists every problem found.
func (p *Parser) Load(ctx context.Context, path string) (*Config, error) {
	parsed, err := p.Parse(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(parsed.Errors) > 0 {
		return nil, &LoadError{File: path, Issues: parsed.Errors}
	}
	return parsed.Config, nil
}

// Parse parses the configuration file at path. The file format is chosen by
// extension: .star evaluates as Starlark, everything else decodes as YAML.
// Parse only fails on I/O trouble; malformed content comes back as Errors in
// the ParsedConfig.
func (p *Parser) Parse(ctx context.Context, path string) (*ParsedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".star") {
		return p.parseStarlark(ctx, path, data)
	}
	return p.parseYAML(ctx, path, data)
}

// parseYAML decodes a YAML configuration: generic decode for the schema
// check, then a strict decode into Config so unknown keys are reported.
func (p *Parser) parseYAML(ctx context.Context, path string, data []byte) (*ParsedConfig, error) {
	parsed := &ParsedConfig{
		SourceFile: path,
		ParsedAt:   time.Now(),
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		parsed.Errors = append(parsed.Errors, yamlError(path, err)...)
		return parsed, nil
	}

	if issues := p.schemaRegistry.CheckConfig(ctx, doc); len(issues) > 0 {
		for i := range issues {
			issues[i].File = path
		}
		parsed.Errors = append(parsed.Errors, issues...)
		return parsed, nil
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		parsed.Errors = append(parsed.Errors, yamlError(path, err)...)
		return parsed, nil
	}

	parsed.Errors = append(parsed.Errors, p.checkStruct(path, &cfg)...)
	if len(parsed.Errors) == 0 {
		parsed.Config = &cfg
	}
	return parsed, nil
}

// parseStarlark evaluates a Starlark configuration script. The script's
// exported globals form the configuration document; they go through the same
// schema check as a YAML document.
func (p *Parser) parseStarlark(ctx context.Context, path string, data []byte) (*ParsedConfig, error) {
	parsed := &ParsedConfig{
		SourceFile: path,
		ParsedAt:   time.Now(),
	}

	result, err := p.starlarkEvaluator.Evaluate(ctx, string(data), nil)
	if err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			File:     path,
			Message:  result.Error,
			Severity: "error",
		})
		return parsed, nil
	}

	if issues := p.schemaRegistry.CheckConfig(ctx, result.Output); len(issues) > 0 {
		for i := range issues {
			issues[i].File = path
		}
		parsed.Errors = append(parsed.Errors, issues...)
		return parsed, nil
	}

	cfg, err := decodeDocument(result.Output)
	if err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			File:     path,
			Message:  fmt.Sprintf("failed to decode configuration: %v", err),
			Severity: "error",
		})
		return parsed, nil
	}

	parsed.Errors = append(parsed.Errors, p.checkStruct(path, cfg)...)
	if len(parsed.Errors) == 0 {
		parsed.Config = cfg
	}
	return parsed, nil
}

// checkStruct runs the validator struct tags and converts field errors.
func (p *Parser) checkStruct(path string, cfg *Config) []ValidationError {
	err := p.validator.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{
			File:     path,
			Message:  err.Error(),
			Severity: "error",
		}}
	}

	issues := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		issues = append(issues, ValidationError{
			File:     path,
			Path:     fieldPath(fe.Namespace()),
			Message:  fmt.Sprintf("field %s failed %q validation", fe.Field(), fe.Tag()),
			Severity: "error",
		})
	}
	return issues
}

// decodeDocument decodes a generic document (Starlark output) into Config
// through a JSON round trip.
func decodeDocument(doc map[string]interface{}) (*Config, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// fieldPath strips the root struct name from a validator namespace, so
// "Config.Users[0].Mail" renders as "Users[0].Mail".
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// yamlError converts a YAML decode error into located validation errors.
// yaml.TypeError carries one message per offending node.
func yamlError(path string, err error) []ValidationError {
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		issues := make([]ValidationError, 0, len(typeErr.Errors))
		for _, msg := range typeErr.Errors {
			issues = append(issues, ValidationError{
				File:     path,
				Message:  msg,
				Severity: "error",
			})
		}
		return issues
	}
	return []ValidationError{{
		File:     path,
		Message:  err.Error(),
		Severity: "error",
	}}
}

// LoadError aggregates every problem found while loading one config file.
type LoadError struct {
	File   string
	Issues []ValidationError
}

// Error lists every issue, one per line.
func (e *LoadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid configuration %s:", e.File)
	for _, issue := range e.Issues {
		b.WriteString("\n  - ")
		if issue.Path != "" {
			b.WriteString(issue.Path)
			b.WriteString(": ")
		}
		b.WriteString(issue.Message)
	}
	return b.String()
}
