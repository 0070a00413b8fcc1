package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ynhctl/ynhctl/pkg/config"
	"github.com/ynhctl/ynhctl/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a configuration file",
		Long: `Validate a configuration file without touching any host.

This command checks:
  - YAML or Starlark syntax
  - Schema conformance (types, required fields, unknown keys)
  - Domain rules: DNS syntax, app placements referencing declared
    domains, unique (domain, path) placements

All violations are reported in one pass.`,
		Example: `  # Validate a YAML configuration
  ynhctl validate server.yml

  # Validate a Starlark configuration, JSON report
  ynhctl validate --json server.star`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no configuration file given")
			}

			ctx := cmd.Context()
			parser := config.NewParser()

			parsed, err := parser.Parse(ctx, path)
			if err != nil {
				return err
			}

			issues := parsed.Errors

			// Schema-clean configs still need the domain rules checked.
			if len(issues) == 0 {
				if _, err := engine.NewNormalizer().Normalize(parsed.Config.ToRawConfig()); err != nil {
					issues = append(issues, normalizationIssues(path, err)...)
				}
			}

			if jsonOutput {
				out := struct {
					File   string                   `json:"file"`
					Valid  bool                     `json:"valid"`
					Issues []config.ValidationError `json:"issues,omitempty"`
				}{File: path, Valid: len(issues) == 0, Issues: issues}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
			} else {
				for _, issue := range issues {
					if issue.Line > 0 {
						fmt.Printf("%s:%d: %s\n", issue.File, issue.Line, issue.Message)
					} else if issue.Path != "" {
						fmt.Printf("%s: %s: %s\n", issue.File, issue.Path, issue.Message)
					} else {
						fmt.Printf("%s: %s\n", issue.File, issue.Message)
					}
				}
				if len(issues) == 0 {
					fmt.Printf("%s is valid\n", path)
				}
			}

			if len(issues) > 0 {
				return fmt.Errorf("%d validation issue(s)", len(issues))
			}
			return nil
		},
	}

	return cmd
}

// normalizationIssues flattens a normalization failure into per-violation
// entries. The normalizer reports every violation in one atomic error.
func normalizationIssues(path string, err error) []config.ValidationError {
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		issues := make([]config.ValidationError, 0, len(verr.Issues))
		for _, issue := range verr.Issues {
			issues = append(issues, config.ValidationError{
				File:     path,
				Path:     issue.Entity,
				Message:  issue.Message,
				Severity: "error",
			})
		}
		return issues
	}
	return []config.ValidationError{{
		File:     path,
		Message:  err.Error(),
		Severity: "error",
	}}
}
