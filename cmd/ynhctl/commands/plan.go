package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ynhctl/ynhctl/pkg/engine"
	"github.com/ynhctl/ynhctl/pkg/policy"
)

func newPlanCommand() *cobra.Command {
	flags := &targetFlags{}
	var policyDir string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the operations needed to reach the desired state",
		Long: `Compute the additive plan for a host: probe its current state, compare
it against the declared configuration and print the operations that
would run. The host is not modified.`,
		Example: `  # Plan against a remote host
  ynhctl plan -c host.yaml --target server.example.org

  # Machine-readable plan
  ynhctl plan -c host.yaml --target server.example.org --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			path, err := requireConfig()
			if err != nil {
				return err
			}
			desired, _, err := loadDesired(ctx, path)
			if err != nil {
				return err
			}

			actual, err := probeHost(ctx, flags)
			if err != nil {
				return err
			}

			plan, err := engine.NewPlanner().Plan(desired, actual)
			if err != nil {
				return err
			}

			if policyDir != "" {
				result, err := evaluatePolicies(ctx, plan, desired, policyDir, true)
				if err != nil {
					return err
				}
				printPolicyFindings(result)
			}

			reporter := engine.NewReporter(*logger())
			if jsonOutput {
				err = reporter.WritePlanJSON(os.Stdout, plan)
			} else {
				err = reporter.WritePlan(os.Stdout, plan)
			}
			if err != nil {
				return err
			}
			if conflicts := plan.Conflicts(); len(conflicts) > 0 {
				return fmt.Errorf("%d operation(s) cannot be applied", len(conflicts))
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&policyDir, "policy-dir", "", "enable the policy gate with this directory of .rego or .json files")
	return cmd
}

// evaluatePolicies runs the policy engine over a plan. Built-in policies
// always apply; policyDir adds file-based ones on top. When dryRun is true
// the evaluation is advisory and blocking violations do not fail the command.
func evaluatePolicies(ctx context.Context, plan *engine.Plan, desired *engine.DesiredState, policyDir string, dryRun bool) (*policy.PolicyResult, error) {
	eng, err := policy.NewEngine(*logger())
	if err != nil {
		return nil, fmt.Errorf("initializing policy engine: %w", err)
	}
	if policyDir != "" {
		if err := eng.LoadPolicies(ctx, []string{policyDir}); err != nil {
			return nil, fmt.Errorf("loading policies: %w", err)
		}
	}
	result, err := eng.EvaluatePlan(ctx, plan, &policy.PolicyContext{
		Host:       plan.Host,
		MainDomain: desired.MainDomain,
		DryRun:     dryRun,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluating policies: %w", err)
	}
	if blocking := result.Blocking(); !dryRun && len(blocking) > 0 {
		printPolicyFindings(result)
		return result, fmt.Errorf("%d blocking policy violation(s)", len(blocking))
	}
	return result, nil
}

func printPolicyFindings(result *policy.PolicyResult) {
	if result == nil {
		return
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "policy: %s\n", w)
	}
	for _, v := range result.Violations {
		fmt.Fprintf(os.Stderr, "policy [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
		if v.Remediation != "" {
			fmt.Fprintf(os.Stderr, "  remediation: %s\n", v.Remediation)
		}
	}
}
