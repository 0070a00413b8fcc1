package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ynhctl",
		Short: "ynhctl - declarative host configuration for Yunohost servers",
		Long: `ynhctl reconciles a Yunohost server against a declared configuration.

You declare the main domain, extra domains, users and apps in a YAML or
Starlark file; ynhctl probes the host, computes the additive plan that
closes the gap and applies it idempotently. Converged entities are left
untouched, missing ones are created, and contradicting ones are reported
as conflicts without modifying the host.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file path (.yml or .star)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newProbeCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// requireConfig returns the configured file path or an error when missing.
func requireConfig() (string, error) {
	if configPath == "" {
		return "", fmt.Errorf("no configuration file given, use --config")
	}
	return configPath, nil
}

func logger() *zerolog.Logger {
	return &log.Logger
}
