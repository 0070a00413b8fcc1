package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newProbeCommand() *cobra.Command {
	flags := &targetFlags{}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe the current state of a host",
		Long: `Probe a host and report its current state: whether the platform is
installed, the configured domains, the user accounts and the installed
apps with their placements. The host is not modified.`,
		Example: `  # Probe a remote host over SSH
  ynhctl probe --target server.example.org

  # Probe this machine, JSON output
  ynhctl probe --target local --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			state, err := probeHost(ctx, flags)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(state)
			}

			fmt.Printf("Host:      %s\n", state.Host)
			fmt.Printf("Probed:    %s\n", state.ProbedAt.Format("2006-01-02 15:04:05 MST"))
			fmt.Printf("Installed: %v\n", state.Installed)
			if !state.Installed {
				return nil
			}
			fmt.Printf("Main domain: %s\n", state.MainDomain)
			fmt.Printf("Domains (%d):\n", len(state.Domains))
			for _, d := range state.Domains {
				fmt.Printf("  %s\n", d)
			}
			fmt.Printf("Users (%d):\n", len(state.Users))
			for _, u := range state.Users {
				fmt.Printf("  %s (%s, %s)\n", u.Name, u.FullName, u.Mail)
			}
			fmt.Printf("Apps (%d):\n", len(state.Apps))
			for _, a := range state.Apps {
				fmt.Printf("  %s at %s%s\n", a.ID, a.Domain, a.Path)
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}
