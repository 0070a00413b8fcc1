package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ynhctl/ynhctl/pkg/engine"
	"github.com/ynhctl/ynhctl/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past runs",
		Long: `List past runs recorded in the state database, or show one run in
detail with its operations and event timeline.`,
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "state database path (default ~/.ynhctl/state.db)")

	cmd.AddCommand(newHistoryListCommand(&dbPath))
	cmd.AddCommand(newHistoryShowCommand(&dbPath))
	return cmd
}

func newHistoryListCommand(dbPath *string) *cobra.Command {
	var host string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List past runs, newest first",
		Example: `  # The last ten runs against one host
  ynhctl history list --host server.example.org --limit 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openStore(ctx, *dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.ListRuns(ctx, host, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}

			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tHOST\tSTATUS\tSTARTED\tDURATION\tAPPLIED\tFAILED")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
					run.ID, run.Host, run.Status,
					run.StartedAt.Format("2006-01-02 15:04:05"),
					run.Duration.Round(time.Second),
					run.Summary.Applied, run.Summary.Failed)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "only runs against this host")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")
	return cmd
}

func newHistoryShowCommand(dbPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its operations and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID := args[0]

			store, err := openStore(ctx, *dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			run, err := store.GetRun(ctx, runID)
			if errors.Is(err, stores.ErrRunNotFound) {
				return fmt.Errorf("run %s not found", runID)
			}
			if err != nil {
				return err
			}

			ops, err := store.ListOperations(ctx, runID)
			if err != nil {
				return err
			}
			events, err := store.ListEvents(ctx, runID, 0, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Run        *engine.Run         `json:"run"`
					Operations []*engine.Operation `json:"operations"`
					Events     []*engine.Event     `json:"events"`
				}{run, ops, events})
			}

			fmt.Printf("Run:      %s\n", run.ID)
			fmt.Printf("Host:     %s\n", run.Host)
			fmt.Printf("Status:   %s\n", run.Status)
			fmt.Printf("Started:  %s\n", run.StartedAt.Format("2006-01-02 15:04:05 MST"))
			if run.CompletedAt != nil {
				fmt.Printf("Finished: %s (%s)\n",
					run.CompletedAt.Format("2006-01-02 15:04:05 MST"),
					run.Duration.Round(time.Second))
			}
			if run.User != "" {
				fmt.Printf("User:     %s\n", run.User)
			}
			if run.Error != "" {
				fmt.Printf("Error:    %s\n", run.Error)
			}

			fmt.Printf("\nOperations (%d):\n", len(ops))
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "  ID\tKIND\tENTITY\tSTATUS\tATTEMPTS\tERROR")
			for _, op := range ops {
				errMsg := ""
				if op.Error != nil {
					errMsg = op.Error.Message
				}
				fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%d\t%s\n",
					op.ID, op.Kind, op.Entity, op.Status, op.Attempts, errMsg)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Printf("\nEvents (%d):\n", len(events))
			for _, ev := range events {
				fmt.Printf("  %s [%s] %s", ev.Timestamp.Format("15:04:05"), ev.Type, ev.Message)
				if ev.Entity != "" {
					fmt.Printf(" (%s)", ev.Entity)
				}
				fmt.Println()
			}
			return nil
		},
	}
	return cmd
}
