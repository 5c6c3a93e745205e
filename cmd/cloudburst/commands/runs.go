package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudburst-io/cloudburst/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the local reconciliation run history",
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())

	return cmd
}

func newRunsListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent reconciliation runs",
		Example: `  # Show the last 20 runs
  cloudburst runs list

  # Show more history
  cloudburst runs list --limit 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			history, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer history.Close()

			runs, err := history.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(runs)
			}

			if len(runs) == 0 {
				fmt.Println("No recorded runs")
				return nil
			}

			fmt.Printf("%-38s %-16s %-16s %-10s %s\n", "RUN ID", "ENVIRONMENT", "FLOW", "STATUS", "STARTED AT")
			for _, run := range runs {
				fmt.Printf("%-38s %-16s %-16s %-10s %s\n",
					run.ID,
					run.EnvironmentID,
					run.Flow,
					run.Status,
					run.StartedAt.Format("2006-01-02 15:04:05"),
				)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its per-resource outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID := args[0]

			history, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer history.Close()

			run, err := history.GetRun(ctx, runID)
			if err != nil {
				return err
			}
			results, err := history.ListResourceResults(ctx, runID)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(struct {
					Run       *stores.ReconcileRun     `json:"run"`
					Resources []*stores.ResourceResult `json:"resources"`
				}{run, results})
			}

			fmt.Printf("Run:         %s\n", run.ID)
			fmt.Printf("Environment: %s\n", run.EnvironmentID)
			fmt.Printf("Flow:        %s\n", run.Flow)
			fmt.Printf("Status:      %s\n", run.Status)
			fmt.Printf("Started:     %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
			if run.CompletedAt != nil {
				fmt.Printf("Completed:   %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
			}
			if run.Error != nil {
				fmt.Printf("Error:       %s\n", *run.Error)
			}

			if len(results) == 0 {
				return nil
			}
			fmt.Printf("\n%-24s %-12s %-10s %s\n", "RESOURCE", "ACTION", "STATUS", "ENDPOINT")
			for _, res := range results {
				endpoint := ""
				if res.EndpointURL != nil {
					endpoint = *res.EndpointURL
				}
				if res.Error != nil {
					endpoint = "error: " + *res.Error
				}
				fmt.Printf("%-24s %-12s %-10s %s\n", res.ResourceName, res.Action, res.Status, endpoint)
			}
			return nil
		},
	}

	return cmd
}

// openHistory opens the run-history store for read commands.
func openHistory(cmd *cobra.Command) (*stores.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.History.Enabled {
		return nil, fmt.Errorf("run history is disabled in the configuration")
	}
	history, err := stores.NewSQLiteStore(stores.Config{Path: cfg.History.Path})
	if err != nil {
		return nil, err
	}
	if err := history.Init(cmd.Context()); err != nil {
		return nil, err
	}
	if err := history.Migrate(cmd.Context()); err != nil {
		history.Close()
		return nil, err
	}
	return history, nil
}
