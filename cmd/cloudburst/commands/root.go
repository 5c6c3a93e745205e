package commands

import (
	"context"
	"fmt"

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
		Use:   "cloudburst",
		Short: "Cloudburst - Serverless Function Control Plane",
		Long: `Cloudburst deploys and manages distributed serverless functions.

Features:
  - Declarative resource manifests reconciled against persisted state
  - Deduplicated concurrent deploys with per-resource locking
  - Retrying remote state-store client with per-environment serialization
  - Per-endpoint circuit breakers on remote invocation
  - Local run history for auditing reconciliations`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cloudburst.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newTeardownCommand())
	rootCmd.AddCommand(newResourcesCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}
