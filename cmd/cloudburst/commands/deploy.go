package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cloudburst-io/cloudburst/pkg/control"
	"github.com/cloudburst-io/cloudburst/pkg/localstate"
	"github.com/cloudburst-io/cloudburst/pkg/providers/httpendpoint"
	"github.com/cloudburst-io/cloudburst/pkg/telemetry"
)

func newDeployCommand() *cobra.Command {
	var (
		manifestPath string
		prune        bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Reconcile a declared manifest against the environment",
		Long: `Reconcile declared resources against the environment's persisted state.

This command:
  - Loads the declared manifest
  - Fetches the persisted manifest from the remote state store
  - Classifies each resource (new, changed, unchanged, removed)
  - Provisions new and changed resources through the provider
  - Persists the updated manifest in a single remote write
  - Mirrors the manifest locally with resolved endpoint URLs`,
		Example: `  # Deploy the declared manifest
  cloudburst deploy --manifest resources.yaml

  # Deploy with a non-default config file
  cloudburst deploy -c prod.yaml --manifest resources.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			tel, err := buildTelemetry(cfg)
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background())

			declared, err := loadDeclaredManifest(manifestPath)
			if err != nil {
				return err
			}

			if prune {
				// Vanished resources are only removed by the
				// self-provisioning flow; operator pruning is an
				// explicit, separate decision.
				log.Warn().Msg("--prune is not supported in the operator flow; vanished resources were left in place")
			}

			provider, err := buildProviderClient(cfg)
			if err != nil {
				return err
			}

			manager, err := buildManager(ctx, cfg, provider)
			if err != nil {
				return err
			}

			remote, err := buildRemoteStore(cfg, tel)
			if err != nil {
				return err
			}

			history, err := buildHistory(ctx, cfg)
			if err != nil {
				return err
			}

			opts := []control.ReconcilerOption{
				control.WithReconcileTimeout(cfg.Reconcile.Timeout.Std()),
				control.WithLocalManifestWriter(localstate.NewManifestFile(cfg.ManifestPath)),
				control.WithDeployObserver(tel.Metrics.RecordDeploy),
				control.WithReconcilerLogger(log.With().Str("component", "reconciler").Logger()),
			}
			if history != nil {
				defer history.Close()
				opts = append(opts, control.WithRunRecorder(history))
			}

			reconciler, err := control.NewReconciler(manager, remote, opts...)
			if err != nil {
				return err
			}

			resources := httpendpoint.FromSpecs(provider, declared.Resources)

			log.Info().
				Str("environment", cfg.EnvironmentID).
				Int("resources", len(declared.Resources)).
				Msg("Starting reconciliation")

			runCtx, span := tel.Tracer.Start(ctx, "reconcile")
			defer span.End()

			tel.Metrics.RecordRunStarted(string(control.FlowOperator))
			start := time.Now()

			endpoints, err := reconciler.Reconcile(runCtx, cfg.EnvironmentID, declared, resources, control.FlowOperator)
			if err != nil {
				telemetry.RecordError(span, err)
				tel.Metrics.RecordRunCompleted(string(control.FlowOperator), "failed", time.Since(start))
				return fmt.Errorf("reconciliation failed: %w", err)
			}
			tel.Metrics.RecordRunCompleted(string(control.FlowOperator), "completed", time.Since(start))

			log.Info().
				Str("environment", cfg.EnvironmentID).
				Int("endpoints", len(endpoints)).
				Msg("Reconciliation complete")

			return printEndpoints(endpoints)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "resources.yaml", "declared manifest file")
	cmd.Flags().BoolVar(&prune, "prune", false, "remove resources absent from the declared manifest")

	return cmd
}

func printEndpoints(endpoints map[string]string) error {
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(endpoints)
	}

	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		url := endpoints[name]
		if url == "" {
			url = "(pending)"
		}
		fmt.Printf("%-30s %s\n", name, url)
	}
	return nil
}
