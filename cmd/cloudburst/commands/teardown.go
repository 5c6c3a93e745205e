package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newTeardownCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Undeploy every tracked resource",
		Long: `Undeploy all resources tracked in the local deployment state.

Each resource is torn down on the provider and its entry is removed
from the environment's persisted manifest. Resources that are already
gone on the provider are treated as removed.`,
		Example: `  # Tear down everything tracked locally
  cloudburst teardown

  # Remove tracking entries even when the provider delete fails
  cloudburst teardown --force`,
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

			tracked := manager.ListAllResources()
			if len(tracked) == 0 {
				log.Info().Msg("No tracked resources to tear down")
				return nil
			}

			var failures int
			for resourceID, rec := range tracked {
				name := rec.Spec.Name
				result, err := manager.UndeployResource(ctx, resourceID, name, force)
				if err != nil {
					failures++
					log.Error().Err(err).Str("resource", name).Msg("Failed to undeploy resource")
					continue
				}

				if err := remote.RemoveResourceState(ctx, cfg.EnvironmentID, name); err != nil {
					failures++
					log.Error().Err(err).Str("resource", name).Msg("Failed to remove persisted state")
					continue
				}

				log.Info().
					Str("resource", name).
					Bool("removed", result.Success).
					Str("detail", result.Message).
					Msg("Resource torn down")
			}

			if failures > 0 {
				return fmt.Errorf("teardown finished with %d failure(s)", failures)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "drop tracking entries even when the provider delete fails")

	return cmd
}
