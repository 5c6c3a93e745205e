package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cloudburst-io/cloudburst/pkg/control"
	"github.com/cloudburst-io/cloudburst/pkg/localstate"
)

func newResourcesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "List locally tracked deployed resources",
		Long: `List every resource tracked in the local deployment state, with its
endpoint id, URL, and deploy time.`,
		Example: `  # Show tracked resources
  cloudburst resources

  # Machine-readable output
  cloudburst resources --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			// Listing never touches the provider, so the snapshot file is
			// read directly.
			tracked, err := localstate.NewFileStore(cfg.StatePath).LoadResources(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(tracked)
			}

			if len(tracked) == 0 {
				fmt.Println("No tracked resources")
				return nil
			}

			records := make([]*control.DeployedResource, 0, len(tracked))
			for _, rec := range tracked {
				records = append(records, rec)
			}
			sort.Slice(records, func(i, j int) bool {
				return records[i].Spec.Name < records[j].Spec.Name
			})

			fmt.Printf("%-24s %-20s %-40s %s\n", "NAME", "ENDPOINT ID", "URL", "DEPLOYED AT")
			for _, rec := range records {
				fmt.Printf("%-24s %-20s %-40s %s\n",
					rec.Spec.Name,
					rec.EndpointID,
					rec.EndpointURL,
					rec.DeployedAt.Format("2006-01-02 15:04:05"),
				)
			}
			return nil
		},
	}

	return cmd
}
