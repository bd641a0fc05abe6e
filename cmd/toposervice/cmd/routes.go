package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nfrund/topobus/cmd/toposervice/internal/display"
	"github.com/nfrund/topobus/internal/topology"
	"github.com/nfrund/topobus/internal/toposervice"
)

var routesFormat string

// fs is swapped for an in-memory filesystem in tests.
var fs = afero.NewOsFs()

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Work with route files",
}

var routesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a route file",
	Long: `Validate a YAML route file and print the routes it defines.

The file maps event types to an exchange and routing key, and names sets of
routes:

  event_routes:
    order.created: {exchange: orders, routing_key: order.created}
  event_set_routes:
    order-lifecycle:
      - {exchange: orders, routing_key: order.created}

Examples:
  toposervice routes validate routes.yaml
  toposervice routes validate routes.yaml --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rf, err := toposervice.LoadRouteFile(fs, args[0])
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "❌ %s is invalid\n", args[0])
			return err
		}

		if routesFormat != "json" {
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s is valid: %d event routes, %d event sets\n\n",
				args[0], len(rf.EventRoutes), len(rf.EventSetRoutes))
		}
		return display.Routes(cmd.OutOrStdout(), routesFormat, topology.NewRegistry(0, rf.EventRoutes, rf.EventSetRoutes), nil)
	},
}

func init() {
	rootCmd.AddCommand(routesCmd)
	routesCmd.AddCommand(routesValidateCmd)
	routesValidateCmd.Flags().StringVarP(&routesFormat, "format", "f", "table", "Output format (table, json)")
}
