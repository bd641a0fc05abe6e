package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/nfrund/topobus/cmd/toposervice/internal/display"
	"github.com/nfrund/topobus/internal/config"
	"github.com/nfrund/topobus/internal/eventbus"
	"github.com/nfrund/topobus/internal/topology"
)

var (
	clientQueries  []string
	clientRequest  bool
	clientOnce     bool
	clientFormat   string
	clientNameFlag string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Register a client and print its routes",
	Long: `Start a topology agent, register with the authority and print the routes
it receives. Unless --once is given the client keeps heartbeating until it is
interrupted, then unregisters.

If the authority cannot be reached the agent runs degraded and every query
reports no route.

Examples:
  toposervice client --name billing --query order.created --query order.shipped
  toposervice client --name billing --query order.refunded --request --once
  toposervice client --once --format json`,
	RunE: runClient,
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := overrideClientName(cfg, clientNameFlag); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	injector := newInjector(ctx, cfg, logger)
	defer shutdownInjector(injector, logger)

	bus, err := do.Invoke[*eventbus.Manager](injector)
	if err != nil {
		return err
	}

	agent := topology.NewAgent(cfg.ClientName,
		topology.WithHeartbeatInterval(cfg.HeartbeatInterval),
		topology.WithRegistrationTimeout(cfg.RegistrationTimeout),
		topology.WithLogger(logger))
	defer func() {
		if err := agent.Close(); err != nil {
			logger.Warn("Topology agent close failed", "error", err)
		}
	}()

	if err := agent.Start(ctx, bus); err != nil {
		return err
	}
	bus.UseRouter(agent)

	if agent.State() == topology.StateDegraded {
		fmt.Fprintln(cmd.ErrOrStderr(), "Authority unreachable; running with default routing")
	}

	reg := agent.Registry()
	if clientRequest && agent.State() == topology.StateActive {
		reg = requestMissingRoutes(ctx, agent, reg, logger)
	}

	if err := display.Routes(cmd.OutOrStdout(), clientFormat, reg, clientQueries); err != nil {
		return err
	}
	if clientOnce {
		return nil
	}

	<-ctx.Done()
	return nil
}

// overrideClientName applies the --name flag with the same rectification and
// validation as EVENT_BUS_CLIENT_NAME.
func overrideClientName(cfg *config.Config, name string) error {
	if name == "" {
		return nil
	}
	cfg.ClientName = config.RectifyClientName(name)
	return cfg.Validate()
}

// requestMissingRoutes asks the authority for every queried event type without
// a route. The answers are merged into the returned registry because the
// authority's broadcast may still be in flight.
func requestMissingRoutes(ctx context.Context, agent *topology.Agent, reg *topology.Registry, logger *slog.Logger) *topology.Registry {
	routes := reg.EventRoutes()
	for _, eventType := range clientQueries {
		if _, ok := routes[eventType]; ok {
			continue
		}
		route, err := agent.RequestRoute(ctx, eventType)
		if err != nil {
			logger.Warn("Route request failed", "event_type", eventType, "error", err)
			continue
		}
		routes[eventType] = route
	}
	return topology.NewRegistry(reg.Version(), routes, reg.EventSetRoutes())
}

func init() {
	rootCmd.AddCommand(clientCmd)
	clientCmd.Flags().StringVar(&clientNameFlag, "name", "", "Client name (defaults to EVENT_BUS_CLIENT_NAME)")
	clientCmd.Flags().StringSliceVarP(&clientQueries, "query", "q", nil, "Event types to resolve")
	clientCmd.Flags().BoolVar(&clientRequest, "request", false, "Ask the authority to assign routes to unknown event types")
	clientCmd.Flags().BoolVar(&clientOnce, "once", false, "Exit after printing routes")
	clientCmd.Flags().StringVarP(&clientFormat, "format", "f", "table", "Output format (table, json)")
}
