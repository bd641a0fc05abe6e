package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nfrund/topobus/internal/config"
	"github.com/nfrund/topobus/internal/eventbus"
	"github.com/nfrund/topobus/internal/server"
	"github.com/nfrund/topobus/internal/toposervice"
)

var (
	serveWatchRoutes bool
	serveNoAdmin     bool
	serveRateLimit   float64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the topology authority",
	Long: `Run the topology authority: it answers client registrations and route
requests, evicts clients that stop heartbeating and broadcasts every registry
change. A read-only admin API is served on TOPOLOGY_ADMIN_ADDR.

Static routes are loaded from TOPOLOGY_ROUTES_FILE when set.

Examples:
  toposervice serve
  toposervice serve --transport redis --watch-routes
  TOPOLOGY_ROUTES_FILE=routes.yaml toposervice serve --no-admin`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	injector := newInjector(ctx, cfg, logger)
	defer shutdownInjector(injector, logger)

	do.Provide(injector, func(i do.Injector) (*toposervice.Authority, error) {
		cfg := do.MustInvoke[*config.Config](i)
		bus, err := do.Invoke[*eventbus.Manager](i)
		if err != nil {
			return nil, err
		}
		return toposervice.NewAuthority(bus, toposervice.AuthorityConfig{
			HeartbeatInterval: cfg.HeartbeatInterval,
			ExpiryMultiplier:  cfg.ClientExpiryMultiplier,
			RoutesFile:        cfg.RoutesFile,
			Fs:                afero.NewOsFs(),
			WatchRoutes:       serveWatchRoutes,
			Logger:            do.MustInvoke[*slog.Logger](i),
		}), nil
	})

	authority, err := do.Invoke[*toposervice.Authority](injector)
	if err != nil {
		return err
	}
	if err := authority.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if !serveNoAdmin {
		admin := server.New(server.Config{
			Addr:      cfg.AdminAddr,
			JWTSecret: cfg.AdminJWTSecret,
			RateLimit: serveRateLimit,
			Logger:    logger,
		}, authority)
		g.Go(func() error { return admin.Start(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	logger.Info("Topology authority running",
		"transport", cfg.Transport,
		"broker", cfg.BrokerAddr(),
		"client_expiry", cfg.ClientExpiry(),
		"admin", !serveNoAdmin)

	err = g.Wait()
	logger.Info("Shutting down topology authority")
	return err
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveWatchRoutes, "watch-routes", false, "Reload the route file when it changes")
	serveCmd.Flags().BoolVar(&serveNoAdmin, "no-admin", false, "Do not start the admin API")
	serveCmd.Flags().Float64Var(&serveRateLimit, "admin-rate-limit", 0, "Admin API requests per second per client IP")
}
