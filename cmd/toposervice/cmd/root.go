package cmd

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nfrund/topobus/internal/config"
	"github.com/nfrund/topobus/internal/logging"
)

var (
	envFiles      []string
	logLevelFlag  string
	logFormatFlag string
	transportFlag string
)

var rootCmd = &cobra.Command{
	Use:   "toposervice",
	Short: "Topology-aware event bus tooling",
	Long: `toposervice runs the topology authority of the event bus and provides client
side tooling around it.

Available commands:
  serve     Run the topology authority and its admin API
  client    Register a client and print the routes it receives
  routes    Validate route files
  topics    Inspect the event type catalog

Configuration is read from the environment (EVENT_BUS_*, TOPOLOGY_*, LOG_*),
optionally seeded from .env files.

Use "toposervice [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads .env files and the environment, applying flag overrides.
func loadConfig() (*config.Config, *slog.Logger, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		slog.Debug("No .env file loaded, relying on environment variables", "error", err)
	}

	provider := config.NewEnvProvider()
	if logLevelFlag != "" {
		provider.SetValue(config.KeyLogLevel, logLevelFlag)
	}
	if logFormatFlag != "" {
		provider.SetValue(config.KeyLogFormat, logFormatFlag)
	}
	if transportFlag != "" {
		provider.SetValue(config.KeyTransport, transportFlag)
	}

	cfg, err := config.FromProvider(provider)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, ".env files to load (default ./.env)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&transportFlag, "transport", "", "Transport (memory, redis)")
}
