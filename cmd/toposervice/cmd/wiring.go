package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/do/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/nfrund/topobus/internal/config"
	"github.com/nfrund/topobus/internal/eventbus"
	"github.com/nfrund/topobus/internal/pubsub"
)

// tracing owns the tracer provider for the lifetime of the injector.
type tracing struct {
	cfg      pubsub.TracingConfig
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

func (t *tracing) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}

// transport adapts a pubsub.Transport to the injector's shutdown hook.
type transport struct {
	pubsub.Transport
}

func (t *transport) Shutdown() error {
	return t.Close()
}

// newInjector registers the infrastructure shared by every command: tracing,
// the transport and the event manager. Services are built on first use and
// shut down in reverse dependency order.
func newInjector(ctx context.Context, cfg *config.Config, logger *slog.Logger) *do.RootScope {
	injector := do.New()
	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, logger)

	do.Provide(injector, func(i do.Injector) (*tracing, error) {
		cfg := do.MustInvoke[*config.Config](i)
		tcfg := pubsub.TracingConfigFrom(config.NewEnvProvider(), cfg.ClientName)
		tracer, shutdown, err := pubsub.SetupOTel(ctx, tcfg)
		if err != nil {
			return nil, fmt.Errorf("setup tracing: %w", err)
		}
		return &tracing{cfg: tcfg, tracer: tracer, shutdown: shutdown}, nil
	})

	do.Provide(injector, func(i do.Injector) (*transport, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i)
		tr, err := do.Invoke[*tracing](i)
		if err != nil {
			return nil, err
		}

		opts := []pubsub.BridgeOption{pubsub.WithLogger(logger)}
		if tr.cfg.Enabled {
			opts = append(opts, pubsub.WithTracer(tr.tracer))
		}

		switch cfg.Transport {
		case "redis":
			bridge, err := pubsub.NewRedisBridge(ctx, pubsub.RedisConfig{
				Addr:          cfg.BrokerAddr(),
				Username:      cfg.Username,
				Password:      cfg.Password,
				ChannelPrefix: cfg.VirtualHost,
				RetryTimeout:  cfg.ConnectionRetryTimeout,
			}, opts...)
			if err != nil {
				return nil, fmt.Errorf("connect to broker %s: %w", cfg.BrokerAddr(), err)
			}
			return &transport{bridge}, nil
		default:
			logger.Info("Using in-process transport; only components of this process can communicate")
			return &transport{pubsub.NewWatermillBridge(opts...)}, nil
		}
	})

	do.Provide(injector, func(i do.Injector) (*eventbus.Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i)
		tr, err := do.Invoke[*transport](i)
		if err != nil {
			return nil, err
		}
		return eventbus.NewManager(tr,
			eventbus.WithLogger(logger),
			eventbus.WithClientName(cfg.ClientName)), nil
	})

	return injector
}

// shutdownInjector stops every service the injector built.
func shutdownInjector(injector *do.RootScope, logger *slog.Logger) {
	if report := injector.Shutdown(); report != nil && !report.Succeed {
		logger.Error("Shutdown finished with errors", "error", report.Error())
	}
}
