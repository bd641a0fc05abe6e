// Package toposervice implements the topology authority: the canonical routing
// table, the handlers that answer client registrations and route requests, and
// the liveness sweep that evicts clients which stopped heartbeating.
package toposervice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/nfrund/topobus/internal/logging"
	"github.com/nfrund/topobus/internal/presence"
	"github.com/nfrund/topobus/internal/topology"
)

// AuthorityConfig configures an Authority. Zero values select defaults.
type AuthorityConfig struct {
	// DefaultExchange receives event types without a configured route.
	DefaultExchange string
	// HeartbeatInterval is the interval clients are expected to heartbeat at.
	HeartbeatInterval time.Duration
	// ExpiryMultiplier is how many heartbeat intervals a client may miss.
	ExpiryMultiplier int
	// SweepInterval defaults to HeartbeatInterval.
	SweepInterval time.Duration
	// RoutesFile is an optional YAML route file read through Fs.
	RoutesFile string
	Fs         afero.Fs
	// WatchRoutes reloads RoutesFile when it changes on disk.
	WatchRoutes bool
	// Clock overrides the liveness clock in tests.
	Clock  func() time.Time
	Logger *slog.Logger
}

func (c AuthorityConfig) withDefaults() AuthorityConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = topology.DefaultHeartbeatInterval
	}
	if c.ExpiryMultiplier <= 0 {
		c.ExpiryMultiplier = presence.StaleThresholdMultiplier
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.HeartbeatInterval
	}
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}
	return c
}

// Authority owns the canonical registry and the liveness state of clients.
type Authority struct {
	cfg    AuthorityConfig
	bus    Bus
	logger *slog.Logger

	clients      *presence.ClientRegistry
	routes       *RouteTable
	registration *RegistrationHandler
	routeRequest *RouteRequestHandler

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	sweeper *topology.Scheduler
	watcher *FileWatcher
}

// NewAuthority wires an authority onto bus. Nothing is subscribed until Start.
func NewAuthority(bus Bus, cfg AuthorityConfig) *Authority {
	cfg = cfg.withDefaults()
	logger := logging.Component(cfg.Logger, "topology-authority")

	opts := []presence.Option{
		presence.WithStaleThreshold(cfg.HeartbeatInterval * time.Duration(cfg.ExpiryMultiplier)),
		presence.WithLogger(cfg.Logger),
	}
	if cfg.Clock != nil {
		opts = append(opts, presence.WithClock(cfg.Clock))
	}
	clients := presence.NewClientRegistry(opts...)
	routes := NewRouteTable(cfg.DefaultExchange)

	return &Authority{
		cfg:          cfg,
		bus:          bus,
		logger:       logger,
		clients:      clients,
		routes:       routes,
		registration: NewRegistrationHandler(bus, clients, routes, cfg.Logger),
		routeRequest: NewRouteRequestHandler(bus, routes, cfg.Logger),
	}
}

// Start loads the route file, subscribes the protocol handlers and starts the
// liveness sweep and the optional route file watcher.
func (a *Authority) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return nil
	}

	if a.cfg.RoutesFile != "" {
		rf, err := LoadRouteFile(a.cfg.Fs, a.cfg.RoutesFile)
		if err != nil {
			return err
		}
		a.routes.Seed(rf.EventRoutes, rf.EventSetRoutes)
		a.logger.Info("Loaded route file", "path", a.cfg.RoutesFile,
			"event_routes", len(rf.EventRoutes), "event_set_routes", len(rf.EventSetRoutes))
	}

	if err := a.registration.Start(); err != nil {
		return err
	}
	if err := a.routeRequest.Start(); err != nil {
		_ = a.registration.Stop()
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	if a.cfg.WatchRoutes && a.cfg.RoutesFile != "" {
		a.watcher = NewFileWatcher(a.cfg.RoutesFile, 0, func() { a.Reload(runCtx) }, a.cfg.Logger)
		if err := a.watcher.Start(runCtx); err != nil {
			// The authority still serves the routes it loaded.
			a.logger.Warn("Route file hot reload disabled", "error", err)
			a.watcher = nil
		}
	}

	a.sweeper = topology.NewScheduler("liveness-sweep", a.cfg.SweepInterval, func(ctx context.Context) { a.Sweep(ctx) }, a.logger)
	a.sweeper.Start()
	a.started = true

	a.logger.Info("Topology authority started",
		"sweep_interval", a.cfg.SweepInterval,
		"stale_threshold", a.clients.StaleThreshold(),
		"version", a.routes.Version())
	return nil
}

// Sweep evicts stale clients and broadcasts a new registry version when any
// were evicted. It returns the evicted names.
func (a *Authority) Sweep(ctx context.Context) []string {
	evicted := a.clients.Sweep()
	if len(evicted) == 0 {
		return nil
	}
	broadcast(ctx, a.bus, a.routes.Bump(), a.logger)
	return evicted
}

// Reload rereads the route file, replaces the routes and broadcasts the new
// registry. An invalid file leaves the current routes in place.
func (a *Authority) Reload(ctx context.Context) error {
	if a.cfg.RoutesFile == "" {
		return nil
	}
	rf, err := LoadRouteFile(a.cfg.Fs, a.cfg.RoutesFile)
	if err != nil {
		a.logger.Error("Route file reload failed; keeping current routes", "error", err)
		return err
	}
	reg := a.routes.Replace(rf.EventRoutes, rf.EventSetRoutes)
	a.logger.Info("Reloaded route file", "path", a.cfg.RoutesFile, "version", reg.Version())
	broadcast(ctx, a.bus, reg, a.logger)
	return nil
}

// Stop halts the sweep and the watcher and unsubscribes the handlers. It
// returns an error when the sweep did not finish within its grace period.
func (a *Authority) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}
	a.started = false

	var errs []error
	if a.watcher != nil {
		a.watcher.Stop()
		a.watcher = nil
	}
	if a.sweeper != nil {
		if !a.sweeper.Stop() {
			errs = append(errs, fmt.Errorf("liveness sweep did not stop within its grace period"))
		}
		a.sweeper = nil
	}
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.routeRequest.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := a.registration.Stop(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("Topology authority stopped")
	return errors.Join(errs...)
}

// Shutdown implements do.ShutdownerWithError.
func (a *Authority) Shutdown() error {
	return a.Stop()
}

// Clients returns the registered clients sorted by name.
func (a *Authority) Clients() []presence.ClientRecord {
	return a.clients.List()
}

// Registry returns the current registry snapshot.
func (a *Authority) Registry() *topology.Registry {
	return a.routes.Snapshot()
}
