package toposervice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nfrund/topobus/internal/eventbus"
	"github.com/nfrund/topobus/internal/logging"
	"github.com/nfrund/topobus/internal/presence"
	"github.com/nfrund/topobus/internal/topology"
)

// RegistrationHandler maintains the client registry from register, unregister
// and heartbeat events. Registrations are answered with the current registry;
// every change to the set of clients bumps the registry version and is broadcast.
type RegistrationHandler struct {
	bus     Bus
	clients *presence.ClientRegistry
	routes  *RouteTable
	logger  *slog.Logger
	sub     subscription
}

var _ eventbus.Handler = (*RegistrationHandler)(nil)

// NewRegistrationHandler creates a handler; Start subscribes it.
func NewRegistrationHandler(bus Bus, clients *presence.ClientRegistry, routes *RouteTable, logger *slog.Logger) *RegistrationHandler {
	return &RegistrationHandler{
		bus:     bus,
		clients: clients,
		routes:  routes,
		logger:  logging.Component(logger, "registration-handler"),
	}
}

// Start subscribes the handler. Calling it twice has no effect.
func (h *RegistrationHandler) Start() error {
	if err := h.sub.start(h.bus, h); err != nil {
		return fmt.Errorf("start registration handler: %w", err)
	}
	return nil
}

// Stop unsubscribes the handler using the token obtained by Start.
func (h *RegistrationHandler) Stop() error {
	return h.sub.stop(h.bus)
}

// HandledEventTypes implements eventbus.Handler.
func (h *RegistrationHandler) HandledEventTypes() []string {
	return []string{topology.EventRegisterClient, topology.EventUnregisterClient, topology.EventHeartBeat}
}

// HandleEvent implements eventbus.Handler. Nil, malformed or unknown events
// yield Failed without side effects; panics are contained.
func (h *RegistrationHandler) HandleEvent(ctx context.Context, evt eventbus.Event) (result eventbus.Result) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Registration handler panicked", "panic", r)
			result = eventbus.Failed
		}
	}()

	switch e := evt.(type) {
	case *topology.RegisterClient:
		if e == nil {
			return eventbus.Failed
		}
		return h.register(ctx, *e)
	case *topology.UnregisterClient:
		if e == nil {
			return eventbus.Failed
		}
		return h.unregister(ctx, *e)
	case *topology.HeartBeat:
		if e == nil {
			return eventbus.Failed
		}
		return h.heartbeat(*e)
	default:
		h.logger.Warn("Unsupported event", "event", fmt.Sprintf("%T", evt))
		return eventbus.Failed
	}
}

func (h *RegistrationHandler) register(ctx context.Context, msg topology.RegisterClient) eventbus.Result {
	if err := topology.Validate(msg); err != nil {
		h.logger.Warn("Invalid registration", "error", err)
		return eventbus.Failed
	}

	h.clients.Register(msg.ClientName)
	reg := h.routes.Bump()

	if err := h.bus.Respond(ctx, topology.TopologyUpdate{Registry: reg}); err != nil {
		h.logger.Warn("Could not answer registration", "client", msg.ClientName, "error", err)
	}
	broadcast(ctx, h.bus, reg, h.logger)

	h.logger.Info("Client registration handled", "client", msg.ClientName, "known_version", msg.KnownVersion, "version", reg.Version())
	return eventbus.Handled
}

func (h *RegistrationHandler) unregister(ctx context.Context, msg topology.UnregisterClient) eventbus.Result {
	if err := topology.Validate(msg); err != nil {
		h.logger.Warn("Invalid unregistration", "error", err)
		return eventbus.Failed
	}

	if h.clients.Unregister(msg.ClientName) {
		broadcast(ctx, h.bus, h.routes.Bump(), h.logger)
	}
	return eventbus.Handled
}

func (h *RegistrationHandler) heartbeat(msg topology.HeartBeat) eventbus.Result {
	if err := topology.Validate(msg); err != nil {
		h.logger.Warn("Invalid heartbeat", "error", err)
		return eventbus.Failed
	}

	h.clients.Heartbeat(msg.ClientName)
	return eventbus.Handled
}
