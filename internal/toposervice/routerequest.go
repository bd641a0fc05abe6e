package toposervice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nfrund/topobus/internal/eventbus"
	"github.com/nfrund/topobus/internal/logging"
	"github.com/nfrund/topobus/internal/topology"
)

// RouteRequestHandler answers GetEventTypeRoute. Unknown event types are given
// the default route, which is added to the table and broadcast.
type RouteRequestHandler struct {
	bus    Bus
	routes *RouteTable
	logger *slog.Logger
	sub    subscription
}

var _ eventbus.Handler = (*RouteRequestHandler)(nil)

// NewRouteRequestHandler creates a handler; Start subscribes it.
func NewRouteRequestHandler(bus Bus, routes *RouteTable, logger *slog.Logger) *RouteRequestHandler {
	return &RouteRequestHandler{
		bus:    bus,
		routes: routes,
		logger: logging.Component(logger, "route-request-handler"),
	}
}

// Start subscribes the handler.
func (h *RouteRequestHandler) Start() error {
	if err := h.sub.start(h.bus, h); err != nil {
		return fmt.Errorf("start route request handler: %w", err)
	}
	return nil
}

// Stop unsubscribes the handler.
func (h *RouteRequestHandler) Stop() error {
	return h.sub.stop(h.bus)
}

// HandledEventTypes implements eventbus.Handler.
func (h *RouteRequestHandler) HandledEventTypes() []string {
	return []string{topology.EventGetEventTypeRoute}
}

// HandleEvent implements eventbus.Handler.
func (h *RouteRequestHandler) HandleEvent(ctx context.Context, evt eventbus.Event) (result eventbus.Result) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Route request handler panicked", "panic", r)
			result = eventbus.Failed
		}
	}()

	req, ok := evt.(*topology.GetEventTypeRoute)
	if !ok || req == nil {
		return eventbus.Failed
	}
	if err := topology.Validate(req); err != nil {
		h.logger.Warn("Invalid route request", "error", err)
		return eventbus.Failed
	}

	route, reg := h.routes.AssignFallback(req.EventTypeName)

	reply := topology.EventTypeRoutingInfo{EventTypeName: req.EventTypeName, RouteInfo: route}
	if err := h.bus.Respond(ctx, reply); err != nil {
		h.logger.Warn("Could not answer route request", "event_type", req.EventTypeName, "error", err)
	}
	if reg != nil {
		h.logger.Info("Assigned default route", "event_type", req.EventTypeName, "route", route, "version", reg.Version())
		broadcast(ctx, h.bus, reg, h.logger)
	}
	return eventbus.Handled
}
