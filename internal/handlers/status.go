package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/topobus/internal/middleware"
	"github.com/nfrund/topobus/internal/presence"
	"github.com/nfrund/topobus/internal/topology"
)

// StatusSource is the read-only view of the topology authority served by the
// admin API.
type StatusSource interface {
	Clients() []presence.ClientRecord
	Registry() *topology.Registry
}

// StatusHandler serves authority state as JSON.
type StatusHandler struct {
	source StatusSource
	now    func() time.Time
}

// NewStatusHandler creates a handler over source.
func NewStatusHandler(source StatusSource) *StatusHandler {
	return &StatusHandler{source: source, now: presence.Now}
}

// Health reports liveness together with the registry version.
func (h *StatusHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.source.Registry().Version(),
		"clients": len(h.source.Clients()),
	})
}

// ListClients returns the registered clients sorted by name.
func (h *StatusHandler) ListClients(c echo.Context) error {
	var req ListClientsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: "bad_request", Message: "invalid query parameters"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: "validation_failed", Message: err.Error()})
	}

	now := h.now()
	clients := make([]ClientResponse, 0)
	for _, record := range h.source.Clients() {
		if req.Prefix != "" && !strings.HasPrefix(record.Name, req.Prefix) {
			continue
		}
		clients = append(clients, NewClientResponse(record, now))
		if req.Limit > 0 && len(clients) == req.Limit {
			break
		}
	}

	middleware.FromContext(c.Request().Context()).Debug("Listed clients", "count", len(clients))
	return c.JSON(http.StatusOK, ClientListResponse{Clients: clients, Count: len(clients)})
}

// GetClient returns one client by name.
func (h *StatusHandler) GetClient(c echo.Context) error {
	name := c.Param("name")
	for _, record := range h.source.Clients() {
		if record.Name == name {
			return c.JSON(http.StatusOK, NewClientResponse(record, h.now()))
		}
	}
	return c.JSON(http.StatusNotFound, ErrorResponse{Code: "not_found", Message: "client not registered"})
}

// GetRegistry returns the current registry snapshot.
func (h *StatusHandler) GetRegistry(c echo.Context) error {
	return c.JSON(http.StatusOK, h.source.Registry())
}

// GetRoute returns the route of one event type.
func (h *StatusHandler) GetRoute(c echo.Context) error {
	eventType := c.Param("eventType")
	reg := h.source.Registry()
	route, ok := reg.GetEventRoute(eventType)
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Code: "no_route", Message: "no route for event type"})
	}
	return c.JSON(http.StatusOK, RouteResponse{
		EventType: eventType,
		Route:     route,
		Topic:     route.Topic(),
		Version:   reg.Version(),
	})
}
