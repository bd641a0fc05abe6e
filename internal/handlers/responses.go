package handlers

import (
	"time"

	"github.com/nfrund/topobus/internal/presence"
	"github.com/nfrund/topobus/internal/topology"
)

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClientResponse is the DTO for one registered client.
type ClientResponse struct {
	Name          string    `json:"name"`
	RegisteredAt  time.Time `json:"registered_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	// IdleSeconds is the time since the last heartbeat.
	IdleSeconds float64 `json:"idle_seconds"`
}

// NewClientResponse creates a ClientResponse from a presence record.
func NewClientResponse(record presence.ClientRecord, now time.Time) ClientResponse {
	return ClientResponse{
		Name:          record.Name,
		RegisteredAt:  record.RegisteredAt,
		LastHeartbeat: record.LastHeartbeat,
		IdleSeconds:   now.Sub(record.LastHeartbeat).Seconds(),
	}
}

// ClientListResponse wraps the client list.
type ClientListResponse struct {
	Clients []ClientResponse `json:"clients"`
	Count   int              `json:"count"`
}

// RouteResponse is the DTO for GET /api/registry/routes/:eventType.
type RouteResponse struct {
	EventType string               `json:"event_type"`
	Route     topology.RoutingInfo `json:"route"`
	Topic     string               `json:"topic"`
	Version   int64                `json:"version"`
}
