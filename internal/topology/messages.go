package topology

import (
	"github.com/go-playground/validator/v10"
	"github.com/nfrund/topobus/internal/topicmgr"
)

// Event type names of the topology protocol.
const (
	EventRegisterClient       = "topology.client.register"
	EventUnregisterClient     = "topology.client.unregister"
	EventHeartBeat            = "topology.client.heartbeat"
	EventTopologyUpdate       = "topology.update"
	EventGetEventTypeRoute    = "topology.route.get"
	EventEventTypeRoutingInfo = "topology.route.info"
)

// RegisterClient announces a client to the authority. It is sent as a request;
// the reply is a TopologyUpdate.
type RegisterClient struct {
	ClientName   string `json:"client_name" validate:"required,max=215"`
	KnownVersion int64  `json:"known_version" validate:"gte=0"`
}

func (RegisterClient) EventType() string { return EventRegisterClient }

// UnregisterClient removes a client; fire-and-forget.
type UnregisterClient struct {
	ClientName string `json:"client_name" validate:"required,max=215"`
}

func (UnregisterClient) EventType() string { return EventUnregisterClient }

// HeartBeat refreshes a client's liveness; fire-and-forget.
type HeartBeat struct {
	ClientName string `json:"client_name" validate:"required,max=215"`
}

func (HeartBeat) EventType() string { return EventHeartBeat }

// TopologyUpdate carries a full registry snapshot, as a registration reply or a broadcast.
type TopologyUpdate struct {
	Registry *Registry `json:"registry" validate:"required"`
}

func (TopologyUpdate) EventType() string { return EventTopologyUpdate }

// GetEventTypeRoute asks the authority for the route of one event type.
type GetEventTypeRoute struct {
	EventTypeName string `json:"event_type_name" validate:"required"`
}

func (GetEventTypeRoute) EventType() string { return EventGetEventTypeRoute }

// EventTypeRoutingInfo answers GetEventTypeRoute.
type EventTypeRoutingInfo struct {
	EventTypeName string      `json:"event_type_name" validate:"required"`
	RouteInfo     RoutingInfo `json:"route_info"`
}

func (EventTypeRoutingInfo) EventType() string { return EventEventTypeRoutingInfo }

var validate = validator.New()

// Validate checks a protocol message against its field constraints.
func Validate(msg any) error {
	return validate.Struct(msg)
}

func protocolTopics() []topicmgr.Topic {
	return []topicmgr.Topic{
		topicmgr.NewTyped[RegisterClient](topicmgr.TopicConfig{
			Name:        EventRegisterClient,
			Description: "Client registration request; answered with topology.update",
			Example:     `{"client_name":"billing","known_version":0}`,
		}),
		topicmgr.NewTyped[UnregisterClient](topicmgr.TopicConfig{
			Name:        EventUnregisterClient,
			Description: "Client shutdown notice",
			Example:     `{"client_name":"billing"}`,
		}),
		topicmgr.NewTyped[HeartBeat](topicmgr.TopicConfig{
			Name:        EventHeartBeat,
			Description: "Periodic client liveness signal",
			Example:     `{"client_name":"billing"}`,
		}),
		topicmgr.NewTyped[TopologyUpdate](topicmgr.TopicConfig{
			Name:        EventTopologyUpdate,
			Description: "Full routing registry snapshot",
			Example:     `{"registry":{"version":1,"event_routes":{"order.created":{"exchange":"orders","routing_key":"order.created"}},"event_set_routes":{}}}`,
		}),
		topicmgr.NewTyped[GetEventTypeRoute](topicmgr.TopicConfig{
			Name:        EventGetEventTypeRoute,
			Description: "Route lookup request; answered with topology.route.info",
			Example:     `{"event_type_name":"order.created"}`,
		}),
		topicmgr.NewTyped[EventTypeRoutingInfo](topicmgr.TopicConfig{
			Name:        EventEventTypeRoutingInfo,
			Description: "Route of one event type",
			Example:     `{"event_type_name":"order.created","route_info":{"exchange":"orders","routing_key":"order.created"}}`,
		}),
	}
}

// RegisterProtocol adds the protocol event types to catalog.
func RegisterProtocol(catalog *topicmgr.Manager) error {
	for _, topic := range protocolTopics() {
		if err := catalog.Register(topic); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	if err := RegisterProtocol(topicmgr.Default()); err != nil {
		panic(err)
	}
}
