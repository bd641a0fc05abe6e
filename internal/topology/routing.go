// Package topology holds the routing model shared by clients and the topology
// authority, the protocol messages they exchange, and the client-side agent
// that keeps a local copy of the authority's registry.
package topology

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nfrund/topobus/internal/topicmgr"
)

// ErrNoRoute is returned by RouteFor when the registry has no entry for an event type.
var ErrNoRoute = errors.New("topology: no route")

// RoutingInfo is the destination of an event type: an exchange and the routing
// key bound on it. It is a comparable value.
type RoutingInfo struct {
	Exchange   string `json:"exchange" yaml:"exchange" validate:"required"`
	RoutingKey string `json:"routing_key" yaml:"routing_key" validate:"required"`
}

// Topic returns the transport topic for the route.
func (r RoutingInfo) Topic() string {
	return r.Exchange + "." + r.RoutingKey
}

// IsZero reports whether r is the zero route.
func (r RoutingInfo) IsZero() bool {
	return r == RoutingInfo{}
}

func (r RoutingInfo) String() string {
	return fmt.Sprintf("%s/%s", r.Exchange, r.RoutingKey)
}

// TopologyManager answers routing queries from a local snapshot. Both methods
// are non-blocking; false means "use default routing", never an error.
type TopologyManager interface {
	GetRoutingInfoForEvent(eventType string) (RoutingInfo, bool)
	GetRoutingInfoForNamedEventSet(name string) ([]RoutingInfo, bool)
}

// RouteFor returns the route for eventType or an error wrapping ErrNoRoute.
func RouteFor(tm TopologyManager, eventType string) (RoutingInfo, error) {
	if route, ok := tm.GetRoutingInfoForEvent(eventType); ok {
		return route, nil
	}
	return RoutingInfo{}, fmt.Errorf("%w for %s", ErrNoRoute, eventType)
}

// IsProtocolEvent reports whether eventType belongs to the topology protocol.
func IsProtocolEvent(eventType string) bool {
	return strings.HasPrefix(eventType, topicmgr.FrameworkPrefix)
}

// Router adapts a TopologyManager to the event manager's routing hook.
type Router struct {
	TopologyManager
}

// TopicFor returns the transport topic for eventType when a route is known.
// Protocol event types are never routed so that the authority, which has no
// router, keeps receiving them.
func (r Router) TopicFor(eventType string) (string, bool) {
	if IsProtocolEvent(eventType) {
		return "", false
	}
	route, ok := r.GetRoutingInfoForEvent(eventType)
	if !ok {
		return "", false
	}
	return route.Topic(), true
}
