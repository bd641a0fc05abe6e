package topology

import (
	"encoding/json"
	"sort"
)

// Registry is an immutable, versioned snapshot of event type and event set
// routes. Updating means building a new Registry.
type Registry struct {
	version        int64
	eventRoutes    map[string]RoutingInfo
	eventSetRoutes map[string][]RoutingInfo
}

// NewRegistry builds a snapshot; the maps are copied.
func NewRegistry(version int64, eventRoutes map[string]RoutingInfo, eventSetRoutes map[string][]RoutingInfo) *Registry {
	return &Registry{
		version:        version,
		eventRoutes:    copyRoutes(eventRoutes),
		eventSetRoutes: copySetRoutes(eventSetRoutes),
	}
}

// EmptyRegistry returns the version 0 registry a client starts with.
func EmptyRegistry() *Registry {
	return NewRegistry(0, nil, nil)
}

// Version returns the registry version.
func (r *Registry) Version() int64 {
	return r.version
}

// HasEventRoute reports whether topic has a route.
func (r *Registry) HasEventRoute(topic string) bool {
	_, ok := r.eventRoutes[topic]
	return ok
}

// GetEventRoute returns the route for topic.
func (r *Registry) GetEventRoute(topic string) (RoutingInfo, bool) {
	route, ok := r.eventRoutes[topic]
	return route, ok
}

// HasEventSetRoutes reports whether the named event set has routes.
func (r *Registry) HasEventSetRoutes(name string) bool {
	_, ok := r.eventSetRoutes[name]
	return ok
}

// GetEventSetRoutes returns a copy of the routes of the named event set.
func (r *Registry) GetEventSetRoutes(name string) ([]RoutingInfo, bool) {
	routes, ok := r.eventSetRoutes[name]
	if !ok {
		return nil, false
	}
	return append([]RoutingInfo(nil), routes...), true
}

// EventRoutes returns a copy of all event routes.
func (r *Registry) EventRoutes() map[string]RoutingInfo {
	return copyRoutes(r.eventRoutes)
}

// EventSetRoutes returns a copy of all event set routes.
func (r *Registry) EventSetRoutes() map[string][]RoutingInfo {
	return copySetRoutes(r.eventSetRoutes)
}

// Topics returns the routed event types in sorted order.
func (r *Registry) Topics() []string {
	topics := make([]string, 0, len(r.eventRoutes))
	for topic := range r.eventRoutes {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

type registryJSON struct {
	Version        int64                    `json:"version"`
	EventRoutes    map[string]RoutingInfo   `json:"event_routes"`
	EventSetRoutes map[string][]RoutingInfo `json:"event_set_routes"`
}

// MarshalJSON implements json.Marshaler.
func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(registryJSON{
		Version:        r.version,
		EventRoutes:    r.eventRoutes,
		EventSetRoutes: r.eventSetRoutes,
	})
}

// UnmarshalJSON implements json.Unmarshaler. It is only meant for decoding a
// freshly allocated Registry off the wire.
func (r *Registry) UnmarshalJSON(data []byte) error {
	var raw registryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = *NewRegistry(raw.Version, raw.EventRoutes, raw.EventSetRoutes)
	return nil
}

func copyRoutes(in map[string]RoutingInfo) map[string]RoutingInfo {
	out := make(map[string]RoutingInfo, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copySetRoutes(in map[string][]RoutingInfo) map[string][]RoutingInfo {
	out := make(map[string][]RoutingInfo, len(in))
	for k, v := range in {
		out[k] = append([]RoutingInfo(nil), v...)
	}
	return out
}
