package toposervice

import (
	"sync"

	"github.com/nfrund/topobus/internal/eventbus"
	"github.com/nfrund/topobus/internal/topology"
)

// RouteTable is the authority's canonical, versioned routing state. Every
// mutation increments the version and yields a new immutable snapshot.
type RouteTable struct {
	mu              sync.Mutex
	version         int64
	eventRoutes     map[string]topology.RoutingInfo
	eventSetRoutes  map[string][]topology.RoutingInfo
	defaultExchange string
	snapshot        *topology.Registry
}

// NewRouteTable creates an empty table at version 0. Unknown event types get
// routed to defaultExchange with the event type as routing key.
func NewRouteTable(defaultExchange string) *RouteTable {
	if defaultExchange == "" {
		defaultExchange = eventbus.DefaultExchange
	}
	t := &RouteTable{
		eventRoutes:     make(map[string]topology.RoutingInfo),
		eventSetRoutes:  make(map[string][]topology.RoutingInfo),
		defaultExchange: defaultExchange,
	}
	t.snapshot = t.buildLocked()
	return t
}

func (t *RouteTable) buildLocked() *topology.Registry {
	return topology.NewRegistry(t.version, t.eventRoutes, t.eventSetRoutes)
}

func (t *RouteTable) commitLocked() *topology.Registry {
	t.version++
	t.snapshot = t.buildLocked()
	return t.snapshot
}

// Snapshot returns the current registry.
func (t *RouteTable) Snapshot() *topology.Registry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot
}

// Version returns the current version.
func (t *RouteTable) Version() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// Bump increments the version without changing routes, for liveness changes.
func (t *RouteTable) Bump() *topology.Registry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commitLocked()
}

// Replace swaps in a new set of routes.
func (t *RouteTable) Replace(eventRoutes map[string]topology.RoutingInfo, eventSetRoutes map[string][]topology.RoutingInfo) *topology.Registry {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.setLocked(eventRoutes, eventSetRoutes)
	return t.commitLocked()
}

func (t *RouteTable) setLocked(eventRoutes map[string]topology.RoutingInfo, eventSetRoutes map[string][]topology.RoutingInfo) {
	t.eventRoutes = make(map[string]topology.RoutingInfo, len(eventRoutes))
	for k, v := range eventRoutes {
		t.eventRoutes[k] = v
	}
	t.eventSetRoutes = make(map[string][]topology.RoutingInfo, len(eventSetRoutes))
	for k, v := range eventSetRoutes {
		t.eventSetRoutes[k] = append([]topology.RoutingInfo(nil), v...)
	}
}

// Seed installs the initial routes without changing the version, so the first
// registration publishes version 1.
func (t *RouteTable) Seed(eventRoutes map[string]topology.RoutingInfo, eventSetRoutes map[string][]topology.RoutingInfo) *topology.Registry {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.setLocked(eventRoutes, eventSetRoutes)
	t.snapshot = t.buildLocked()
	return t.snapshot
}

// Route returns the route of eventType.
func (t *RouteTable) Route(eventType string) (topology.RoutingInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	route, ok := t.eventRoutes[eventType]
	return route, ok
}

// FallbackRoute returns the default route of eventType.
func (t *RouteTable) FallbackRoute(eventType string) topology.RoutingInfo {
	return topology.RoutingInfo{Exchange: t.defaultExchange, RoutingKey: eventType}
}

// AssignFallback returns the route of eventType, adding the default route when
// none exists. The returned registry is non-nil only when the table changed.
func (t *RouteTable) AssignFallback(eventType string) (topology.RoutingInfo, *topology.Registry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if route, ok := t.eventRoutes[eventType]; ok {
		return route, nil
	}
	route := t.FallbackRoute(eventType)
	t.eventRoutes[eventType] = route
	return route, t.commitLocked()
}
