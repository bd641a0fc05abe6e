package toposervice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/nfrund/topobus/internal/topicmgr"
	"github.com/nfrund/topobus/internal/topology"
)

// ErrProtocolRoute rejects routes for the topology protocol's own event types,
// which always travel on the default exchange.
var ErrProtocolRoute = errors.New("protocol event types cannot be routed")

// RouteFile is the on-disk form of the authority's static routes.
//
//	event_routes:
//	  order.created: {exchange: orders, routing_key: order.created}
//	event_set_routes:
//	  order-lifecycle:
//	    - {exchange: orders, routing_key: order.created}
type RouteFile struct {
	EventRoutes    map[string]topology.RoutingInfo   `yaml:"event_routes"`
	EventSetRoutes map[string][]topology.RoutingInfo `yaml:"event_set_routes"`
}

// LoadRouteFile reads and validates a route file from fs.
func LoadRouteFile(fs afero.Fs, path string) (*RouteFile, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read route file %s: %w", path, err)
	}
	return ParseRouteFile(data)
}

// ParseRouteFile decodes and validates route file contents.
func ParseRouteFile(data []byte) (*RouteFile, error) {
	var rf RouteFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse route file: %w", err)
	}
	if err := rf.Validate(); err != nil {
		return nil, err
	}
	if rf.EventRoutes == nil {
		rf.EventRoutes = map[string]topology.RoutingInfo{}
	}
	if rf.EventSetRoutes == nil {
		rf.EventSetRoutes = map[string][]topology.RoutingInfo{}
	}
	return &rf, nil
}

// Validate reports every invalid entry.
func (rf *RouteFile) Validate() error {
	names := topicmgr.NewValidator()
	var errs []error

	for eventType, route := range rf.EventRoutes {
		if err := names.ValidateName(eventType); err != nil {
			errs = append(errs, fmt.Errorf("event route %q: %w", eventType, err))
			continue
		}
		if topology.IsProtocolEvent(eventType) {
			errs = append(errs, fmt.Errorf("event route %q: %w", eventType, ErrProtocolRoute))
			continue
		}
		if err := topology.Validate(route); err != nil {
			errs = append(errs, fmt.Errorf("event route %q: %w", eventType, err))
		}
	}
	for name, routes := range rf.EventSetRoutes {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("event set route with empty name"))
			continue
		}
		if len(routes) == 0 {
			errs = append(errs, fmt.Errorf("event set %q has no routes", name))
		}
		for i, route := range routes {
			if err := topology.Validate(route); err != nil {
				errs = append(errs, fmt.Errorf("event set %q route %d: %w", name, i, err))
			}
		}
	}
	return errors.Join(errs...)
}
