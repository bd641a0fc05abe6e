package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nfrund/topobus/internal/eventbus"
	"github.com/nfrund/topobus/internal/logging"
)

const (
	DefaultHeartbeatInterval   = 30 * time.Second
	DefaultRegistrationTimeout = 5 * time.Second

	unregisterTimeout = 2 * time.Second
)

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("topology: agent already started")
	// ErrNotStarted is returned by operations that need a bus before Start.
	ErrNotStarted = errors.New("topology: agent not started")
)

// Bus is the part of the event manager the agent uses.
type Bus interface {
	Publish(ctx context.Context, evt eventbus.Event) error
	Subscribe(h eventbus.Handler) (eventbus.SubscriptionToken, error)
	Unsubscribe(token eventbus.SubscriptionToken) error
	RequestResponse(ctx context.Context, evt eventbus.Event, timeout time.Duration, responseType string) (eventbus.Event, error)
}

// State is the agent's lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateRegistering
	StateActive
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRegistering:
		return "registering"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithHeartbeatInterval sets the heartbeat period.
func WithHeartbeatInterval(d time.Duration) AgentOption {
	return func(a *Agent) {
		a.heartbeatInterval = d
	}
}

// WithRegistrationTimeout bounds the registration request.
func WithRegistrationTimeout(d time.Duration) AgentOption {
	return func(a *Agent) {
		a.registrationTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) AgentOption {
	return func(a *Agent) {
		a.logger = logger
	}
}

// WithLastWriteWins makes every update replace the cached registry regardless
// of its version.
func WithLastWriteWins() AgentOption {
	return func(a *Agent) {
		a.lastWriteWins = true
	}
}

// WithStopGrace bounds how long Close waits for an in-flight heartbeat.
func WithStopGrace(d time.Duration) AgentOption {
	return func(a *Agent) {
		a.stopGrace = d
	}
}

// Agent is the client side of the topology protocol (the global topology
// service manager). It registers with the authority, keeps the routing registry
// it receives, heartbeats while active and answers routing queries locally.
//
// If registration fails the agent stays Degraded until the process restarts;
// routing queries then report no route.
type Agent struct {
	clientName          string
	heartbeatInterval   time.Duration
	registrationTimeout time.Duration
	stopGrace           time.Duration
	lastWriteWins       bool
	logger              *slog.Logger

	registry atomic.Pointer[Registry]
	state    atomic.Int32

	mu        sync.Mutex
	bus       Bus
	token     eventbus.SubscriptionToken
	heartbeat *Scheduler
}

var _ TopologyManager = (*Agent)(nil)

// NewAgent creates an agent for clientName with an empty registry.
func NewAgent(clientName string, opts ...AgentOption) *Agent {
	a := &Agent{
		clientName:          clientName,
		heartbeatInterval:   DefaultHeartbeatInterval,
		registrationTimeout: DefaultRegistrationTimeout,
		stopGrace:           DefaultStopGrace,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.Component(a.logger, "topology-agent").With("client", clientName)
	a.registry.Store(EmptyRegistry())
	return a
}

// ClientName returns the name the agent registers under.
func (a *Agent) ClientName() string {
	return a.clientName
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	return State(a.state.Load())
}

// Registry returns the cached registry snapshot.
func (a *Agent) Registry() *Registry {
	return a.registry.Load()
}

// Start subscribes to topology updates, registers with the authority and, on
// success, starts heartbeating. Authority failures leave the agent Degraded and
// are not returned; the only errors are misuse (a second Start or a nil bus).
func (a *Agent) Start(ctx context.Context, bus Bus) error {
	if bus == nil {
		return fmt.Errorf("topology: start: nil bus")
	}
	if !a.state.CompareAndSwap(int32(StateUninitialized), int32(StateRegistering)) {
		return ErrAlreadyStarted
	}

	a.mu.Lock()
	a.bus = bus
	a.mu.Unlock()

	// Subscribe first so a registry broadcast racing the reply is not lost.
	token, err := bus.Subscribe(&updateHandler{agent: a})
	if err != nil {
		a.degrade("subscribe to topology updates failed", err)
		return nil
	}
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
	if a.State() == StateClosed {
		_ = bus.Unsubscribe(token)
		return nil
	}

	request := RegisterClient{ClientName: a.clientName, KnownVersion: a.Registry().Version()}
	resp, err := bus.RequestResponse(ctx, request, a.registrationTimeout, EventTopologyUpdate)
	if err != nil {
		a.degrade("registration failed", err)
		return nil
	}

	update, ok := resp.(*TopologyUpdate)
	if !ok || update.Registry == nil {
		a.degrade("registration failed", fmt.Errorf("%w: %T", eventbus.ErrUnexpectedResponse, resp))
		return nil
	}
	a.apply(update.Registry, "registration")

	a.mu.Lock()
	defer a.mu.Unlock()
	// Close may have run while the request was in flight.
	if !a.state.CompareAndSwap(int32(StateRegistering), int32(StateActive)) {
		return nil
	}
	a.heartbeat = NewScheduler("heartbeat", a.heartbeatInterval, a.sendHeartbeat, a.logger).WithGrace(a.stopGrace)
	a.heartbeat.Start()

	a.logger.Info("Registered with topology authority", "version", a.Registry().Version(), "heartbeat_interval", a.heartbeatInterval)
	return nil
}

func (a *Agent) degrade(msg string, err error) {
	if !a.state.CompareAndSwap(int32(StateRegistering), int32(StateDegraded)) {
		return
	}
	attrs := []any{"error", err, "timeout", a.registrationTimeout}
	switch {
	case errors.Is(err, eventbus.ErrTimeout):
		attrs = append(attrs, "reason", "timeout")
	case errors.Is(err, eventbus.ErrInterrupted):
		attrs = append(attrs, "reason", "interrupted")
	case errors.Is(err, eventbus.ErrTransport):
		attrs = append(attrs, "reason", "transport")
	}
	a.logger.Warn("Topology agent degraded: "+msg+"; using default routing", attrs...)
}

func (a *Agent) sendHeartbeat(ctx context.Context) {
	a.mu.Lock()
	bus := a.bus
	a.mu.Unlock()

	if err := bus.Publish(ctx, HeartBeat{ClientName: a.clientName}); err != nil {
		a.logger.Warn("Heartbeat publish failed", "error", err)
		return
	}
	a.logger.Debug("Heartbeat sent")
}

// apply swaps in reg unless it is not newer than the cached registry. Returns
// whether reg was accepted.
func (a *Agent) apply(reg *Registry, source string) bool {
	for {
		current := a.registry.Load()
		if !a.lastWriteWins && reg.Version() <= current.Version() {
			a.logger.Debug("Discarding stale topology registry",
				"source", source, "version", reg.Version(), "cached_version", current.Version())
			return false
		}
		if a.registry.CompareAndSwap(current, reg) {
			a.logger.Info("Topology registry updated",
				"source", source, "version", reg.Version(), "previous_version", current.Version(), "routes", len(reg.eventRoutes))
			return true
		}
	}
}

// GetRoutingInfoForEvent returns the cached route of eventType.
func (a *Agent) GetRoutingInfoForEvent(eventType string) (RoutingInfo, bool) {
	return a.registry.Load().GetEventRoute(eventType)
}

// GetRoutingInfoForNamedEventSet returns the cached routes of an event set.
func (a *Agent) GetRoutingInfoForNamedEventSet(name string) ([]RoutingInfo, bool) {
	return a.registry.Load().GetEventSetRoutes(name)
}

// TopicFor implements eventbus.Router from the cached registry.
func (a *Agent) TopicFor(eventType string) (string, bool) {
	return Router{a}.TopicFor(eventType)
}

// RequestRoute asks the authority for the route of eventType. The authority
// assigns a default route to unknown types and broadcasts the new registry, so
// the local cache catches up shortly after.
func (a *Agent) RequestRoute(ctx context.Context, eventType string) (RoutingInfo, error) {
	a.mu.Lock()
	bus := a.bus
	a.mu.Unlock()
	if bus == nil {
		return RoutingInfo{}, ErrNotStarted
	}

	resp, err := bus.RequestResponse(ctx, GetEventTypeRoute{EventTypeName: eventType}, a.registrationTimeout, EventEventTypeRoutingInfo)
	if err != nil {
		return RoutingInfo{}, err
	}

	info, ok := resp.(*EventTypeRoutingInfo)
	if !ok {
		return RoutingInfo{}, fmt.Errorf("%w: %T", eventbus.ErrUnexpectedResponse, resp)
	}
	return info.RouteInfo, nil
}

// Close stops heartbeating, unsubscribes from updates and announces the client's
// departure. Heartbeats stop before the unregister is sent so a late heartbeat
// cannot resurrect the registration. Close is idempotent.
func (a *Agent) Close() error {
	previous := State(a.state.Swap(int32(StateClosed)))
	if previous == StateClosed {
		return nil
	}

	a.mu.Lock()
	bus, token, heartbeat := a.bus, a.token, a.heartbeat
	a.heartbeat = nil
	a.mu.Unlock()

	if heartbeat != nil {
		heartbeat.Stop()
	}
	if bus == nil {
		return nil
	}

	var errs []error
	if !token.IsZero() {
		if err := bus.Unsubscribe(token); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe topology updates: %w", err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), unregisterTimeout)
	defer cancel()
	if err := bus.Publish(ctx, UnregisterClient{ClientName: a.clientName}); err != nil {
		errs = append(errs, fmt.Errorf("publish unregister: %w", err))
	}

	a.logger.Info("Topology agent closed", "previous_state", previous)
	return errors.Join(errs...)
}

// updateHandler applies TopologyUpdate broadcasts to the agent.
type updateHandler struct {
	agent *Agent
}

func (h *updateHandler) HandledEventTypes() []string {
	return []string{EventTopologyUpdate}
}

func (h *updateHandler) HandleEvent(_ context.Context, evt eventbus.Event) eventbus.Result {
	update, ok := evt.(*TopologyUpdate)
	if !ok || update == nil || update.Registry == nil {
		h.agent.logger.Warn("Ignoring malformed topology update", "event", fmt.Sprintf("%T", evt))
		return eventbus.Failed
	}
	h.agent.apply(update.Registry, "broadcast")
	return eventbus.Handled
}
