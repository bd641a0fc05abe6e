package toposervice

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nfrund/topobus/internal/eventbus"
	"github.com/nfrund/topobus/internal/topology"
)

// Bus is the part of the event manager the authority uses.
type Bus interface {
	Publish(ctx context.Context, evt eventbus.Event) error
	Subscribe(h eventbus.Handler) (eventbus.SubscriptionToken, error)
	Unsubscribe(token eventbus.SubscriptionToken) error
	Respond(ctx context.Context, evt eventbus.Event) error
}

// broadcast publishes reg to every subscribed client.
func broadcast(ctx context.Context, bus Bus, reg *topology.Registry, logger *slog.Logger) {
	if err := bus.Publish(ctx, topology.TopologyUpdate{Registry: reg}); err != nil {
		logger.Error("Failed to broadcast topology update", "version", reg.Version(), "error", err)
		return
	}
	logger.Debug("Broadcast topology update", "version", reg.Version())
}

// subscription keeps the token of a handler between Start and Stop.
type subscription struct {
	mu    sync.Mutex
	token eventbus.SubscriptionToken
}

func (s *subscription) start(bus Bus, h eventbus.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.token.IsZero() {
		return nil
	}
	token, err := bus.Subscribe(h)
	if err != nil {
		return err
	}
	s.token = token
	return nil
}

func (s *subscription) stop(bus Bus) error {
	s.mu.Lock()
	token := s.token
	s.token = eventbus.SubscriptionToken{}
	s.mu.Unlock()

	if token.IsZero() {
		return nil
	}
	return bus.Unsubscribe(token)
}

func (s *subscription) current() eventbus.SubscriptionToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}
