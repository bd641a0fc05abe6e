package toposervice

import (
	"context"
	"sync"
	"time"

	"github.com/nfrund/topobus/internal/eventbus"
	"github.com/nfrund/topobus/internal/topology"
)

// fakeBus records what the authority publishes and responds.
type fakeBus struct {
	mu        sync.Mutex
	published []eventbus.Event
	responses []eventbus.Event
	handlers  map[eventbus.SubscriptionToken]eventbus.Handler
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[eventbus.SubscriptionToken]eventbus.Handler)}
}

func (b *fakeBus) Publish(_ context.Context, evt eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, evt)
	return nil
}

func (b *fakeBus) Respond(_ context.Context, evt eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses = append(b.responses, evt)
	return nil
}

func (b *fakeBus) Subscribe(h eventbus.Handler) (eventbus.SubscriptionToken, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	token := eventbus.NewSubscriptionToken()
	b.handlers[token] = h
	return token, nil
}

func (b *fakeBus) Unsubscribe(token eventbus.SubscriptionToken) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[token]; !ok {
		return eventbus.ErrUnknownSubscription
	}
	delete(b.handlers, token)
	return nil
}

func (b *fakeBus) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

// deliver hands evt to every subscribed handler that accepts its type.
func (b *fakeBus) deliver(ctx context.Context, evt eventbus.Event) []eventbus.Result {
	b.mu.Lock()
	var targets []eventbus.Handler
	for _, h := range b.handlers {
		for _, typ := range h.HandledEventTypes() {
			if typ == evt.EventType() {
				targets = append(targets, h)
				break
			}
		}
	}
	b.mu.Unlock()

	var results []eventbus.Result
	for _, h := range targets {
		results = append(results, h.HandleEvent(ctx, evt))
	}
	return results
}

// broadcasts returns the published registry updates in order.
func (b *fakeBus) broadcasts() []*topology.Registry {
	b.mu.Lock()
	defer b.mu.Unlock()
	var regs []*topology.Registry
	for _, evt := range b.published {
		if update, ok := evt.(topology.TopologyUpdate); ok {
			regs = append(regs, update.Registry)
		}
	}
	return regs
}

func (b *fakeBus) responded() []eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]eventbus.Event(nil), b.responses...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	routeOrders   = topology.RoutingInfo{Exchange: "orders", RoutingKey: "order.created"}
	routeShipping = topology.RoutingInfo{Exchange: "shipping", RoutingKey: "order.shipped"}
)
