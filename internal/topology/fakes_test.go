package topology

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nfrund/topobus/internal/eventbus"
)

// fakeBus records agent traffic and answers requests through respond.
type fakeBus struct {
	mu         sync.Mutex
	calls      []string
	published  []eventbus.Event
	handlers   map[eventbus.SubscriptionToken]eventbus.Handler
	publishErr error
	respond    func(ctx context.Context, evt eventbus.Event, timeout time.Duration) (eventbus.Event, error)
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[eventbus.SubscriptionToken]eventbus.Handler)}
}

func (b *fakeBus) record(call string) {
	b.calls = append(b.calls, call)
}

func (b *fakeBus) Publish(_ context.Context, evt eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("publish:" + evt.EventType())
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, evt)
	return nil
}

func (b *fakeBus) Subscribe(h eventbus.Handler) (eventbus.SubscriptionToken, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("subscribe")
	token := eventbus.NewSubscriptionToken()
	b.handlers[token] = h
	return token, nil
}

func (b *fakeBus) Unsubscribe(token eventbus.SubscriptionToken) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("unsubscribe")
	if _, ok := b.handlers[token]; !ok {
		return eventbus.ErrUnknownSubscription
	}
	delete(b.handlers, token)
	return nil
}

func (b *fakeBus) RequestResponse(ctx context.Context, evt eventbus.Event, timeout time.Duration, _ string) (eventbus.Event, error) {
	b.mu.Lock()
	b.record("request:" + evt.EventType())
	respond := b.respond
	b.mu.Unlock()

	if respond == nil {
		return nil, errors.New("no responder")
	}
	return respond(ctx, evt, timeout)
}

func (b *fakeBus) setPublishErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

func (b *fakeBus) callLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *fakeBus) count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, evt := range b.published {
		if evt.EventType() == eventType {
			n++
		}
	}
	return n
}

func (b *fakeBus) subscribers() []eventbus.Handler {
	b.mu.Lock()
	defer b.mu.Unlock()
	hs := make([]eventbus.Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	return hs
}

// deliver hands evt to every subscribed handler, as a broadcast would.
func (b *fakeBus) deliver(evt eventbus.Event) {
	for _, h := range b.subscribers() {
		h.HandleEvent(context.Background(), evt)
	}
}
