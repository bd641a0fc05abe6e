package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nfrund/topobus/internal/pubsub"
	"github.com/nfrund/topobus/internal/topicmgr"
)

type pingEvent struct {
	Seq int `json:"seq"`
}

func (pingEvent) EventType() string { return "test.ping" }

type pongEvent struct {
	Seq int `json:"seq"`
}

func (pongEvent) EventType() string { return "test.pong" }

type otherEvent struct{}

func (otherEvent) EventType() string { return "test.other" }

func newTestCatalog(t *testing.T) *topicmgr.Manager {
	t.Helper()
	catalog := topicmgr.NewManager()
	catalog.MustRegister(topicmgr.NewTyped[pingEvent](topicmgr.TopicConfig{Name: "test.ping", Description: "ping"}))
	catalog.MustRegister(topicmgr.NewTyped[pongEvent](topicmgr.TopicConfig{Name: "test.pong", Description: "pong"}))
	catalog.MustRegister(topicmgr.NewTyped[otherEvent](topicmgr.TopicConfig{Name: "test.other", Description: "other"}))
	return catalog
}

func newTestManager(t *testing.T, transport pubsub.Transport, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithCatalog(newTestCatalog(t)), WithClientName("test-client")}, opts...)
	m := NewManager(transport, opts...)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func newBridge(t *testing.T) *pubsub.WatermillBridge {
	t.Helper()
	bridge := pubsub.NewWatermillBridge()
	t.Cleanup(func() { _ = bridge.Close() })
	return bridge
}

// recorder is a Handler that records what it receives.
type recorder struct {
	types  []string
	result Result

	mu     sync.Mutex
	events []Event
	envs   []*Envelope
}

func newRecorder(types ...string) *recorder {
	return &recorder{types: types, result: Handled}
}

func (r *recorder) HandledEventTypes() []string { return r.types }

func (r *recorder) HandleEvent(ctx context.Context, evt Event) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	r.envs = append(r.envs, EnvelopeFromContext(ctx))
	return r.result
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) last() (Event, *Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1], r.envs[len(r.envs)-1]
}

// failingTransport fails every operation.
type failingTransport struct{}

var errBroken = errors.New("broker unreachable")

func (failingTransport) Publish(context.Context, pubsub.Message) error { return errBroken }

func (failingTransport) Subscribe(context.Context, string, pubsub.Handler) error { return errBroken }

func (failingTransport) Close() error { return nil }

// recordingTransport records published messages and never delivers them.
type recordingTransport struct {
	mu        sync.Mutex
	published []pubsub.Message
	topics    []string
}

func (rt *recordingTransport) Publish(_ context.Context, msg pubsub.Message) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.published = append(rt.published, msg)
	return nil
}

func (rt *recordingTransport) Subscribe(_ context.Context, topic string, _ pubsub.Handler) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.topics = append(rt.topics, topic)
	return nil
}

func (rt *recordingTransport) Close() error { return nil }

func (rt *recordingTransport) messages() []pubsub.Message {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]pubsub.Message(nil), rt.published...)
}
