package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nfrund/topobus/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_PublishSubscribe(t *testing.T) {
	m := newTestManager(t, newBridge(t))
	ctx := context.Background()

	rec := newRecorder("test.ping")
	_, err := m.Subscribe(rec)
	require.NoError(t, err)

	require.NoError(t, m.Publish(ctx, pingEvent{Seq: 7}))

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	evt, env := rec.last()
	ping, ok := evt.(*pingEvent)
	require.True(t, ok, "got %T", evt)
	assert.Equal(t, 7, ping.Seq)

	require.NotNil(t, env)
	assert.Equal(t, "test.ping", env.EventType)
	assert.Equal(t, "events.test.ping", env.Topic)
	assert.Equal(t, "test-client", env.Sender)
	assert.False(t, env.Timestamp.IsZero())
	assert.JSONEq(t, `{"seq":7}`, string(env.Body))
}

func TestManager_FiltersByEventType(t *testing.T) {
	// Route two event types to one topic so the handler sees both on the wire.
	m := newTestManager(t, newBridge(t), WithRouter(staticRouter{"test.ping": "shared", "test.other": "shared"}))

	rec := newRecorder("test.ping")
	_, err := m.Subscribe(rec)
	require.NoError(t, err)

	require.NoError(t, m.Publish(context.Background(), otherEvent{}))
	require.NoError(t, m.Publish(context.Background(), pingEvent{Seq: 1}))

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestManager_HandlersAreIndependent(t *testing.T) {
	m := newTestManager(t, newBridge(t))

	panicky := HandlerFunc(func(context.Context, Event) Result {
		panic("handler defect")
	}, "test.ping")
	failing := newRecorder("test.ping")
	failing.result = Failed
	healthy := newRecorder("test.ping")

	for _, h := range []Handler{panicky, failing, healthy} {
		_, err := m.Subscribe(h)
		require.NoError(t, err)
	}

	require.NoError(t, m.Publish(context.Background(), pingEvent{Seq: 1}))
	require.NoError(t, m.Publish(context.Background(), pingEvent{Seq: 2}))

	assert.Eventually(t, func() bool {
		return healthy.count() == 2 && failing.count() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestManager_RetryIsBounded(t *testing.T) {
	m := newTestManager(t, newBridge(t), WithRetryLimit(2), WithRetryBackoff(time.Millisecond))

	var calls atomic.Int32
	_, err := m.Subscribe(HandlerFunc(func(context.Context, Event) Result {
		calls.Add(1)
		return Retry
	}, "test.ping"))
	require.NoError(t, err)

	require.NoError(t, m.Publish(context.Background(), pingEvent{}))

	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestManager_RetryBacksOff(t *testing.T) {
	m := newTestManager(t, newBridge(t), WithRetryLimit(2), WithRetryBackoff(20*time.Millisecond))

	var mu sync.Mutex
	var calls []time.Time
	_, err := m.Subscribe(HandlerFunc(func(context.Context, Event) Result {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, time.Now())
		return Retry
	}, "test.ping"))
	require.NoError(t, err)

	require.NoError(t, m.Publish(context.Background(), pingEvent{}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, calls[2].Sub(calls[1]), 40*time.Millisecond)
}

func TestManager_UnsubscribeStopsPendingRetry(t *testing.T) {
	m := newTestManager(t, newBridge(t), WithRetryLimit(5), WithRetryBackoff(time.Hour))

	var calls atomic.Int32
	token, err := m.Subscribe(HandlerFunc(func(context.Context, Event) Result {
		calls.Add(1)
		return Retry
	}, "test.ping"))
	require.NoError(t, err)

	require.NoError(t, m.Publish(context.Background(), pingEvent{}))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Unsubscribe(token))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestManager_Unsubscribe(t *testing.T) {
	m := newTestManager(t, newBridge(t))

	rec := newRecorder("test.ping")
	token, err := m.Subscribe(rec)
	require.NoError(t, err)
	assert.False(t, token.IsZero())

	require.NoError(t, m.Unsubscribe(token))
	assert.ErrorIs(t, m.Unsubscribe(token), ErrAlreadyUnsubscribed)
	assert.ErrorIs(t, m.Unsubscribe(SubscriptionToken{}), ErrUnknownSubscription)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Publish(context.Background(), pingEvent{}))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.count())
}

func TestManager_UnsubscribeForeignToken(t *testing.T) {
	bridge := newBridge(t)
	a := newTestManager(t, bridge)
	b := newTestManager(t, bridge)

	token, err := a.Subscribe(newRecorder("test.ping"))
	require.NoError(t, err)

	assert.ErrorIs(t, b.Unsubscribe(token), ErrUnknownSubscription)
	assert.NoError(t, a.Unsubscribe(token))
}

func TestManager_SubscribeValidation(t *testing.T) {
	m := newTestManager(t, newBridge(t))

	_, err := m.Subscribe(nil)
	assert.ErrorIs(t, err, ErrNilHandler)

	_, err = m.Subscribe(newRecorder())
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestManager_PublishErrors(t *testing.T) {
	m := newTestManager(t, failingTransport{})

	assert.ErrorIs(t, m.Publish(context.Background(), nil), ErrNilEvent)
	var nilPing *pingEvent
	assert.ErrorIs(t, m.Publish(context.Background(), nilPing), ErrNilEvent)

	err := m.Publish(context.Background(), pingEvent{})
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, errBroken)

	_, err = m.Subscribe(newRecorder("test.ping"))
	assert.ErrorIs(t, err, ErrTransport)
}

func TestManager_Routing(t *testing.T) {
	transport := &recordingTransport{}
	m := newTestManager(t, transport, WithDefaultExchange("fallback"))

	assert.Equal(t, "fallback.test.ping", m.TopicFor("test.ping"))

	m.UseRouter(staticRouter{"test.ping": "orders.ping"})
	assert.Equal(t, "orders.ping", m.TopicFor("test.ping"))
	assert.Equal(t, "fallback.test.pong", m.TopicFor("test.pong"))

	require.NoError(t, m.Publish(context.Background(), pingEvent{Seq: 3}))
	msgs := transport.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "orders.ping", msgs[0].Topic)
	assert.Equal(t, "test.ping", msgs[0].Metadata[pubsub.MetadataEventType])

	m.UseRouter(nil)
	assert.Equal(t, "fallback.test.ping", m.TopicFor("test.ping"))
}

func TestManager_Close(t *testing.T) {
	m := newTestManager(t, newBridge(t))

	token, err := m.Subscribe(newRecorder("test.ping"))
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Publish(context.Background(), pingEvent{}), ErrClosed)
	_, err = m.Subscribe(newRecorder("test.ping"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Unsubscribe(token), ErrAlreadyUnsubscribed)
	assert.Zero(t, m.Stats().Subscriptions)
}

func TestResult_String(t *testing.T) {
	assert.Equal(t, "handled", Handled.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "retry", Retry.String())
	assert.Equal(t, "unknown", Result(42).String())
}

type staticRouter map[string]string

func (r staticRouter) TopicFor(eventType string) (string, bool) {
	topic, ok := r[eventType]
	return topic, ok
}
