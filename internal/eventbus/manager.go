package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/topobus/internal/logging"
	"github.com/nfrund/topobus/internal/pubsub"
	"github.com/nfrund/topobus/internal/topicmgr"
)

const (
	// DefaultExchange prefixes the transport topic of events without a known route.
	DefaultExchange = "events"

	replyTopicPrefix    = "_reply"
	defaultRetryLimit   = 3
	defaultRetryBackoff = 50 * time.Millisecond
)

// Router maps an event type to a transport topic. It reports false when it has
// no route, in which case the manager falls back to DefaultExchange.
type Router interface {
	TopicFor(eventType string) (topic string, ok bool)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithCatalog sets the event type catalog used for decoding. Defaults to topicmgr.Default().
func WithCatalog(catalog *topicmgr.Manager) Option {
	return func(m *Manager) {
		m.catalog = catalog
	}
}

// WithClientName sets the name stamped on outgoing events as sender.
func WithClientName(name string) Option {
	return func(m *Manager) {
		m.clientName = name
	}
}

// WithDefaultExchange overrides DefaultExchange.
func WithDefaultExchange(exchange string) Option {
	return func(m *Manager) {
		m.exchange = exchange
	}
}

// WithRetryLimit bounds how many times a handler returning Retry is re-invoked.
func WithRetryLimit(n int) Option {
	return func(m *Manager) {
		m.retryLimit = n
	}
}

// WithRetryBackoff sets the base delay between retries. Attempt n waits n times
// the base delay; zero retries immediately.
func WithRetryBackoff(d time.Duration) Option {
	return func(m *Manager) {
		m.retryBackoff = d
	}
}

// WithRouter sets the initial router.
func WithRouter(r Router) Option {
	return func(m *Manager) {
		m.UseRouter(r)
	}
}

type subscription struct {
	token   SubscriptionToken
	handler Handler
	types   map[string]struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

type replyResult struct {
	evt Event
	err error
}

type pendingRequest struct {
	responseType string
	reply        chan replyResult
}

// Stats is a point-in-time view of a manager.
type Stats struct {
	Subscriptions   int    `json:"subscriptions"`
	PendingRequests int    `json:"pending_requests"`
	ReplyTopic      string `json:"reply_topic"`
}

// Manager is the transport-agnostic pub/sub facade: publish, subscribe and
// correlated request/response over a pubsub.Transport. The transport is not
// owned by the manager and is not closed by Close.
type Manager struct {
	transport    pubsub.Transport
	catalog      *topicmgr.Manager
	logger       *slog.Logger
	clientName   string
	exchange     string
	retryLimit   int
	retryBackoff time.Duration
	router       atomic.Pointer[Router]

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	subs     map[SubscriptionToken]*subscription
	released map[SubscriptionToken]struct{}
	pending  map[string]*pendingRequest
	closed   bool

	replyMu    sync.Mutex
	replyTopic string
	replyReady bool
}

// NewManager creates a manager publishing and subscribing through transport.
func NewManager(transport pubsub.Transport, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		transport:    transport,
		exchange:     DefaultExchange,
		retryLimit:   defaultRetryLimit,
		retryBackoff: defaultRetryBackoff,
		ctx:          ctx,
		cancel:       cancel,
		subs:         make(map[SubscriptionToken]*subscription),
		released:     make(map[SubscriptionToken]struct{}),
		pending:      make(map[string]*pendingRequest),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.catalog == nil {
		m.catalog = topicmgr.Default()
	}
	m.logger = logging.Component(m.logger, "event-manager")
	if m.clientName != "" {
		m.logger = m.logger.With("client", m.clientName)
	}
	m.replyTopic = fmt.Sprintf("%s.%s.%s", replyTopicPrefix, replyTopicSegment(m.clientName), uuid.NewString())

	return m
}

func replyTopicSegment(name string) string {
	if name == "" {
		return "anonymous"
	}
	return strings.ReplaceAll(name, ".", "_")
}

// UseRouter replaces the router consulted for every subsequent Publish and Subscribe.
func (m *Manager) UseRouter(r Router) {
	if r == nil {
		m.router.Store(nil)
		return
	}
	m.router.Store(&r)
}

// TopicFor returns the transport topic for eventType: the router's answer when it
// has one, DefaultExchange.eventType otherwise.
func (m *Manager) TopicFor(eventType string) string {
	if r := m.router.Load(); r != nil {
		if topic, ok := (*r).TopicFor(eventType); ok {
			return topic
		}
	}
	return m.exchange + "." + eventType
}

// ClientName returns the sender name stamped on outgoing events.
func (m *Manager) ClientName() string {
	return m.clientName
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Publish hands evt to the transport and returns without waiting for any handler.
func (m *Manager) Publish(ctx context.Context, evt Event) error {
	if isNilEvent(evt) {
		return ErrNilEvent
	}
	if m.isClosed() {
		return ErrClosed
	}
	return m.publish(ctx, m.TopicFor(evt.EventType()), evt, nil)
}

func (m *Manager) publish(ctx context.Context, topic string, evt Event, extra map[string]string) error {
	body, err := encodeEvent(evt)
	if err != nil {
		return err
	}

	md := map[string]string{
		pubsub.MetadataEventType: evt.EventType(),
		pubsub.MetadataTimestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if m.clientName != "" {
		md[pubsub.MetadataSender] = m.clientName
	}
	for k, v := range extra {
		md[k] = v
	}

	if err := m.transport.Publish(ctx, pubsub.Message{Topic: topic, Payload: body, Metadata: md}); err != nil {
		return transportError("publish "+topic, err)
	}

	m.logger.Debug("Event published", "event_type", evt.EventType(), "topic", topic)
	return nil
}

// Subscribe registers h for every event type it declares. Each subscription
// receives its own copy of every matching event.
func (m *Manager) Subscribe(h Handler) (SubscriptionToken, error) {
	if h == nil || len(h.HandledEventTypes()) == 0 {
		return SubscriptionToken{}, ErrNilHandler
	}
	if m.isClosed() {
		return SubscriptionToken{}, ErrClosed
	}

	sub := &subscription{
		token:   NewSubscriptionToken(),
		handler: h,
		types:   make(map[string]struct{}),
	}
	sub.ctx, sub.cancel = context.WithCancel(m.ctx)

	topics := make(map[string]struct{})
	for _, eventType := range h.HandledEventTypes() {
		sub.types[eventType] = struct{}{}
		topics[m.TopicFor(eventType)] = struct{}{}
	}

	for topic := range topics {
		if err := m.transport.Subscribe(sub.ctx, topic, m.deliverTo(sub)); err != nil {
			sub.cancel()
			return SubscriptionToken{}, transportError("subscribe "+topic, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		sub.cancel()
		return SubscriptionToken{}, ErrClosed
	}
	m.subs[sub.token] = sub

	m.logger.Debug("Handler subscribed", "token", sub.token, "event_types", h.HandledEventTypes())
	return sub.token, nil
}

// Unsubscribe stops delivery to the handler behind token. A second call with the
// same token returns ErrAlreadyUnsubscribed; a token from elsewhere returns
// ErrUnknownSubscription. Neither has side effects.
func (m *Manager) Unsubscribe(token SubscriptionToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.subs[token]; ok {
		delete(m.subs, token)
		m.released[token] = struct{}{}
		sub.cancel()
		m.logger.Debug("Handler unsubscribed", "token", token)
		return nil
	}
	if _, ok := m.released[token]; ok {
		return ErrAlreadyUnsubscribed
	}
	return ErrUnknownSubscription
}

func (m *Manager) deliverTo(sub *subscription) pubsub.Handler {
	return func(ctx context.Context, msg pubsub.Message) error {
		if sub.ctx.Err() != nil {
			return nil
		}

		env := envelopeFromMessage(msg)
		if _, ok := sub.types[env.EventType]; !ok {
			return nil
		}

		evt, err := decodeEvent(m.catalog, env)
		if err != nil {
			m.logger.Warn("Dropping undecodable event", "topic", msg.Topic, "error", err)
			return nil
		}

		m.dispatch(ContextWithEnvelope(ctx, env), sub, evt)
		return nil
	}
}

func (m *Manager) dispatch(ctx context.Context, sub *subscription, evt Event) {
	for attempt := 0; ; attempt++ {
		result := m.invoke(ctx, sub.handler, evt)
		switch result {
		case Handled:
			return
		case Retry:
			if attempt < m.retryLimit {
				m.logger.Debug("Handler asked for retry", "event_type", evt.EventType(), "attempt", attempt+1)
				if !m.waitRetry(sub, attempt+1) {
					return
				}
				continue
			}
			m.logger.Warn("Handler retry limit reached", "event_type", evt.EventType(), "token", sub.token)
			return
		default:
			m.logger.Warn("Handler failed", "event_type", evt.EventType(), "token", sub.token, "result", result)
			return
		}
	}
}

// waitRetry sleeps before the given retry attempt. It returns false when the
// subscription was cancelled meanwhile.
func (m *Manager) waitRetry(sub *subscription, attempt int) bool {
	if m.retryBackoff <= 0 {
		return sub.ctx.Err() == nil
	}
	timer := time.NewTimer(m.retryBackoff * time.Duration(attempt))
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-sub.ctx.Done():
		return false
	}
}

// invoke calls the handler and contains any panic as Failed.
func (m *Manager) invoke(ctx context.Context, h Handler, evt Event) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			err := &HandlerPanicError{EventType: evt.EventType(), Value: r, Stack: string(debug.Stack())}
			m.logger.Error("Recovered handler panic", "error", err, "stack", err.Stack)
			result = Failed
		}
	}()
	return h.HandleEvent(ctx, evt)
}

// Stats returns counters for diagnostics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Subscriptions:   len(m.subs),
		PendingRequests: len(m.pending),
		ReplyTopic:      m.replyTopic,
	}
}

// Close cancels every subscription and fails pending requests with ErrClosed.
// It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	subs := m.subs
	m.subs = make(map[SubscriptionToken]*subscription)
	for token := range subs {
		m.released[token] = struct{}{}
	}
	pending := m.pending
	m.pending = make(map[string]*pendingRequest)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}
	for _, p := range pending {
		p.reply <- replyResult{err: ErrClosed}
	}
	m.cancel()

	m.logger.Debug("Event manager closed", "subscriptions", len(subs), "pending", len(pending))
	return nil
}

// Shutdown closes the manager when it is owned by a do injector.
func (m *Manager) Shutdown() error {
	return m.Close()
}
