package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

// ErrBridgeClosed is returned by operations on a closed bridge.
var ErrBridgeClosed = errors.New("pubsub: bridge is closed")

// RedisConfig configures the Redis Pub/Sub bridge.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	// ChannelPrefix namespaces Redis channels (the virtual host).
	ChannelPrefix string
	// RetryTimeout bounds how long the initial connection is retried.
	RetryTimeout time.Duration
}

// redisEnvelope is the wire form of a Message on a Redis channel.
type redisEnvelope struct {
	ID       string            `json:"id"`
	Topic    string            `json:"topic"`
	Payload  []byte            `json:"payload"`
	Metadata map[string]string `json:"metadata,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

// RedisBridge implements Transport on Redis Pub/Sub so that clients in
// different processes share one bus. Each Subscribe call owns its own Redis
// subscription, which gives every subscriber of a topic its own copy of each message.
type RedisBridge struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
	tracer trace.Tracer

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
	wg     sync.WaitGroup
}

var _ Transport = (*RedisBridge)(nil)

const retryInterval = 250 * time.Millisecond

// NewRedisBridge connects to Redis, retrying until cfg.RetryTimeout elapses.
func NewRedisBridge(ctx context.Context, cfg RedisConfig, opts ...BridgeOption) (*RedisBridge, error) {
	o := applyBridgeOptions(opts)
	logger := o.logger.With("transport", "redis", "addr", cfg.Addr)

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := pingWithRetry(ctx, client, cfg.RetryTimeout, logger); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("Redis bridge connected", "prefix", cfg.ChannelPrefix)
	return newRedisBridge(client, cfg.ChannelPrefix, o, logger), nil
}

// NewRedisBridgeFromClient wraps an existing client. The bridge takes ownership
// of the client and closes it on Close.
func NewRedisBridgeFromClient(client redis.UniversalClient, prefix string, opts ...BridgeOption) *RedisBridge {
	o := applyBridgeOptions(opts)
	return newRedisBridge(client, prefix, o, o.logger.With("transport", "redis"))
}

func newRedisBridge(client redis.UniversalClient, prefix string, o bridgeOptions, logger *slog.Logger) *RedisBridge {
	return &RedisBridge{
		client: client,
		prefix: prefix,
		logger: logger,
		tracer: o.tracer,
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

func pingWithRetry(ctx context.Context, client redis.UniversalClient, timeout time.Duration, logger *slog.Logger) error {
	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return nil
		}
		if time.Now().Add(retryInterval).After(deadline) {
			return err
		}

		logger.Warn("Redis not reachable, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

func (rb *RedisBridge) channel(topic string) string {
	if rb.prefix == "" || rb.prefix == "/" {
		return topic
	}
	return rb.prefix + ":" + topic
}

func (rb *RedisBridge) isClosed() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.closed
}

// Publish implements the Publisher interface.
func (rb *RedisBridge) Publish(ctx context.Context, msg Message) error {
	if rb.isClosed() {
		return ErrBridgeClosed
	}

	env := redisEnvelope{
		ID:       uuid.NewString(),
		Topic:    msg.Topic,
		Payload:  msg.Payload,
		Metadata: copyMetadata(msg.Metadata),
		SentAt:   time.Now().UTC(),
	}

	if rb.tracer != nil {
		var span trace.Span
		ctx, span = startPublishSpan(ctx, rb.tracer, "redis", msg.Topic, env.ID, msg.Payload, env.Metadata)
		defer span.End()
		err := rb.publish(ctx, env)
		recordResult(span, err)
		return err
	}

	return rb.publish(ctx, env)
}

func (rb *RedisBridge) publish(ctx context.Context, env redisEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := rb.client.Publish(ctx, rb.channel(env.Topic), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}
	return nil
}

// Subscribe implements the Subscriber interface. It returns once Redis has
// confirmed the subscription.
func (rb *RedisBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	rb.mu.Lock()
	if rb.closed {
		rb.mu.Unlock()
		return ErrBridgeClosed
	}
	ps := rb.client.Subscribe(ctx, rb.channel(topic))
	rb.subs[ps] = struct{}{}
	rb.mu.Unlock()

	if _, err := ps.Receive(ctx); err != nil {
		rb.release(ps)
		return fmt.Errorf("failed to subscribe to Redis: %w", err)
	}

	rb.wg.Add(1)
	go rb.receiveLoop(ctx, ps, topic, handler)
	return nil
}

func (rb *RedisBridge) receiveLoop(ctx context.Context, ps *redis.PubSub, topic string, handler Handler) {
	defer rb.wg.Done()
	defer rb.release(ps)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			rb.logger.Debug("Subscription message loop ended", "topic", topic)
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			rb.dispatch(ctx, topic, m.Payload, handler)
		}
	}
}

func (rb *RedisBridge) dispatch(ctx context.Context, topic, raw string, handler Handler) {
	var env redisEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		rb.logger.Error("Failed to decode message", "topic", topic, "error", err)
		return
	}
	if env.Metadata == nil {
		env.Metadata = make(map[string]string)
	}

	msg := Message{Topic: env.Topic, Payload: env.Payload, Metadata: env.Metadata}

	handlerCtx := ctx
	var span trace.Span
	if rb.tracer != nil {
		handlerCtx, span = startProcessSpan(ctx, rb.tracer, "redis", env.Topic, env.ID, env.Payload, env.Metadata)
		defer span.End()
	}

	if err := handler(handlerCtx, msg); err != nil {
		if span != nil {
			recordResult(span, err)
		}
		rb.logger.Error("Failed to handle message", "topic", topic, "msg_id", env.ID, "error", err)
	}
}

func (rb *RedisBridge) release(ps *redis.PubSub) {
	rb.mu.Lock()
	_, owned := rb.subs[ps]
	delete(rb.subs, ps)
	rb.mu.Unlock()

	if owned {
		_ = ps.Close()
	}
}

// Close stops all subscriptions and closes the Redis client.
func (rb *RedisBridge) Close() error {
	rb.mu.Lock()
	if rb.closed {
		rb.mu.Unlock()
		return nil
	}
	rb.closed = true
	subs := make([]*redis.PubSub, 0, len(rb.subs))
	for ps := range rb.subs {
		subs = append(subs, ps)
	}
	rb.subs = make(map[*redis.PubSub]struct{})
	rb.mu.Unlock()

	for _, ps := range subs {
		_ = ps.Close()
	}
	rb.wg.Wait()

	return rb.client.Close()
}
