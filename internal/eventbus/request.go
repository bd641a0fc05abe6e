package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/topobus/internal/pubsub"
)

// RequestResponse publishes evt with a fresh correlation id and blocks until a
// reply of responseType with that id arrives. It fails with ErrTimeout once
// timeout elapses and with ErrInterrupted when ctx is canceled first. Exactly one
// reply is consumed; late or duplicate replies are dropped.
func (m *Manager) RequestResponse(ctx context.Context, evt Event, timeout time.Duration, responseType string) (Event, error) {
	if isNilEvent(evt) {
		return nil, ErrNilEvent
	}
	if err := m.ensureReplySubscription(); err != nil {
		return nil, err
	}

	correlationID := uuid.NewString()
	p := &pendingRequest{
		responseType: responseType,
		reply:        make(chan replyResult, 1),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.pending[correlationID] = p
	m.mu.Unlock()
	defer m.forget(correlationID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	err := m.publish(ctx, m.TopicFor(evt.EventType()), evt, map[string]string{
		pubsub.MetadataCorrelationID: correlationID,
		pubsub.MetadataReplyTo:       m.replyTopic,
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-p.reply:
		return r.evt, r.err
	case <-timer.C:
		return nil, fmt.Errorf("%w: no %s within %s", ErrTimeout, responseType, timeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}
}

// Respond publishes evt as the reply to the request being handled in ctx.
func (m *Manager) Respond(ctx context.Context, evt Event) error {
	if isNilEvent(evt) {
		return ErrNilEvent
	}
	env := EnvelopeFromContext(ctx)
	if env == nil || env.ReplyTo == "" {
		return ErrNoReplyAddress
	}
	if m.isClosed() {
		return ErrClosed
	}
	return m.publish(ctx, env.ReplyTo, evt, map[string]string{
		pubsub.MetadataCorrelationID: env.CorrelationID,
	})
}

func (m *Manager) forget(correlationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, correlationID)
}

// ensureReplySubscription subscribes the private reply topic on first use.
func (m *Manager) ensureReplySubscription() error {
	m.replyMu.Lock()
	defer m.replyMu.Unlock()

	if m.replyReady {
		return nil
	}
	if m.isClosed() {
		return ErrClosed
	}

	if err := m.transport.Subscribe(m.ctx, m.replyTopic, m.handleReply); err != nil {
		return transportError("subscribe "+m.replyTopic, err)
	}
	m.replyReady = true
	m.logger.Debug("Reply topic subscribed", "topic", m.replyTopic)
	return nil
}

func (m *Manager) handleReply(_ context.Context, msg pubsub.Message) error {
	env := envelopeFromMessage(msg)

	m.mu.Lock()
	p, ok := m.pending[env.CorrelationID]
	if ok {
		delete(m.pending, env.CorrelationID)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Debug("Dropping reply without pending request", "correlation_id", env.CorrelationID, "event_type", env.EventType)
		return nil
	}

	if env.EventType != p.responseType {
		p.reply <- replyResult{err: fmt.Errorf("%w: got %s, want %s", ErrUnexpectedResponse, env.EventType, p.responseType)}
		return nil
	}

	evt, err := decodeEvent(m.catalog, env)
	p.reply <- replyResult{evt: evt, err: err}
	return nil
}
