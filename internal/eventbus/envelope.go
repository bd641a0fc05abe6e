package eventbus

import (
	"context"
	"time"

	"github.com/nfrund/topobus/internal/pubsub"
)

// Envelope carries the metadata of a delivered event.
type Envelope struct {
	EventType     string            `json:"event_type"`
	Topic         string            `json:"topic"`
	Body          []byte            `json:"body"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	ReplyTo       string            `json:"reply_to,omitempty"`
	Sender        string            `json:"sender,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

func envelopeFromMessage(msg pubsub.Message) *Envelope {
	md := msg.Metadata
	env := &Envelope{
		EventType:     md[pubsub.MetadataEventType],
		Topic:         msg.Topic,
		Body:          msg.Payload,
		CorrelationID: md[pubsub.MetadataCorrelationID],
		ReplyTo:       md[pubsub.MetadataReplyTo],
		Sender:        md[pubsub.MetadataSender],
		Headers:       md,
	}
	if ts, err := time.Parse(time.RFC3339Nano, md[pubsub.MetadataTimestamp]); err == nil {
		env.Timestamp = ts
	}
	return env
}

type envelopeKey struct{}

// ContextWithEnvelope attaches env to ctx.
func ContextWithEnvelope(ctx context.Context, env *Envelope) context.Context {
	return context.WithValue(ctx, envelopeKey{}, env)
}

// EnvelopeFromContext returns the envelope of the event being handled, or nil
// outside of a delivery.
func EnvelopeFromContext(ctx context.Context) *Envelope {
	env, _ := ctx.Value(envelopeKey{}).(*Envelope)
	return env
}
