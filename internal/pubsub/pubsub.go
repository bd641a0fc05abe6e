package pubsub

import (
	"context"
)

// Well-known metadata keys carried alongside every payload.
const (
	MetadataEventType     = "event_type"
	MetadataCorrelationID = "correlation_id"
	MetadataReplyTo       = "reply_to"
	MetadataSender        = "sender"
	MetadataTimestamp     = "timestamp"
)

// Message is the structure passed between components on the bus.
// It is intentionally simple to act as a wrapper for raw data.
type Message struct {
	// Topic identifies the destination the message is delivered to (e.g., "events.order.created").
	Topic string
	// Payload contains the serialized event body.
	Payload []byte
	// Metadata carries event type, correlation and reply information.
	Metadata map[string]string
}

// Handler defines the function signature for processing a received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher defines the contract for sending messages to the Pub/Sub system.
type Publisher interface {
	// Publish hands the message to the transport and returns without waiting for delivery.
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber defines the contract for receiving messages from the Pub/Sub system.
type Subscriber interface {
	// Subscribe starts listening to the given topic, processing messages with the handler.
	// It returns once the subscription is active; delivery stops when ctx is canceled.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Transport is a Publisher and Subscriber sharing one connection.
type Transport interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

func copyMetadata(md map[string]string) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
