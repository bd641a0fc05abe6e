package eventbus

import (
	"context"

	"github.com/google/uuid"
)

// Event is any value published on the bus. EventType names the catalog entry
// used to decode it on the receiving side.
type Event interface {
	EventType() string
}

// Result is a handler's verdict on one delivery.
type Result int

const (
	// Handled means the event was processed.
	Handled Result = iota
	// Failed means processing failed; the event is dropped after logging.
	Failed
	// Retry asks the dispatcher to invoke the handler again.
	Retry
)

func (r Result) String() string {
	switch r {
	case Handled:
		return "handled"
	case Failed:
		return "failed"
	case Retry:
		return "retry"
	default:
		return "unknown"
	}
}

// Handler processes events of the types it declares. Decoded events are always
// pointers to the registered payload type.
type Handler interface {
	HandledEventTypes() []string
	HandleEvent(ctx context.Context, evt Event) Result
}

type funcHandler struct {
	types []string
	fn    func(ctx context.Context, evt Event) Result
}

func (h funcHandler) HandledEventTypes() []string { return h.types }

func (h funcHandler) HandleEvent(ctx context.Context, evt Event) Result {
	return h.fn(ctx, evt)
}

// HandlerFunc adapts a function to the Handler interface for the given event types.
func HandlerFunc(fn func(ctx context.Context, evt Event) Result, eventTypes ...string) Handler {
	return funcHandler{types: eventTypes, fn: fn}
}

// SubscriptionToken identifies one Subscribe call. The zero token is never issued.
type SubscriptionToken struct {
	id uuid.UUID
}

// NewSubscriptionToken issues a fresh token, for Bus implementations other than Manager.
func NewSubscriptionToken() SubscriptionToken {
	return SubscriptionToken{id: uuid.New()}
}

// IsZero reports whether the token was never issued.
func (t SubscriptionToken) IsZero() bool {
	return t.id == uuid.Nil
}

func (t SubscriptionToken) String() string {
	return t.id.String()
}
