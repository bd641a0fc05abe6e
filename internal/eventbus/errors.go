package eventbus

import (
	"errors"
	"fmt"
)

// Sentinel errors for the event manager.
var (
	// ErrTimeout is returned by RequestResponse when no matching reply arrived in time.
	ErrTimeout = errors.New("eventbus: request timed out")

	// ErrInterrupted is returned by RequestResponse when the caller's context was canceled.
	ErrInterrupted = errors.New("eventbus: request interrupted")

	// ErrTransport wraps failures reported by the underlying transport.
	ErrTransport = errors.New("eventbus: transport error")

	// ErrUnknownSubscription is returned when a token was not issued by this manager.
	ErrUnknownSubscription = errors.New("eventbus: unknown subscription")

	// ErrAlreadyUnsubscribed is returned on the second Unsubscribe of the same token.
	ErrAlreadyUnsubscribed = errors.New("eventbus: already unsubscribed")

	// ErrNoReplyAddress is returned by Respond outside of a request delivery.
	ErrNoReplyAddress = errors.New("eventbus: event has no reply address")

	// ErrUnexpectedResponse is returned when a reply has a different event type than requested.
	ErrUnexpectedResponse = errors.New("eventbus: unexpected response type")

	// ErrClosed is returned by operations on a closed manager.
	ErrClosed = errors.New("eventbus: manager is closed")

	// ErrNilEvent is returned when a nil event is published.
	ErrNilEvent = errors.New("eventbus: nil event")

	// ErrNilHandler is returned when subscribing a nil handler or one without event types.
	ErrNilHandler = errors.New("eventbus: handler must declare at least one event type")

	// ErrHandlerPanic matches any *HandlerPanicError.
	ErrHandlerPanic = errors.New("eventbus: handler panicked")
)

// HandlerPanicError describes a panic recovered while a handler processed an event.
type HandlerPanicError struct {
	// EventType is the type of the event being handled.
	EventType string

	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at the time of the panic.
	Stack string
}

// Error implements the error interface.
func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler panic while handling %s: %v", e.EventType, e.Value)
}

// Is allows errors.Is to match HandlerPanicError with ErrHandlerPanic.
func (e *HandlerPanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}

func transportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}
