package topicmgr

import (
	"reflect"
	"time"
)

// Topic describes one event type.
type Topic interface {
	// Name returns the unique event type name.
	Name() string

	// Module returns the module that owns this event type (empty for framework topics).
	Module() string

	// Description returns human-readable documentation.
	Description() string

	// Example returns a sample payload.
	Example() string

	// Metadata returns additional topic information.
	Metadata() map[string]interface{}

	// Scope returns whether this is a framework or module topic.
	Scope() TopicScope

	// PayloadType returns the Go type decoded for this event, or nil when the
	// topic is descriptive only.
	PayloadType() reflect.Type
}

// TypedTopic is the Topic implementation returned by Define and DefineFramework/DefineModule.
type TypedTopic struct {
	name        string
	module      string
	description string
	example     string
	metadata    map[string]interface{}
	scope       TopicScope
	payloadType reflect.Type
}

var _ Topic = (*TypedTopic)(nil)

// TopicConfig holds configuration for creating a new topic.
type TopicConfig struct {
	Name        string                 `json:"name"`
	Module      string                 `json:"module"`
	Scope       TopicScope             `json:"scope"`
	Description string                 `json:"description"`
	Example     string                 `json:"example"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// TopicScope defines whether a topic belongs to the bus framework or to an application module.
type TopicScope string

const (
	ScopeFramework TopicScope = "framework" // topology protocol
	ScopeModule    TopicScope = "module"    // application events (order, billing, ...)
)

// RegistryEntry represents a topic entry in the registry.
type RegistryEntry struct {
	Topic        Topic     `json:"topic"`
	RegisteredAt time.Time `json:"registered_at"`
	Module       string    `json:"module"`
}

// TopicError represents structured errors in the topic catalog.
type TopicError struct {
	Type    ErrorType `json:"type"`
	Topic   string    `json:"topic"`
	Module  string    `json:"module"`
	Message string    `json:"message"`
	Cause   error     `json:"cause,omitempty"`
}

// ErrorType defines the type of topic catalog error.
type ErrorType string

const (
	ErrorTopicNotFound         ErrorType = "topic_not_found"
	ErrorDuplicateRegistration ErrorType = "duplicate_registration"
	ErrorValidationFailed      ErrorType = "validation_failed"
	ErrorInvalidScope          ErrorType = "invalid_scope"
	ErrorNoPayloadType         ErrorType = "no_payload_type"
)

// Error implements the error interface.
func (e *TopicError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *TopicError) Unwrap() error {
	return e.Cause
}

// IsTopicError reports whether err is a *TopicError of the given type.
func IsTopicError(err error, typ ErrorType) bool {
	te, ok := err.(*TopicError)
	return ok && te.Type == typ
}

func (t *TypedTopic) Name() string        { return t.name }
func (t *TypedTopic) Module() string      { return t.module }
func (t *TypedTopic) Description() string { return t.description }
func (t *TypedTopic) Example() string     { return t.example }
func (t *TypedTopic) Scope() TopicScope   { return t.scope }

// PayloadType returns the registered payload type.
func (t *TypedTopic) PayloadType() reflect.Type { return t.payloadType }

// Metadata returns a copy of the topic metadata.
func (t *TypedTopic) Metadata() map[string]interface{} {
	result := make(map[string]interface{}, len(t.metadata))
	for k, v := range t.metadata {
		result[k] = v
	}
	return result
}

// String returns the topic name for easy debugging.
func (t *TypedTopic) String() string {
	return t.name
}
