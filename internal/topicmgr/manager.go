package topicmgr

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Manager is the event type catalog: validation on the way in, lookup and
// payload construction on the way out.
type Manager struct {
	registry  *Registry
	validator *Validator
}

// NewManager creates an empty catalog.
func NewManager() *Manager {
	return &Manager{
		registry:  NewRegistry(),
		validator: NewValidator(),
	}
}

// DefineFramework creates a descriptive topic for the bus framework.
func DefineFramework(config TopicConfig) Topic {
	config.Scope = ScopeFramework
	config.Module = ""
	return newTypedTopic(config, nil)
}

// DefineModule creates a descriptive topic for an application module. When no
// module is given, the first segment of the name is used.
func DefineModule(config TopicConfig) Topic {
	config.Scope = ScopeModule
	if config.Module == "" {
		config.Module = moduleFromName(config.Name)
	}
	return newTypedTopic(config, nil)
}

func newTypedTopic(config TopicConfig, payloadType reflect.Type) *TypedTopic {
	return &TypedTopic{
		name:        config.Name,
		module:      config.Module,
		description: config.Description,
		example:     config.Example,
		metadata:    config.Metadata,
		scope:       config.Scope,
		payloadType: payloadType,
	}
}

func moduleFromName(name string) string {
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}

// Register validates and adds a topic to the catalog.
func (m *Manager) Register(topic Topic) error {
	if topic == nil {
		return &TopicError{Type: ErrorValidationFailed, Message: "cannot register nil topic"}
	}

	if err := m.validator.ValidateDefinition(topic); err != nil {
		return &TopicError{
			Type:    ErrorValidationFailed,
			Topic:   topic.Name(),
			Module:  topic.Module(),
			Message: "topic validation failed",
			Cause:   err,
		}
	}

	return m.registry.Register(topic)
}

// MustRegister registers a topic and panics on error (for static initialization).
func (m *Manager) MustRegister(topic Topic) {
	if err := m.Register(topic); err != nil {
		panic(fmt.Sprintf("failed to register topic %s: %v", topic.Name(), err))
	}
}

// Get retrieves a topic by name.
func (m *Manager) Get(name string) (Topic, bool) {
	return m.registry.Get(name)
}

// New returns a pointer to a fresh zero value of the payload type registered for name.
func (m *Manager) New(name string) (any, error) {
	topic, ok := m.registry.Get(name)
	if !ok {
		return nil, &TopicError{
			Type:    ErrorTopicNotFound,
			Topic:   name,
			Message: fmt.Sprintf("topic not found: %s", name),
		}
	}

	typ := topic.PayloadType()
	if typ == nil {
		return nil, &TopicError{
			Type:    ErrorNoPayloadType,
			Topic:   name,
			Module:  topic.Module(),
			Message: fmt.Sprintf("topic %s has no payload type", name),
		}
	}

	return reflect.New(typ).Interface(), nil
}

// List returns all registered topics.
func (m *Manager) List() []Topic {
	return m.registry.List()
}

// ListByModule returns topics for a specific module.
func (m *Manager) ListByModule(module string) []Topic {
	return m.registry.ListByModule(module)
}

// ListFrameworkTopics returns all framework-level topics.
func (m *Manager) ListFrameworkTopics() []Topic {
	return m.registry.ListByScope(ScopeFramework)
}

// ValidateTopicName checks if a topic name is valid without creating a topic.
func (m *Manager) ValidateTopicName(name string) error {
	return m.validator.ValidateName(name)
}

// FindTopics returns topics matching pattern; a trailing * matches any suffix.
func (m *Manager) FindTopics(pattern string) []Topic {
	var matches []Topic
	for _, topic := range m.registry.List() {
		if matchesPattern(topic.Name(), pattern) {
			matches = append(matches, topic)
		}
	}
	return matches
}

// Count returns the total number of registered topics.
func (m *Manager) Count() int {
	return m.registry.Count()
}

// GetStats returns catalog statistics.
func (m *Manager) GetStats() RegistryStats {
	return m.registry.GetStats()
}

// Reset removes all registered topics (primarily for testing).
func (m *Manager) Reset() {
	m.registry.Reset()
}

func matchesPattern(name, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return name == pattern
}

var (
	defaultManager     *Manager
	defaultManagerOnce sync.Once
)

// Default returns the process-wide catalog used by Define.
func Default() *Manager {
	defaultManagerOnce.Do(func() {
		defaultManager = NewManager()
	})
	return defaultManager
}
