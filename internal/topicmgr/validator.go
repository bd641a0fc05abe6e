package topicmgr

import (
	"fmt"
	"regexp"
	"strings"
)

// FrameworkPrefix is the mandatory prefix of framework event types.
const FrameworkPrefix = "topology."

const (
	maxNameLength   = 100
	maxModuleLength = 50
)

var (
	// Names are dotted lowercase segments: order.created, topology.route.get.
	namePattern   = regexp.MustCompile(`^[a-z][a-z0-9]*(\.[a-z][a-z0-9]*)*$`)
	modulePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

	reservedPrefixes = []string{"system.", "internal.", "debug.", "amq."}
)

// Validator checks topic definitions.
type Validator struct{}

// NewValidator creates a new topic validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateDefinition validates a topic definition.
func (v *Validator) ValidateDefinition(topic Topic) error {
	if topic == nil {
		return fmt.Errorf("topic cannot be nil")
	}

	if err := v.ValidateName(topic.Name()); err != nil {
		return fmt.Errorf("invalid topic name: %w", err)
	}

	if strings.TrimSpace(topic.Description()) == "" {
		return fmt.Errorf("topic description cannot be empty")
	}

	switch topic.Scope() {
	case ScopeFramework:
		if topic.Module() != "" {
			return fmt.Errorf("framework topics should not have a module")
		}
		if !strings.HasPrefix(topic.Name(), FrameworkPrefix) {
			return fmt.Errorf("framework topic must start with %q", FrameworkPrefix)
		}
	case ScopeModule:
		if err := v.validateModuleName(topic.Module()); err != nil {
			return fmt.Errorf("invalid module name: %w", err)
		}
		if strings.HasPrefix(topic.Name(), FrameworkPrefix) {
			return fmt.Errorf("module topic cannot use the %q prefix", FrameworkPrefix)
		}
	default:
		return fmt.Errorf("invalid topic scope: %q", topic.Scope())
	}

	return nil
}

// ValidateName checks if a topic name follows the naming convention.
func (v *Validator) ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	if len(name) > maxNameLength {
		return fmt.Errorf("name too long (max %d characters)", maxNameLength)
	}

	if !namePattern.MatchString(name) {
		return fmt.Errorf("name must be dotted lowercase alphanumeric segments")
	}

	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return fmt.Errorf("name cannot start with reserved prefix: %s", prefix)
		}
	}

	return nil
}

func (v *Validator) validateModuleName(module string) error {
	if strings.TrimSpace(module) == "" {
		return fmt.Errorf("module topics must specify a module")
	}

	if len(module) > maxModuleLength {
		return fmt.Errorf("module name too long (max %d characters)", maxModuleLength)
	}

	if !modulePattern.MatchString(module) {
		return fmt.Errorf("module name must be lowercase alphanumeric with underscores")
	}

	return nil
}
