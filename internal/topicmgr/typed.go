package topicmgr

import (
	"reflect"
	"strings"
)

// Define creates a topic whose payload type is T and registers it with the
// default manager. It panics when the definition is invalid, so it is meant for
// package-level variables.
func Define[T any](config TopicConfig) Topic {
	topic := NewTyped[T](config)
	Default().MustRegister(topic)
	return topic
}

// NewTyped creates a topic whose payload type is T without registering it.
// The payload field names are recorded in the metadata for discovery.
func NewTyped[T any](config TopicConfig) Topic {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}

	if config.Scope == "" {
		if strings.HasPrefix(config.Name, FrameworkPrefix) {
			config.Scope = ScopeFramework
		} else {
			config.Scope = ScopeModule
		}
	}
	if config.Scope == ScopeModule && config.Module == "" {
		config.Module = moduleFromName(config.Name)
	}

	metadata := make(map[string]interface{}, len(config.Metadata)+2)
	for k, v := range config.Metadata {
		metadata[k] = v
	}
	metadata["type_name"] = typ.Name()
	metadata["payload_fields"] = payloadFields(typ)
	config.Metadata = metadata

	return newTypedTopic(config, typ)
}

func payloadFields(typ reflect.Type) []string {
	fields := make([]string, 0)
	if typ.Kind() != reflect.Struct {
		return fields
	}

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		switch name {
		case "-":
			continue
		case "":
			name = field.Name
		}
		fields = append(fields, name)
	}
	return fields
}
