package eventbus

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/nfrund/topobus/internal/topicmgr"
)

// isNilEvent reports whether evt is nil or a typed nil pointer.
func isNilEvent(evt Event) bool {
	if evt == nil {
		return true
	}
	v := reflect.ValueOf(evt)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

func encodeEvent(evt Event) ([]byte, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("eventbus: encode %s: %w", evt.EventType(), err)
	}
	return body, nil
}

// decodeEvent builds a fresh payload for the envelope's event type and fills it from the body.
func decodeEvent(catalog *topicmgr.Manager, env *Envelope) (Event, error) {
	v, err := catalog.New(env.EventType)
	if err != nil {
		return nil, fmt.Errorf("eventbus: decode %q: %w", env.EventType, err)
	}

	if err := json.Unmarshal(env.Body, v); err != nil {
		return nil, fmt.Errorf("eventbus: decode %q: %w", env.EventType, err)
	}

	evt, ok := v.(Event)
	if !ok {
		return nil, fmt.Errorf("eventbus: payload %T registered for %q does not implement Event", v, env.EventType)
	}
	return evt, nil
}
