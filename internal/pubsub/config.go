package pubsub

import (
	"strconv"
)

// Tracing configuration keys, read alongside the EVENT_BUS_* settings.
const (
	KeyTracingEnabled        = "PUBSUB_TRACING_ENABLED"
	KeyTracingServiceName    = "PUBSUB_TRACING_SERVICE_NAME"
	KeyTracingServiceVersion = "PUBSUB_TRACING_SERVICE_VERSION"
	KeyTracingZipkinURL      = "PUBSUB_TRACING_ZIPKIN_URL"
)

// ValueSource is a key/value lookup with defaults, satisfied by config.Provider.
type ValueSource interface {
	GetValue(key, defaultValue string) string
}

// TracingConfigFrom reads the tracing settings from src. Spans are attributed to
// serviceName unless KeyTracingServiceName overrides it, so each client shows
// up under its own name. An unparsable enabled flag leaves tracing off.
func TracingConfigFrom(src ValueSource, serviceName string) TracingConfig {
	cfg := DefaultTracingConfig()
	if serviceName != "" {
		cfg.ServiceName = serviceName
	}

	if enabled, err := strconv.ParseBool(src.GetValue(KeyTracingEnabled, "false")); err == nil {
		cfg.Enabled = enabled
	}
	cfg.ServiceName = src.GetValue(KeyTracingServiceName, cfg.ServiceName)
	cfg.ServiceVersion = src.GetValue(KeyTracingServiceVersion, cfg.ServiceVersion)
	cfg.ZipkinURL = src.GetValue(KeyTracingZipkinURL, cfg.ZipkinURL)
	return cfg
}
