package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapProvider is an in-memory Provider for tests.
type mapProvider map[string]string

func (m mapProvider) GetValue(key, def string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

func (m mapProvider) SetValue(key, value string) { m[key] = value }

func TestFromProvider_Defaults(t *testing.T) {
	cfg, err := FromProvider(mapProvider{KeyClientName: "orders"})
	require.NoError(t, err)

	assert.Equal(t, "orders", cfg.ClientName)
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultVirtualHost, cfg.VirtualHost)
	assert.Equal(t, 30*time.Second, cfg.ConnectionRetryTimeout)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.RegistrationTimeout)
	assert.Equal(t, "memory", cfg.Transport)
	assert.Equal(t, 90*time.Second, cfg.ClientExpiry())
	assert.Equal(t, "localhost:6379", cfg.BrokerAddr())
}

func TestFromProvider_Overrides(t *testing.T) {
	p := mapProvider{
		KeyClientName:          "billing",
		KeyHost:                "broker.internal",
		KeyPort:                "6380",
		KeyHeartbeatInterval:   "2",
		KeyRegistrationTimeout: "250",
		KeyTransport:           "redis",
		KeyExpiryMultiplier:    "4",
	}
	cfg, err := FromProvider(p)
	require.NoError(t, err)

	assert.Equal(t, "broker.internal:6380", cfg.BrokerAddr())
	assert.Equal(t, 2*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.RegistrationTimeout)
	assert.Equal(t, 8*time.Second, cfg.ClientExpiry())
}

func TestFromProvider_Invalid(t *testing.T) {
	tests := []struct {
		name string
		p    mapProvider
	}{
		{"non numeric port", mapProvider{KeyPort: "abc"}},
		{"port out of range", mapProvider{KeyPort: "70000"}},
		{"zero heartbeat", mapProvider{KeyHeartbeatInterval: "0"}},
		{"unknown transport", mapProvider{KeyTransport: "carrier-pigeon"}},
		{"zero multiplier", mapProvider{KeyExpiryMultiplier: "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromProvider(tt.p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestEnvProvider_OverrideShadowsEnvironment(t *testing.T) {
	t.Setenv(KeyHost, "from-env")
	p := NewEnvProvider()
	assert.Equal(t, "from-env", p.GetValue(KeyHost, "default"))

	p.SetValue(KeyHost, "override")
	assert.Equal(t, "override", p.GetValue(KeyHost, "default"))
	assert.Equal(t, "default", p.GetValue("EVENT_BUS_NOT_SET", "default"))
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env.test")
	require.NoError(t, os.WriteFile(file, []byte("EVENT_BUS_CLIENT_NAME=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv(KeyClientName) })

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.ClientName)
}

func TestRectifyClientName(t *testing.T) {
	origHost, origExe := hostname, executable
	t.Cleanup(func() { hostname, executable = origHost, origExe })

	hostname = func() (string, error) { return "box-01", nil }

	t.Run("keeps valid names", func(t *testing.T) {
		assert.Equal(t, "orders", RectifyClientName("  orders "))
	})

	t.Run("falls back to executable name", func(t *testing.T) {
		executable = func() string { return "/usr/local/bin/toposervice" }
		for _, blank := range []string{"", "  "} {
			assert.Equal(t, "toposervice", RectifyClientName(blank))
		}
	})

	t.Run("falls back to hostname", func(t *testing.T) {
		executable = func() string { return "" }
		assert.Equal(t, "box-01", RectifyClientName(""))
	})

	t.Run("falls back to UNKNOWN", func(t *testing.T) {
		executable = func() string { return "" }
		hostname = func() (string, error) { return "", errors.New("no host") }
		assert.Equal(t, UnknownClientName, RectifyClientName(""))
	})

	t.Run("prefixes reserved and non word starts", func(t *testing.T) {
		assert.Equal(t, "_amq.client", RectifyClientName("amq.client"))
		assert.Equal(t, "_-client", RectifyClientName("-client"))
	})

	t.Run("bounds length", func(t *testing.T) {
		got := RectifyClientName(strings.Repeat("a", 300))
		assert.Len(t, got, MaxClientNameLength)
	})
}
