package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Environment keys understood by Load.
const (
	KeyUsername               = "EVENT_BUS_USERNAME"
	KeyPassword               = "EVENT_BUS_PASSWORD"
	KeyHost                   = "EVENT_BUS_HOST"
	KeyPort                   = "EVENT_BUS_PORT"
	KeyVirtualHost            = "EVENT_BUS_VHOST"
	KeyConnectionRetryTimeout = "EVENT_BUS_CONNECTION_RETRY_TIMEOUT"
	KeyClientName             = "EVENT_BUS_CLIENT_NAME"
	KeyHeartbeatInterval      = "EVENT_BUS_HEARTBEAT_INTERVAL_SECONDS"
	KeyRegistrationTimeout    = "EVENT_BUS_REGISTRATION_TIMEOUT_MILLIS"
	KeyTransport              = "EVENT_BUS_TRANSPORT"
	KeyExpiryMultiplier       = "TOPOLOGY_CLIENT_EXPIRY_MULTIPLIER"
	KeyRoutesFile             = "TOPOLOGY_ROUTES_FILE"
	KeyAdminAddr              = "TOPOLOGY_ADMIN_ADDR"
	KeyAdminJWTSecret         = "TOPOLOGY_ADMIN_JWT_SECRET"
	KeyLogFormat              = "LOG_FORMAT"
	KeyLogLevel               = "LOG_LEVEL"
)

// Defaults applied when a key is absent.
const (
	DefaultHost                     = "localhost"
	DefaultPort                     = 6379
	DefaultVirtualHost              = "/"
	DefaultConnectionRetryTimeoutMs = 30000
	DefaultHeartbeatIntervalSeconds = 30
	DefaultRegistrationTimeoutMs    = 5000
	DefaultTransport                = "memory"
	DefaultExpiryMultiplier         = 3
	DefaultAdminAddr                = ":8089"
)

// Provider is a key/value configuration source with fallback defaults.
type Provider interface {
	GetValue(key, defaultValue string) string
	SetValue(key, value string)
}

// EnvProvider reads values from the process environment. Values set through
// SetValue shadow the environment without modifying it.
type EnvProvider struct {
	mu        sync.RWMutex
	overrides map[string]string
}

var _ Provider = (*EnvProvider)(nil)

// NewEnvProvider creates an environment backed provider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{overrides: make(map[string]string)}
}

// GetValue returns the override, the environment value, or defaultValue.
func (p *EnvProvider) GetValue(key, defaultValue string) string {
	p.mu.RLock()
	v, ok := p.overrides[key]
	p.mu.RUnlock()
	if ok {
		return v
	}
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultValue
}

// SetValue records an override for key.
func (p *EnvProvider) SetValue(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrides[key] = value
}

// Config holds all configuration for an event bus participant, client or authority.
type Config struct {
	Username               string
	Password               string
	Host                   string        `validate:"required"`
	Port                   int           `validate:"min=1,max=65535"`
	VirtualHost            string        `validate:"required"`
	ConnectionRetryTimeout time.Duration `validate:"gte=0"`
	ClientName             string        `validate:"required,max=215"`
	HeartbeatInterval      time.Duration `validate:"gt=0"`
	RegistrationTimeout    time.Duration `validate:"gt=0"`
	Transport              string        `validate:"oneof=memory redis"`
	ClientExpiryMultiplier int           `validate:"min=1"`
	RoutesFile             string
	AdminAddr              string
	AdminJWTSecret         string
	LogFormat              string
	LogLevel               string
}

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// Load reads the given .env files (or ./.env when none are given) and builds a
// Config from the environment. A missing .env file is not an error.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		slog.Debug("No .env file loaded, relying on environment variables", "error", err)
	}
	return FromProvider(NewEnvProvider())
}

// FromProvider builds and validates a Config from p.
func FromProvider(p Provider) (*Config, error) {
	port, err := intValue(p, KeyPort, DefaultPort)
	if err != nil {
		return nil, err
	}
	retryMs, err := intValue(p, KeyConnectionRetryTimeout, DefaultConnectionRetryTimeoutMs)
	if err != nil {
		return nil, err
	}
	heartbeatSec, err := intValue(p, KeyHeartbeatInterval, DefaultHeartbeatIntervalSeconds)
	if err != nil {
		return nil, err
	}
	registrationMs, err := intValue(p, KeyRegistrationTimeout, DefaultRegistrationTimeoutMs)
	if err != nil {
		return nil, err
	}
	multiplier, err := intValue(p, KeyExpiryMultiplier, DefaultExpiryMultiplier)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Username:               p.GetValue(KeyUsername, ""),
		Password:               p.GetValue(KeyPassword, ""),
		Host:                   p.GetValue(KeyHost, DefaultHost),
		Port:                   port,
		VirtualHost:            p.GetValue(KeyVirtualHost, DefaultVirtualHost),
		ConnectionRetryTimeout: time.Duration(retryMs) * time.Millisecond,
		ClientName:             RectifyClientName(p.GetValue(KeyClientName, "")),
		HeartbeatInterval:      time.Duration(heartbeatSec) * time.Second,
		RegistrationTimeout:    time.Duration(registrationMs) * time.Millisecond,
		Transport:              p.GetValue(KeyTransport, DefaultTransport),
		ClientExpiryMultiplier: multiplier,
		RoutesFile:             p.GetValue(KeyRoutesFile, ""),
		AdminAddr:              p.GetValue(KeyAdminAddr, DefaultAdminAddr),
		AdminJWTSecret:         p.GetValue(KeyAdminJWTSecret, ""),
		LogFormat:              p.GetValue(KeyLogFormat, "text"),
		LogLevel:               p.GetValue(KeyLogLevel, "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// BrokerAddr is the host:port of the message broker.
func (c *Config) BrokerAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ClientExpiry is how long the authority waits without a heartbeat before
// evicting a client.
func (c *Config) ClientExpiry() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.ClientExpiryMultiplier)
}

func intValue(p Provider, key string, def int) (int, error) {
	raw := p.GetValue(key, strconv.Itoa(def))
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, raw)
	}
	return v, nil
}
