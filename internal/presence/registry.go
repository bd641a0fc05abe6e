// Package presence tracks which clients are registered with the topology
// authority and when each was last heard from.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nfrund/topobus/internal/logging"
)

const (
	// DefaultHeartbeatInterval is the client heartbeat period the authority expects.
	DefaultHeartbeatInterval = 30 * time.Second

	// StaleThresholdMultiplier determines how many missed heartbeats to tolerate before a client is evicted.
	StaleThresholdMultiplier = 3

	// DefaultStaleThreshold is the default age after which a client is considered gone.
	DefaultStaleThreshold = DefaultHeartbeatInterval * StaleThresholdMultiplier
)

// ClientRecord is the authority's view of one client.
type ClientRecord struct {
	Name          string    `json:"name"`
	RegisteredAt  time.Time `json:"registered_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// ClientRegistry holds client records keyed by name. It is safe for concurrent use.
type ClientRegistry struct {
	mu             sync.RWMutex
	clients        map[string]ClientRecord
	staleThreshold time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// Option is a function that configures a ClientRegistry.
type Option func(*ClientRegistry)

// WithStaleThreshold sets how old a heartbeat may get before Sweep evicts the client.
func WithStaleThreshold(d time.Duration) Option {
	return func(r *ClientRegistry) {
		r.staleThreshold = d
	}
}

// WithClock replaces the time source (for tests).
func WithClock(now func() time.Time) Option {
	return func(r *ClientRegistry) {
		r.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *ClientRegistry) {
		r.logger = logger
	}
}

// Now returns the current time in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry(opts ...Option) *ClientRegistry {
	r := &ClientRegistry{
		clients:        make(map[string]ClientRecord),
		staleThreshold: DefaultStaleThreshold,
		now:            Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.Component(r.logger, "client-registry")
	return r
}

// StaleThreshold returns the eviction age.
func (r *ClientRegistry) StaleThreshold() time.Duration {
	return r.staleThreshold
}

// Register creates or overwrites the record for name. It reports whether the
// client was previously unknown.
func (r *ClientRegistry) Register(name string) (ClientRecord, bool) {
	now := r.now()
	record := ClientRecord{Name: name, RegisteredAt: now, LastHeartbeat: now}

	r.mu.Lock()
	_, existed := r.clients[name]
	r.clients[name] = record
	total := len(r.clients)
	r.mu.Unlock()

	if existed {
		r.logger.Info("Client re-registered", "client", name)
	} else {
		r.logger.Info("Client registered", "client", name, "clients", total)
	}
	return record, !existed
}

// Unregister removes the record for name and reports whether it existed.
func (r *ClientRegistry) Unregister(name string) bool {
	r.mu.Lock()
	_, existed := r.clients[name]
	delete(r.clients, name)
	total := len(r.clients)
	r.mu.Unlock()

	if existed {
		r.logger.Info("Client unregistered", "client", name, "clients", total)
	} else {
		r.logger.Debug("Unregister for unknown client", "client", name)
	}
	return existed
}

// Heartbeat refreshes the last heartbeat of a registered client. Heartbeats from
// unknown clients are ignored so a late heartbeat cannot resurrect a client that
// already unregistered.
func (r *ClientRegistry) Heartbeat(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.clients[name]
	if !ok {
		r.logger.Debug("Heartbeat from unregistered client", "client", name)
		return false
	}
	record.LastHeartbeat = r.now()
	r.clients[name] = record
	return true
}

// Sweep evicts clients whose last heartbeat is older than the stale threshold and
// returns their names in sorted order.
func (r *ClientRegistry) Sweep() []string {
	cutoff := r.now().Add(-r.staleThreshold)

	r.mu.Lock()
	var evicted []string
	for name, record := range r.clients {
		if record.LastHeartbeat.Before(cutoff) {
			delete(r.clients, name)
			evicted = append(evicted, name)
		}
	}
	remaining := len(r.clients)
	r.mu.Unlock()

	if len(evicted) == 0 {
		return nil
	}
	sort.Strings(evicted)
	r.logger.Info("Evicted stale clients", "evicted", evicted, "remaining", remaining, "threshold", r.staleThreshold)
	return evicted
}

// Get returns the record for name.
func (r *ClientRegistry) Get(name string) (ClientRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.clients[name]
	return record, ok
}

// List returns all records sorted by name.
func (r *ClientRegistry) List() []ClientRecord {
	r.mu.RLock()
	records := make([]ClientRecord, 0, len(r.clients))
	for _, record := range r.clients {
		records = append(records, record)
	}
	r.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records
}

// Len returns the number of registered clients.
func (r *ClientRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
