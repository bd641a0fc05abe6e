package toposervice

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/topobus/internal/topology"
)

func newTestAuthority(t *testing.T, cfg AuthorityConfig) (*Authority, *fakeBus) {
	t.Helper()
	bus := newFakeBus()
	a := NewAuthority(bus, cfg)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop() })
	return a, bus
}

func TestAuthority_StartLoadsRouteFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "routes.yaml", []byte(validRouteFile), 0o644))

	a, bus := newTestAuthority(t, AuthorityConfig{RoutesFile: "routes.yaml", Fs: fs, SweepInterval: time.Hour})

	reg := a.Registry()
	assert.Equal(t, int64(0), reg.Version())
	assert.True(t, reg.HasEventRoute("order.created"))
	assert.True(t, reg.HasEventSetRoutes("order-lifecycle"))
	assert.Equal(t, 2, bus.subscribers())
	assert.Empty(t, bus.broadcasts())
}

func TestAuthority_StartFailsOnInvalidRouteFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "routes.yaml", []byte("event_routes:\n  x: {}\n"), 0o644))

	bus := newFakeBus()
	a := NewAuthority(bus, AuthorityConfig{RoutesFile: "routes.yaml", Fs: fs})

	assert.Error(t, a.Start(context.Background()))
	assert.Equal(t, 0, bus.subscribers())
}

func TestAuthority_SweepEvictsAndBroadcasts(t *testing.T) {
	clock := newFakeClock()
	a, bus := newTestAuthority(t, AuthorityConfig{
		HeartbeatInterval: 10 * time.Second,
		SweepInterval:     time.Hour,
		Clock:             clock.Now,
	})
	ctx := context.Background()

	bus.deliver(ctx, &topology.RegisterClient{ClientName: "a"})
	clock.Advance(20 * time.Second)
	bus.deliver(ctx, &topology.RegisterClient{ClientName: "b"})
	require.Len(t, bus.broadcasts(), 2)

	clock.Advance(10 * time.Second)
	assert.Empty(t, a.Sweep(ctx), "30s without a heartbeat is within three intervals")

	clock.Advance(time.Second)
	assert.Equal(t, []string{"a"}, a.Sweep(ctx))

	broadcasts := bus.broadcasts()
	require.Len(t, broadcasts, 3)
	assert.Equal(t, int64(3), broadcasts[2].Version())

	clients := a.Clients()
	require.Len(t, clients, 1)
	assert.Equal(t, "b", clients[0].Name)

	assert.Empty(t, a.Sweep(ctx))
	assert.Len(t, bus.broadcasts(), 3)
}

func TestAuthority_HeartbeatKeepsClientAlive(t *testing.T) {
	clock := newFakeClock()
	a, bus := newTestAuthority(t, AuthorityConfig{HeartbeatInterval: 10 * time.Second, SweepInterval: time.Hour, Clock: clock.Now})
	ctx := context.Background()

	bus.deliver(ctx, &topology.RegisterClient{ClientName: "a"})
	for i := 0; i < 10; i++ {
		clock.Advance(10 * time.Second)
		bus.deliver(ctx, &topology.HeartBeat{ClientName: "a"})
		assert.Empty(t, a.Sweep(ctx))
	}
	assert.Len(t, a.Clients(), 1)
}

func TestAuthority_ScheduledSweep(t *testing.T) {
	clock := newFakeClock()
	a, bus := newTestAuthority(t, AuthorityConfig{
		HeartbeatInterval: time.Second,
		SweepInterval:     10 * time.Millisecond,
		Clock:             clock.Now,
	})

	bus.deliver(context.Background(), &topology.RegisterClient{ClientName: "a"})
	clock.Advance(time.Minute)

	assert.Eventually(t, func() bool { return len(a.Clients()) == 0 }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(bus.broadcasts()) == 2 }, time.Second, 10*time.Millisecond)
}

func TestAuthority_Reload(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "routes.yaml", []byte(validRouteFile), 0o644))
	a, bus := newTestAuthority(t, AuthorityConfig{RoutesFile: "routes.yaml", Fs: fs, SweepInterval: time.Hour})
	ctx := context.Background()

	require.NoError(t, afero.WriteFile(fs, "routes.yaml", []byte("event_routes:\n  order.created: {exchange: orders2, routing_key: order.created}\n"), 0o644))
	require.NoError(t, a.Reload(ctx))

	reg := a.Registry()
	assert.Equal(t, int64(1), reg.Version())
	route, _ := reg.GetEventRoute("order.created")
	assert.Equal(t, "orders2", route.Exchange)
	assert.False(t, reg.HasEventRoute("order.shipped"))
	require.Len(t, bus.broadcasts(), 1)

	require.NoError(t, afero.WriteFile(fs, "routes.yaml", []byte("event_routes: ["), 0o644))
	assert.Error(t, a.Reload(ctx))
	assert.Equal(t, int64(1), a.Registry().Version(), "invalid files keep the current routes")
	assert.Len(t, bus.broadcasts(), 1)
}

func TestAuthority_WatchRoutes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validRouteFile), 0o644))

	a, bus := newTestAuthority(t, AuthorityConfig{RoutesFile: path, WatchRoutes: true, SweepInterval: time.Hour})

	require.NoError(t, os.WriteFile(path, []byte("event_routes:\n  order.paid: {exchange: payments, routing_key: order.paid}\n"), 0o644))

	assert.Eventually(t, func() bool { return a.Registry().HasEventRoute("order.paid") }, 3*time.Second, 20*time.Millisecond)
	assert.NotEmpty(t, bus.broadcasts())
}

func TestAuthority_StopIsIdempotent(t *testing.T) {
	bus := newFakeBus()
	a := NewAuthority(bus, AuthorityConfig{SweepInterval: time.Hour})

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, 2, bus.subscribers())

	require.NoError(t, a.Stop())
	assert.Equal(t, 0, bus.subscribers())
	assert.NoError(t, a.Shutdown())
}
