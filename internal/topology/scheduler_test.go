package topology

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_FirstRunAfterInterval(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler("test", 60*time.Millisecond, func(context.Context) { runs.Add(1) }, nil)
	s.Start()
	defer s.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, runs.Load(), "no run before the first interval")

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_RunsDoNotOverlap(t *testing.T) {
	var active, maxActive, runs atomic.Int32
	s := NewScheduler("slow", 10*time.Millisecond, func(context.Context) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(35 * time.Millisecond)
		active.Add(-1)
		runs.Add(1)
	}, nil)
	s.Start()

	time.Sleep(200 * time.Millisecond)
	require.True(t, s.Stop())

	assert.Equal(t, int32(1), maxActive.Load())
	// A 35ms task on a 10ms period cannot run more than once per 35ms.
	assert.LessOrEqual(t, runs.Load(), int32(200/35+1))
}

func TestScheduler_PanicDoesNotStopLoop(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler("panicky", 10*time.Millisecond, func(context.Context) {
		runs.Add(1)
		panic("tick failed")
	}, nil)
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_StopIsSynchronousAndIdempotent(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler("stop", 10*time.Millisecond, func(context.Context) { runs.Add(1) }, nil)
	s.Start()
	s.Start()
	assert.True(t, s.Running())

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.Stop())
	assert.False(t, s.Running())
	assert.True(t, s.Stop())

	after := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no run after Stop returned")
}

func TestScheduler_StopGraceBoundsWait(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	s := NewScheduler("stuck", 5*time.Millisecond, func(context.Context) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}, nil).WithGrace(30 * time.Millisecond)
	s.Start()
	defer close(release)

	<-started
	begin := time.Now()
	assert.False(t, s.Stop())
	assert.Less(t, time.Since(begin), 500*time.Millisecond)
}

func TestScheduler_TaskSeesCancellation(t *testing.T) {
	canceled := make(chan struct{}, 1)
	s := NewScheduler("ctx", 5*time.Millisecond, func(ctx context.Context) {
		<-ctx.Done()
		select {
		case canceled <- struct{}{}:
		default:
		}
	}, nil)
	s.Start()

	time.Sleep(20 * time.Millisecond)
	assert.True(t, s.Stop())
	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("task context was not canceled")
	}
}
