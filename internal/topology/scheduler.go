package topology

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nfrund/topobus/internal/logging"
)

// DefaultStopGrace bounds how long Stop waits for an in-flight run.
const DefaultStopGrace = 2 * time.Second

// Scheduler runs a task periodically on its own goroutine. The first run happens
// one interval after Start. Runs never overlap: a slow run delays the next one
// and missed ticks are dropped rather than queued.
type Scheduler struct {
	name     string
	interval time.Duration
	grace    time.Duration
	task     func(ctx context.Context)
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a stopped scheduler. interval must be positive.
func NewScheduler(name string, interval time.Duration, task func(ctx context.Context), logger *slog.Logger) *Scheduler {
	return &Scheduler{
		name:     name,
		interval: interval,
		grace:    DefaultStopGrace,
		task:     task,
		logger:   logging.Component(logger, "scheduler").With("task", name),
	}
}

// WithGrace overrides the stop grace period and returns the scheduler.
func (s *Scheduler) WithGrace(grace time.Duration) *Scheduler {
	s.grace = grace
	return s
}

// Start launches the loop. Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	s.logger.Debug("Scheduler started", "interval", s.interval)
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Stop cancels future runs and waits up to the grace period for an in-flight
// run to finish. It returns false when the grace period expired first. Stop is
// idempotent.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return true
	}
	cancel()

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case <-done:
		s.logger.Debug("Scheduler stopped")
		return true
	case <-timer.C:
		s.logger.Warn("Scheduler run still in flight after grace period", "grace", s.grace)
		return false
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick and a cancel can be ready together; cancel wins.
			if ctx.Err() != nil {
				return
			}
			s.run(ctx)
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	s.task(ctx)
}
