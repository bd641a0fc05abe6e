package toposervice

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nfrund/topobus/internal/logging"
)

const defaultReloadDebounce = 200 * time.Millisecond

// FileWatcher calls onChange after the watched file is written, created or
// renamed into place. Bursts of events are collapsed into one call.
//
// The parent directory is watched rather than the file itself so that editors
// which replace the file atomically keep triggering reloads.
type FileWatcher struct {
	path     string
	debounce time.Duration
	onChange func()
	logger   *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileWatcher creates a watcher for path. A non-positive debounce selects the
// default.
func NewFileWatcher(path string, debounce time.Duration, onChange func(), logger *slog.Logger) *FileWatcher {
	if debounce <= 0 {
		debounce = defaultReloadDebounce
	}
	return &FileWatcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		onChange: onChange,
		logger:   logging.Component(logger, "route-watcher").With("path", path),
	}
}

// Start begins watching until ctx is cancelled or Stop is called.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		w.logger.Debug("Route file watcher already active")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file system watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	go w.watchFiles(ctx, watcher, w.done)

	w.logger.Debug("Started route file watcher")
	return nil
}

// Stop closes the watcher and waits for its goroutine to exit.
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	watcher, done := w.watcher, w.done
	w.watcher = nil
	w.mu.Unlock()

	if watcher == nil {
		return
	}
	watcher.Close()
	<-done
}

func (w *FileWatcher) watchFiles(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	defer w.logger.Info("Route file watcher stopped")

	// Nil until the first relevant event; a nil channel never fires.
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("Route file event", "event", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File system watcher error", "error", err)
		}
	}
}

func (w *FileWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}
