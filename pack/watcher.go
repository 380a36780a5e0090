package pack

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last file event before a
// reload.
const DefaultDebounce = 200 * time.Millisecond

// ErrWatcherRunning is returned by Watch when the watcher already runs.
var ErrWatcherRunning = errors.New("watcher already running")

// Watcher reloads a pack when its files change. Bursts of events trigger a
// single reload once DefaultDebounce (or the configured interval) passed
// without events.
type Watcher struct {
	path     string
	only     string
	interval time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	timer   *time.Timer
	pending sync.WaitGroup
	stopped bool
}

// NewWatcher watches the pack file or directory at path.
func NewWatcher(path string, interval time.Duration, logger *slog.Logger) (*Watcher, error) {
	if interval <= 0 {
		interval = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default().With("component", "pack.watcher")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{path: path, interval: interval, watcher: fw, logger: logger}, nil
}

// Watch blocks until ctx is done, calling onChange after every burst of
// changes to pack files. It closes the watcher on return.
func (w *Watcher) Watch(ctx context.Context, onChange func()) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrWatcherRunning
	}
	w.running = true
	w.mu.Unlock()

	defer w.shutdown()

	if err := w.add(w.path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	w.logger.Info("pack watcher started", "path", w.path, "debounce_ms", w.interval.Milliseconds())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("pack watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if event.Has(fsnotify.Create) && w.only == "" {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.add(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
					continue
				}
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("pack file event", "path", event.Name, "op", event.Op.String())
			w.trigger(onChange)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.logger.Error("pack watcher error", "error", err)
		}
	}
}

// trigger (re)arms the debounce timer.
func (w *Watcher) trigger(onChange func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if w.timer != nil && w.timer.Stop() {
		w.pending.Done()
	}
	w.pending.Add(1)
	w.timer = time.AfterFunc(w.interval, func() {
		defer w.pending.Done()
		onChange()
	})
}

// shutdown cancels a pending reload, waits for a running one and closes
// the fsnotify watcher.
func (w *Watcher) shutdown() {
	w.mu.Lock()
	w.stopped = true
	if w.timer != nil && w.timer.Stop() {
		w.pending.Done()
	}
	w.mu.Unlock()

	w.pending.Wait()
	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("failed to close watcher", "error", err)
	}
}

// add watches path, and every directory below it when it is a directory.
func (w *Watcher) add(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		// Editors replace files; watching the parent keeps the watch alive.
		w.only = filepath.Clean(path)
		return w.watcher.Add(filepath.Dir(path))
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != path && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(p)
	})
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if w.only != "" {
		return filepath.Clean(event.Name) == w.only
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return false
	}
	return HasExtension(event.Name)
}

// Live holds the runtime built from the current pack content.
type Live struct {
	path    string
	opts    []Option
	logger  *slog.Logger
	current atomic.Pointer[Runtime]
	reloads atomic.Int64
}

// NewLive loads and builds the pack at path.
func NewLive(path string, logger *slog.Logger, opts ...Option) (*Live, error) {
	if logger == nil {
		logger = slog.Default().With("component", "pack")
	}
	l := &Live{path: path, opts: opts, logger: logger}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Runtime returns the current runtime.
func (l *Live) Runtime() *Runtime { return l.current.Load() }

// Reloads counts successful reloads after the first load.
func (l *Live) Reloads() int64 { return l.reloads.Load() }

// Reload rebuilds the runtime from disk. On failure the current runtime
// keeps serving.
func (l *Live) Reload() error {
	p, err := Load(l.path)
	if err != nil {
		return err
	}
	rt, err := Build(p, l.opts...)
	if err != nil {
		return err
	}
	if l.current.Swap(rt) != nil {
		l.reloads.Add(1)
	}
	l.logger.Info("pack loaded", "path", l.path, "rules", len(p.Rules), "products", len(p.Products))
	return nil
}

// Watch reloads the pack on change until ctx is done.
func (l *Live) Watch(ctx context.Context, interval time.Duration) error {
	w, err := NewWatcher(l.path, interval, l.logger)
	if err != nil {
		return err
	}
	return w.Watch(ctx, func() {
		if err := l.Reload(); err != nil {
			l.logger.Error("pack reload failed, keeping previous version", "error", err)
		}
	})
}
