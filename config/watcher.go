// Configuration file change watcher.
//
// Polls watched files and fires reload callbacks on modification, with
// debouncing so editors that write in multiple steps trigger one reload.
package config

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileEvent represents a file change event.
type FileEvent struct {
	// Path is the changed file path
	Path string `json:"path"`
	// ModTime is the new modification time
	ModTime time.Time `json:"mod_time"`
}

// FileWatcher watches configuration files for changes.
type FileWatcher struct {
	mu sync.RWMutex

	paths        []string
	pollInterval time.Duration
	debounce     time.Duration

	running  bool
	stopChan chan struct{}

	callbacks []func(event FileEvent)

	logger *zap.Logger

	lastModTimes map[string]time.Time
	lastFired    map[string]time.Time
}

// NewFileWatcher creates a watcher over the given paths.
func NewFileWatcher(paths []string, pollInterval time.Duration, logger *zap.Logger) *FileWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &FileWatcher{
		paths:        paths,
		pollInterval: pollInterval,
		debounce:     500 * time.Millisecond,
		logger:       logger.With(zap.String("component", "config_watcher")),
		lastModTimes: make(map[string]time.Time),
		lastFired:    make(map[string]time.Time),
	}
}

// OnChange registers a callback fired for every file change event.
func (w *FileWatcher) OnChange(cb func(event FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start begins watching. It returns immediately; watching stops when the
// context is cancelled or Stop is called.
func (w *FileWatcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopChan = make(chan struct{})
	for _, p := range w.paths {
		if info, err := os.Stat(p); err == nil {
			w.lastModTimes[p] = info.ModTime()
		}
	}
	w.mu.Unlock()

	go w.pollLoop(ctx)
}

// Stop stops watching.
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		close(w.stopChan)
		w.running = false
	}
}

func (w *FileWatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.poll()
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *FileWatcher) poll() {
	w.mu.Lock()
	var events []FileEvent
	now := time.Now()
	for _, p := range w.paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		last, seen := w.lastModTimes[p]
		if seen && !info.ModTime().After(last) {
			continue
		}
		w.lastModTimes[p] = info.ModTime()
		if !seen {
			continue
		}
		if fired, ok := w.lastFired[p]; ok && now.Sub(fired) < w.debounce {
			continue
		}
		w.lastFired[p] = now
		events = append(events, FileEvent{Path: p, ModTime: info.ModTime()})
	}
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for _, ev := range events {
		w.logger.Info("config file changed", zap.String("path", ev.Path))
		for _, cb := range callbacks {
			cb(ev)
		}
	}
}
