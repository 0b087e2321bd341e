// internal/config/watch.go
package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceDelay coalesces the burst of events editors emit on save.
const debounceDelay = 200 * time.Millisecond

// Watcher reloads the config file when it changes on disk. A rewrite that
// fails to parse or validate is rejected and the running config stays in
// effect.
type Watcher struct {
	logger   *zap.Logger
	path     string
	fsw      *fsnotify.Watcher
	onChange func(*Config)

	mu      sync.Mutex
	timer   *time.Timer
	running bool
	done    chan struct{}
}

// NewWatcher creates a watcher for the config file at path. onChange is
// called with each successfully reloaded config.
func NewWatcher(path string, onChange func(*Config), logger *zap.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path required")
	}
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		logger:   logger,
		path:     filepath.Clean(path),
		fsw:      fsw,
		onChange: onChange,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Watching the parent directory as well catches
// editors that replace the file instead of writing it in place.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already started")
	}

	if err := w.fsw.Add(w.path); err != nil {
		return fmt.Errorf("watching %s: %w", w.path, err)
	}
	if err := w.fsw.Add(filepath.Dir(w.path)); err != nil {
		w.logger.Warn("watching config directory failed",
			zap.String("dir", filepath.Dir(w.path)),
			zap.Error(err))
	}

	w.running = true
	go w.loop()

	w.logger.Info("config watcher started", zap.String("path", w.path))
	return nil
}

// Stop ends watching and cancels any pending reload.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.done)
	if w.timer != nil {
		w.timer.Stop()
	}
	if err := w.fsw.Close(); err != nil {
		w.logger.Warn("closing fsnotify watcher", zap.Error(err))
	}
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				// The file was replaced, re-add the watch on the new inode.
				_ = w.fsw.Add(w.path)
			}
			w.scheduleReload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected, keeping current config",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}

	w.logger.Info("config reloaded", zap.String("path", w.path))
	w.onChange(cfg)
}
