package service

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ConfigWatcher monitors a JSON config file and hot-reloads AgentLoopConfig
// when the file changes. Safe for concurrent reads from the AgentLoop.
//
// The watch is placed on the parent directory, not the file itself:
// editors and config managers typically replace the file atomically
// (write tmp + rename), which drops an inode-level watch.
//
// Usage:
//
//	watcher := NewConfigWatcher("/etc/opsagent/agent.json", logger)
//	go watcher.Start()
//	defer watcher.Stop()
//	config := watcher.Config() // Always returns latest
type ConfigWatcher struct {
	path    string
	mu      sync.RWMutex
	config  AgentLoopConfig
	stopCh  chan struct{}
	logger  *zap.Logger
	// debounce window for editors that emit write bursts
	debounce time.Duration
}

// NewConfigWatcher creates a config file watcher.
// If the file doesn't exist or can't be parsed, defaults are used.
func NewConfigWatcher(path string, logger *zap.Logger) *ConfigWatcher {
	w := &ConfigWatcher{
		path:     path,
		config:   DefaultAgentLoopConfig(),
		stopCh:   make(chan struct{}),
		debounce: 200 * time.Millisecond,
		logger:   logger.With(zap.String("component", "config-watcher")),
	}

	// Try initial load
	if err := w.reload(); err != nil {
		w.logger.Warn("Initial config load failed, using defaults",
			zap.String("path", path),
			zap.Error(err),
		)
	}

	return w
}

// Config returns the current config (thread-safe).
func (w *ConfigWatcher) Config() AgentLoopConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start watches the config file for changes.
// Blocks until Stop() is called.
func (w *ConfigWatcher) Start() {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("Failed to create fsnotify watcher, hot reload disabled", zap.Error(err))
		<-w.stopCh
		return
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		w.logger.Error("Failed to watch config directory, hot reload disabled",
			zap.String("dir", dir),
			zap.Error(err),
		)
		<-w.stopCh
		return
	}

	w.logger.Info("Config watcher started",
		zap.String("path", w.path),
	)

	var timer *time.Timer
	reloadCh := make(chan struct{}, 1)

	for {
		select {
		case <-w.stopCh:
			w.logger.Info("Config watcher stopped")
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Debounce: coalesce the write burst into one reload
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reloadCh <- struct{}{}:
				default:
				}
			})

		case <-reloadCh:
			if err := w.reload(); err != nil {
				w.logger.Warn("Config reload failed", zap.Error(err))
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

// Stop signals the watcher to stop.
func (w *ConfigWatcher) Stop() {
	close(w.stopCh)
}

// reload reads and applies the config file.
func (w *ConfigWatcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}

	// Start from defaults, then overlay file values
	newConfig := DefaultAgentLoopConfig()
	if err := json.Unmarshal(data, &newConfig); err != nil {
		return err
	}

	w.mu.Lock()
	w.config = newConfig
	w.mu.Unlock()

	w.logger.Info("Config reloaded",
		zap.String("path", w.path),
		zap.String("model", newConfig.Model),
	)

	return nil
}

// SetDebounce changes the reload debounce window (for testing).
func (w *ConfigWatcher) SetDebounce(d time.Duration) {
	w.debounce = d
}
