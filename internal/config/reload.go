package config

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the burst of events editors emit on save.
const debounceDelay = 300 * time.Millisecond

// Reloader watches the generator config file and reloads it on change so
// the watch command can regenerate the fixture file. Reloads are triggered
// by fsnotify events and, outside Windows, by SIGHUP.
type Reloader struct {
	mu        sync.RWMutex
	current   *Config
	path      string
	logger    *slog.Logger
	callbacks []func(*Config)
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewReloader creates a Reloader for the given config file path.
func NewReloader(path string, initial *Config, logger *slog.Logger) *Reloader {
	return &Reloader{
		current: initial,
		path:    path,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Current returns the active configuration (thread-safe).
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnReload registers a callback that is invoked with the new config
// after a successful reload.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Start begins watching the config file for changes and listening for
// SIGHUP (on Unix). Must be called once after NewReloader.
func (r *Reloader) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}

	if err := watcher.Add(r.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watching config file %s: %w", r.path, err)
	}
	r.watcher = watcher

	r.logger.Info("config file watcher started", "path", r.path)

	go r.watchLoop()
	r.registerSignalHandler()
	return nil
}

func (r *Reloader) registerSignalHandler() {
	if len(reloadSignals) == 0 {
		return
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, reloadSignals...)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case sig := <-sigCh:
				r.logger.Info("reload signal received", "signal", sig.String())
				r.Reload()
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the file watcher and signal handler. It is safe to call
// more than once.
func (r *Reloader) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		if r.watcher != nil {
			r.watcher.Close()
		}
	})
}

// Reload loads the config from disk, validates it, and if valid swaps it
// in and notifies all registered callbacks. An invalid file keeps the
// current config. Returns true if the reload succeeded.
func (r *Reloader) Reload() bool {
	r.logger.Info("reloading configuration", "path", r.path)

	newCfg, err := Load(r.path)
	if err != nil {
		r.logger.Error("config reload failed: invalid config, keeping current",
			"path", r.path, "error", err)
		return false
	}

	r.mu.Lock()
	old := r.current
	r.current = newCfg
	callbacks := make([]func(*Config), len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.logChanges(old, newCfg)

	for _, cb := range callbacks {
		cb(newCfg)
	}

	r.logger.Info("configuration reloaded successfully")
	return true
}

// watchLoop processes fsnotify events with debouncing. Editors that save by
// renaming a temp file over the config drop the watch, so it is re-added
// before reloading.
func (r *Reloader) watchLoop() {
	var debounce *time.Timer

	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			replaced := event.Op&(fsnotify.Rename|fsnotify.Remove) != 0
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				if replaced {
					if err := r.watcher.Add(r.path); err != nil {
						r.logger.Warn("config file not re-watched", "path", r.path, "error", err)
						return
					}
				}
				r.Reload()
			})
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("file watcher error", "error", err)
		case <-r.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

// logChanges logs a summary of what changed between the old and new config.
func (r *Reloader) logChanges(old, new *Config) {
	if old.Output.Path != new.Output.Path || old.Output.Records() != new.Output.Records() {
		r.logger.Info("output config changed",
			"old_path", old.Output.Path,
			"new_path", new.Output.Path,
			"old_count", old.Output.Records(),
			"new_count", new.Output.Records(),
		)
	}

	if old.Token.Mode != new.Token.Mode {
		r.logger.Info("token mode changed",
			"old", old.Token.Mode,
			"new", new.Token.Mode,
		)
	}

	if old.Token.UsernamePrefix != new.Token.UsernamePrefix {
		r.logger.Info("username prefix changed",
			"old", old.Token.UsernamePrefix,
			"new", new.Token.UsernamePrefix,
		)
	}
}
