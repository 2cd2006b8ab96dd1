// Hot reloading of tunables (TTLs, retry budgets) in development. Production
// configuration is immutable for the process lifetime.
package config

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher re-reads the configuration file when it changes and invokes the
// registered callbacks with the new configuration.
type Watcher struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	logger  *zap.Logger
}

// NewWatcher creates a watcher over the file named by KIRO2_CONFIG_FILE.
// Outside development, or with no config file set, the watcher is inert.
func NewWatcher(initial *Config, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{
		config: initial,
		stopCh: make(chan struct{}),
		logger: logger.Named("config_watcher"),
	}

	path := os.Getenv("KIRO2_CONFIG_FILE")
	if initial.Environment != Development || path == "" {
		w.logger.Info("configuration hot reloading disabled",
			zap.String("environment", string(initial.Environment)),
		)
		return w, nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(path); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	w.watcher = fsWatcher

	go w.watchLoop(path)

	w.logger.Info("configuration hot reloading enabled", zap.String("file", path))
	return w, nil
}

// OnReload registers a callback invoked with each successfully reloaded
// configuration.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	close(w.stopCh)
	if w.watcher != nil {
		w.watcher.Close()
	}
}

func (w *Watcher) watchLoop(path string) {
	// Editors fire bursts of write events on save; coalesce them.
	var reloadTimer *time.Timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(200*time.Millisecond, func() {
				w.reload(path)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload(path string) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		w.logger.Warn("config reload failed, keeping current configuration", zap.Error(err))
		return
	}
	cfg.loadEnv()
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("reloaded config failed validation, keeping current configuration", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.config = cfg
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}

	w.logger.Info("configuration reloaded", zap.String("file", path))
}
