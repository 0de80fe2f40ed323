package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/shawkym/agentpipe-orchestrator/pkg/log"
)

// ChangeCallback is invoked when the watched configuration file changes. It
// receives the previously-active and newly-loaded configurations.
type ChangeCallback func(oldConfig, newConfig *Config)

// Watcher watches a configuration file for changes and hot-reloads it,
// notifying registered callbacks. It exists to let the HITL risk threshold
// table and circuit breaker tuning change without restarting the
// orchestrator.
type Watcher struct {
	mu              sync.RWMutex
	config          *Config
	configPath      string
	viper           *viper.Viper
	callbacks       []ChangeCallback
	stopChan        chan struct{}
	reloadInProcess bool
}

// NewWatcher loads the initial configuration and prepares a Watcher for it.
func NewWatcher(configPath string) (*Watcher, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config with viper: %w", err)
	}

	w := &Watcher{
		config:     config,
		configPath: configPath,
		viper:      v,
		stopChan:   make(chan struct{}),
	}

	log.WithField("config_path", configPath).Info("config watcher initialized")

	return w, nil
}

// Config returns the currently active configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// OnChange registers a callback invoked whenever the file reloads
// successfully. Each callback runs in its own goroutine, so the order in
// which callbacks run is not defined.
func (w *Watcher) OnChange(cb ChangeCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start begins monitoring the configuration file for changes. It blocks
// until Stop is called, so callers typically run it in a goroutine.
func (w *Watcher) Start() {
	w.viper.OnConfigChange(w.handleChange)
	w.viper.WatchConfig()

	log.WithField("config_path", w.configPath).Info("started watching config file for changes")

	<-w.stopChan
}

// Stop unblocks Start. The underlying viper file watch is not stopped, so
// later changes to the file are still reloaded and passed to callbacks.
func (w *Watcher) Stop() {
	close(w.stopChan)
	log.Info("stopped watching config file")
}

func (w *Watcher) handleChange(e fsnotify.Event) {
	w.mu.Lock()
	if w.reloadInProcess {
		w.mu.Unlock()
		return
	}
	w.reloadInProcess = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.reloadInProcess = false
		w.mu.Unlock()
	}()

	log.WithFields(map[string]interface{}{
		"event":       e.Op.String(),
		"config_path": e.Name,
	}).Info("config file change detected")

	newConfig, err := LoadConfig(w.configPath)
	if err != nil {
		log.WithError(err).WithField("config_path", w.configPath).Error("failed to reload config")
		return
	}

	w.mu.Lock()
	oldConfig := w.config
	w.config = newConfig
	callbacks := w.callbacks
	w.mu.Unlock()

	log.WithFields(map[string]interface{}{
		"config_path":      w.configPath,
		"agents":           len(newConfig.Agents),
		"max_group_turns":  newConfig.Orchestrator.MaxGroupTurns,
		"hitl_thresholds":  len(newConfig.HITL.Thresholds),
		"breaker_failures": newConfig.CircuitBreaker.FailureThreshold,
	}).Info("config reloaded successfully")

	for _, cb := range callbacks {
		go func(cb ChangeCallback) {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("panic", r).Error("config change callback panicked")
				}
			}()
			cb(oldConfig, newConfig)
		}(cb)
	}
}
