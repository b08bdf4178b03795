package config

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDecaySeconds applies when a client omits rate_limit_decay_seconds.
const defaultDecaySeconds = 60

// Manager handles configuration loading and hot-reload.
// It uses atomic pointer swaps to ensure thread-safe config updates, and is
// the per-process resolver handed to the compression, rate-limit, and cache
// services.
type Manager struct {
	config   atomic.Pointer[Config]
	path     string
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	logger   *slog.Logger
}

// NewManager creates a new configuration manager from a file.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		path:   path,
		logger: logger,
	}
	m.config.Store(cfg)

	return m, nil
}

// NewStatic wraps an already-built configuration. Used in library mode and
// in tests; Watch is a no-op for static managers.
func NewStatic(cfg *Config) *Manager {
	m := &Manager{logger: slog.Default()}
	m.config.Store(cfg)
	return m
}

// Get returns the current configuration.
// This is safe to call concurrently from multiple goroutines.
func (m *Manager) Get() *Config {
	return m.config.Load()
}

// Client returns the configuration for the named upstream client.
func (m *Manager) Client(name string) (ClientConfig, bool) {
	cfg, ok := m.Get().APICache.APIs[name]
	return cfg, ok
}

// CompressionEnabled reports whether stored bodies for the named client are
// compressed. The flag is consulted per call, not per row.
func (m *Manager) CompressionEnabled(name string) bool {
	cfg, ok := m.Client(name)
	return ok && cfg.CompressionEnabled
}

// RateLimitMaxAttempts returns the per-window credit ceiling for the client.
// The second return is false when the client is unlimited.
func (m *Manager) RateLimitMaxAttempts(name string) (int, bool) {
	cfg, ok := m.Client(name)
	if !ok || cfg.RateLimitMaxAttempts == nil {
		return 0, false
	}
	return *cfg.RateLimitMaxAttempts, true
}

// RateLimitDecay returns the window length for the client's credit bucket.
func (m *Manager) RateLimitDecay(name string) time.Duration {
	cfg, ok := m.Client(name)
	if !ok || cfg.RateLimitDecaySeconds <= 0 {
		return defaultDecaySeconds * time.Second
	}
	return time.Duration(cfg.RateLimitDecaySeconds) * time.Second
}

// OnChange registers a callback to be invoked when configuration changes.
func (m *Manager) OnChange(fn func(*Config)) {
	m.onChange = append(m.onChange, fn)
}

// Watch starts watching the configuration file for changes.
// It debounces rapid changes and reloads configuration atomically.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	if err := watcher.Add(m.path); err != nil {
		_ = watcher.Close()
		return err
	}

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	// Debounce timer to avoid rapid reloads
	const debounceDelay = 500 * time.Millisecond
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					m.reload()
				})
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

func (m *Manager) reload() {
	newCfg, err := LoadFromFile(m.path)
	if err != nil {
		m.logger.Error("failed to reload config, keeping current",
			"error", err,
		)
		return
	}

	// Atomic swap
	m.config.Store(newCfg)
	m.logger.Info("configuration reloaded successfully")

	for _, fn := range m.onChange {
		fn(newCfg)
	}
}

// Close stops the configuration watcher.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
