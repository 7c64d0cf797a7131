package config

import (
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/LLM-Dev-Ops/auto-optimizer/errors"
)

// Update represents a configuration change notification
type Update struct {
	Path   string      // Changed section (e.g., "supervisor", "optimizer")
	Config *SafeConfig // Full latest configuration
}

// Manager provides centralized configuration management with channel-based
// update notifications. Reload re-reads the config file (the lifecycle
// coordinator calls it on SIGHUP) and notifies subscribers whose patterns
// match the changed sections.
type Manager struct {
	path   string
	loader *Loader
	config *SafeConfig
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[string][]chan Update
}

// NewManager creates a configuration manager around an already-loaded config
func NewManager(path string, cfg *Config, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.ErrMissingConfig
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		path:        path,
		loader:      NewLoader(),
		config:      NewSafeConfig(cfg),
		logger:      logger,
		subscribers: make(map[string][]chan Update),
	}, nil
}

// GetConfig returns the current configuration wrapper
func (cm *Manager) GetConfig() *SafeConfig {
	return cm.config
}

// OnChange subscribes to configuration changes matching the pattern.
// Pattern examples:
//   - "supervisor" - exact section match
//   - "*" - all sections
//   - "nats*" - sections starting with nats
//
// The returned channel is buffered and receives the current config
// immediately.
func (cm *Manager) OnChange(pattern string) <-chan Update {
	ch := make(chan Update, 1)

	cm.mu.Lock()
	cm.subscribers[pattern] = append(cm.subscribers[pattern], ch)
	cm.mu.Unlock()

	select {
	case ch <- Update{Path: pattern, Config: cm.config}:
	default:
	}

	return ch
}

// Reload re-reads the config file, swaps it in if valid, and notifies
// subscribers of changed sections. An invalid file leaves the running
// config untouched.
func (cm *Manager) Reload() error {
	if cm.path == "" {
		cm.logger.Debug("config reload requested but no config file configured")
		return nil
	}

	next, err := cm.loader.LoadFile(cm.path)
	if err != nil {
		cm.logger.Error("config reload failed, keeping current config",
			"path", cm.path, "error", err)
		return errors.Wrap(err, "Manager", "Reload", "load config file")
	}

	current := cm.config.Get()
	changed := diffSections(current, next)
	if len(changed) == 0 {
		cm.logger.Debug("config reload found no changes", "path", cm.path)
		return nil
	}

	if err := cm.config.Update(next); err != nil {
		return errors.Wrap(err, "Manager", "Reload", "apply config")
	}

	cm.logger.Info("configuration reloaded", "path", cm.path, "changed", changed)
	for _, section := range changed {
		cm.notify(section)
	}
	return nil
}

// notify delivers an update to all subscribers matching the section
func (cm *Manager) notify(section string) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for pattern, channels := range cm.subscribers {
		if !matchesPattern(section, pattern) {
			continue
		}
		for _, ch := range channels {
			select {
			case ch <- Update{Path: section, Config: cm.config}:
			default:
				// Subscriber is not keeping up; drop rather than block reload.
			}
		}
	}
}

// diffSections returns the names of top-level sections that differ
func diffSections(a, b *Config) []string {
	var changed []string
	if !reflect.DeepEqual(a.Platform, b.Platform) {
		changed = append(changed, "platform")
	}
	if !reflect.DeepEqual(a.NATS, b.NATS) {
		changed = append(changed, "nats")
	}
	if !reflect.DeepEqual(a.Supervisor, b.Supervisor) {
		changed = append(changed, "supervisor")
	}
	if !reflect.DeepEqual(a.Optimizer, b.Optimizer) {
		changed = append(changed, "optimizer")
	}
	if !reflect.DeepEqual(a.API, b.API) {
		changed = append(changed, "api")
	}
	if !reflect.DeepEqual(a.Integration, b.Integration) {
		changed = append(changed, "integration")
	}
	return changed
}

// matchesPattern checks a section name against a subscription pattern
func matchesPattern(section, pattern string) bool {
	if pattern == section || pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(section, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
