package health

import (
	"fmt"
	"sync"
	"time"
)

// Default thresholds, overridable via the option setters below.
const (
	DefaultFailureThreshold    = 3
	DefaultMaxRecoveryAttempts = 3
)

// Monitor tracks per-service health records and answers the aggregate
// "how healthy is the system" question. It holds no lifecycle control:
// reporting surfaces can read it without touching any lock the recovery
// loop uses for lifecycle work.
type Monitor struct {
	mu                  sync.RWMutex
	services            map[string]*ServiceHealth
	failureThreshold    int
	maxRecoveryAttempts int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithFailureThreshold sets the consecutive-failure count at which a service
// makes the system unhealthy.
func WithFailureThreshold(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.failureThreshold = n
		}
	}
}

// WithMaxRecoveryAttempts sets the recovery-attempt ceiling used by
// NeedsRecovery.
func WithMaxRecoveryAttempts(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.maxRecoveryAttempts = n
		}
	}
}

// NewMonitor creates a health monitor with default thresholds.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		services:            make(map[string]*ServiceHealth),
		failureThreshold:    DefaultFailureThreshold,
		maxRecoveryAttempts: DefaultMaxRecoveryAttempts,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterService seeds a zeroed record for name. Registering an existing
// name is a no-op so a service restart does not reset failure history.
func (m *Monitor) RegisterService(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.services[name]; exists {
		return
	}
	m.services[name] = &ServiceHealth{
		Name:         name,
		State:        "initializing",
		RegisteredAt: time.Now(),
	}
}

// UpdateServiceHealth records one check result for name. A healthy result
// resets the consecutive-failure count; an unhealthy one increments it and
// the monotonic total.
func (m *Monitor) UpdateServiceHealth(name, state string, result CheckResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sh, exists := m.services[name]
	if !exists {
		return fmt.Errorf("service %s not registered", name)
	}

	sh.State = state
	resultCopy := result
	sh.LastCheck = &resultCopy
	sh.LastCheckTime = time.Now()

	if result.Healthy {
		sh.ConsecutiveFailures = 0
	} else {
		sh.ConsecutiveFailures++
		sh.TotalFailures++
	}
	return nil
}

// GetServiceHealth returns a copy of one service's record.
func (m *Monitor) GetServiceHealth(name string) (ServiceHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sh, exists := m.services[name]
	if !exists {
		return ServiceHealth{}, false
	}
	return *sh, true
}

// GetAll returns a copy of every record, keyed by service name.
func (m *Monitor) GetAll() map[string]ServiceHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]ServiceHealth, len(m.services))
	for name, sh := range m.services {
		result[name] = *sh
	}
	return result
}

// GetSystemHealth computes the aggregate verdict on demand: unhealthy if any
// service has reached the failure threshold, degraded if any service has a
// nonzero consecutive-failure count, healthy otherwise.
func (m *Monitor) GetSystemHealth() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	verdict := SystemHealthy
	for _, sh := range m.services {
		if sh.ConsecutiveFailures >= m.failureThreshold {
			return SystemUnhealthy
		}
		if sh.ConsecutiveFailures > 0 {
			verdict = SystemDegraded
		}
	}
	return verdict
}

// NeedsRecovery reports whether name has reached the failure threshold but
// not yet exhausted the recovery-attempt ceiling.
func (m *Monitor) NeedsRecovery(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sh, exists := m.services[name]
	if !exists {
		return false
	}
	return sh.ConsecutiveFailures >= m.failureThreshold &&
		sh.ConsecutiveFailures < m.failureThreshold+m.maxRecoveryAttempts
}

// MarkRecovered resets the consecutive-failure count for name after a
// successful recovery. Total failures stay monotonic.
func (m *Monitor) MarkRecovered(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sh, exists := m.services[name]; exists {
		sh.ConsecutiveFailures = 0
	}
}

// Count returns the number of registered services.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.services)
}
