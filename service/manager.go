package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LLM-Dev-Ops/auto-optimizer/config"
	"github.com/LLM-Dev-Ops/auto-optimizer/errors"
	"github.com/LLM-Dev-Ops/auto-optimizer/health"
	"github.com/LLM-Dev-Ops/auto-optimizer/metric"
	"github.com/LLM-Dev-Ops/auto-optimizer/pkg/retry"
)

// Manager supervises registered services: it starts them in dependency
// order, stops them in reverse, and runs the periodic health-and-recovery
// loop. A single health record per service feeds both the aggregate health
// report and the recovery bookkeeping.
type Manager struct {
	cfg     config.SupervisorConfig
	logger  *slog.Logger
	metrics *metric.MetricsRegistry
	monitor *health.Monitor
	backoff retry.Config

	mu        sync.RWMutex
	services  map[string]Service
	order     []string // resolved start order, valid after StartAll
	started   bool
	startedAt time.Time

	recoveryAttempts map[string]int
	recovering       map[string]bool
	recoveryWG       sync.WaitGroup
}

// ManagerOption is a functional option for configuring the Manager
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager's logger
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerMetrics sets the manager's metrics registry
func WithManagerMetrics(registry *metric.MetricsRegistry) ManagerOption {
	return func(m *Manager) {
		m.metrics = registry
	}
}

// NewManager creates a service manager with the given supervisor settings.
// Zero-valued settings fall back to platform defaults.
func NewManager(cfg config.SupervisorConfig, opts ...ManagerOption) *Manager {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = config.Duration(config.DefaultCheckInterval)
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = config.DefaultFailureThreshold
	}
	if cfg.MaxRecoveryAttempts == 0 {
		cfg.MaxRecoveryAttempts = config.DefaultMaxRecoveryAttempts
	}
	if cfg.RecoveryBackoffBase == 0 {
		cfg.RecoveryBackoffBase = config.Duration(config.DefaultRecoveryBackoffBase)
	}
	if cfg.RecoveryBackoffCap == 0 {
		cfg.RecoveryBackoffCap = config.Duration(config.DefaultRecoveryBackoffCap)
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = config.Duration(config.DefaultShutdownTimeout)
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = config.Duration(config.DefaultStopTimeout)
	}
	if cfg.HealthCheckTimeout == 0 {
		cfg.HealthCheckTimeout = config.Duration(config.DefaultHealthCheckTimeout)
	}

	m := &Manager{
		cfg:    cfg,
		logger: slog.Default().With("component", "service-manager"),
		monitor: health.NewMonitor(
			health.WithFailureThreshold(cfg.FailureThreshold),
			health.WithMaxRecoveryAttempts(cfg.MaxRecoveryAttempts),
		),
		backoff: retry.Config{
			InitialDelay: cfg.RecoveryBackoffBase.Std(),
			MaxDelay:     cfg.RecoveryBackoffCap.Std(),
			Multiplier:   2.0,
		},
		services:         make(map[string]Service),
		recoveryAttempts: make(map[string]int),
		recovering:       make(map[string]bool),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// AddService registers a service. Registration closes once StartAll runs.
func (m *Manager) AddService(svc Service) error {
	if svc == nil || svc.Name() == "" {
		return fmt.Errorf("%w: service must have a name", errors.ErrInvalidConfig)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("cannot register %s: %w", svc.Name(), errors.ErrAlreadyStarted)
	}
	if _, exists := m.services[svc.Name()]; exists {
		return fmt.Errorf("%w: service %s already registered", errors.ErrInvalidConfig, svc.Name())
	}

	m.services[svc.Name()] = svc
	return nil
}

// GetService returns a registered service by name
func (m *Manager) GetService(name string) (Service, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.services[name]
	return svc, ok
}

// ServiceNames returns the names of all registered services
func (m *Manager) ServiceNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.services))
	for name := range m.services {
		names = append(names, name)
	}
	return names
}

// StartOrder returns the resolved startup order. Empty before StartAll.
func (m *Manager) StartOrder() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Monitor returns the health monitor backing this manager
func (m *Manager) Monitor() *health.Monitor {
	return m.monitor
}

// StartAll validates the dependency graph and starts every service in
// topological order. The graph is checked in full before any service
// starts. A start failure aborts the remaining startups and surfaces the
// error; services started before the failure are left running, and the
// caller decides whether to invoke StopAll on them.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.ErrAlreadyStarted
	}

	order, err := resolveStartOrder(m.services)
	if err != nil {
		return errors.Wrap(err, "Manager", "StartAll", "resolve dependency graph")
	}

	m.logger.Info("starting services", "order", order)

	var startedSoFar []string
	for _, name := range order {
		svc := m.services[name]
		m.logger.Info("starting service", "service", name, "dependencies", svc.Dependencies())

		if err := svc.Start(ctx); err != nil {
			m.order = startedSoFar
			m.logger.Error("service failed to start, aborting remaining startups",
				"service", name, "running", startedSoFar, "error", err)
			return errors.Wrap(err, "Manager", "StartAll", "start service "+name)
		}

		startedSoFar = append(startedSoFar, name)
		m.monitor.RegisterService(name)
	}

	m.order = order
	m.started = true
	m.startedAt = time.Now()
	m.logger.Info("all services started", "count", len(order))
	return nil
}

// StopAll stops every started service in reverse dependency order,
// including services left running by a failed StartAll. Each service gets
// the per-service stop timeout, enforced here so a Stop that ignores the
// deadline it was handed cannot wedge the shutdown pass; errors are
// collected so every service gets its stop attempt. The manager lock is
// released before any Stop runs, keeping health and lookup methods
// responsive during shutdown. Calling StopAll again is a no-op.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	if len(m.order) == 0 {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	stopOrder := reverse(m.order)
	m.order = nil
	services := make(map[string]Service, len(stopOrder))
	for _, name := range stopOrder {
		services[name] = m.services[name]
	}
	timeout := m.cfg.StopTimeout.Std()
	m.mu.Unlock()

	var errs []error
	for _, name := range stopOrder {
		m.logger.Info("stopping service", "service", name)

		if err := stopWithTimeout(services[name], timeout); err != nil {
			m.logger.Error("service stop failed", "service", name, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
		}
	}

	m.logger.Info("all services stopped", "errors", len(errs))
	if len(errs) > 0 {
		return errors.Wrap(stderrors.Join(errs...), "Manager", "StopAll", "stop services")
	}
	return nil
}

// stopWithTimeout runs Stop in its own goroutine and abandons it once the
// timeout elapses. The abandoned goroutine finishes on its own; shutdown
// moves on to the next service.
func stopWithTimeout(svc Service, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- svc.Stop(timeout)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return errors.Wrap(errors.ErrStopTimeout, "Manager", "StopAll",
			"stop service "+svc.Name())
	}
}

// RunHealthMonitoring runs the periodic health-and-recovery loop until ctx
// is cancelled. Each cycle checks every service, updates the shared health
// record, and attempts recovery for services past the failure threshold
// with bounded exponential backoff between attempts.
func (m *Manager) RunHealthMonitoring(ctx context.Context) error {
	interval := m.cfg.CheckInterval.Std()
	m.logger.Info("health monitoring started",
		"interval", interval,
		"failure_threshold", m.cfg.FailureThreshold,
		"max_recovery_attempts", m.cfg.MaxRecoveryAttempts)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitoring stopped")
			return ctx.Err()
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

// CheckNow runs one health-and-recovery cycle immediately and waits for
// any recovery attempts it spawned to finish
func (m *Manager) CheckNow(ctx context.Context) {
	m.checkAll(ctx)
	m.recoveryWG.Wait()
}

// checkAll probes every service concurrently and waits for the probes.
// Recovery attempts spawned by a failing check run beyond the cycle, so a
// service sitting in recovery backoff never delays the checks of others.
func (m *Manager) checkAll(ctx context.Context) {
	m.mu.RLock()
	order := make([]string, len(m.order))
	copy(order, m.order)
	running := m.started
	m.mu.RUnlock()

	if !running {
		return
	}

	var wg sync.WaitGroup
	for _, name := range order {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.checkService(ctx, name)
		}()
	}
	wg.Wait()
}

// checkService probes one service and drives recovery off the result
func (m *Manager) checkService(ctx context.Context, name string) {
	m.mu.RLock()
	svc := m.services[name]
	m.mu.RUnlock()
	if svc == nil {
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, m.cfg.HealthCheckTimeout.Std())
	start := time.Now()
	result, err := svc.HealthCheck(checkCtx)
	cancel()
	elapsed := time.Since(start)

	if err != nil {
		result = health.Unhealthy(fmt.Sprintf("health check error: %v", err))
	}

	if updateErr := m.monitor.UpdateServiceHealth(name, svc.State().String(), result); updateErr != nil {
		m.logger.Error("health record update failed", "service", name, "error", updateErr)
		return
	}

	record, _ := m.monitor.GetServiceHealth(name)
	if m.metrics != nil {
		m.metrics.CoreMetrics().RecordHealthStatus(name, result.Healthy, record.ConsecutiveFailures)
		m.metrics.CoreMetrics().RecordHealthCheckDuration(name, elapsed)
	}

	if result.Healthy {
		m.mu.Lock()
		m.recoveryAttempts[name] = 0
		m.mu.Unlock()
		return
	}

	m.logger.Warn("health check failed",
		"service", name,
		"message", result.Message,
		"consecutive_failures", record.ConsecutiveFailures)

	if m.monitor.NeedsRecovery(name) {
		m.spawnRecovery(ctx, name, svc)
	}
}

// spawnRecovery runs one recovery attempt in its own goroutine, with at
// most one attempt in flight per service
func (m *Manager) spawnRecovery(ctx context.Context, name string, svc Service) {
	m.mu.Lock()
	if m.recovering[name] {
		m.mu.Unlock()
		return
	}
	m.recovering[name] = true
	m.mu.Unlock()

	m.recoveryWG.Add(1)
	go func() {
		defer m.recoveryWG.Done()
		defer func() {
			m.mu.Lock()
			delete(m.recovering, name)
			m.mu.Unlock()
		}()
		m.recoverService(ctx, name, svc)
	}()
}

// recoverService performs one recovery attempt with exponential backoff.
// The backoff sleep is interruptible by shutdown.
func (m *Manager) recoverService(ctx context.Context, name string, svc Service) {
	m.mu.Lock()
	attempt := m.recoveryAttempts[name]
	if attempt >= m.cfg.MaxRecoveryAttempts {
		m.mu.Unlock()
		return
	}
	m.recoveryAttempts[name] = attempt + 1
	m.mu.Unlock()

	delay := m.backoff.Backoff(attempt)
	m.logger.Info("attempting recovery",
		"service", name,
		"attempt", attempt+1,
		"max_attempts", m.cfg.MaxRecoveryAttempts,
		"backoff", delay)

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	if err := svc.Recover(ctx); err != nil {
		m.logger.Error("recovery attempt failed",
			"service", name, "attempt", attempt+1, "error", err)
		if m.metrics != nil {
			m.metrics.CoreMetrics().RecordRecoveryAttempt(name, "failure")
		}
		m.finishIfExhausted(name, svc)
		return
	}

	// Recovery only counts once the service reports healthy again.
	checkCtx, cancel := context.WithTimeout(ctx, m.cfg.HealthCheckTimeout.Std())
	result, err := svc.HealthCheck(checkCtx)
	cancel()

	if err == nil && result.Healthy {
		m.logger.Info("service recovered", "service", name, "attempt", attempt+1)
		m.monitor.MarkRecovered(name)
		m.mu.Lock()
		m.recoveryAttempts[name] = 0
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.CoreMetrics().RecordRecoveryAttempt(name, "success")
		}
		return
	}

	m.logger.Warn("service still unhealthy after recovery",
		"service", name, "attempt", attempt+1)
	if m.metrics != nil {
		m.metrics.CoreMetrics().RecordRecoveryAttempt(name, "failure")
	}
	m.finishIfExhausted(name, svc)
}

// finishIfExhausted marks a service permanently failed once all recovery
// attempts are spent. It keeps running in whatever state it is in, but the
// supervisor stops restarting it.
func (m *Manager) finishIfExhausted(name string, svc Service) {
	m.mu.RLock()
	attempts := m.recoveryAttempts[name]
	m.mu.RUnlock()

	if attempts < m.cfg.MaxRecoveryAttempts {
		return
	}

	m.logger.Error("recovery attempts exhausted, marking service failed",
		"service", name, "attempts", attempts)
	if m.metrics != nil {
		m.metrics.CoreMetrics().RecordRecoveryAttempt(name, "exhausted")
	}
	if failer, ok := svc.(interface{ MarkFailed() }); ok {
		failer.MarkFailed()
	}
}

// GetHealthStatus builds the aggregate health report for all services
func (m *Manager) GetHealthStatus() health.Response {
	m.mu.RLock()
	startedAt := m.startedAt
	m.mu.RUnlock()
	return m.monitor.BuildResponse(startedAt)
}

// SystemHealth returns the aggregate system health classification
func (m *Manager) SystemHealth() health.SystemHealth {
	return m.monitor.GetSystemHealth()
}
