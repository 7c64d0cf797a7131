package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LLM-Dev-Ops/auto-optimizer/health"
	"github.com/LLM-Dev-Ops/auto-optimizer/metric"
	"github.com/LLM-Dev-Ops/auto-optimizer/natsclient"
)

// HealthCheckFunc defines a custom health check probe
type HealthCheckFunc func(ctx context.Context) (health.CheckResult, error)

// Option is a functional option for configuring BaseService
type Option func(*BaseService)

// BaseService provides common functionality for all services: atomic state
// tracking, dependency declaration, lifecycle goroutine management, and a
// default restart-based Recover. Services embed it and override Start, Stop,
// and HealthCheck as needed.
type BaseService struct {
	name         string
	dependencies []string
	logger       *slog.Logger
	nats         *natsclient.Client
	metrics      *metric.MetricsRegistry

	state     atomic.Value // State
	startTime atomic.Value // time.Time

	healthCheckFunc HealthCheckFunc

	done      chan struct{}
	waitGroup sync.WaitGroup
	mu        sync.RWMutex
}

// NewBaseService creates a base service using the functional options pattern
func NewBaseService(name string, opts ...Option) *BaseService {
	s := &BaseService{
		name:   name,
		logger: slog.Default().With("service", name),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.state.Store(StateStopped)
	s.startTime.Store(time.Time{})
	s.recordState(StateStopped)

	return s
}

// WithDependencies declares the services that must start before this one
func WithDependencies(deps ...string) Option {
	return func(s *BaseService) {
		s.dependencies = deps
	}
}

// WithLogger sets a custom logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *BaseService) {
		if logger != nil {
			s.logger = logger.With("service", s.name)
		}
	}
}

// WithNATS sets the NATS client for the service
func WithNATS(client *natsclient.Client) Option {
	return func(s *BaseService) {
		s.nats = client
	}
}

// WithMetrics sets the metrics registry for the service
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *BaseService) {
		s.metrics = registry
	}
}

// WithHealthCheck sets a custom health check probe
func WithHealthCheck(fn HealthCheckFunc) Option {
	return func(s *BaseService) {
		s.healthCheckFunc = fn
	}
}

// Name returns the service name
func (s *BaseService) Name() string {
	return s.name
}

// Dependencies returns the declared dependency names
func (s *BaseService) Dependencies() []string {
	return s.dependencies
}

// State returns the current lifecycle state
func (s *BaseService) State() State {
	return s.state.Load().(State)
}

// Logger returns the service logger
func (s *BaseService) Logger() *slog.Logger {
	return s.logger
}

// NATS returns the shared NATS client, if configured
func (s *BaseService) NATS() *natsclient.Client {
	return s.nats
}

// Metrics returns the metrics registry, if configured
func (s *BaseService) Metrics() *metric.MetricsRegistry {
	return s.metrics
}

// StartTime returns when the service last started
func (s *BaseService) StartTime() time.Time {
	return s.startTime.Load().(time.Time)
}

// Uptime returns how long the service has been running
func (s *BaseService) Uptime() time.Duration {
	start := s.StartTime()
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}

// setState transitions the service and records the state metric
func (s *BaseService) setState(state State) {
	s.state.Store(state)
	s.recordState(state)
}

func (s *BaseService) recordState(state State) {
	if s.metrics != nil {
		s.metrics.CoreMetrics().RecordServiceState(s.name, int(state))
	}
}

// MarkDegraded transitions a running service to degraded
func (s *BaseService) MarkDegraded() {
	if s.State() == StateRunning {
		s.setState(StateDegraded)
	}
}

// MarkRunning transitions a degraded service back to running
func (s *BaseService) MarkRunning() {
	if s.State() == StateDegraded {
		s.setState(StateRunning)
	}
}

// MarkFailed transitions the service to failed
func (s *BaseService) MarkFailed() {
	s.setState(StateFailed)
}

// Done returns the channel closed when the service stops. Goroutines
// started with Go should select on it.
func (s *BaseService) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// Go runs fn in a tracked goroutine that Stop waits for
func (s *BaseService) Go(fn func()) {
	s.waitGroup.Add(1)
	go func() {
		defer s.waitGroup.Done()
		fn()
	}()
}

// Start brings the service to running. Embedding services typically do
// their own setup first and call this last.
func (s *BaseService) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateRunning, StateDegraded:
		return nil
	case StateShuttingDown:
		return fmt.Errorf("service %s: cannot start while shutting down", s.name)
	}

	s.setState(StateInitializing)
	s.done = make(chan struct{})
	s.startTime.Store(time.Now())
	s.setState(StateRunning)

	s.logger.Info("service started")
	return nil
}

// Stop shuts the service down, waiting up to timeout for tracked
// goroutines to finish. Stopping an already-stopped service is a no-op.
func (s *BaseService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateStopped, StateShuttingDown:
		return nil
	}

	s.setState(StateShuttingDown)

	if s.done != nil {
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	finished := make(chan struct{})
	go func() {
		s.waitGroup.Wait()
		close(finished)
	}()

	var stopErr error
	select {
	case <-finished:
	case <-time.After(timeout):
		stopErr = fmt.Errorf("service %s: stop timed out after %v", s.name, timeout)
		s.logger.Warn("stop timed out, abandoning goroutines", "timeout", timeout)
	}

	s.setState(StateStopped)
	if stopErr == nil {
		s.logger.Info("service stopped")
	}
	return stopErr
}

// HealthCheck runs the configured probe, or derives a result from the
// lifecycle state when no probe is set.
func (s *BaseService) HealthCheck(ctx context.Context) (health.CheckResult, error) {
	if s.healthCheckFunc != nil {
		return s.healthCheckFunc(ctx)
	}

	switch s.State() {
	case StateRunning:
		return health.Healthy("service operating normally"), nil
	case StateDegraded:
		return health.Unhealthy("service is degraded"), nil
	case StateInitializing:
		return health.Unhealthy("service is initializing"), nil
	case StateShuttingDown:
		return health.Unhealthy("service is shutting down"), nil
	case StateFailed:
		return health.Unhealthy("service has failed"), nil
	default:
		return health.Unhealthy("service is stopped"), nil
	}
}

// Recover restarts the service: stop, brief pause, start. Services with
// cheaper recovery paths override this.
func (s *BaseService) Recover(ctx context.Context) error {
	s.logger.Info("recovering service via restart")

	if err := s.Stop(5 * time.Second); err != nil {
		s.logger.Warn("stop during recovery failed", "error", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
	}

	return s.Start(ctx)
}
