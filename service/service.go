// Package service provides the supervision core of the optimizer platform:
// the Service contract, a reusable BaseService, dependency-ordered startup,
// reverse-order shutdown, and health-driven recovery.
package service

import (
	"context"
	"time"

	"github.com/LLM-Dev-Ops/auto-optimizer/health"
)

// State represents the lifecycle state of a service
type State int

// Possible service states
const (
	StateInitializing State = iota
	StateRunning
	StateDegraded
	StateShuttingDown
	StateStopped
	StateFailed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Service is the capability contract every managed service fulfills.
// The manager starts services in dependency order, polls HealthCheck on a
// fixed interval, and calls Recover when consecutive failures cross the
// configured threshold.
type Service interface {
	// Name returns the unique service name used for registration,
	// dependency references, and health reporting.
	Name() string

	// Start brings the service to a running state. It must be safe to
	// call on a stopped service again after Stop.
	Start(ctx context.Context) error

	// Stop shuts the service down, waiting up to timeout for in-flight
	// work to drain. Stopping an already-stopped service is a no-op.
	Stop(timeout time.Duration) error

	// HealthCheck probes the service. The returned result carries the
	// healthy flag, a message, and optional metadata; the error reports
	// a probe that could not run at all.
	HealthCheck(ctx context.Context) (health.CheckResult, error)

	// State returns the current lifecycle state without blocking.
	State() State

	// Dependencies returns the names of services that must be running
	// before this one starts.
	Dependencies() []string

	// Recover attempts to restore a failing service, typically by
	// restarting it.
	Recover(ctx context.Context) error
}
