// Package health tracks rolling per-service health independent of lifecycle
// control and computes the aggregate system verdict from it.
package health

import (
	"time"
)

// CheckResult is the outcome of one health check invocation. It is produced
// fresh by every check and immutable once returned; the monitor retains only
// the last known result per service.
type CheckResult struct {
	Healthy  bool              `json:"healthy"`
	Message  string            `json:"message,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Healthy builds a passing check result.
func Healthy(message string) CheckResult {
	return CheckResult{Healthy: true, Message: message}
}

// Unhealthy builds a failing check result.
func Unhealthy(message string) CheckResult {
	return CheckResult{Healthy: false, Message: message}
}

// WithMetadata returns a copy of the result with one metadata entry added.
func (r CheckResult) WithMetadata(key, value string) CheckResult {
	md := make(map[string]string, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		md[k] = v
	}
	md[key] = value
	r.Metadata = md
	return r
}

// SystemHealth is the aggregate verdict over all registered services.
type SystemHealth string

// Aggregate verdicts, worst first.
const (
	SystemHealthy   SystemHealth = "healthy"
	SystemDegraded  SystemHealth = "degraded"
	SystemUnhealthy SystemHealth = "unhealthy"
)

// ServiceHealth is the rolling health record for one registered service.
// Records are created by RegisterService, mutated only by UpdateServiceHealth
// and MarkRecovered, and persist for the process lifetime.
type ServiceHealth struct {
	Name                string       `json:"name"`
	State               string       `json:"state"`
	LastCheck           *CheckResult `json:"last_check,omitempty"`
	LastCheckTime       time.Time    `json:"last_check_time"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	TotalFailures       int64        `json:"total_failures"`
	RegisteredAt        time.Time    `json:"registered_at"`
}

// Uptime returns how long the record has existed.
func (sh *ServiceHealth) Uptime() time.Duration {
	return time.Since(sh.RegisteredAt)
}
