package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "autooptimizer"

// Metrics contains all platform-level metrics (not service-specific)
type Metrics struct {
	// Supervisor metrics
	ServiceState        *prometheus.GaugeVec
	HealthCheckStatus   *prometheus.GaugeVec
	ConsecutiveFailures *prometheus.GaugeVec
	RecoveryAttempts    *prometheus.CounterVec
	HealthCheckDuration *prometheus.HistogramVec

	// Pipeline metrics
	SamplesIngested   *prometheus.CounterVec
	DecisionsComputed *prometheus.CounterVec
	DecisionsServed   prometheus.Counter
	ModelProbes       *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "service",
				Name:      "state",
				Help:      "Service state (0=initializing, 1=running, 2=degraded, 3=shutting_down, 4=stopped, 5=failed)",
			},
			[]string{"service"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"service"},
		),

		ConsecutiveFailures: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "consecutive_failures",
				Help:      "Consecutive failed health checks per service",
			},
			[]string{"service"},
		),

		RecoveryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "supervisor",
				Name:      "recovery_attempts_total",
				Help:      "Total recovery attempts per service and outcome",
			},
			[]string{"service", "outcome"},
		),

		HealthCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "check_duration_seconds",
				Help:      "Health check duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service"},
		),

		SamplesIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "telemetry",
				Name:      "samples_ingested_total",
				Help:      "Total telemetry samples ingested",
			},
			[]string{"model", "status"},
		),

		DecisionsComputed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "optimizer",
				Name:      "decisions_computed_total",
				Help:      "Total optimization decisions computed",
			},
			[]string{"workload"},
		),

		DecisionsServed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "optimizer",
				Name:      "decisions_served_total",
				Help:      "Total optimization decisions served over the API",
			},
		),

		ModelProbes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "optimizer",
				Name:      "model_probes_total",
				Help:      "Total availability probes per model and outcome",
			},
			[]string{"model", "outcome"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"service", "type"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open)",
			},
		),
	}
}

// RecordServiceState updates the service state gauge
func (c *Metrics) RecordServiceState(service string, state int) {
	c.ServiceState.WithLabelValues(service).Set(float64(state))
}

// RecordHealthStatus updates health check status and failure gauges
func (c *Metrics) RecordHealthStatus(service string, healthy bool, consecutiveFailures int) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(service).Set(value)
	c.ConsecutiveFailures.WithLabelValues(service).Set(float64(consecutiveFailures))
}

// RecordHealthCheckDuration records how long a health check took
func (c *Metrics) RecordHealthCheckDuration(service string, duration time.Duration) {
	c.HealthCheckDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordRecoveryAttempt increments the recovery counter for an outcome
// ("success", "failure", "exhausted")
func (c *Metrics) RecordRecoveryAttempt(service, outcome string) {
	c.RecoveryAttempts.WithLabelValues(service, outcome).Inc()
}

// RecordSampleIngested increments the sample counter
func (c *Metrics) RecordSampleIngested(model, status string) {
	c.SamplesIngested.WithLabelValues(model, status).Inc()
}

// RecordDecisionComputed increments the decision counter for a workload
func (c *Metrics) RecordDecisionComputed(workload string) {
	c.DecisionsComputed.WithLabelValues(workload).Inc()
}

// RecordDecisionServed increments the served-decision counter
func (c *Metrics) RecordDecisionServed() {
	c.DecisionsServed.Inc()
}

// RecordProbe increments the probe counter for an outcome ("ok", "error")
func (c *Metrics) RecordProbe(model, outcome string) {
	c.ModelProbes.WithLabelValues(model, outcome).Inc()
}

// RecordError increments the error counter
func (c *Metrics) RecordError(service, errorType string) {
	c.ErrorsTotal.WithLabelValues(service, errorType).Inc()
}

// RecordNATSStatus updates the NATS connection gauge
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates the NATS round-trip time gauge
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments the reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerOpen updates the circuit breaker gauge
func (c *Metrics) RecordCircuitBreakerOpen(open bool) {
	value := 0.0
	if open {
		value = 1.0
	}
	c.NATSCircuitBreaker.Set(value)
}

// collectors returns every core metric for bulk registration
func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceState,
		c.HealthCheckStatus,
		c.ConsecutiveFailures,
		c.RecoveryAttempts,
		c.HealthCheckDuration,
		c.SamplesIngested,
		c.DecisionsComputed,
		c.DecisionsServed,
		c.ModelProbes,
		c.ErrorsTotal,
		c.NATSConnected,
		c.NATSRTT,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
	}
}
