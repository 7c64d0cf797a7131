// Package metric provides Prometheus instrumentation for the optimizer
// platform: a registry that owns core platform metrics plus per-service
// registrations, and an HTTP handler for scraping.
//
// Core metrics cover the supervisor (service state, health checks, recovery
// attempts), the optimization pipeline (samples ingested, decisions computed
// and served), and the NATS connection. Services register their own metrics
// through the MetricsRegistrar interface so names stay namespaced and
// duplicate registrations are caught at startup.
package metric
