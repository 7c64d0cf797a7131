// Package autooptimizer provides a self-supervising backend that
// continuously tunes LLM model configuration from live telemetry.
//
// # Architecture
//
// The daemon is a set of supervised services wired through NATS:
//
//	┌─────────────────────────────────────┐
//	│        Service Manager              │  Dependency-ordered start,
//	│ (start, stop, health, recovery)     │  health loop, bounded recovery
//	└─────────────────────────────────────┘
//	           ↓ supervises
//	┌─────────────────────────────────────┐
//	│  collector → processor → store      │  Telemetry windows, scoring,
//	│       apiserver, integration        │  persistence, HTTP, push
//	└─────────────────────────────────────┘
//	           ↓ communicate via
//	┌─────────────────────────────────────┐
//	│        NATS Messaging               │  Telemetry subject, decision
//	│    (pub/sub, JetStream KV)          │  subject, decision KV bucket
//	└─────────────────────────────────────┘
//
// Data flow: the collector subscribes to the telemetry subject and keeps
// a rolling window of samples per model. The processor periodically
// scores a catalog of candidate configurations against those windows on
// cost, latency, and quality, and writes the winning decision per
// workload to the store. The API server exposes health and decisions
// over HTTP; the optional integration service pushes each new decision
// to an external WebSocket endpoint.
//
// # Packages
//
// Supervision:
//   - service: service contract, base lifecycle, dependency-ordered manager
//   - health: per-service failure tracking and system health aggregation
//   - lifecycle: process signals, shutdown broadcast, config reload
//
// Pipeline:
//   - collector: telemetry ingestion and rolling per-model statistics
//   - processor: candidate scoring and decision computation
//   - store: decision persistence (JetStream KV with in-memory fallback)
//   - prober: active availability probing of catalog models
//   - apiserver: HTTP surface for health, decisions, and metrics
//   - integration: WebSocket decision push to deployment tooling
//
// Infrastructure:
//   - natsclient: NATS connection management with circuit breaker
//   - config: configuration loading, validation, and live reload
//   - metric: Prometheus metrics
//   - errors: structured error handling
//   - types: telemetry and decision data model
//   - pkg/retry: capped exponential backoff policies
package autooptimizer
