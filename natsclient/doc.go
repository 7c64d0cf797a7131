// Package natsclient manages the platform's NATS connection with a circuit
// breaker, connection status reporting, and JetStream key-value access.
//
// The client wraps nats.Conn rather than exposing it directly so that
// services share one reconnect policy and one place to observe connection
// health. Telemetry collection subscribes through it, the decision store
// obtains its KV bucket through it, and the service manager reads its
// status during health checks.
package natsclient
