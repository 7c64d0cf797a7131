// Package config defines the optimizer platform configuration: file loading
// with environment overrides, validation with defaults, thread-safe access,
// and a reload manager with pattern-based change subscriptions.
//
// Configuration is a YAML (or JSON) document with sections for platform
// identity, NATS connectivity, the supervisor, the optimization pipeline,
// and per-service settings. The lifecycle coordinator triggers Manager.Reload
// on SIGHUP; subscribers registered through OnChange receive updates for the
// sections they watch.
package config
