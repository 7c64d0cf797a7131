package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LLM-Dev-Ops/auto-optimizer/errors"
)

// Supervisor defaults
const (
	DefaultCheckInterval       = 30 * time.Second
	DefaultFailureThreshold    = 3
	DefaultMaxRecoveryAttempts = 3
	DefaultRecoveryBackoffBase = 1 * time.Second
	DefaultRecoveryBackoffCap  = 60 * time.Second
	DefaultShutdownTimeout     = 30 * time.Second
	DefaultStopTimeout         = 10 * time.Second
	DefaultHealthCheckTimeout  = 5 * time.Second
)

// Duration wraps time.Duration so YAML and JSON configs can use "30s" syntax
type Duration time.Duration

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML parses durations from YAML strings or integer nanoseconds
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.decode(raw)
}

// UnmarshalJSON parses durations from JSON strings or integer nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.decode(raw)
}

// MarshalYAML renders the duration as a string like "30s"
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// MarshalJSON renders the duration as a string like "30s"
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) decode(raw any) error {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(time.Duration(v))
	case int64:
		*d = Duration(time.Duration(v))
	case float64:
		*d = Duration(time.Duration(int64(v)))
	default:
		return fmt.Errorf("invalid duration value %v (%T)", raw, raw)
	}
	return nil
}

// Config represents the complete application configuration
type Config struct {
	Version     string            `yaml:"version" json:"version"`
	Platform    PlatformConfig    `yaml:"platform" json:"platform"`
	NATS        NATSConfig        `yaml:"nats" json:"nats"`
	Supervisor  SupervisorConfig  `yaml:"supervisor" json:"supervisor"`
	Optimizer   OptimizerConfig   `yaml:"optimizer" json:"optimizer"`
	Prober      ProberConfig      `yaml:"prober" json:"prober"`
	API         APIConfig         `yaml:"api" json:"api"`
	Integration IntegrationConfig `yaml:"integration" json:"integration"`
}

// PlatformConfig defines platform identity
type PlatformConfig struct {
	Org         string `yaml:"org" json:"org"`
	Name        string `yaml:"name" json:"name"`
	Environment string `yaml:"environment" json:"environment"` // dev, staging, prod
	LogLevel    string `yaml:"log_level" json:"log_level"`
	LogFormat   string `yaml:"log_format" json:"log_format"` // json or text
}

// NATSConfig defines NATS connectivity
type NATSConfig struct {
	URL              string   `yaml:"url" json:"url"`
	Username         string   `yaml:"username,omitempty" json:"username,omitempty"`
	Password         string   `yaml:"password,omitempty" json:"password,omitempty"`
	MaxReconnects    int      `yaml:"max_reconnects" json:"max_reconnects"`
	ReconnectWait    Duration `yaml:"reconnect_wait" json:"reconnect_wait"`
	ConnectTimeout   Duration `yaml:"connect_timeout" json:"connect_timeout"`
	TelemetrySubject string   `yaml:"telemetry_subject" json:"telemetry_subject"`
	DecisionSubject  string   `yaml:"decision_subject" json:"decision_subject"`
	DecisionBucket   string   `yaml:"decision_bucket" json:"decision_bucket"`
}

// SupervisorConfig tunes service startup, health checking, and recovery
type SupervisorConfig struct {
	CheckInterval       Duration `yaml:"check_interval" json:"check_interval"`
	FailureThreshold    int      `yaml:"failure_threshold" json:"failure_threshold"`
	MaxRecoveryAttempts int      `yaml:"max_recovery_attempts" json:"max_recovery_attempts"`
	RecoveryBackoffBase Duration `yaml:"recovery_backoff_base" json:"recovery_backoff_base"`
	RecoveryBackoffCap  Duration `yaml:"recovery_backoff_cap" json:"recovery_backoff_cap"`
	ShutdownTimeout     Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	StopTimeout         Duration `yaml:"stop_timeout" json:"stop_timeout"`
	HealthCheckTimeout  Duration `yaml:"health_check_timeout" json:"health_check_timeout"`
}

// OptimizerConfig tunes telemetry aggregation and decision making
type OptimizerConfig struct {
	WindowSize       int      `yaml:"window_size" json:"window_size"`             // samples per model kept for stats
	DecisionInterval Duration `yaml:"decision_interval" json:"decision_interval"` // how often decisions are recomputed
	MinSamples       int      `yaml:"min_samples" json:"min_samples"`             // samples required before deciding
	CostWeight       float64  `yaml:"cost_weight" json:"cost_weight"`
	LatencyWeight    float64  `yaml:"latency_weight" json:"latency_weight"`
	QualityWeight    float64  `yaml:"quality_weight" json:"quality_weight"`
}

// ProberConfig tunes active availability probing of catalog models against
// an OpenAI-compatible chat completion endpoint
type ProberConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Endpoint string   `yaml:"endpoint" json:"endpoint"` // base URL, e.g. https://api.openai.com/v1
	APIKey   string   `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Interval Duration `yaml:"interval" json:"interval"`
	Timeout  Duration `yaml:"timeout" json:"timeout"` // per-probe deadline
	Prompt   string   `yaml:"prompt" json:"prompt"`   // minimal prompt sent with each probe
}

// APIConfig tunes the HTTP API server
type APIConfig struct {
	Host            string   `yaml:"host" json:"host"`
	Port            int      `yaml:"port" json:"port"`
	ReadTimeout     Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// IntegrationConfig tunes the websocket push integration
type IntegrationConfig struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	Endpoint     string   `yaml:"endpoint" json:"endpoint"` // ws:// or wss:// URL
	WriteTimeout Duration `yaml:"write_timeout" json:"write_timeout"`
	PingInterval Duration `yaml:"ping_interval" json:"ping_interval"`
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.ErrMissingConfig
	}
	if err := cfg.Validate(); err != nil {
		return errors.WrapInvalid(err, "SafeConfig", "Update", "validate config")
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// ApplyDefaults fills zero-valued fields with platform defaults
func (c *Config) ApplyDefaults() {
	if c.Platform.Name == "" {
		c.Platform.Name = "auto-optimizer"
	}
	if c.Platform.Environment == "" {
		c.Platform.Environment = "dev"
	}
	if c.Platform.LogLevel == "" {
		c.Platform.LogLevel = "info"
	}
	if c.Platform.LogFormat == "" {
		c.Platform.LogFormat = "json"
	}

	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = Duration(2 * time.Second)
	}
	if c.NATS.ConnectTimeout == 0 {
		c.NATS.ConnectTimeout = Duration(5 * time.Second)
	}
	if c.NATS.TelemetrySubject == "" {
		c.NATS.TelemetrySubject = "telemetry.samples"
	}
	if c.NATS.DecisionSubject == "" {
		c.NATS.DecisionSubject = "optimizer.decisions"
	}
	if c.NATS.DecisionBucket == "" {
		c.NATS.DecisionBucket = "optimizer_decisions"
	}

	if c.Supervisor.CheckInterval == 0 {
		c.Supervisor.CheckInterval = Duration(DefaultCheckInterval)
	}
	if c.Supervisor.FailureThreshold == 0 {
		c.Supervisor.FailureThreshold = DefaultFailureThreshold
	}
	if c.Supervisor.MaxRecoveryAttempts == 0 {
		c.Supervisor.MaxRecoveryAttempts = DefaultMaxRecoveryAttempts
	}
	if c.Supervisor.RecoveryBackoffBase == 0 {
		c.Supervisor.RecoveryBackoffBase = Duration(DefaultRecoveryBackoffBase)
	}
	if c.Supervisor.RecoveryBackoffCap == 0 {
		c.Supervisor.RecoveryBackoffCap = Duration(DefaultRecoveryBackoffCap)
	}
	if c.Supervisor.ShutdownTimeout == 0 {
		c.Supervisor.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
	if c.Supervisor.StopTimeout == 0 {
		c.Supervisor.StopTimeout = Duration(DefaultStopTimeout)
	}
	if c.Supervisor.HealthCheckTimeout == 0 {
		c.Supervisor.HealthCheckTimeout = Duration(DefaultHealthCheckTimeout)
	}

	if c.Optimizer.WindowSize == 0 {
		c.Optimizer.WindowSize = 512
	}
	if c.Optimizer.DecisionInterval == 0 {
		c.Optimizer.DecisionInterval = Duration(60 * time.Second)
	}
	if c.Optimizer.MinSamples == 0 {
		c.Optimizer.MinSamples = 20
	}
	if c.Optimizer.CostWeight == 0 && c.Optimizer.LatencyWeight == 0 && c.Optimizer.QualityWeight == 0 {
		c.Optimizer.CostWeight = 0.4
		c.Optimizer.LatencyWeight = 0.3
		c.Optimizer.QualityWeight = 0.3
	}

	if c.Prober.Interval == 0 {
		c.Prober.Interval = Duration(60 * time.Second)
	}
	if c.Prober.Timeout == 0 {
		c.Prober.Timeout = Duration(10 * time.Second)
	}
	if c.Prober.Prompt == "" {
		c.Prober.Prompt = "ping"
	}

	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = Duration(10 * time.Second)
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = Duration(10 * time.Second)
	}
	if c.API.ShutdownTimeout == 0 {
		c.API.ShutdownTimeout = Duration(5 * time.Second)
	}

	if c.Integration.WriteTimeout == 0 {
		c.Integration.WriteTimeout = Duration(5 * time.Second)
	}
	if c.Integration.PingInterval == 0 {
		c.Integration.PingInterval = Duration(30 * time.Second)
	}
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("%w: nats.url", errors.ErrMissingConfig)
	}

	if c.Supervisor.CheckInterval.Std() <= 0 {
		return fmt.Errorf("%w: supervisor.check_interval must be positive", errors.ErrInvalidConfig)
	}
	if c.Supervisor.FailureThreshold < 1 {
		return fmt.Errorf("%w: supervisor.failure_threshold must be >= 1", errors.ErrInvalidConfig)
	}
	if c.Supervisor.MaxRecoveryAttempts < 0 {
		return fmt.Errorf("%w: supervisor.max_recovery_attempts must be >= 0", errors.ErrInvalidConfig)
	}
	if c.Supervisor.RecoveryBackoffBase.Std() <= 0 {
		return fmt.Errorf("%w: supervisor.recovery_backoff_base must be positive", errors.ErrInvalidConfig)
	}
	if c.Supervisor.RecoveryBackoffCap.Std() < c.Supervisor.RecoveryBackoffBase.Std() {
		return fmt.Errorf("%w: supervisor.recovery_backoff_cap must be >= base", errors.ErrInvalidConfig)
	}
	if c.Supervisor.ShutdownTimeout.Std() <= 0 {
		return fmt.Errorf("%w: supervisor.shutdown_timeout must be positive", errors.ErrInvalidConfig)
	}
	if c.Supervisor.HealthCheckTimeout.Std() <= 0 {
		return fmt.Errorf("%w: supervisor.health_check_timeout must be positive", errors.ErrInvalidConfig)
	}

	if c.Optimizer.WindowSize < 1 {
		return fmt.Errorf("%w: optimizer.window_size must be >= 1", errors.ErrInvalidConfig)
	}
	if c.Optimizer.MinSamples < 1 {
		return fmt.Errorf("%w: optimizer.min_samples must be >= 1", errors.ErrInvalidConfig)
	}
	weightSum := c.Optimizer.CostWeight + c.Optimizer.LatencyWeight + c.Optimizer.QualityWeight
	if weightSum <= 0 {
		return fmt.Errorf("%w: optimizer weights must sum to a positive value", errors.ErrInvalidConfig)
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("%w: api.port must be in [1, 65535]", errors.ErrInvalidConfig)
	}

	if c.Prober.Enabled {
		if c.Prober.Endpoint == "" {
			return fmt.Errorf("%w: prober.endpoint required when enabled", errors.ErrMissingConfig)
		}
		if c.Prober.Interval.Std() <= 0 || c.Prober.Timeout.Std() <= 0 {
			return fmt.Errorf("%w: prober.interval and prober.timeout must be positive", errors.ErrInvalidConfig)
		}
	}

	if c.Integration.Enabled && c.Integration.Endpoint == "" {
		return fmt.Errorf("%w: integration.endpoint required when enabled", errors.ErrMissingConfig)
	}

	switch c.Platform.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("%w: platform.log_format must be json or text", errors.ErrInvalidConfig)
	}

	return nil
}

// String returns a redacted single-line summary for logging
func (c *Config) String() string {
	return fmt.Sprintf("Config{platform=%s env=%s nats=%s api=%s:%d}",
		c.Platform.Name, c.Platform.Environment, c.NATS.URL, c.API.Host, c.API.Port)
}
