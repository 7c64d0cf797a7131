package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LLM-Dev-Ops/auto-optimizer/errors"
)

// EnvPrefix is the prefix for environment variable overrides
const EnvPrefix = "AUTOOPT_"

// Loader loads configuration from files with environment overrides
type Loader struct {
	validate bool
}

// NewLoader creates a loader with validation enabled
func NewLoader() *Loader {
	return &Loader{validate: true}
}

// EnableValidation toggles validation of loaded configs
func (l *Loader) EnableValidation(enable bool) {
	l.validate = enable
}

// LoadFile loads a YAML or JSON config file, applies defaults and
// environment overrides, and validates the result. An empty path yields
// the default configuration.
func (l *Loader) LoadFile(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path comes from operator flags
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "LoadFile", "read config file")
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, errors.WrapInvalid(err, "Loader", "LoadFile", "parse JSON config")
			}
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.WrapInvalid(err, "Loader", "LoadFile", "parse YAML config")
			}
		}
	}

	cfg.ApplyDefaults()
	l.applyEnvOverrides(cfg)

	if l.validate {
		if err := cfg.Validate(); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "LoadFile", "validate config")
		}
	}

	return cfg, nil
}

// applyEnvOverrides applies AUTOOPT_* environment variables on top of the
// loaded config. Only operationally relevant knobs are overridable.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv(EnvPrefix + "NATS_USERNAME"); v != "" {
		cfg.NATS.Username = v
	}
	if v := os.Getenv(EnvPrefix + "NATS_PASSWORD"); v != "" {
		cfg.NATS.Password = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.Platform.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		cfg.Platform.LogFormat = v
	}
	if v := os.Getenv(EnvPrefix + "ENVIRONMENT"); v != "" {
		cfg.Platform.Environment = v
	}
	if v := os.Getenv(EnvPrefix + "API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv(EnvPrefix + "CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Supervisor.CheckInterval = Duration(d)
		}
	}
	if v := os.Getenv(EnvPrefix + "SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Supervisor.ShutdownTimeout = Duration(d)
		}
	}
	if v := os.Getenv(EnvPrefix + "INTEGRATION_ENDPOINT"); v != "" {
		cfg.Integration.Endpoint = v
		cfg.Integration.Enabled = true
	}
}

// SaveToFile writes the configuration as YAML
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
