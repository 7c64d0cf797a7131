package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, "auto-optimizer", cfg.Platform.Name)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)

	assert.Equal(t, 30*time.Second, cfg.Supervisor.CheckInterval.Std())
	assert.Equal(t, 3, cfg.Supervisor.FailureThreshold)
	assert.Equal(t, 3, cfg.Supervisor.MaxRecoveryAttempts)
	assert.Equal(t, time.Second, cfg.Supervisor.RecoveryBackoffBase.Std())
	assert.Equal(t, 60*time.Second, cfg.Supervisor.RecoveryBackoffCap.Std())
	assert.Equal(t, 30*time.Second, cfg.Supervisor.ShutdownTimeout.Std())
	assert.Equal(t, 5*time.Second, cfg.Supervisor.HealthCheckTimeout.Std())

	require.NoError(t, cfg.Validate())
}

func TestDefaultsDoNotClobberExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Supervisor.CheckInterval = Duration(5 * time.Second)
	cfg.Supervisor.FailureThreshold = 1
	cfg.ApplyDefaults()

	assert.Equal(t, 5*time.Second, cfg.Supervisor.CheckInterval.Std())
	assert.Equal(t, 1, cfg.Supervisor.FailureThreshold)
}

func TestValidateRejectsBadSupervisorSettings(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.ApplyDefaults()
		return cfg
	}

	cfg := base()
	cfg.Supervisor.CheckInterval = Duration(-time.Second)
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Supervisor.FailureThreshold = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Supervisor.RecoveryBackoffCap = Duration(500 * time.Millisecond)
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Supervisor.HealthCheckTimeout = Duration(-time.Second)
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.API.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Integration.Enabled = true
	cfg.Integration.Endpoint = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Platform.LogFormat = "xml"
	assert.Error(t, cfg.Validate())
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
platform:
  name: optimizer-test
  environment: staging
nats:
  url: nats://nats.internal:4222
supervisor:
  check_interval: 10s
  failure_threshold: 5
optimizer:
  min_samples: 50
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "optimizer-test", cfg.Platform.Name)
	assert.Equal(t, "staging", cfg.Platform.Environment)
	assert.Equal(t, "nats://nats.internal:4222", cfg.NATS.URL)
	assert.Equal(t, 10*time.Second, cfg.Supervisor.CheckInterval.Std())
	assert.Equal(t, 5, cfg.Supervisor.FailureThreshold)
	assert.Equal(t, 50, cfg.Optimizer.MinSamples)

	// Unspecified sections still get defaults.
	assert.Equal(t, 3, cfg.Supervisor.MaxRecoveryAttempts)
	assert.Equal(t, 8080, cfg.API.Port)
}

func TestLoadJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"nats": {"url": "nats://json:4222"}, "supervisor": {"shutdown_timeout": "45s"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://json:4222", cfg.NATS.URL)
	assert.Equal(t, 45*time.Second, cfg.Supervisor.ShutdownTimeout.Std())
}

func TestLoadEmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := NewLoader().LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCheckInterval, cfg.Supervisor.CheckInterval.Std())
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("supervisor: {check_interval: -5s}"), 0o600))

	_, err := NewLoader().LoadFile(path)
	assert.Error(t, err)

	_, err = NewLoader().LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AUTOOPT_NATS_URL", "nats://fromenv:4222")
	t.Setenv("AUTOOPT_API_PORT", "9999")
	t.Setenv("AUTOOPT_CHECK_INTERVAL", "7s")

	cfg, err := NewLoader().LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "nats://fromenv:4222", cfg.NATS.URL)
	assert.Equal(t, 9999, cfg.API.Port)
	assert.Equal(t, 7*time.Second, cfg.Supervisor.CheckInterval.Std())
}

func TestSafeConfigUpdateValidates(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	sc := NewSafeConfig(cfg)

	bad := cfg.Clone()
	bad.Supervisor.FailureThreshold = -1
	assert.Error(t, sc.Update(bad))

	// Current config is untouched after a failed update.
	assert.Equal(t, 3, sc.Get().Supervisor.FailureThreshold)
}

func TestSafeConfigGetReturnsCopy(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	sc := NewSafeConfig(cfg)

	got := sc.Get()
	got.Platform.Name = "mutated"

	assert.Equal(t, "auto-optimizer", sc.Get().Platform.Name)
}

func TestSaveToFileRoundTrip(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Platform.Name = "roundtrip"

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "roundtrip", loaded.Platform.Name)
	assert.Equal(t, cfg.Supervisor.CheckInterval, loaded.Supervisor.CheckInterval)
}
