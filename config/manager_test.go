package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestManagerRequiresConfig(t *testing.T) {
	_, err := NewManager("", nil, nil)
	assert.Error(t, err)
}

func TestOnChangeDeliversInitialConfig(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	cm, err := NewManager("", cfg, nil)
	require.NoError(t, err)

	ch := cm.OnChange("supervisor")
	select {
	case update := <-ch:
		assert.Equal(t, "supervisor", update.Path)
		assert.Equal(t, 3, update.Config.Get().Supervisor.FailureThreshold)
	case <-time.After(time.Second):
		t.Fatal("no initial update received")
	}
}

func TestReloadNotifiesMatchingSubscribers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "supervisor:\n  failure_threshold: 3\n")

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	cm, err := NewManager(path, cfg, nil)
	require.NoError(t, err)

	supervisorCh := cm.OnChange("supervisor")
	optimizerCh := cm.OnChange("optimizer")
	wildcardCh := cm.OnChange("*")
	<-supervisorCh // drain initial updates
	<-optimizerCh
	<-wildcardCh

	writeConfig(t, path, "supervisor:\n  failure_threshold: 5\n")
	require.NoError(t, cm.Reload())

	select {
	case update := <-supervisorCh:
		assert.Equal(t, "supervisor", update.Path)
		assert.Equal(t, 5, update.Config.Get().Supervisor.FailureThreshold)
	case <-time.After(time.Second):
		t.Fatal("supervisor subscriber not notified")
	}

	select {
	case <-wildcardCh:
	case <-time.After(time.Second):
		t.Fatal("wildcard subscriber not notified")
	}

	select {
	case update := <-optimizerCh:
		t.Fatalf("optimizer subscriber notified for unrelated change: %+v", update)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReloadNoChangesIsQuiet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "supervisor:\n  failure_threshold: 3\n")

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	cm, err := NewManager(path, cfg, nil)
	require.NoError(t, err)

	ch := cm.OnChange("supervisor")
	<-ch

	require.NoError(t, cm.Reload())

	select {
	case update := <-ch:
		t.Fatalf("unexpected notification for unchanged config: %+v", update)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReloadKeepsConfigOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "supervisor:\n  failure_threshold: 3\n")

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	cm, err := NewManager(path, cfg, nil)
	require.NoError(t, err)

	writeConfig(t, path, "supervisor: {failure_threshold: -9}")
	assert.Error(t, cm.Reload())

	// Running config untouched.
	assert.Equal(t, 3, cm.GetConfig().Get().Supervisor.FailureThreshold)
}

func TestReloadWithoutPathIsNoop(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	cm, err := NewManager("", cfg, nil)
	require.NoError(t, err)
	assert.NoError(t, cm.Reload())
}

func TestMatchesPattern(t *testing.T) {
	assert.True(t, matchesPattern("supervisor", "supervisor"))
	assert.True(t, matchesPattern("supervisor", "*"))
	assert.True(t, matchesPattern("nats", "na*"))
	assert.False(t, matchesPattern("optimizer", "supervisor"))
	assert.False(t, matchesPattern("api", "nats*"))
}
