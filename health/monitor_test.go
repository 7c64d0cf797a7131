package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterServiceSeedsZeroedRecord(t *testing.T) {
	m := NewMonitor()
	m.RegisterService("store")

	sh, exists := m.GetServiceHealth("store")
	require.True(t, exists)
	assert.Equal(t, "store", sh.Name)
	assert.Equal(t, 0, sh.ConsecutiveFailures)
	assert.Equal(t, int64(0), sh.TotalFailures)
	assert.Nil(t, sh.LastCheck)
}

func TestRegisterServiceIsIdempotent(t *testing.T) {
	m := NewMonitor()
	m.RegisterService("store")

	err := m.UpdateServiceHealth("store", "running", Unhealthy("down"))
	require.NoError(t, err)

	// Re-registering must not wipe failure history.
	m.RegisterService("store")

	sh, _ := m.GetServiceHealth("store")
	assert.Equal(t, 1, sh.ConsecutiveFailures)
}

func TestUpdateUnknownServiceFails(t *testing.T) {
	m := NewMonitor()
	err := m.UpdateServiceHealth("ghost", "running", Healthy("ok"))
	assert.Error(t, err)
}

func TestFailureCounting(t *testing.T) {
	m := NewMonitor()
	m.RegisterService("collector")

	require.NoError(t, m.UpdateServiceHealth("collector", "running", Unhealthy("nats down")))
	require.NoError(t, m.UpdateServiceHealth("collector", "running", Unhealthy("nats down")))

	sh, _ := m.GetServiceHealth("collector")
	assert.Equal(t, 2, sh.ConsecutiveFailures)
	assert.Equal(t, int64(2), sh.TotalFailures)

	// One healthy check resets consecutive but not total.
	require.NoError(t, m.UpdateServiceHealth("collector", "running", Healthy("ok")))
	sh, _ = m.GetServiceHealth("collector")
	assert.Equal(t, 0, sh.ConsecutiveFailures)
	assert.Equal(t, int64(2), sh.TotalFailures)
}

func TestSystemHealthAggregation(t *testing.T) {
	m := NewMonitor(WithFailureThreshold(2))
	m.RegisterService("a")
	m.RegisterService("b")

	assert.Equal(t, SystemHealthy, m.GetSystemHealth())

	require.NoError(t, m.UpdateServiceHealth("a", "running", Unhealthy("check failed")))
	assert.Equal(t, SystemDegraded, m.GetSystemHealth())

	require.NoError(t, m.UpdateServiceHealth("a", "degraded", Unhealthy("check failed")))
	assert.Equal(t, SystemUnhealthy, m.GetSystemHealth())

	require.NoError(t, m.UpdateServiceHealth("a", "running", Healthy("recovered")))
	assert.Equal(t, SystemHealthy, m.GetSystemHealth())
}

func TestNeedsRecoveryWindow(t *testing.T) {
	m := NewMonitor(WithFailureThreshold(2), WithMaxRecoveryAttempts(3))
	m.RegisterService("processor")

	assert.False(t, m.NeedsRecovery("processor"))
	assert.False(t, m.NeedsRecovery("not-registered"))

	require.NoError(t, m.UpdateServiceHealth("processor", "running", Unhealthy("x")))
	assert.False(t, m.NeedsRecovery("processor"))

	require.NoError(t, m.UpdateServiceHealth("processor", "running", Unhealthy("x")))
	assert.True(t, m.NeedsRecovery("processor"))

	// Past threshold+attempts the service is persistently failed and no
	// longer eligible for recovery.
	for i := 0; i < 3; i++ {
		require.NoError(t, m.UpdateServiceHealth("processor", "failed", Unhealthy("x")))
	}
	assert.False(t, m.NeedsRecovery("processor"))
}

func TestMarkRecovered(t *testing.T) {
	m := NewMonitor(WithFailureThreshold(2))
	m.RegisterService("api")

	require.NoError(t, m.UpdateServiceHealth("api", "running", Unhealthy("x")))
	require.NoError(t, m.UpdateServiceHealth("api", "running", Unhealthy("x")))
	require.True(t, m.NeedsRecovery("api"))

	m.MarkRecovered("api")
	assert.False(t, m.NeedsRecovery("api"))

	sh, _ := m.GetServiceHealth("api")
	assert.Equal(t, 0, sh.ConsecutiveFailures)
	assert.Equal(t, int64(2), sh.TotalFailures)
}

func TestBuildResponse(t *testing.T) {
	m := NewMonitor()
	m.RegisterService("store")
	m.RegisterService("collector")

	result := Healthy("bucket reachable").WithMetadata("backend", "jetstream")
	require.NoError(t, m.UpdateServiceHealth("store", "running", result))
	require.NoError(t, m.UpdateServiceHealth("collector", "running", Unhealthy("no subscription")))

	resp := m.BuildResponse(time.Now().Add(-90 * time.Second))

	assert.Equal(t, SystemDegraded, resp.Status)
	assert.InDelta(t, 90, resp.UptimeSeconds, 5)
	require.Len(t, resp.Services, 2)

	storeStatus := resp.Services["store"]
	assert.True(t, storeStatus.Healthy)
	assert.Equal(t, "jetstream", storeStatus.Metadata["backend"])

	collectorStatus := resp.Services["collector"]
	assert.False(t, collectorStatus.Healthy)
	assert.Equal(t, 1, collectorStatus.ConsecutiveFailures)
}

func TestCheckResultWithMetadataDoesNotMutateOriginal(t *testing.T) {
	original := Healthy("ok")
	derived := original.WithMetadata("k", "v")

	assert.Nil(t, original.Metadata)
	assert.Equal(t, "v", derived.Metadata["k"])
}
