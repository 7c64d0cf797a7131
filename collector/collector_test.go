package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LLM-Dev-Ops/auto-optimizer/types"
)

func sample(model string, latency, cost float64, errorKind string) types.Sample {
	return types.Sample{
		Model:            model,
		PromptTokens:     100,
		CompletionTokens: 50,
		LatencyMs:        latency,
		CostUSD:          cost,
		ErrorKind:        errorKind,
		Timestamp:        time.Now(),
	}
}

func TestIngestAndStats(t *testing.T) {
	c := New(Config{WindowSize: 10})

	require.NoError(t, c.Ingest(sample("gpt-4", 100, 0.02, "")))
	require.NoError(t, c.Ingest(sample("gpt-4", 200, 0.04, "")))
	require.NoError(t, c.Ingest(sample("gpt-4", 300, 0.06, "timeout")))

	stats, ok := c.StatsFor("gpt-4")
	require.True(t, ok)

	assert.Equal(t, 3, stats.SampleCount)
	assert.Equal(t, 1, stats.ErrorCount)
	assert.InDelta(t, 200, stats.AvgLatencyMs, 0.001)
	assert.InDelta(t, 0.04, stats.AvgCostUSD, 0.0001)
	assert.Equal(t, int64(450), stats.TotalTokens)
	assert.InDelta(t, 1.0/3.0, stats.ErrorRate(), 0.001)
}

func TestIngestRejectsInvalidSamples(t *testing.T) {
	c := New(Config{})

	assert.Error(t, c.Ingest(types.Sample{})) // missing model
	assert.Error(t, c.Ingest(types.Sample{Model: "m", LatencyMs: -1}))

	_, ok := c.StatsFor("m")
	assert.False(t, ok)
}

func TestIngestDefaultsTimestamp(t *testing.T) {
	c := New(Config{})
	require.NoError(t, c.Ingest(types.Sample{Model: "m", LatencyMs: 10}))

	stats, ok := c.StatsFor("m")
	require.True(t, ok)
	assert.False(t, stats.WindowEnd.IsZero())
}

func TestWindowEvictsOldestSamples(t *testing.T) {
	c := New(Config{WindowSize: 3})

	// Fill beyond capacity; only the last 3 remain.
	for i, latency := range []float64{10, 20, 30, 40, 50} {
		s := sample("m", latency, 0.01, "")
		if i < 2 {
			s.ErrorKind = "timeout" // both errors get evicted
		}
		require.NoError(t, c.Ingest(s))
	}

	stats, ok := c.StatsFor("m")
	require.True(t, ok)
	assert.Equal(t, 3, stats.SampleCount)
	assert.Equal(t, 0, stats.ErrorCount, "evicted samples must leave the stats")
	assert.InDelta(t, 40, stats.AvgLatencyMs, 0.001)
}

func TestP95Latency(t *testing.T) {
	c := New(Config{WindowSize: 200})

	for i := 1; i <= 100; i++ {
		require.NoError(t, c.Ingest(sample("m", float64(i), 0.01, "")))
	}

	stats, ok := c.StatsFor("m")
	require.True(t, ok)
	assert.InDelta(t, 95, stats.P95LatencyMs, 1)
}

func TestStatsTracksModelsIndependently(t *testing.T) {
	c := New(Config{})

	require.NoError(t, c.Ingest(sample("fast", 50, 0.001, "")))
	require.NoError(t, c.Ingest(sample("slow", 800, 0.05, "")))

	assert.Equal(t, []string{"fast", "slow"}, c.Models())

	all := c.Stats()
	require.Len(t, all, 2)
	assert.InDelta(t, 50, all["fast"].AvgLatencyMs, 0.001)
	assert.InDelta(t, 800, all["slow"].AvgLatencyMs, 0.001)
}

func TestStatsForUnknownModel(t *testing.T) {
	c := New(Config{})
	_, ok := c.StatsFor("nope")
	assert.False(t, ok)
}

func TestHealthCheckFollowsLifecycle(t *testing.T) {
	c := New(Config{})

	result, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Healthy, "stopped collector is unhealthy")

	require.NoError(t, c.Start(context.Background()))
	result, err = c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Healthy)

	require.NoError(t, c.Stop(time.Second))
	result, err = c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Healthy)
}

func TestRecoverRestarts(t *testing.T) {
	c := New(Config{})
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.Recover(context.Background()))

	result, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Healthy)

	require.NoError(t, c.Stop(time.Second))
}

func TestPercentileEdgeCases(t *testing.T) {
	assert.Equal(t, 0.0, percentile(nil, 0.95))
	assert.Equal(t, 42.0, percentile([]float64{42}, 0.95))
	assert.Equal(t, 1.0, percentile([]float64{2, 1}, 0.0))
}
