package processor

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LLM-Dev-Ops/auto-optimizer/types"
)

type fakeSource struct {
	stats map[string]types.ModelStats
}

func (f *fakeSource) Stats() map[string]types.ModelStats { return f.stats }

type fakeSink struct {
	mu        sync.Mutex
	decisions map[string]types.Decision
	err       error
}

func newFakeSink() *fakeSink {
	return &fakeSink{decisions: make(map[string]types.Decision)}
}

func (f *fakeSink) PutDecision(_ context.Context, d types.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.decisions[d.Workload] = d
	return nil
}

func (f *fakeSink) get(workload string) (types.Decision, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.decisions[workload]
	return d, ok
}

func catalog() []types.Candidate {
	return []types.Candidate{
		{
			Config:        types.ModelConfig{Model: "cheap-small", Temperature: 0.7, MaxTokens: 2048},
			CostPer1KUSD:  0.0005,
			QualityScore:  0.55,
			BaseLatencyMs: 300,
		},
		{
			Config:        types.ModelConfig{Model: "balanced-mid", Temperature: 0.7, MaxTokens: 4096},
			CostPer1KUSD:  0.003,
			QualityScore:  0.78,
			BaseLatencyMs: 600,
		},
		{
			Config:        types.ModelConfig{Model: "premium-large", Temperature: 0.7, MaxTokens: 8192},
			CostPer1KUSD:  0.03,
			QualityScore:  0.95,
			BaseLatencyMs: 1500,
		},
	}
}

func stats(model string, samples int, errorRate float64) types.ModelStats {
	return types.ModelStats{
		Model:        model,
		SampleCount:  samples,
		ErrorCount:   int(float64(samples) * errorRate),
		AvgLatencyMs: 400,
		P95LatencyMs: 900,
		AvgCostUSD:   0.01,
		TotalTokens:  int64(samples * 150),
	}
}

func TestComputeDecisionPicksCostEffectiveCandidate(t *testing.T) {
	p := New(Config{
		Candidates: catalog(),
		MinSamples: 10,
		CostWeight: 0.8, LatencyWeight: 0.1, QualityWeight: 0.1,
	}, &fakeSource{}, newFakeSink())

	d, err := p.ComputeDecision("chat", stats("chat", 50, 0))
	require.NoError(t, err)

	assert.Equal(t, "cheap-small", d.Recommended.Model)
	assert.NotEmpty(t, d.ID)
	assert.Greater(t, d.Score, 0.0)
	assert.LessOrEqual(t, d.Score, 1.0)
	assert.Contains(t, d.Rationale, "cheap-small")
	assert.Equal(t, 50, d.BasedOn.SampleCount)
}

func TestComputeDecisionPrefersQualityWhenWeighted(t *testing.T) {
	p := New(Config{
		Candidates: catalog(),
		MinSamples: 10,
		CostWeight: 0.05, LatencyWeight: 0.05, QualityWeight: 0.9,
	}, &fakeSource{}, newFakeSink())

	d, err := p.ComputeDecision("chat", stats("chat", 50, 0))
	require.NoError(t, err)
	assert.Equal(t, "premium-large", d.Recommended.Model)
}

func TestHighErrorRateShiftsWeightTowardQuality(t *testing.T) {
	cfg := Config{
		Candidates: catalog(),
		MinSamples: 10,
		CostWeight: 0.5, LatencyWeight: 0.2, QualityWeight: 0.3,
	}

	healthy := New(cfg, &fakeSource{}, newFakeSink())
	scoresHealthy := healthy.scoreCandidates(catalog(), stats("chat", 100, 0))

	failing := New(cfg, &fakeSource{}, newFakeSink())
	scoresFailing := failing.scoreCandidates(catalog(), stats("chat", 100, 0.2))

	// With errors, the premium candidate gains relative to the cheap one.
	healthyGap := scoresHealthy[0] - scoresHealthy[2]
	failingGap := scoresFailing[0] - scoresFailing[2]
	assert.Greater(t, healthyGap, failingGap)
}

func TestComputeDecisionSkipsUnavailableCandidates(t *testing.T) {
	down := map[string]bool{"cheap-small": true}
	p := New(Config{
		Candidates: catalog(),
		MinSamples: 10,
		CostWeight: 0.8, LatencyWeight: 0.1, QualityWeight: 0.1,
		Available: func(model string) bool { return !down[model] },
	}, &fakeSource{}, newFakeSink())

	d, err := p.ComputeDecision("chat", stats("chat", 50, 0))
	require.NoError(t, err)

	// The cost winner is down, so the cheapest eligible model wins.
	assert.Equal(t, "balanced-mid", d.Recommended.Model)
	assert.Contains(t, d.Rationale, "2 candidates")
}

func TestComputeDecisionFallsBackWhenNothingAvailable(t *testing.T) {
	p := New(Config{
		Candidates: catalog(),
		MinSamples: 10,
		CostWeight: 0.8, LatencyWeight: 0.1, QualityWeight: 0.1,
		Available: func(string) bool { return false },
	}, &fakeSource{}, newFakeSink())

	d, err := p.ComputeDecision("chat", stats("chat", 50, 0))
	require.NoError(t, err)
	assert.Equal(t, "cheap-small", d.Recommended.Model)
}

func TestComputeDecisionRequiresMinSamples(t *testing.T) {
	p := New(Config{Candidates: catalog(), MinSamples: 100}, &fakeSource{}, newFakeSink())

	_, err := p.ComputeDecision("chat", stats("chat", 5, 0))
	assert.Error(t, err)
}

func TestComputeAllPersistsAndFansOut(t *testing.T) {
	source := &fakeSource{stats: map[string]types.ModelStats{
		"chat":   stats("chat", 50, 0),
		"sparse": stats("sparse", 3, 0), // below min samples, skipped
	}}
	sink := newFakeSink()

	p := New(Config{Candidates: catalog(), MinSamples: 10}, source, sink)
	decisions := p.OnDecision()

	p.ComputeAll(context.Background())

	got, ok := sink.get("chat")
	require.True(t, ok)
	assert.Equal(t, "chat", got.Workload)

	_, ok = sink.get("sparse")
	assert.False(t, ok, "workloads below min_samples must be skipped")

	select {
	case d := <-decisions:
		assert.Equal(t, "chat", d.Workload)
	case <-time.After(time.Second):
		t.Fatal("decision subscriber not notified")
	}
}

func TestComputeAllRecordsCycleError(t *testing.T) {
	source := &fakeSource{stats: map[string]types.ModelStats{
		"chat": stats("chat", 50, 0),
	}}
	sink := newFakeSink()
	sink.err = stderrors.New("bucket down")

	p := New(Config{Candidates: catalog(), MinSamples: 10}, source, sink)
	require.NoError(t, p.Start(context.Background()))
	defer func() { _ = p.Stop(time.Second) }()

	p.ComputeAll(context.Background())

	result, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Healthy)

	// The next clean cycle restores health.
	sink.err = nil
	p.ComputeAll(context.Background())
	result, err = p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Healthy)
}

func TestStartValidatesWiring(t *testing.T) {
	p := New(Config{Candidates: catalog()}, nil, nil)
	assert.Error(t, p.Start(context.Background()))

	p = New(Config{}, &fakeSource{}, newFakeSink())
	assert.Error(t, p.Start(context.Background()))
}

func TestDecisionIDsAreUnique(t *testing.T) {
	p := New(Config{Candidates: catalog(), MinSamples: 1}, &fakeSource{}, newFakeSink())

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		d, err := p.ComputeDecision("chat", stats("chat", 10, 0))
		require.NoError(t, err)
		assert.False(t, seen[d.ID])
		seen[d.ID] = true
	}
}
