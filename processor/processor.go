// Package processor turns rolling telemetry aggregates into optimization
// decisions: it scores candidate model configurations against observed
// cost, latency, and error behavior, persists the winning configuration per
// workload, and publishes each decision for downstream consumers.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LLM-Dev-Ops/auto-optimizer/errors"
	"github.com/LLM-Dev-Ops/auto-optimizer/health"
	"github.com/LLM-Dev-Ops/auto-optimizer/service"
	"github.com/LLM-Dev-Ops/auto-optimizer/types"
)

// Name is the service name the processor registers under
const Name = "processor"

// StatsSource provides rolling telemetry aggregates, normally the collector
type StatsSource interface {
	Stats() map[string]types.ModelStats
}

// DecisionSink persists decisions, normally the store
type DecisionSink interface {
	PutDecision(ctx context.Context, d types.Decision) error
}

// Config tunes the decision engine
type Config struct {
	Candidates    []types.Candidate // catalog of configurations to score
	Interval      time.Duration     // how often decisions are recomputed
	MinSamples    int               // samples required before deciding
	CostWeight    float64
	LatencyWeight float64
	QualityWeight float64
	Subject       string // NATS subject decisions are published to

	// Available filters the catalog by current model availability,
	// normally wired to the prober. Nil means every candidate is eligible.
	Available func(model string) bool
}

// Processor periodically recomputes the best candidate configuration for
// every workload with enough telemetry.
type Processor struct {
	*service.BaseService

	cfg    Config
	source StatsSource
	sink   DecisionSink

	mu          sync.RWMutex
	subscribers []chan types.Decision
	lastCycle   time.Time
	lastErr     error
}

// New creates a processor service reading from source and writing to sink
func New(cfg Config, source StatsSource, sink DecisionSink, opts ...service.Option) *Processor {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 20
	}
	if cfg.CostWeight == 0 && cfg.LatencyWeight == 0 && cfg.QualityWeight == 0 {
		cfg.CostWeight, cfg.LatencyWeight, cfg.QualityWeight = 0.4, 0.3, 0.3
	}
	if cfg.Subject == "" {
		cfg.Subject = "optimizer.decisions"
	}

	p := &Processor{
		cfg:    cfg,
		source: source,
		sink:   sink,
	}
	p.BaseService = service.NewBaseService(Name, opts...)
	return p
}

// Start begins the periodic decision loop
func (p *Processor) Start(ctx context.Context) error {
	if p.source == nil || p.sink == nil {
		return fmt.Errorf("%w: processor requires a stats source and decision sink",
			errors.ErrInvalidConfig)
	}
	if len(p.cfg.Candidates) == 0 {
		return fmt.Errorf("%w: processor requires at least one candidate",
			errors.ErrInvalidConfig)
	}

	if err := p.BaseService.Start(ctx); err != nil {
		return err
	}

	done := p.Done()
	p.Go(func() {
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				p.ComputeAll(context.Background())
			}
		}
	})

	p.Logger().Info("decision loop started",
		"interval", p.cfg.Interval,
		"candidates", len(p.cfg.Candidates),
		"min_samples", p.cfg.MinSamples)
	return nil
}

// OnDecision subscribes to computed decisions. The channel is buffered;
// slow subscribers miss decisions rather than stalling the loop.
func (p *Processor) OnDecision() <-chan types.Decision {
	ch := make(chan types.Decision, 8)
	p.mu.Lock()
	p.subscribers = append(p.subscribers, ch)
	p.mu.Unlock()
	return ch
}

// ComputeAll runs one decision cycle over every workload with enough samples
func (p *Processor) ComputeAll(ctx context.Context) {
	stats := p.source.Stats()

	var cycleErr error
	for workload, ms := range stats {
		if ms.SampleCount < p.cfg.MinSamples {
			p.Logger().Debug("skipping workload, not enough samples",
				"workload", workload, "samples", ms.SampleCount, "required", p.cfg.MinSamples)
			continue
		}

		decision, err := p.ComputeDecision(workload, ms)
		if err != nil {
			p.Logger().Error("decision computation failed", "workload", workload, "error", err)
			cycleErr = err
			continue
		}

		if err := p.sink.PutDecision(ctx, decision); err != nil {
			p.Logger().Error("decision persistence failed", "workload", workload, "error", err)
			cycleErr = err
			continue
		}

		p.publish(ctx, decision)
		p.fanOut(decision)

		if m := p.Metrics(); m != nil {
			m.CoreMetrics().RecordDecisionComputed(workload)
		}
		p.Logger().Info("decision computed",
			"workload", workload,
			"recommended", decision.Recommended.Model,
			"score", decision.Score)
	}

	p.mu.Lock()
	p.lastCycle = time.Now()
	p.lastErr = cycleErr
	p.mu.Unlock()
}

// ComputeDecision scores every candidate against the workload's observed
// stats and returns the winner
func (p *Processor) ComputeDecision(workload string, stats types.ModelStats) (types.Decision, error) {
	if stats.SampleCount < p.cfg.MinSamples {
		return types.Decision{}, fmt.Errorf("workload %s has %d samples, need %d",
			workload, stats.SampleCount, p.cfg.MinSamples)
	}

	candidates := p.eligibleCandidates()
	scores := p.scoreCandidates(candidates, stats)

	best := 0
	for i := range scores {
		if scores[i] > scores[best] {
			best = i
		}
	}
	winner := candidates[best]

	return types.Decision{
		ID:          uuid.NewString(),
		Workload:    workload,
		Recommended: winner.Config,
		Score:       scores[best],
		Rationale: fmt.Sprintf(
			"selected %s from %d candidates: avg latency %.0fms, p95 %.0fms, avg cost $%.4f, error rate %.1f%% over %d samples",
			winner.Config.Model, len(candidates),
			stats.AvgLatencyMs, stats.P95LatencyMs, stats.AvgCostUSD,
			stats.ErrorRate()*100, stats.SampleCount),
		BasedOn:   stats,
		CreatedAt: time.Now(),
	}, nil
}

// eligibleCandidates filters the catalog by current availability. When
// every model is reported down the full catalog is used instead, since an
// unreachable probe endpoint must not leave workloads without a
// recommendation.
func (p *Processor) eligibleCandidates() []types.Candidate {
	if p.cfg.Available == nil {
		return p.cfg.Candidates
	}

	out := make([]types.Candidate, 0, len(p.cfg.Candidates))
	for _, c := range p.cfg.Candidates {
		if p.cfg.Available(c.Config.Model) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		p.Logger().Warn("no candidate currently available, scoring full catalog")
		return p.cfg.Candidates
	}
	return out
}

// scoreCandidates returns one score in [0, 1] per candidate. Cost and
// latency are min-max normalized across the candidate set so the weights
// act on comparable scales; quality is already 0..1. A high observed error
// rate shifts weight toward quality.
func (p *Processor) scoreCandidates(candidates []types.Candidate, stats types.ModelStats) []float64 {
	minCost, maxCost := candidates[0].CostPer1KUSD, candidates[0].CostPer1KUSD
	minLat, maxLat := candidates[0].BaseLatencyMs, candidates[0].BaseLatencyMs
	for _, c := range candidates[1:] {
		minCost = min(minCost, c.CostPer1KUSD)
		maxCost = max(maxCost, c.CostPer1KUSD)
		minLat = min(minLat, c.BaseLatencyMs)
		maxLat = max(maxLat, c.BaseLatencyMs)
	}

	wCost, wLat, wQual := p.cfg.CostWeight, p.cfg.LatencyWeight, p.cfg.QualityWeight
	if stats.ErrorRate() > 0.05 {
		// The workload is erroring; reliability outweighs savings.
		wQual *= 2
	}
	total := wCost + wLat + wQual

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		costScore := 1.0
		if maxCost > minCost {
			costScore = (maxCost - c.CostPer1KUSD) / (maxCost - minCost)
		}
		latScore := 1.0
		if maxLat > minLat {
			latScore = (maxLat - c.BaseLatencyMs) / (maxLat - minLat)
		}
		scores[i] = (wCost*costScore + wLat*latScore + wQual*c.QualityScore) / total
	}
	return scores
}

// publish sends the decision to the decision subject when NATS is wired
func (p *Processor) publish(ctx context.Context, d types.Decision) {
	nats := p.NATS()
	if nats == nil || !nats.IsHealthy() {
		return
	}

	data, err := json.Marshal(d)
	if err != nil {
		p.Logger().Error("decision marshal failed", "workload", d.Workload, "error", err)
		return
	}
	if err := nats.Publish(ctx, p.cfg.Subject, data); err != nil {
		p.Logger().Warn("decision publish failed", "workload", d.Workload, "error", err)
	}
}

func (p *Processor) fanOut(d types.Decision) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subscribers {
		select {
		case ch <- d:
		default:
		}
	}
}

// HealthCheck reports decision-loop health; a failing cycle degrades it
func (p *Processor) HealthCheck(_ context.Context) (health.CheckResult, error) {
	if p.State() != service.StateRunning {
		return health.Unhealthy(fmt.Sprintf("processor is %s", p.State())), nil
	}

	p.mu.RLock()
	lastCycle := p.lastCycle
	lastErr := p.lastErr
	p.mu.RUnlock()

	if lastErr != nil {
		return health.Unhealthy(fmt.Sprintf("last decision cycle failed: %v", lastErr)), nil
	}

	result := health.Healthy("decision loop running")
	if !lastCycle.IsZero() {
		result = result.WithMetadata("last_cycle", lastCycle.Format(time.RFC3339))
	}
	return result, nil
}

// Recover restarts the decision loop
func (p *Processor) Recover(ctx context.Context) error {
	p.Logger().Info("recovering processor via restart")
	if err := p.Stop(5 * time.Second); err != nil {
		p.Logger().Warn("stop during recovery failed", "error", err)
	}
	return p.Start(ctx)
}
