// Package collector ingests LLM telemetry samples from NATS and maintains
// rolling per-model statistics for the optimization processor.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LLM-Dev-Ops/auto-optimizer/errors"
	"github.com/LLM-Dev-Ops/auto-optimizer/health"
	"github.com/LLM-Dev-Ops/auto-optimizer/service"
	"github.com/LLM-Dev-Ops/auto-optimizer/types"
)

// Name is the service name the collector registers under
const Name = "collector"

// Config tunes the collector
type Config struct {
	Subject    string // telemetry subject to subscribe to
	WindowSize int    // samples retained per model
}

// Collector subscribes to the telemetry subject and aggregates samples into
// per-model rolling windows. Aggregates are recomputed from the window on
// demand, so a sample leaving the window leaves the stats with it.
type Collector struct {
	*service.BaseService

	subject    string
	windowSize int

	mu      sync.RWMutex
	windows map[string]*window
}

// window is a fixed-size ring of the most recent samples for one model
type window struct {
	samples []types.Sample
	next    int
}

func (w *window) add(s types.Sample) {
	if len(w.samples) < cap(w.samples) {
		w.samples = append(w.samples, s)
		return
	}
	w.samples[w.next] = s
	w.next = (w.next + 1) % len(w.samples)
}

func (w *window) snapshot() []types.Sample {
	out := make([]types.Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// New creates a collector service
func New(cfg Config, opts ...service.Option) *Collector {
	if cfg.Subject == "" {
		cfg.Subject = "telemetry.samples"
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 512
	}

	c := &Collector{
		subject:    cfg.Subject,
		windowSize: cfg.WindowSize,
		windows:    make(map[string]*window),
	}
	c.BaseService = service.NewBaseService(Name, opts...)
	return c
}

// Start subscribes to the telemetry subject and begins aggregating
func (c *Collector) Start(ctx context.Context) error {
	if err := c.BaseService.Start(ctx); err != nil {
		return err
	}

	if nats := c.NATS(); nats != nil {
		if err := nats.Subscribe(ctx, c.subject, c.handleMessage); err != nil {
			_ = c.BaseService.Stop(time.Second)
			return errors.Wrap(err, "Collector", "Start", "subscribe to telemetry")
		}
		c.Logger().Info("subscribed to telemetry", "subject", c.subject)
	}

	return nil
}

// handleMessage parses and ingests one telemetry message
func (c *Collector) handleMessage(_ context.Context, data []byte) {
	var sample types.Sample
	if err := json.Unmarshal(data, &sample); err != nil {
		c.Logger().Warn("dropping malformed telemetry message", "error", err)
		c.recordIngest("unknown", "malformed")
		return
	}

	if err := c.Ingest(sample); err != nil {
		c.Logger().Warn("dropping invalid sample", "model", sample.Model, "error", err)
	}
}

// Ingest adds one sample to its model's window
func (c *Collector) Ingest(sample types.Sample) error {
	if err := sample.Validate(); err != nil {
		c.recordIngest(sample.Model, "invalid")
		return errors.WrapInvalid(err, "Collector", "Ingest", "validate sample")
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	c.mu.Lock()
	w, ok := c.windows[sample.Model]
	if !ok {
		w = &window{samples: make([]types.Sample, 0, c.windowSize)}
		c.windows[sample.Model] = w
	}
	w.add(sample)
	c.mu.Unlock()

	status := "ok"
	if sample.ErrorKind != "" {
		status = "error"
	}
	c.recordIngest(sample.Model, status)
	return nil
}

func (c *Collector) recordIngest(model, status string) {
	if m := c.Metrics(); m != nil {
		m.CoreMetrics().RecordSampleIngested(model, status)
	}
}

// Models returns the models with at least one sample in the window
func (c *Collector) Models() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	models := make([]string, 0, len(c.windows))
	for model := range c.windows {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}

// Stats returns the current aggregate for every model
func (c *Collector) Stats() map[string]types.ModelStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]types.ModelStats, len(c.windows))
	for model, w := range c.windows {
		out[model] = computeStats(model, w.snapshot())
	}
	return out
}

// StatsFor returns the aggregate for one model
func (c *Collector) StatsFor(model string) (types.ModelStats, bool) {
	c.mu.RLock()
	w, ok := c.windows[model]
	if !ok {
		c.mu.RUnlock()
		return types.ModelStats{}, false
	}
	samples := w.snapshot()
	c.mu.RUnlock()

	return computeStats(model, samples), true
}

// computeStats derives the rolling aggregate from the window contents
func computeStats(model string, samples []types.Sample) types.ModelStats {
	stats := types.ModelStats{Model: model, SampleCount: len(samples)}
	if len(samples) == 0 {
		return stats
	}

	latencies := make([]float64, 0, len(samples))
	var latencySum, costSum float64

	stats.WindowStart = samples[0].Timestamp
	stats.WindowEnd = samples[0].Timestamp

	for _, s := range samples {
		latencies = append(latencies, s.LatencyMs)
		latencySum += s.LatencyMs
		costSum += s.CostUSD
		stats.TotalTokens += int64(s.TotalTokens())
		if s.ErrorKind != "" {
			stats.ErrorCount++
		}
		if s.Timestamp.Before(stats.WindowStart) {
			stats.WindowStart = s.Timestamp
		}
		if s.Timestamp.After(stats.WindowEnd) {
			stats.WindowEnd = s.Timestamp
		}
	}

	stats.AvgLatencyMs = latencySum / float64(len(samples))
	stats.AvgCostUSD = costSum / float64(len(samples))
	stats.P95LatencyMs = percentile(latencies, 0.95)
	return stats
}

// percentile computes the pth percentile using nearest-rank on a sorted copy
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// HealthCheck reports subscription health: the service must be running and,
// when NATS is wired, the connection must be up.
func (c *Collector) HealthCheck(_ context.Context) (health.CheckResult, error) {
	if c.State() != service.StateRunning {
		return health.Unhealthy(fmt.Sprintf("collector is %s", c.State())), nil
	}
	if nats := c.NATS(); nats != nil && !nats.IsHealthy() {
		return health.Unhealthy("NATS connection is " + nats.Status().String()), nil
	}

	c.mu.RLock()
	models := len(c.windows)
	c.mu.RUnlock()

	return health.Healthy("collecting telemetry").
		WithMetadata("models", fmt.Sprintf("%d", models)), nil
}

// Recover restarts the collector, re-establishing the subscription
func (c *Collector) Recover(ctx context.Context) error {
	c.Logger().Info("recovering collector via restart")
	if err := c.Stop(5 * time.Second); err != nil {
		c.Logger().Warn("stop during recovery failed", "error", err)
	}
	return c.Start(ctx)
}
