// Package prober actively checks candidate model availability by sending
// a minimal chat completion to an OpenAI-compatible endpoint. The
// processor consults the results so it does not recommend a configuration
// whose model is currently failing.
package prober

import (
	"context"
	"fmt"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/LLM-Dev-Ops/auto-optimizer/errors"
	"github.com/LLM-Dev-Ops/auto-optimizer/health"
	"github.com/LLM-Dev-Ops/auto-optimizer/service"
)

// Name is the service name the prober registers under
const Name = "prober"

// Config tunes availability probing
type Config struct {
	Endpoint string        // OpenAI-compatible base URL, e.g. https://api.openai.com/v1
	APIKey   string        // bearer token for the endpoint
	Interval time.Duration // how often every model is probed
	Timeout  time.Duration // per-probe deadline
	Prompt   string        // minimal prompt sent with each probe
	Models   []string      // models to probe, normally the candidate catalog
}

// Result is the latest probe outcome for one model
type Result struct {
	OK        bool
	LatencyMs float64
	Err       string
	CheckedAt time.Time
}

// Prober periodically sends one single-token completion per candidate
// model and records whether it succeeded.
type Prober struct {
	*service.BaseService

	cfg    Config
	client *openai.Client

	mu      sync.RWMutex
	results map[string]Result
}

// New creates a prober service
func New(cfg Config, opts ...service.Option) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "ping"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}

	p := &Prober{
		cfg:     cfg,
		client:  openai.NewClientWithConfig(clientCfg),
		results: make(map[string]Result),
	}
	p.BaseService = service.NewBaseService(Name, opts...)
	return p
}

// Start begins the periodic probe loop. The first cycle runs immediately
// so decisions made shortly after startup already see probe results.
func (p *Prober) Start(ctx context.Context) error {
	if len(p.cfg.Models) == 0 {
		return fmt.Errorf("%w: prober requires at least one model", errors.ErrInvalidConfig)
	}

	if err := p.BaseService.Start(ctx); err != nil {
		return err
	}

	done := p.Done()
	p.Go(func() {
		p.ProbeAll(context.Background())
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				p.ProbeAll(context.Background())
			}
		}
	})

	p.Logger().Info("availability probing started",
		"endpoint", p.cfg.Endpoint,
		"models", len(p.cfg.Models),
		"interval", p.cfg.Interval)
	return nil
}

// ProbeAll probes every configured model once
func (p *Prober) ProbeAll(ctx context.Context) {
	for _, model := range p.cfg.Models {
		if ctx.Err() != nil {
			return
		}
		p.probeModel(ctx, model)
	}
}

func (p *Prober) probeModel(ctx context.Context, model string) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	_, err := p.client.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: 1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: p.cfg.Prompt},
		},
	})
	elapsed := time.Since(start)

	result := Result{
		OK:        err == nil,
		LatencyMs: float64(elapsed.Milliseconds()),
		CheckedAt: time.Now(),
	}
	outcome := "ok"
	if err != nil {
		result.Err = err.Error()
		outcome = "error"
		p.Logger().Warn("model probe failed", "model", model, "error", err)
	}

	p.mu.Lock()
	p.results[model] = result
	p.mu.Unlock()

	if m := p.Metrics(); m != nil {
		m.CoreMetrics().RecordProbe(model, outcome)
	}
}

// Available reports whether a model's latest probe succeeded. A model not
// probed yet counts as available so a cold start never empties the catalog.
func (p *Prober) Available(model string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.results[model]
	if !ok {
		return true
	}
	return r.OK
}

// Results returns a copy of the latest probe outcome per model
func (p *Prober) Results() map[string]Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Result, len(p.results))
	for model, r := range p.results {
		out[model] = r
	}
	return out
}

// HealthCheck reports probe health. Individual failing models are expected
// and stay healthy; every probed model failing points at the endpoint or
// credentials, so the supervisor gets to intervene.
func (p *Prober) HealthCheck(_ context.Context) (health.CheckResult, error) {
	if p.State() != service.StateRunning {
		return health.Unhealthy(fmt.Sprintf("prober is %s", p.State())), nil
	}

	p.mu.RLock()
	probed, failing := 0, 0
	for _, r := range p.results {
		probed++
		if !r.OK {
			failing++
		}
	}
	p.mu.RUnlock()

	if probed > 0 && failing == probed {
		return health.Unhealthy("every probed model is failing"), nil
	}
	return health.Healthy("probing candidate models").
		WithMetadata("probed", fmt.Sprintf("%d", probed)).
		WithMetadata("failing", fmt.Sprintf("%d", failing)), nil
}

// Recover restarts the probe loop
func (p *Prober) Recover(ctx context.Context) error {
	p.Logger().Info("recovering prober via restart")
	if err := p.Stop(5 * time.Second); err != nil {
		p.Logger().Warn("stop during recovery failed", "error", err)
	}
	return p.Start(ctx)
}
