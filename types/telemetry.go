// Package types holds the domain model shared by the collector, processor,
// store and API surfaces: telemetry samples flowing in and optimization
// decisions flowing out.
package types

import (
	"fmt"
	"time"
)

// Sample is a single observed LLM request, as reported by an instrumented
// client or gateway. Samples arrive on the telemetry subject and are
// aggregated by the collector.
type Sample struct {
	Model            string            `json:"model"`
	Provider         string            `json:"provider,omitempty"`
	PromptTokens     int               `json:"prompt_tokens"`
	CompletionTokens int               `json:"completion_tokens"`
	LatencyMs        float64           `json:"latency_ms"`
	CostUSD          float64           `json:"cost_usd"`
	ErrorKind        string            `json:"error_kind,omitempty"` // empty on success
	Labels           map[string]string `json:"labels,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}

// Validate checks a sample for fields the aggregation cannot work without.
func (s Sample) Validate() error {
	if s.Model == "" {
		return fmt.Errorf("sample missing model")
	}
	if s.LatencyMs < 0 {
		return fmt.Errorf("sample has negative latency: %f", s.LatencyMs)
	}
	if s.CostUSD < 0 {
		return fmt.Errorf("sample has negative cost: %f", s.CostUSD)
	}
	return nil
}

// TotalTokens returns prompt plus completion tokens.
func (s Sample) TotalTokens() int {
	return s.PromptTokens + s.CompletionTokens
}

// ModelStats is the rolling aggregate for one model over the collector's
// window. All values are derived from the samples currently in the window.
type ModelStats struct {
	Model        string    `json:"model"`
	SampleCount  int       `json:"sample_count"`
	ErrorCount   int       `json:"error_count"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	P95LatencyMs float64   `json:"p95_latency_ms"`
	AvgCostUSD   float64   `json:"avg_cost_usd"`
	TotalTokens  int64     `json:"total_tokens"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
}

// ErrorRate returns the fraction of failed requests in the window.
func (m ModelStats) ErrorRate() float64 {
	if m.SampleCount == 0 {
		return 0
	}
	return float64(m.ErrorCount) / float64(m.SampleCount)
}
