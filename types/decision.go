package types

import (
	"time"
)

// ModelConfig is one candidate LLM configuration the optimizer can recommend.
type ModelConfig struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TopP        float64 `json:"top_p"`
}

// Candidate pairs a configuration with the static cost/quality profile used
// for scoring. Profiles come from configuration; observed latency and error
// rates come from telemetry.
type Candidate struct {
	Config         ModelConfig `json:"config"`
	CostPer1KUSD   float64     `json:"cost_per_1k_usd"`
	QualityScore   float64     `json:"quality_score"`   // 0..1, benchmark-derived
	BaseLatencyMs  float64     `json:"base_latency_ms"` // vendor-published baseline
	MaxContextSize int         `json:"max_context_size"`
}

// Decision is one optimization verdict: for a given workload, the
// configuration the optimizer currently recommends and why.
type Decision struct {
	ID          string      `json:"id"`
	Workload    string      `json:"workload"` // model name the decision replaces or optimizes
	Recommended ModelConfig `json:"recommended"`
	Score       float64     `json:"score"`
	Rationale   string      `json:"rationale"`
	BasedOn     ModelStats  `json:"based_on"`
	CreatedAt   time.Time   `json:"created_at"`
}
