package llm

import (
	"math"
	"sync/atomic"

	parley "github.com/ostramo/parley"
)

// ModelPricing holds per-million-token pricing for a model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing covers the models the bot is usually configured with.
// Unknown models cost 0.
var DefaultPricing = map[string]ModelPricing{
	"anthropic/claude-3.5-sonnet": {3.00, 15.00},
	"anthropic/claude-3.5-haiku":  {0.80, 4.00},
	"anthropic/claude-3-opus":     {15.00, 75.00},
	"gpt-4o":                      {2.50, 10.00},
	"gpt-4o-mini":                 {0.15, 0.60},
}

// Usage tracks request counters with atomics so every call path can
// update it without locking. Cost is stored in micro-dollars.
type Usage struct {
	pricing map[string]ModelPricing

	requests  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	tokens    atomic.Int64
	microUSD  atomic.Int64
}

// NewUsage creates a usage tracker with default pricing merged with
// overrides.
func NewUsage(overrides map[string]ModelPricing) *Usage {
	pricing := make(map[string]ModelPricing, len(DefaultPricing)+len(overrides))
	for k, v := range DefaultPricing {
		pricing[k] = v
	}
	for k, v := range overrides {
		pricing[k] = v
	}
	return &Usage{pricing: pricing}
}

// Cost returns the USD cost of the given token counts for a model, 0
// for unknown models.
func (u *Usage) Cost(model string, promptTokens, completionTokens int) float64 {
	p, ok := u.pricing[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1_000_000*p.InputPerMillion +
		float64(completionTokens)/1_000_000*p.OutputPerMillion
}

func (u *Usage) recordSuccess(model string, usage parley.Usage) {
	u.requests.Add(1)
	u.successes.Add(1)
	u.tokens.Add(int64(usage.TotalTokens))
	cost := u.Cost(model, usage.PromptTokens, usage.CompletionTokens)
	u.microUSD.Add(int64(math.Round(cost * 1_000_000)))
}

func (u *Usage) recordFailure() {
	u.requests.Add(1)
	u.failures.Add(1)
}

// UsageSnapshot is a point-in-time copy of the counters.
type UsageSnapshot struct {
	Requests  int64   `json:"requests"`
	Successes int64   `json:"successes"`
	Failures  int64   `json:"failures"`
	Tokens    int64   `json:"total_tokens"`
	CostUSD   float64 `json:"estimated_cost_usd"`
}

// Snapshot returns the current counter values.
func (u *Usage) Snapshot() UsageSnapshot {
	return UsageSnapshot{
		Requests:  u.requests.Load(),
		Successes: u.successes.Load(),
		Failures:  u.failures.Load(),
		Tokens:    u.tokens.Load(),
		CostUSD:   float64(u.microUSD.Load()) / 1_000_000,
	}
}
