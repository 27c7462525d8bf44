// Package cost implements the Cost Estimator (spec §4.5/§9): a pluggable
// per-call cost function with a hard-coded fallback table keyed by model
// name prefix.
package cost

import "strings"

// Usage is the token accounting for a single LLM call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Func computes the USD cost of a call. Implementations may return
// (0, false) to signal "I don't know this model" so Estimator falls
// through to the next source.
type Func func(model string, usage Usage) (usd float64, ok bool)

// PerMillion holds per-million-token pricing for a model-name prefix.
type PerMillion struct {
	InputUSD  float64
	OutputUSD float64
}

// defaultTable is the hard-coded fallback, grounded on retail per-token
// pricing for the providers the module map wires in (Anthropic, OpenAI,
// AWS Bedrock). Keys are matched as a prefix against the requested model
// name, longest-match-wins, so e.g. "claude-sonnet-4-5-20250514" matches
// the "claude-sonnet-4-5" entry.
var defaultTable = map[string]PerMillion{
	"claude-opus":      {InputUSD: 15.00, OutputUSD: 75.00},
	"claude-sonnet-4-5": {InputUSD: 3.00, OutputUSD: 15.00},
	"claude-sonnet":     {InputUSD: 3.00, OutputUSD: 15.00},
	"claude-haiku":      {InputUSD: 0.80, OutputUSD: 4.00},
	"gpt-4o-mini":       {InputUSD: 0.15, OutputUSD: 0.60},
	"gpt-4o":            {InputUSD: 2.50, OutputUSD: 10.00},
	"gpt-4.1-nano":      {InputUSD: 0.10, OutputUSD: 0.40},
	"gpt-4.1-mini":      {InputUSD: 0.40, OutputUSD: 1.60},
	"gpt-4.1":           {InputUSD: 2.00, OutputUSD: 8.00},
	"o3-mini":           {InputUSD: 1.10, OutputUSD: 4.40},
}

// Estimator computes estimated_cost_usd for a model call: a registered
// Func is tried first; on a miss it falls back to prefix matching against
// the hard-coded table; an unrecognized model costs 0.
type Estimator struct {
	registered Func
	table      map[string]PerMillion
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithFunc registers a pluggable cost function tried before the fallback
// table.
func WithFunc(fn Func) Option {
	return func(e *Estimator) { e.registered = fn }
}

// WithTableOverrides merges additional prefix→pricing entries into (or
// over) the default table.
func WithTableOverrides(overrides map[string]PerMillion) Option {
	return func(e *Estimator) {
		for k, v := range overrides {
			e.table[k] = v
		}
	}
}

// New builds an Estimator seeded with the default pricing table.
func New(opts ...Option) *Estimator {
	e := &Estimator{table: cloneTable(defaultTable)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate returns the USD cost of one call to model with the given token
// usage.
func (e *Estimator) Estimate(model string, usage Usage) float64 {
	if e.registered != nil {
		if usd, ok := e.registered(model, usage); ok {
			return usd
		}
	}
	pricing, ok := e.longestPrefixMatch(model)
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)/1_000_000*pricing.InputUSD +
		float64(usage.CompletionTokens)/1_000_000*pricing.OutputUSD
}

func (e *Estimator) longestPrefixMatch(model string) (PerMillion, bool) {
	var (
		best      PerMillion
		bestLen   int
		bestFound bool
	)
	for prefix, pricing := range e.table {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best = pricing
			bestLen = len(prefix)
			bestFound = true
		}
	}
	return best, bestFound
}

func cloneTable(src map[string]PerMillion) map[string]PerMillion {
	dst := make(map[string]PerMillion, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
