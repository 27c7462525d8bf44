package cost

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimateFallsBackToTableOnPrefixMatch(t *testing.T) {
	e := New()
	usd := e.Estimate("claude-sonnet-4-5-20250514", Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000})
	require.InDelta(t, 3.00+15.00, usd, 1e-9)
}

func TestEstimateUnknownModelCostsZero(t *testing.T) {
	e := New()
	require.Equal(t, 0.0, e.Estimate("some-unknown-model", Usage{PromptTokens: 1000, CompletionTokens: 1000}))
}

func TestEstimatePrefersLongestPrefixMatch(t *testing.T) {
	e := New()
	generic := e.Estimate("gpt-4o-2024-08-06", Usage{PromptTokens: 1_000_000})
	specific := e.Estimate("gpt-4o-mini-2024-07-18", Usage{PromptTokens: 1_000_000})
	require.InDelta(t, 2.50, generic, 1e-9)
	require.InDelta(t, 0.15, specific, 1e-9)
}

func TestWithFuncTakesPrecedenceOverTable(t *testing.T) {
	called := false
	e := New(WithFunc(func(model string, usage Usage) (float64, bool) {
		called = true
		if model == "custom-model" {
			return 42, true
		}
		return 0, false
	}))
	require.Equal(t, 42.0, e.Estimate("custom-model", Usage{}))
	require.True(t, called)

	// Falls through to the table when the registered func returns ok=false.
	usd := e.Estimate("gpt-4o-mini", Usage{PromptTokens: 1_000_000})
	require.InDelta(t, 0.15, usd, 1e-9)
}

func TestWithTableOverridesMergesIntoDefaults(t *testing.T) {
	e := New(WithTableOverrides(map[string]PerMillion{"my-model": {InputUSD: 1, OutputUSD: 2}}))
	require.Equal(t, 1.0+2.0, e.Estimate("my-model", Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}))
	// Default table entries survive the merge.
	require.InDelta(t, 0.15, e.Estimate("gpt-4o-mini", Usage{PromptTokens: 1_000_000}), 1e-9)
}
