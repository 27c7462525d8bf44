// Package pipeline implements the Pipeline Runner (spec §4.11): a
// sequence of goals executed one after another, each through its own
// Graph Runner invocation with a fresh run_id, AgentState, and event bus.
package pipeline

import (
	"context"
	"fmt"

	"retrai.dev/retrai/runtime/agent/goal"
	"retrai.dev/retrai/runtime/agent/graph"
	"retrai.dev/retrai/runtime/agent/hooks"
	"retrai.dev/retrai/runtime/agent/planner"
	"retrai.dev/retrai/runtime/agent/state"
)

// Step is one pipeline stage: a named goal and its own iteration/cost
// budget.
type Step struct {
	Name          string
	Goal          goal.Goal
	MaxIterations int
	MaxCostUSD    float64
	HITLEnabled   bool
}

// Status mirrors graph.Status for the pipeline's own aggregate, plus the
// pipeline-specific "partial" value (§4.11).
type Status string

const (
	StatusAchieved Status = "achieved"
	StatusPartial  Status = "partial"
	StatusFailed   Status = "failed"
)

// StepResult is one step's outcome.
type StepResult struct {
	Step   Step
	Result graph.Result
	Err    error
	// Skipped is true when a prior step's non-achievement stopped the
	// pipeline before this step ran (§4.11: continue_on_error=false).
	Skipped bool
}

// Outcome is the full result of one pipeline Run.
type Outcome struct {
	Status Status
	Steps  []StepResult
}

// RunnerFactory builds a fresh graph.Runner bound to its own event bus for
// one pipeline step.
type RunnerFactory func(bus hooks.Bus) *graph.Runner

// Runner executes a Pipeline (§4.11).
type Runner struct {
	NewRunner RunnerFactory
}

// New constructs a Runner.
func New(newRunner RunnerFactory) *Runner {
	return &Runner{NewRunner: newRunner}
}

// Options configures a pipeline Run.
type Options struct {
	RunIDPrefix string
	CWD         string
	ModelName   string
	Pattern     planner.Pattern
	MopK        int
	// ContinueOnError, when false (the default per §4.11), stops the
	// pipeline at the first step that does not achieve its goal.
	ContinueOnError bool
}

// Run executes steps in order, stopping early unless opts.ContinueOnError
// is set (§4.11).
func (r *Runner) Run(ctx context.Context, steps []Step, opts Options) Outcome {
	results := make([]StepResult, 0, len(steps))
	stopped := false

	for i, step := range steps {
		if stopped {
			results = append(results, StepResult{Step: step, Skipped: true})
			continue
		}

		runID := fmt.Sprintf("%s-step-%d", opts.RunIDPrefix, i+1)
		maxIterations := step.MaxIterations
		if maxIterations <= 0 {
			maxIterations = 1
		}
		stopMode := state.StopModeHard

		bus := hooks.NewBus()
		runner := r.NewRunner(bus)
		s := state.New(runID, step.Name, opts.CWD, opts.ModelName, maxIterations, stopMode, step.HITLEnabled, step.MaxCostUSD)

		result, err := runner.Run(ctx, s, graph.Options{Goal: step.Goal, Pattern: opts.Pattern, MopK: opts.MopK})
		results = append(results, StepResult{Step: step, Result: result, Err: err})

		achieved := err == nil && result.Status == graph.StatusAchieved
		if !achieved && !opts.ContinueOnError {
			stopped = true
		}
	}

	return Outcome{Status: aggregate(results), Steps: results}
}

// aggregate computes the pipeline's overall status: achieved iff every
// step achieved, partial if any did, else failed (§4.11).
func aggregate(results []StepResult) Status {
	if len(results) == 0 {
		return StatusFailed
	}
	allAchieved := true
	anyAchieved := false
	for _, r := range results {
		achieved := !r.Skipped && r.Err == nil && r.Result.Status == graph.StatusAchieved
		if achieved {
			anyAchieved = true
		} else {
			allAchieved = false
		}
	}
	switch {
	case allAchieved:
		return StatusAchieved
	case anyAchieved:
		return StatusPartial
	default:
		return StatusFailed
	}
}
