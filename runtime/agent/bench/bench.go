// Package bench implements the Benchmark Runner (§4.13): repeats a goal
// across multiple models, with a clean VCS reset before and after every
// attempt, and ranks models by success rate.
package bench

import (
	"context"
	"fmt"
	"time"

	"retrai.dev/retrai/runtime/agent/goal"
	"retrai.dev/retrai/runtime/agent/graph"
	"retrai.dev/retrai/runtime/agent/hooks"
	"retrai.dev/retrai/runtime/agent/planner"
	"retrai.dev/retrai/runtime/agent/state"
	"retrai.dev/retrai/runtime/agent/vcs"
)

// Trial is one model×round attempt.
type Trial struct {
	Model     string
	Round     int
	Achieved  bool
	Iterations int
	Tokens    int
	CostUSD   float64
	Duration  time.Duration
	Err       error
}

// ModelSummary aggregates a model's trials.
type ModelSummary struct {
	Model           string
	Trials          int
	SuccessRate     float64
	MeanIterations  float64
	MeanTokens      float64
	MeanCostUSD     float64
	MeanDuration    time.Duration
	TotalCostUSD    float64
}

// Outcome is the full benchmark result.
type Outcome struct {
	Trials  []Trial
	Models  []ModelSummary
	Winner  string
}

// RunnerFactory builds a graph.Runner bound to model for one trial.
type RunnerFactory func(model string, bus hooks.Bus) *graph.Runner

// Runner drives the benchmark loop.
type Runner struct {
	Repo          *vcs.Repo
	NewRunner     RunnerFactory
	GoalRegistry  *goal.Registry
	MaxIterations int
	MaxCostUSD    float64
}

// New constructs a Runner.
func New(repo *vcs.Repo, newRunner RunnerFactory, goalRegistry *goal.Registry, maxIterations int, maxCostUSD float64) *Runner {
	return &Runner{
		Repo:          repo,
		NewRunner:     newRunner,
		GoalRegistry:  goalRegistry,
		MaxIterations: maxIterations,
		MaxCostUSD:    maxCostUSD,
	}
}

// Run executes rounds for every model in models, resetting the working tree
// to a clean VCS state before and after each trial (§4.13).
func (r *Runner) Run(ctx context.Context, task string, models []string, rounds int) (Outcome, error) {
	var trials []Trial

	for _, model := range models {
		for round := 1; round <= rounds; round++ {
			if err := r.Repo.ResetHard(ctx); err != nil {
				return Outcome{}, fmt.Errorf("bench: reset before %s round %d: %w", model, round, err)
			}

			trial := r.runTrial(ctx, model, round, task)
			trials = append(trials, trial)

			if err := r.Repo.ResetHard(ctx); err != nil {
				return Outcome{}, fmt.Errorf("bench: reset after %s round %d: %w", model, round, err)
			}
		}
	}

	summaries := summarize(trials)
	return Outcome{
		Trials: trials,
		Models: summaries,
		Winner: winner(summaries),
	}, nil
}

func (r *Runner) runTrial(ctx context.Context, model string, round int, task string) Trial {
	started := time.Now()

	g, err := r.GoalRegistry.Build("solve", map[string]any{"task": task})
	if err != nil {
		return Trial{Model: model, Round: round, Err: fmt.Errorf("bench: build goal: %w", err), Duration: time.Since(started)}
	}

	bus := hooks.NewBus()
	runner := r.NewRunner(model, bus)
	runID := fmt.Sprintf("bench-%s-%d", model, round)
	s := state.New(runID, task, r.Repo.Dir, model, r.MaxIterations, state.StopModeHard, false, r.MaxCostUSD)

	result, err := runner.Run(ctx, s, graph.Options{Goal: g, Pattern: planner.PatternDefault})
	duration := time.Since(started)
	if err != nil {
		return Trial{Model: model, Round: round, Err: err, Duration: duration}
	}

	return Trial{
		Model:      model,
		Round:      round,
		Achieved:   result.Status == graph.StatusAchieved,
		Iterations: result.Snapshot.Iterations,
		Tokens:     result.Snapshot.TotalTokens,
		CostUSD:    result.Snapshot.EstimatedCostUSD,
		Duration:   duration,
	}
}

func summarize(trials []Trial) []ModelSummary {
	byModel := make(map[string][]Trial)
	var order []string
	for _, t := range trials {
		if _, ok := byModel[t.Model]; !ok {
			order = append(order, t.Model)
		}
		byModel[t.Model] = append(byModel[t.Model], t)
	}

	summaries := make([]ModelSummary, 0, len(order))
	for _, model := range order {
		ts := byModel[model]
		var achieved int
		var totalIter, totalTokens int
		var totalCost float64
		var totalDuration time.Duration
		for _, t := range ts {
			if t.Achieved {
				achieved++
			}
			totalIter += t.Iterations
			totalTokens += t.Tokens
			totalCost += t.CostUSD
			totalDuration += t.Duration
		}
		n := float64(len(ts))
		summaries = append(summaries, ModelSummary{
			Model:          model,
			Trials:         len(ts),
			SuccessRate:    float64(achieved) / n,
			MeanIterations: float64(totalIter) / n,
			MeanTokens:     float64(totalTokens) / n,
			MeanCostUSD:    totalCost / n,
			MeanDuration:   time.Duration(float64(totalDuration) / n),
			TotalCostUSD:   totalCost,
		})
	}
	return summaries
}

// winner picks the model with the highest success rate, tie-breaking on
// lowest mean iteration count (§4.13).
func winner(summaries []ModelSummary) string {
	if len(summaries) == 0 {
		return ""
	}
	best := summaries[0]
	for _, s := range summaries[1:] {
		if s.SuccessRate > best.SuccessRate ||
			(s.SuccessRate == best.SuccessRate && s.MeanIterations < best.MeanIterations) {
			best = s
		}
	}
	return best.Model
}
