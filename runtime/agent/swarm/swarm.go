// Package swarm implements the Swarm Orchestrator (spec §4.10):
// decompose a task into independent subtasks, dispatch one Graph Runner
// worker per subtask in parallel, then synthesize their outcomes into a
// single summary.
//
// Grounded on dispatch.Dispatcher's batch-concurrency idiom
// (goroutines + sync.WaitGroup, results re-joined in call order) for the
// Dispatch phase, and on judge.Ask/judge.ParseJSON for the
// Decompose/Synthesize LLM calls.
package swarm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"retrai.dev/retrai/runtime/agent/goal"
	"retrai.dev/retrai/runtime/agent/graph"
	"retrai.dev/retrai/runtime/agent/hooks"
	"retrai.dev/retrai/runtime/agent/judge"
	"retrai.dev/retrai/runtime/agent/model"
	"retrai.dev/retrai/runtime/agent/planner"
	"retrai.dev/retrai/runtime/agent/state"
)

// MaxWorkers bounds the decomposition fan-out absent an explicit override.
const MaxWorkers = 6

// SubTask is one unit of decomposed work, dispatched to its own worker.
type SubTask struct {
	ID          string `json:"id"`
	Goal        string `json:"goal"`
	Description string `json:"description"`
}

// decomposeResponse is the strict JSON array schema the Decompose prompt
// requires of the model.
type decomposeResponse struct {
	Subtasks []SubTask `json:"subtasks"`
}

// WorkerResult is one subtask's outcome.
type WorkerResult struct {
	SubTask  SubTask
	Result   graph.Result
	Err      error
}

// Status mirrors graph.Status for the swarm's own aggregate outcome, plus
// the swarm-specific "partial" value (§4.10).
type Status string

const (
	StatusAchieved Status = "achieved"
	StatusPartial  Status = "partial"
	StatusFailed   Status = "failed"
)

// Outcome is the full result of one swarm Run.
type Outcome struct {
	Status   Status
	Subtasks []WorkerResult
	Summary  string
}

// RunnerFactory builds a fresh graph.Runner bound to its own event bus for
// one worker; every worker gets an independent Runner instance (§4.10:
// "own event bus, independent Graph Runner instance").
type RunnerFactory func(bus hooks.Bus) *graph.Runner

// Orchestrator runs the Swarm (§4.10).
type Orchestrator struct {
	Client       model.Client
	ModelName    string
	GoalRegistry *goal.Registry
	NewRunner    RunnerFactory
	MaxWorkers   int
}

// New constructs an Orchestrator.
func New(client model.Client, modelName string, goalRegistry *goal.Registry, newRunner RunnerFactory) *Orchestrator {
	return &Orchestrator{
		Client:       client,
		ModelName:    modelName,
		GoalRegistry: goalRegistry,
		NewRunner:    newRunner,
		MaxWorkers:   MaxWorkers,
	}
}

// RunOptions configures a swarm Run.
type RunOptions struct {
	Task          string
	CWD           string
	MaxIterations int
	MaxCostUSD    float64
	StopMode      state.StopMode
}

// Run decomposes opts.Task, dispatches one worker per subtask in parallel,
// then synthesizes their outcomes (§4.10).
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (Outcome, error) {
	subtasks, err := o.Decompose(ctx, opts.Task)
	if err != nil {
		return Outcome{}, fmt.Errorf("swarm: decompose: %w", err)
	}

	results := o.Dispatch(ctx, subtasks, opts)
	summary := o.Synthesize(ctx, opts.Task, results)

	return Outcome{
		Status:   aggregate(results),
		Subtasks: results,
		Summary:  summary,
	}, nil
}

// Decompose asks the model to split task into 2..MaxWorkers independent
// SubTasks. A malformed or empty response falls back to a single subtask
// covering the whole task, per §4.10's graceful-degradation rule.
func (o *Orchestrator) Decompose(ctx context.Context, task string) ([]SubTask, error) {
	max := o.MaxWorkers
	if max <= 0 {
		max = MaxWorkers
	}

	system := "You split a complex task into independent, parallelizable subtasks for a team of autonomous coding agents. " +
		"Respond with strict JSON only, no commentary, matching exactly: " +
		`{"subtasks":[{"id":"string","goal":"string","description":"string"}, ...]}. ` +
		fmt.Sprintf("Produce between 2 and %d subtasks. Each subtask must be independently completable without needing another subtask's output.", max)
	user := "Task: " + task

	raw, err := judge.Ask(ctx, o.Client, o.ModelName, system, user)
	if err != nil {
		return fallbackSubtasks(task), nil
	}

	var resp decomposeResponse
	if err := judge.ParseJSON(raw, &resp); err != nil || len(resp.Subtasks) == 0 {
		return fallbackSubtasks(task), nil
	}

	if len(resp.Subtasks) > max {
		resp.Subtasks = resp.Subtasks[:max]
	}
	for i := range resp.Subtasks {
		if resp.Subtasks[i].ID == "" {
			resp.Subtasks[i].ID = fmt.Sprintf("subtask-%d", i+1)
		}
	}
	return resp.Subtasks, nil
}

func fallbackSubtasks(task string) []SubTask {
	return []SubTask{{ID: "subtask-1", Goal: task, Description: task}}
}

// Dispatch runs one worker per subtask concurrently, each with a fresh
// AgentState, its own event bus, run_id "swarm-<subtask-id>", and a
// "solve" goal built from the subtask's Goal (§4.10).
func (o *Orchestrator) Dispatch(ctx context.Context, subtasks []SubTask, opts RunOptions) []WorkerResult {
	results := make([]WorkerResult, len(subtasks))
	var wg sync.WaitGroup
	for i, st := range subtasks {
		wg.Add(1)
		go func(i int, st SubTask) {
			defer wg.Done()
			results[i] = o.runWorker(ctx, st, opts)
		}(i, st)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) runWorker(ctx context.Context, st SubTask, opts RunOptions) WorkerResult {
	runID := "swarm-" + st.ID

	var g goal.Goal
	if o.GoalRegistry != nil {
		built, err := o.GoalRegistry.Build("solve", map[string]any{"task": st.Goal})
		if err != nil {
			return WorkerResult{SubTask: st, Err: fmt.Errorf("swarm: build goal for %s: %w", st.ID, err)}
		}
		g = built
	}

	bus := hooks.NewBus()
	runner := o.NewRunner(bus)

	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1
	}
	s := state.New(runID, st.Goal, opts.CWD, o.ModelName, maxIterations, opts.StopMode, false, opts.MaxCostUSD)

	result, err := runner.Run(ctx, s, graph.Options{Goal: g, Pattern: planner.PatternDefault})
	return WorkerResult{SubTask: st, Result: result, Err: err}
}

// Synthesize asks the model for a <=300 word summary of every worker's
// outcome; a model failure falls back to a mechanical bullet list (§4.10).
func (o *Orchestrator) Synthesize(ctx context.Context, task string, results []WorkerResult) string {
	system := "Summarize the outcome of a swarm of autonomous coding agents that worked in parallel on independent " +
		"subtasks of a larger task. Be concise: 300 words or fewer. Call out which subtasks succeeded, which failed, and why."

	var sb strings.Builder
	fmt.Fprintf(&sb, "Overall task: %s\n\n", task)
	for _, r := range results {
		status := "failed"
		reason := ""
		if r.Err == nil {
			status = string(r.Result.Status)
			reason = r.Result.Snapshot.Reason
		} else {
			reason = r.Err.Error()
		}
		fmt.Fprintf(&sb, "- [%s] %s: %s (%s)\n", r.SubTask.ID, r.SubTask.Goal, status, reason)
	}

	summary, err := judge.Ask(ctx, o.Client, o.ModelName, system, sb.String())
	if err != nil || strings.TrimSpace(summary) == "" {
		return mechanicalSummary(results)
	}
	return summary
}

func mechanicalSummary(results []WorkerResult) string {
	var sb strings.Builder
	sb.WriteString("Swarm summary:\n")
	for _, r := range results {
		status := "failed"
		if r.Err == nil {
			status = string(r.Result.Status)
		}
		fmt.Fprintf(&sb, "- %s (%s): %s\n", r.SubTask.ID, r.SubTask.Goal, status)
	}
	return sb.String()
}

// aggregate computes the swarm's overall status: achieved iff every
// worker achieved, partial if any did, else failed (§4.10).
func aggregate(results []WorkerResult) Status {
	if len(results) == 0 {
		return StatusFailed
	}
	allAchieved := true
	anyAchieved := false
	for _, r := range results {
		achieved := r.Err == nil && r.Result.Status == graph.StatusAchieved
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
