// Package goal implements the Goal Protocol (spec §4.8): a pluggable
// interface the Evaluator calls every iteration to decide whether a run is
// done, plus the five goal families the spec names.
//
// Grounded on goadesign-goa-ai/runtime/agent/planner/planner.go's
// provider-agnostic "ask a question, parse a verdict" shape for the
// LLM-as-judge families, and on the teacher's subprocess-invocation idiom
// in runtime/agent/toolregistry (adapters that shell out and inspect exit
// codes) for the process-based families.
package goal

import (
	"context"
	"fmt"

	"retrai.dev/retrai/runtime/agent/model"
	"retrai.dev/retrai/runtime/agent/state"
)

// Result is the outcome of one Check call. Side-effect free except for the
// LLM-as-judge families' model call; Check must never mutate the
// filesystem (§4.8).
type Result struct {
	Achieved bool
	Reason   string
	Details  map[string]any
}

// Goal is the protocol every goal family implements.
type Goal interface {
	// Name is the registry lookup identifier (e.g. "test_runner",
	// "solve").
	Name() string

	// Check evaluates whether the goal is achieved given the current
	// AgentState and working directory.
	Check(ctx context.Context, s *state.AgentState, cwd string) (Result, error)

	// SystemPrompt returns the goal-specific system prompt fragment the
	// Planner prepends on the first iteration.
	SystemPrompt(cwd string) string
}

// Factory constructs a Goal from its project-config parameters.
type Factory func(params map[string]any) (Goal, error)

// Registry maps goal family names to their Factory.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a Registry pre-populated with the five built-in goal
// families (§4.8 a-e). client backs the LLM-as-judge families (e, solve/
// creative/score/text_improve); it may be nil if only the process-based
// families (a-d) will ever be used.
func NewRegistry(client model.Client, modelName string) *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("test_runner", newTestRunnerGoal)
	r.Register("command_success", newCommandSuccessGoal)
	r.Register("threshold", newThresholdGoal)
	r.Register("phase", newPhaseGoal)
	r.Register("solve", newJudgeGoal("solve", client, modelName))
	r.Register("creative", newJudgeGoal("creative", client, modelName))
	r.Register("score", newJudgeGoal("score", client, modelName))
	r.Register("text_improve", newJudgeGoal("text_improve", client, modelName))
	return r
}

// Register adds or replaces a goal family's Factory.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Build constructs a Goal for name from params. Per §6, an unknown goal
// name is a configuration error that must fail fast before the graph
// starts.
func (r *Registry) Build(name string, params map[string]any) (Goal, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("goal: unknown goal %q", name)
	}
	return f(params)
}

// NoGoal is returned by the Evaluator when no goal is configured for a run
// (§4.6: "no goal configured -> {false, 'No goal defined', {}}").
var NoGoal Goal = noGoal{}

type noGoal struct{}

func (noGoal) Name() string { return "none" }
func (noGoal) Check(context.Context, *state.AgentState, string) (Result, error) {
	return Result{Achieved: false, Reason: "No goal defined"}, nil
}
func (noGoal) SystemPrompt(string) string { return "" }

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

func floatParam(params map[string]any, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}
