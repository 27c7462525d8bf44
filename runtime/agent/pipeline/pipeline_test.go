package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"retrai.dev/retrai/runtime/agent/cost"
	"retrai.dev/retrai/runtime/agent/dispatch"
	"retrai.dev/retrai/runtime/agent/evaluate"
	"retrai.dev/retrai/runtime/agent/goal"
	"retrai.dev/retrai/runtime/agent/graph"
	"retrai.dev/retrai/runtime/agent/hooks"
	"retrai.dev/retrai/runtime/agent/interrupt"
	"retrai.dev/retrai/runtime/agent/model"
	"retrai.dev/retrai/runtime/agent/planner"
	"retrai.dev/retrai/runtime/agent/reflect"
	"retrai.dev/retrai/runtime/agent/runhistory/inmem"
	"retrai.dev/retrai/runtime/agent/safety"
	"retrai.dev/retrai/runtime/agent/state"
	"retrai.dev/retrai/runtime/agent/tools"
)

type textClient struct{}

func (textClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return &model.Response{
		Content: []model.Message{{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: "working"}}}},
	}, nil
}
func (textClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, nil
}

func newTestRunnerFactory() RunnerFactory {
	return func(bus hooks.Bus) *graph.Runner {
		registry := tools.NewRegistry()
		client := textClient{}
		p := planner.New(client, "claude-sonnet-4-5", registry, bus, cost.New())
		d := dispatch.New(registry, safety.New(safety.Config{}), bus)
		e := evaluate.New(bus)
		r := reflect.New()
		ic := interrupt.NewController()
		return graph.New(p, d, e, r, ic, bus, inmem.New())
	}
}

// alwaysAchievedGoal reports achieved on the first Check call.
type alwaysAchievedGoal struct{}

func (alwaysAchievedGoal) Name() string { return "fake" }
func (alwaysAchievedGoal) SystemPrompt(string) string { return "" }
func (alwaysAchievedGoal) Check(context.Context, *state.AgentState, string) (goal.Result, error) {
	return goal.Result{Achieved: true, Reason: "done"}, nil
}

// neverAchievedGoal never reports achieved.
type neverAchievedGoal struct{}

func (neverAchievedGoal) Name() string { return "fake" }
func (neverAchievedGoal) SystemPrompt(string) string { return "" }
func (neverAchievedGoal) Check(context.Context, *state.AgentState, string) (goal.Result, error) {
	return goal.Result{Achieved: false, Reason: "not done"}, nil
}

func TestPipelineAllStepsAchievedIsAchieved(t *testing.T) {
	r := New(newTestRunnerFactory())
	steps := []Step{
		{Name: "step1", Goal: alwaysAchievedGoal{}, MaxIterations: 1},
		{Name: "step2", Goal: alwaysAchievedGoal{}, MaxIterations: 1},
	}
	outcome := r.Run(context.Background(), steps, Options{RunIDPrefix: "pipe", CWD: t.TempDir(), ModelName: "claude-sonnet-4-5"})
	require.Equal(t, StatusAchieved, outcome.Status)
	require.Len(t, outcome.Steps, 2)
	require.False(t, outcome.Steps[1].Skipped)
}

func TestPipelineStopsOnFirstFailureWithoutContinueOnError(t *testing.T) {
	r := New(newTestRunnerFactory())
	steps := []Step{
		{Name: "step1", Goal: neverAchievedGoal{}, MaxIterations: 1},
		{Name: "step2", Goal: alwaysAchievedGoal{}, MaxIterations: 1},
	}
	outcome := r.Run(context.Background(), steps, Options{RunIDPrefix: "pipe", CWD: t.TempDir(), ModelName: "claude-sonnet-4-5"})
	require.Equal(t, StatusFailed, outcome.Status)
	require.Len(t, outcome.Steps, 2)
	require.False(t, outcome.Steps[0].Skipped)
	require.True(t, outcome.Steps[1].Skipped)
}

func TestPipelineContinuesOnErrorWhenConfigured(t *testing.T) {
	r := New(newTestRunnerFactory())
	steps := []Step{
		{Name: "step1", Goal: neverAchievedGoal{}, MaxIterations: 1},
		{Name: "step2", Goal: alwaysAchievedGoal{}, MaxIterations: 1},
	}
	outcome := r.Run(context.Background(), steps, Options{RunIDPrefix: "pipe", CWD: t.TempDir(), ModelName: "claude-sonnet-4-5", ContinueOnError: true})
	require.Equal(t, StatusPartial, outcome.Status)
	require.False(t, outcome.Steps[1].Skipped)
}
