package graph

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"retrai.dev/retrai/runtime/agent/cost"
	"retrai.dev/retrai/runtime/agent/dispatch"
	"retrai.dev/retrai/runtime/agent/evaluate"
	"retrai.dev/retrai/runtime/agent/goal"
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

// fakeGoal reports achieved on the given iteration (1-indexed, matching
// state.Iteration after the Evaluator increments it) and not achieved
// otherwise.
type fakeGoal struct {
	achieveAtIteration int
}

func (g fakeGoal) Name() string { return "fake" }
func (g fakeGoal) SystemPrompt(cwd string) string { return "reach the fake goal" }
func (g fakeGoal) Check(ctx context.Context, s *state.AgentState, cwd string) (goal.Result, error) {
	if s.Iteration+1 >= g.achieveAtIteration {
		return goal.Result{Achieved: true, Reason: "fake goal reached"}, nil
	}
	return goal.Result{Achieved: false, Reason: "not yet"}, nil
}

// fakeClient always returns a plain text response with no tool calls, so
// the graph goes plan -> evaluate directly every iteration.
type fakeClient struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &model.Response{
		Content: []model.Message{{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: "working on it"}}}},
		Usage:   model.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}, nil
}
func (f *fakeClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, nil
}

// toolOnceClient emits one file_read tool call on the first Complete call,
// then plain text thereafter, exercising the plan -> act -> evaluate edge.
type toolOnceClient struct {
	mu   sync.Mutex
	used bool
}

func (f *toolOnceClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.used {
		f.used = true
		payload, _ := json.Marshal(map[string]any{"path": "a.txt"})
		return &model.Response{
			Content:   []model.Message{{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: "reading a file"}}}},
			ToolCalls: []model.ToolCall{{Name: "file_read", Payload: payload, ID: "call-1"}},
			Usage:     model.TokenUsage{InputTokens: 10, OutputTokens: 5},
		}, nil
	}
	return &model.Response{
		Content: []model.Message{{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: "done reading"}}}},
		Usage:   model.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}, nil
}
func (f *toolOnceClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, nil
}

type fakeReadAdapter struct{}

func (fakeReadAdapter) Name() string { return "file_read" }
func (fakeReadAdapter) Schema() tools.Schema {
	return tools.Schema{Name: "file_read", Description: "read a file"}
}
func (fakeReadAdapter) ParallelSafe() bool { return true }
func (fakeReadAdapter) Execute(ctx context.Context, args map[string]any, cwd string) (string, bool) {
	return "file contents", false
}

func newRunner(t *testing.T, client model.Client, registry *tools.Registry) *Runner {
	t.Helper()
	bus := hooks.NewBus()
	p := planner.New(client, "claude-sonnet-4-5", registry, bus, cost.New())
	d := dispatch.New(registry, safety.New(safety.Config{}), bus)
	e := evaluate.New(bus)
	r := reflect.New()
	ic := interrupt.NewController()
	history := inmem.New()
	return New(p, d, e, r, ic, bus, history)
}

func TestRunAchievesGoalWithinIterationCap(t *testing.T) {
	client := &fakeClient{}
	registry := tools.NewRegistry()
	runner := newRunner(t, client, registry)
	s := state.New("run-1", "reach the fake goal", t.TempDir(), "claude-sonnet-4-5", 5, state.StopModeHard, false, 0)

	result, err := runner.Run(context.Background(), s, Options{Goal: fakeGoal{achieveAtIteration: 2}})
	require.NoError(t, err)
	require.Equal(t, StatusAchieved, result.Status)
	require.LessOrEqual(t, result.Snapshot.Iterations, 5)
}

func TestRunTerminatesAtIterationCapWithoutAchievement(t *testing.T) {
	client := &fakeClient{}
	registry := tools.NewRegistry()
	runner := newRunner(t, client, registry)
	s := state.New("run-2", "reach the fake goal", t.TempDir(), "claude-sonnet-4-5", 3, state.StopModeHard, false, 0)

	result, err := runner.Run(context.Background(), s, Options{Goal: fakeGoal{achieveAtIteration: 1000}})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, 3, result.Snapshot.Iterations)
}

func TestRunActNodeDispatchesPendingToolCalls(t *testing.T) {
	client := &toolOnceClient{}
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(fakeReadAdapter{}))
	runner := newRunner(t, client, registry)
	s := state.New("run-3", "reach the fake goal", t.TempDir(), "claude-sonnet-4-5", 5, state.StopModeHard, false, 0)

	result, err := runner.Run(context.Background(), s, Options{Goal: fakeGoal{achieveAtIteration: 2}})
	require.NoError(t, err)
	require.Equal(t, StatusAchieved, result.Status)
}

func TestRunRecordsRunHistoryOnCompletion(t *testing.T) {
	client := &fakeClient{}
	registry := tools.NewRegistry()
	bus := hooks.NewBus()
	p := planner.New(client, "claude-sonnet-4-5", registry, bus, cost.New())
	d := dispatch.New(registry, safety.New(safety.Config{}), bus)
	e := evaluate.New(bus)
	r := reflect.New()
	ic := interrupt.NewController()
	history := inmem.New()
	runner := New(p, d, e, r, ic, bus, history)

	s := state.New("run-4", "reach the fake goal", t.TempDir(), "claude-sonnet-4-5", 2, state.StopModeHard, false, 0)
	result, err := runner.Run(context.Background(), s, Options{Goal: fakeGoal{achieveAtIteration: 1}})
	require.NoError(t, err)
	require.Equal(t, StatusAchieved, result.Status)

	record, err := history.Load(context.Background(), "run-4")
	require.NoError(t, err)
	require.Equal(t, "run-4", record.RunID)
}

func TestRunHumanCheckPausesUntilResume(t *testing.T) {
	client := &fakeClient{}
	registry := tools.NewRegistry()
	runner := newRunner(t, client, registry)
	s := state.New("run-5", "reach the fake goal", t.TempDir(), "claude-sonnet-4-5", 5, state.StopModeHard, true, 0)

	done := make(chan Result, 1)
	go func() {
		result, err := runner.Run(context.Background(), s, Options{Goal: fakeGoal{achieveAtIteration: 1000}})
		require.NoError(t, err)
		done <- result
	}()

	require.Eventually(t, func() bool {
		_, ok := runner.Interrupt.Pending("run-5")
		return ok
	}, time.Second, time.Millisecond)

	require.NoError(t, runner.Interrupt.Resume("run-5", interrupt.Decision{Approved: false, Notes: "stop here"}))

	result := <-done
	require.Equal(t, StatusAborted, result.Status)
}
