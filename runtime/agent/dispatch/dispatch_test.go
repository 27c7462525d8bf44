package dispatch

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"retrai.dev/retrai/runtime/agent/safety"
	"retrai.dev/retrai/runtime/agent/state"
	"retrai.dev/retrai/runtime/agent/tools"
)

type fakeAdapter struct {
	name       string
	parallel   bool
	calls      int32
	content    string
	isError    bool
}

func (f *fakeAdapter) Name() string      { return f.name }
func (f *fakeAdapter) ParallelSafe() bool { return f.parallel }
func (f *fakeAdapter) Schema() tools.Schema {
	return tools.Schema{Name: f.name, Description: "test", Parameters: map[string]any{"type": "object"}}
}
func (f *fakeAdapter) Execute(ctx context.Context, args map[string]any, cwd string) (string, bool) {
	atomic.AddInt32(&f.calls, 1)
	return f.content, f.isError
}

func newRegistry(adapters ...*fakeAdapter) *tools.Registry {
	r := tools.NewRegistry()
	for _, a := range adapters {
		_ = r.Register(a)
	}
	return r
}

// TestPartitionCorrectness is spec §8's concrete scenario 2: a read-only,
// read-only, mutating, read-only sequence partitions into
// [[read,read],[mutate],[read]], preserving the input order within and
// across batches.
func TestPartitionCorrectness(t *testing.T) {
	registry := newRegistry(
		&fakeAdapter{name: "file_read", parallel: true},
		&fakeAdapter{name: "grep_search", parallel: true},
		&fakeAdapter{name: "file_patch", parallel: false},
	)
	calls := []state.ToolCall{
		{ID: "1", Name: "file_read", Args: map[string]any{"path": "a"}},
		{ID: "2", Name: "grep_search", Args: map[string]any{"pattern": "x"}},
		{ID: "3", Name: "file_patch", Args: map[string]any{"path": "b", "old": "old", "new": "new"}},
		{ID: "4", Name: "file_read", Args: map[string]any{"path": "c"}},
	}

	batches := partition(calls, registry)

	require.Len(t, batches, 3)
	require.Equal(t, []string{"1", "2"}, ids(batches[0]))
	require.Equal(t, []string{"3"}, ids(batches[1]))
	require.Equal(t, []string{"4"}, ids(batches[2]))

	// Every batch containing a mutating call has length 1.
	for _, b := range batches {
		hasMutating := false
		for _, c := range b {
			a, _ := registry.Get(c.Name)
			if !a.ParallelSafe() {
				hasMutating = true
			}
		}
		if hasMutating {
			require.Len(t, b, 1)
		}
	}

	// Flattened batch order matches input order.
	var flat []string
	for _, b := range batches {
		flat = append(flat, ids(b)...)
	}
	require.Equal(t, []string{"1", "2", "3", "4"}, flat)
}

func ids(calls []state.ToolCall) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.ID
	}
	return out
}

func TestActEmptyPendingReturnsImmediately(t *testing.T) {
	d := New(newRegistry(), safety.New(safety.Config{}), nil)
	s := state.New("run-1", "goal", "/tmp", "claude-sonnet", 3, state.StopModeHard, false, 0)

	u, err := d.Act(context.Background(), s)
	require.NoError(t, err)
	require.Empty(t, u.ToolResults)
}

func TestActCacheIdempotence(t *testing.T) {
	adapter := &fakeAdapter{name: "file_read", parallel: true, content: "hello world"}
	d := New(newRegistry(adapter), safety.New(safety.Config{}), nil)
	s := state.New("run-1", "goal", "/tmp", "claude-sonnet", 3, state.StopModeHard, false, 0)
	s.PendingToolCalls = []state.ToolCall{{ID: "1", Name: "file_read", Args: map[string]any{"path": "a"}}}

	u, err := d.Act(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, u.ToolResults, 1)
	require.Equal(t, "hello world", u.ToolResults[0].Content)
	state.Reduce(s, u)
	require.Equal(t, int32(1), adapter.calls)

	// Second back-to-back call with identical args is served from cache:
	// content is identical and the adapter is not invoked again.
	s.PendingToolCalls = []state.ToolCall{{ID: "2", Name: "file_read", Args: map[string]any{"path": "a"}}}
	u2, err := d.Act(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, u2.ToolResults, 1)
	require.Equal(t, "hello world", u2.ToolResults[0].Content)
	require.Equal(t, int32(1), adapter.calls)
}

func TestActBlocksDangerousShellCommand(t *testing.T) {
	adapter := &fakeAdapter{name: "shell_exec", parallel: false, content: "should never run"}
	d := New(newRegistry(adapter), safety.New(safety.Config{}), nil)
	s := state.New("run-1", "goal", "/tmp", "claude-sonnet", 3, state.StopModeHard, false, 0)
	s.PendingToolCalls = []state.ToolCall{{ID: "1", Name: "shell_exec", Args: map[string]any{"command": "rm -rf /"}}}

	u, err := d.Act(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, u.ToolResults, 1)
	require.True(t, u.ToolResults[0].Error)
	require.Equal(t, int32(0), adapter.calls)
}

func TestActUnknownToolProducesErrorResult(t *testing.T) {
	d := New(newRegistry(), safety.New(safety.Config{}), nil)
	s := state.New("run-1", "goal", "/tmp", "claude-sonnet", 3, state.StopModeHard, false, 0)
	s.PendingToolCalls = []state.ToolCall{{ID: "1", Name: "no_such_tool", Args: nil}}

	u, err := d.Act(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, u.ToolResults, 1)
	require.True(t, u.ToolResults[0].Error)
}

func TestActClearsPendingToolCalls(t *testing.T) {
	adapter := &fakeAdapter{name: "file_read", parallel: true, content: "x"}
	d := New(newRegistry(adapter), safety.New(safety.Config{}), nil)
	s := state.New("run-1", "goal", "/tmp", "claude-sonnet", 3, state.StopModeHard, false, 0)
	s.PendingToolCalls = []state.ToolCall{{ID: "1", Name: "file_read", Args: map[string]any{"path": "a"}}}

	u, err := d.Act(context.Background(), s)
	require.NoError(t, err)
	require.True(t, u.SetPendingToolCalls)
	require.Empty(t, u.PendingToolCalls)
}
