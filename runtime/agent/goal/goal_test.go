package goal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"retrai.dev/retrai/runtime/agent/state"
)

func TestNoGoalReturnsNotAchieved(t *testing.T) {
	r, err := NoGoal.Check(context.Background(), &state.AgentState{}, "/tmp")
	require.NoError(t, err)
	require.False(t, r.Achieved)
	require.Equal(t, "No goal defined", r.Reason)
}

func TestRegistryBuildUnknownGoalErrors(t *testing.T) {
	r := NewRegistry(nil, "")
	_, err := r.Build("no_such_family", nil)
	require.Error(t, err)
}

func TestCommandSuccessGoalRequiresCommand(t *testing.T) {
	r := NewRegistry(nil, "")
	_, err := r.Build("command_success", map[string]any{})
	require.Error(t, err)
}

func TestCommandSuccessGoalAchievedOnExitZero(t *testing.T) {
	r := NewRegistry(nil, "")
	g, err := r.Build("command_success", map[string]any{"command": "true"})
	require.NoError(t, err)
	res, err := g.Check(context.Background(), &state.AgentState{}, ".")
	require.NoError(t, err)
	require.True(t, res.Achieved)
}

func TestCommandSuccessGoalNotAchievedOnNonZeroExit(t *testing.T) {
	r := NewRegistry(nil, "")
	g, err := r.Build("command_success", map[string]any{"command": "false"})
	require.NoError(t, err)
	res, err := g.Check(context.Background(), &state.AgentState{}, ".")
	require.NoError(t, err)
	require.False(t, res.Achieved)
}

func TestPhaseGoalRequiresChecklist(t *testing.T) {
	r := NewRegistry(nil, "")
	_, err := r.Build("phase", map[string]any{})
	require.Error(t, err)
}

func TestThresholdGoalParsesMetric(t *testing.T) {
	r := NewRegistry(nil, "")
	g, err := r.Build("threshold", map[string]any{
		"command": "echo 'result: 95.5'",
		"pattern": `result: ([0-9.]+)`,
		"target":  90.0,
	})
	require.NoError(t, err)
	res, err := g.Check(context.Background(), &state.AgentState{}, ".")
	require.NoError(t, err)
	require.True(t, res.Achieved)
	require.InDelta(t, 95.5, res.Details["metric"], 1e-9)
}
