package reflect

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"retrai.dev/retrai/runtime/agent/state"
)

// TestReflectorInjection is spec §8's scenario 4.
func TestReflectorInjection(t *testing.T) {
	r := New()
	s := state.New("run-1", "goal", "/tmp", "claude-sonnet", 10, state.StopModeHard, false, 0)
	s.ConsecutiveFails = 2
	s.Messages = append(s.Messages,
		state.Message{Role: state.RoleUser, Content: "Goal NOT YET achieved: test_add failed assertion"},
		state.Message{Role: state.RoleUser, Content: "Goal NOT YET achieved: test_add failed assertion"},
	)

	u, err := r.Reflect(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, u.AppendMessages, 1)
	require.Contains(t, u.AppendMessages[0].Content, "REFLECTION")
	require.Contains(t, u.AppendMessages[0].Content, "2 consecutive")
}

func TestReflectorPassThroughBelowThreshold(t *testing.T) {
	r := New()
	s := state.New("run-1", "goal", "/tmp", "claude-sonnet", 10, state.StopModeHard, false, 0)
	s.ConsecutiveFails = 1

	u, err := r.Reflect(context.Background(), s)
	require.NoError(t, err)
	require.Empty(t, u.AppendMessages)
}

func TestReflectorPassThroughWhenNotStuck(t *testing.T) {
	r := New()
	s := state.New("run-1", "goal", "/tmp", "claude-sonnet", 10, state.StopModeHard, false, 0)
	s.ConsecutiveFails = 2
	s.Messages = append(s.Messages,
		state.Message{Role: state.RoleUser, Content: "Goal NOT YET achieved: completely different problem about networking"},
		state.Message{Role: state.RoleUser, Content: "Goal NOT YET achieved: unrelated compile error in another module"},
	)

	u, err := r.Reflect(context.Background(), s)
	require.NoError(t, err)
	require.Empty(t, u.AppendMessages)
}

func TestFailedStrategiesDeduplicateAndBoundTo10(t *testing.T) {
	list := []string{}
	for i := 0; i < 15; i++ {
		list = appendStrategyForTest(list, "strategy-same")
	}
	require.Len(t, list, 1)

	list = []string{}
	for i := 0; i < 15; i++ {
		list = appendStrategyForTest(list, fmt.Sprintf("strategy-%d", i))
	}
	require.Len(t, list, 10)
	require.Equal(t, "strategy-14", list[9])
}

func appendStrategyForTest(list []string, v string) []string {
	u := state.Update{AppendFailedStrategy: v}
	s := &state.AgentState{FailedStrategies: list}
	state.Reduce(s, u)
	return s.FailedStrategies
}
