// Package evaluate implements the Evaluator (Evaluate node, spec §4.6):
// goal-achieved determination, cost-budget and iteration-cap termination,
// and the status-message construction the Planner reads back on the next
// iteration.
//
// Grounded on goadesign-goa-ai/runtime/agent/planner/planner.go's
// iteration-bookkeeping shape, generalized from its Temporal-turn counter
// onto the plain AgentState.Iteration field.
package evaluate

import (
	"context"
	"fmt"
	"strings"

	"retrai.dev/retrai/runtime/agent/goal"
	"retrai.dev/retrai/runtime/agent/hooks"
	"retrai.dev/retrai/runtime/agent/state"
)

// Evaluator runs the Evaluate node.
type Evaluator struct {
	Bus hooks.Bus
}

// New constructs an Evaluator.
func New(bus hooks.Bus) *Evaluator {
	return &Evaluator{Bus: bus}
}

// Evaluate runs one Evaluate-node invocation (§4.6).
func (e *Evaluator) Evaluate(ctx context.Context, s *state.AgentState, g goal.Goal) (state.Update, error) {
	if g == nil {
		g = goal.NoGoal
	}
	nextIteration := s.Iteration + 1

	result, err := g.Check(ctx, s, s.CWD)
	if err != nil {
		return state.Update{}, fmt.Errorf("evaluate: goal check failed: %w", err)
	}

	e.publish(ctx, hooks.NewGoalCheckEvent(s.RunID, nextIteration, result.Achieved, truncate(result.Reason, 500)))
	e.publish(ctx, hooks.NewIterationCompleteEvent(s.RunID, nextIteration, s.MaxIterations))

	achievedFinal := result.Achieved
	reason := result.Reason
	terminal := false

	switch {
	case s.MaxCostUSD > 0 && s.EstimatedCostUSD >= s.MaxCostUSD:
		achievedFinal = false
		reason = fmt.Sprintf("budget exceeded: estimated cost $%.4f reached the $%.4f budget", s.EstimatedCostUSD, s.MaxCostUSD)
		terminal = true
	case nextIteration >= s.MaxIterations && !result.Achieved:
		achievedFinal = false
		reason = "Max iterations reached: " + result.Reason
		terminal = true
	}

	status := buildStatusMessage(s, nextIteration, achievedFinal, terminal, reason)

	consecutiveFails := s.ConsecutiveFails
	if achievedFinal {
		consecutiveFails = 0
	} else {
		consecutiveFails++
	}

	return state.Update{
		AppendMessages:      []state.Message{{Role: state.RoleUser, Content: status}},
		SetGoalAchieved:     true,
		GoalAchieved:        achievedFinal,
		SetGoalReason:       true,
		GoalReason:          reason,
		SetIteration:        true,
		Iteration:           nextIteration,
		SetConsecutiveFails: true,
		ConsecutiveFails:    consecutiveFails,
	}, nil
}

// buildStatusMessage picks among the four variants §4.6 names: achieved,
// at-cap-without-achievement, soft-stop-penultimate, and not-yet-achieved.
func buildStatusMessage(s *state.AgentState, iteration int, achieved, terminal bool, reason string) string {
	if achieved {
		return fmt.Sprintf("✓ Goal ACHIEVED: %s", reason)
	}
	if terminal && strings.HasPrefix(reason, "Max iterations reached") {
		return fmt.Sprintf("⛔ Max iterations reached. Final status: %s", reason)
	}
	remaining := s.MaxIterations - iteration
	if s.StopMode == state.StopModeSoft && remaining == 1 {
		return fmt.Sprintf(
			"SOFT STOP: this is the penultimate iteration. Goal NOT YET achieved: %s\n\n"+
				"Produce a summary report covering: attempts made so far, partial progress, "+
				"what failed and why, recommendations for a human to continue, and the list "+
				"of files you modified.",
			reason,
		)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal NOT YET achieved: %s\n%d iteration(s) remaining.\n", reason, remaining)
	sb.WriteString("Consider an alternative approach:\n")
	sb.WriteString("- Re-read the relevant files before changing them again.\n")
	sb.WriteString("- Break the remaining work into smaller, independently-verifiable steps.\n")
	sb.WriteString("- If a tool call keeps failing the same way, try a different tool or strategy.\n")
	return sb.String()
}

func (e *Evaluator) publish(ctx context.Context, ev hooks.Event) {
	if e.Bus == nil {
		return
	}
	_ = e.Bus.Publish(ctx, ev)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
