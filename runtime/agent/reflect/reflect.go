// Package reflect implements the Reflector (Reflect node, spec §4.7): a
// pass-through most iterations that kicks in after two or more consecutive
// failures, detects when the agent is stuck repeating itself, and injects
// an escalating-tone reflection message.
//
// Grounded on the escalating-tone idea in the teacher's deleted
// runtime/agent/reminder package (cited in DESIGN.md's "Deleted teacher
// modules" section) — message intensity keyed to a consecutive-failure
// count — reapplied here to spec.md's threshold/escalation numbers.
package reflect

import (
	"context"
	"fmt"
	"strings"

	"retrai.dev/retrai/runtime/agent/state"
)

// FailureThreshold is the minimum consecutive-failure count that activates
// the Reflector; below it, Reflect is a pass-through.
const FailureThreshold = 2

// StuckJaccardThreshold is the word-overlap ratio above which two
// consecutive failure messages are considered "the same failure repeated".
const StuckJaccardThreshold = 0.6

// scanWindow bounds how many recent messages are scanned for failure
// markers.
const scanWindow = 20

// Reflector runs the Reflect node.
type Reflector struct{}

// New constructs a Reflector.
func New() *Reflector { return &Reflector{} }

// Reflect runs one Reflect-node invocation. Fires only when
// ConsecutiveFails >= FailureThreshold; otherwise returns a no-op Update
// (pass-through).
func (r *Reflector) Reflect(ctx context.Context, s *state.AgentState) (state.Update, error) {
	if s.ConsecutiveFails < FailureThreshold {
		return state.Update{}, nil
	}

	recentFailures := scanFailures(s.Messages)
	stuck := isStuck(recentFailures)
	if !stuck {
		return state.Update{}, nil
	}

	message := buildReflectionMessage(s.ConsecutiveFails, recentFailures, s.FailedStrategies)

	var strategyAppend string
	if len(recentFailures) > 0 {
		strategyAppend = truncate(recentFailures[len(recentFailures)-1], 200)
	}

	return state.Update{
		AppendMessages:       []state.Message{{Role: state.RoleUser, Content: message}},
		AppendFailedStrategy: strategyAppend,
		SetConsecutiveFails:  true,
		ConsecutiveFails:     s.ConsecutiveFails,
	}, nil
}

// scanFailures scans the most recent scanWindow messages for the
// Evaluator's not-achieved markers.
func scanFailures(messages []state.Message) []string {
	start := 0
	if len(messages) > scanWindow {
		start = len(messages) - scanWindow
	}
	var out []string
	for _, m := range messages[start:] {
		if strings.Contains(m.Content, "Goal NOT YET achieved") || strings.Contains(m.Content, "NOT ACHIEVED") {
			out = append(out, m.Content)
		}
	}
	return out
}

// isStuck applies the Jaccard-like word-overlap similarity between the
// last two failure messages; fewer than two failures is never "stuck" by
// this measure (there is nothing to compare).
func isStuck(failures []string) bool {
	if len(failures) < 2 {
		return false
	}
	a, b := failures[len(failures)-2], failures[len(failures)-1]
	return jaccard(words(a), words(b)) > StuckJaccardThreshold
}

func words(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// buildReflectionMessage escalates tone at the §4.7-named thresholds: >=3
// consecutive failures calls for a strategy shift, >=5 for a critical
// rewrite.
func buildReflectionMessage(consecutiveFails int, recentFailures, failedStrategies []string) string {
	var sb strings.Builder
	sb.WriteString("REFLECTION: ")
	fmt.Fprintf(&sb, "%d consecutive failures detected, and the last two attempts look like the same failure repeated.\n\n", consecutiveFails)

	if len(failedStrategies) > 0 {
		sb.WriteString("Strategies already tried and failed:\n")
		for _, f := range failedStrategies {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
		sb.WriteString("\n")
	}

	switch {
	case consecutiveFails >= 5:
		sb.WriteString("CRITICAL: the current approach is not working. Stop incremental patching and " +
			"rewrite your approach from scratch: re-read the problem statement, re-examine your " +
			"assumptions, and consider that your mental model of the problem may be wrong.")
	case consecutiveFails >= 3:
		sb.WriteString("Shift strategy: the current approach has failed repeatedly. Try a fundamentally " +
			"different method rather than a small variation on what you've already tried.")
	default:
		sb.WriteString("Try a different approach than your last attempt before continuing.")
	}
	return sb.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
