package goal

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"

	"retrai.dev/retrai/runtime/agent/state"
)

// thresholdGoal (§4.8 c) parses a numeric metric out of a command's
// structured output and compares it against a configured target: e.g. a
// benchmark's ns/iter, or an ML metric like accuracy/F1.
type thresholdGoal struct {
	command   string
	pattern   *regexp.Regexp
	target    float64
	direction string // "max" (metric must be >= target) or "min" (metric must be <= target)
}

func newThresholdGoal(params map[string]any) (Goal, error) {
	command := stringParam(params, "command", "")
	if command == "" {
		return nil, fmt.Errorf("goal: threshold requires a non-empty \"command\" param")
	}
	pattern := stringParam(params, "pattern", `([0-9]+(?:\.[0-9]+)?)`)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("goal: threshold pattern %q invalid: %w", pattern, err)
	}
	direction := stringParam(params, "direction", "max")
	return &thresholdGoal{
		command:   command,
		pattern:   re,
		target:    floatParam(params, "target", 0),
		direction: direction,
	}, nil
}

func (g *thresholdGoal) Name() string { return "threshold" }

func (g *thresholdGoal) SystemPrompt(cwd string) string {
	cmp := ">="
	if g.direction == "min" {
		cmp = "<="
	}
	return fmt.Sprintf("Your goal is achieved when running `%s` produces a metric %s %g.", g.command, cmp, g.target)
}

func (g *thresholdGoal) Check(ctx context.Context, s *state.AgentState, cwd string) (Result, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", g.command)
	cmd.Dir = cwd
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Result{Achieved: false, Reason: fmt.Sprintf("%q failed: %v", g.command, err)}, nil
	}
	match := g.pattern.FindSubmatch(out)
	if len(match) < 2 {
		return Result{Achieved: false, Reason: fmt.Sprintf("could not extract a metric from %q output", g.command)}, nil
	}
	value, err := strconv.ParseFloat(string(match[1]), 64)
	if err != nil {
		return Result{Achieved: false, Reason: fmt.Sprintf("extracted metric %q is not numeric", match[1])}, nil
	}
	achieved := value >= g.target
	if g.direction == "min" {
		achieved = value <= g.target
	}
	return Result{
		Achieved: achieved,
		Reason:   fmt.Sprintf("metric=%g target=%g direction=%s", value, g.target, g.direction),
		Details:  map[string]any{"metric": value, "target": g.target},
	}, nil
}
