package goal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"retrai.dev/retrai/runtime/agent/state"
)

// phaseGoal (§4.8 d) is the research-style family: achieved is a
// percentage of a checklist of expected artifacts (files) that exist
// relative to cwd.
type phaseGoal struct {
	checklist     []string
	requireAll    bool
	minPercentage float64
}

func newPhaseGoal(params map[string]any) (Goal, error) {
	raw, _ := params["checklist"].([]any)
	checklist := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			checklist = append(checklist, s)
		}
	}
	if len(checklist) == 0 {
		return nil, fmt.Errorf("goal: phase requires a non-empty \"checklist\" param")
	}
	return &phaseGoal{
		checklist:     checklist,
		minPercentage: floatParam(params, "min_percentage", 100),
	}, nil
}

func (g *phaseGoal) Name() string { return "phase" }

func (g *phaseGoal) SystemPrompt(cwd string) string {
	return fmt.Sprintf("Your goal is achieved when at least %.0f%% of these artifacts exist: %v", g.minPercentage, g.checklist)
}

func (g *phaseGoal) Check(ctx context.Context, s *state.AgentState, cwd string) (Result, error) {
	present := 0
	var missing []string
	for _, item := range g.checklist {
		path := item
		if !filepath.IsAbs(path) {
			path = filepath.Join(cwd, path)
		}
		if _, err := os.Stat(path); err == nil {
			present++
		} else {
			missing = append(missing, item)
		}
	}
	pct := 100 * float64(present) / float64(len(g.checklist))
	achieved := pct >= g.minPercentage
	return Result{
		Achieved: achieved,
		Reason:   fmt.Sprintf("%d/%d artifacts present (%.1f%%), missing: %v", present, len(g.checklist), pct, missing),
		Details:  map[string]any{"percentage": pct, "missing": missing},
	}, nil
}
