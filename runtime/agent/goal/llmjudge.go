package goal

import (
	"context"
	"fmt"

	"retrai.dev/retrai/runtime/agent/judge"
	"retrai.dev/retrai/runtime/agent/model"
	"retrai.dev/retrai/runtime/agent/state"
)

// judgeGoal is the shared shape behind the four LLM-as-judge families
// (§4.8 e): solve, creative, score, text_improve. Each differs only in its
// rubric prompt and pass threshold; all share judge.Ask's single-turn
// transport and judge.ParseJSON's tolerant verdict parser.
type judgeGoal struct {
	family    string
	client    model.Client
	modelName string
	task      string
	rubric    string
	threshold float64
}

func newJudgeGoal(family string, client model.Client, modelName string) Factory {
	return func(params map[string]any) (Goal, error) {
		task := stringParam(params, "task", "")
		if task == "" {
			return nil, fmt.Errorf("goal: %s requires a non-empty \"task\" param", family)
		}
		return &judgeGoal{
			family:    family,
			client:    client,
			modelName: modelName,
			task:      task,
			rubric:    stringParam(params, "rubric", defaultRubric(family)),
			threshold: floatParam(params, "threshold", defaultThreshold(family)),
		}, nil
	}
}

func defaultRubric(family string) string {
	switch family {
	case "solve":
		return "Judge whether the task has been correctly and completely solved."
	case "creative":
		return "Judge the creative quality and originality of the output."
	case "text_improve":
		return "Judge whether the text has been meaningfully improved in clarity and correctness."
	default: // "score"
		return "Score the output on a 0-100 scale against the task description."
	}
}

func defaultThreshold(family string) float64 {
	if family == "score" {
		return 70
	}
	return 0 // solve/creative/text_improve use achieved, not a numeric threshold
}

func (g *judgeGoal) Name() string { return g.family }

func (g *judgeGoal) SystemPrompt(cwd string) string {
	return fmt.Sprintf("Task: %s\n\nYour work will be judged by: %s", g.task, g.rubric)
}

func (g *judgeGoal) Check(ctx context.Context, s *state.AgentState, cwd string) (Result, error) {
	system := "You are a strict, impartial judge. Respond with ONLY a JSON object: " +
		`{"achieved": bool, "score": number 0-100, "reason": string}. No other text.`
	user := fmt.Sprintf("Task: %s\n\nRubric: %s\n\nConversation so far:\n%s", g.task, g.rubric, renderTranscript(s))

	raw, err := judge.Ask(ctx, g.client, g.modelName, system, user)
	if err != nil {
		return Result{Achieved: false, Reason: fmt.Sprintf("judge call failed: %v", err)}, nil
	}

	var v judge.Verdict
	if err := judge.ParseJSON(raw, &v); err != nil {
		return Result{Achieved: false, Reason: fmt.Sprintf("judge response parse error: %v", err)}, nil
	}

	achieved := v.Achieved
	if g.family == "score" {
		achieved = v.Score >= g.threshold
	}
	reason := v.Reason
	if reason == "" {
		reason = v.Feedback
	}
	return Result{
		Achieved: achieved,
		Reason:   reason,
		Details:  map[string]any{"score": v.Score},
	}, nil
}

func renderTranscript(s *state.AgentState) string {
	out := ""
	for _, m := range s.Messages {
		out += fmt.Sprintf("[%s] %s\n", m.Role, m.Content)
	}
	return out
}
