// Package review implements the Review Engine (§4.14): scores a VCS diff
// against a strict JSON rubric via the model, degrading gracefully on an
// empty diff or a malformed response.
package review

import (
	"context"
	"fmt"
	"strings"

	"retrai.dev/retrai/runtime/agent/judge"
	"retrai.dev/retrai/runtime/agent/model"
	"retrai.dev/retrai/runtime/agent/vcs"
)

// Category is the kind of a single finding.
type Category string

const (
	CategoryBug        Category = "bug"
	CategoryIssue      Category = "issue"
	CategorySuggestion Category = "suggestion"
	CategoryPraise     Category = "praise"
)

// Severity ranks a finding's urgency.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Finding is one reviewer observation.
type Finding struct {
	Category   Category `json:"category"`
	Severity   Severity `json:"severity"`
	File       string   `json:"file"`
	Line       int      `json:"line"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion"`
}

// Report is the Review Engine's output (§4.14 step 3's schema).
type Report struct {
	Summary  string    `json:"summary"`
	Score    int       `json:"score"`
	Findings []Finding `json:"findings"`
}

const systemPrompt = `You are a meticulous code reviewer. Given a unified diff, respond with ONLY a JSON object of the exact shape:
{"summary": "<one paragraph>", "score": <integer 0-100>, "findings": [{"category": "bug"|"issue"|"suggestion"|"praise", "severity": "critical"|"warning"|"info", "file": "<path>", "line": <int>, "message": "<what>", "suggestion": "<how to fix, if applicable>"}]}
No prose outside the JSON object.`

// Engine obtains and scores a VCS diff.
type Engine struct {
	Repo      *vcs.Repo
	Client    model.Client
	ModelName string
}

// New constructs an Engine.
func New(repo *vcs.Repo, client model.Client, modelName string) *Engine {
	return &Engine{Repo: repo, Client: client, ModelName: modelName}
}

// Review executes the four steps of spec.md §4.14.
func (e *Engine) Review(ctx context.Context) (Report, error) {
	diff, err := e.Repo.Diff(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("review: obtain diff: %w", err)
	}

	if strings.TrimSpace(diff) == "" {
		return Report{Summary: "no changes", Score: 100}, nil
	}

	raw, err := judge.Ask(ctx, e.Client, e.ModelName, systemPrompt, diff)
	if err != nil {
		return Report{Summary: err.Error(), Score: 0}, nil
	}

	var report Report
	if err := judge.ParseJSON(raw, &report); err != nil {
		return Report{Summary: err.Error(), Score: 0}, nil
	}
	return report, nil
}
