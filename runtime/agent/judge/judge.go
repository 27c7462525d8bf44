// Package judge implements the shared LLM-as-judge response parser used by
// every goal family that scores its own progress with a model call (spec
// §4.8(e)) and by the Review Engine (§4.14): strict JSON, tolerant of a
// markdown code fence wrapper, degrading gracefully instead of throwing on
// malformed output.
//
// Grounded on the teacher's tolerant-JSON-extraction idiom in
// goadesign-goa-ai/runtime/agent/planner/json_unmarshal.go (stripping a
// ```json fence before unmarshaling a model response).
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"retrai.dev/retrai/runtime/agent/model"
)

// Verdict is the shape every judge-family goal and the Review Engine parse
// the model's JSON response into before mapping it onto their own domain
// type.
type Verdict struct {
	Achieved bool    `json:"achieved"`
	Score    float64 `json:"score"`
	Verdict  string  `json:"verdict"`
	Feedback string  `json:"feedback"`
	Reason   string  `json:"reason"`
}

// ParseJSON unmarshals raw into v, first stripping a ```json ... ``` (or
// bare ```) fence if the whole response is wrapped in one. Returns an error
// describing the parse failure rather than panicking; callers use this to
// build a graceful-degradation GoalResult (achieved=false, reason=err).
func ParseJSON(raw string, v any) error {
	cleaned := stripFence(raw)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("judge: malformed JSON response: %w", err)
	}
	return nil
}

// stripFence removes a surrounding ``` or ```json fence, if present, and
// trims surrounding whitespace.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Ask is the minimal single-turn LLM-as-judge transport every judge-family
// goal and the Review Engine share: a system prompt plus a user prompt in,
// the assistant's concatenated text content out. It depends on
// model.Client directly (spec §6's invoke(messages, tool_definitions)
// contract, already satisfied by Client.Complete) rather than a bespoke
// transport interface.
func Ask(ctx context.Context, client model.Client, modelName, systemPrompt, userPrompt string) (string, error) {
	req := &model.Request{
		Model: modelName,
		Messages: []*model.Message{
			{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: systemPrompt}}},
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: userPrompt}}},
		},
	}
	resp, err := client.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("judge: model call failed: %w", err)
	}
	var sb strings.Builder
	for _, msg := range resp.Content {
		for _, part := range msg.Parts {
			if tp, ok := part.(model.TextPart); ok {
				sb.WriteString(tp.Text)
			}
		}
	}
	return sb.String(), nil
}
