// Package planner implements the Planner (Plan node, spec §4.5): pre-flight
// system-prompt assembly, message-window trimming, tool binding, LLM
// invocation, token/cost accounting, and the Mixture-of-Personas (MoP)
// variant.
//
// Grounded on goadesign-goa-ai/runtime/agent/planner/planner.go's
// decision-making shape (build prompt, bind tools, call model, extract
// tool calls), generalized off its Temporal-turn/policy-engine coupling
// onto a plain model.Client call driven by AgentState directly.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"retrai.dev/retrai/runtime/agent/contextbuild"
	"retrai.dev/retrai/runtime/agent/cost"
	"retrai.dev/retrai/runtime/agent/goal"
	"retrai.dev/retrai/runtime/agent/hooks"
	"retrai.dev/retrai/runtime/agent/model"
	"retrai.dev/retrai/runtime/agent/state"
	"retrai.dev/retrai/runtime/agent/tools"
)

// MaxMessages is the message-window cap the Planner trims to on every
// iteration: the System message at index 0, plus the most recent
// MaxMessages-1 messages (§4.5: "trim ... to <= 60").
const MaxMessages = 60

// Pattern selects the Planner's reasoning strategy for a run (spec §6's
// agent_pattern).
type Pattern string

const (
	PatternDefault Pattern = "default"
	PatternMoP     Pattern = "mop"
)

// defaultPersonaPrefixes seed the Mixture-of-Personas variant when the
// caller does not supply its own.
var defaultPersonaPrefixes = []string{
	"Think like a cautious senior engineer who prioritizes correctness and minimal change.",
	"Think like a pragmatic generalist who favors the fastest path to a working solution.",
	"Think like a skeptical reviewer looking for edge cases and hidden assumptions.",
}

// Planner runs the Plan node.
type Planner struct {
	Client         model.Client
	ModelName      string
	Registry       *tools.Registry
	Bus            hooks.Bus
	Cost           *cost.Estimator
	ContextBuilder *contextbuild.Builder
	// Learnings returns serialized past learnings from the memory store, if
	// any, appended to the pre-flight system prompt.
	Learnings func() []string
	// RolePrompt is appended to the pre-flight system prompt for swarm
	// worker runs (§4.10); empty for ordinary runs.
	RolePrompt string
	// PersonaPrefixes overrides defaultPersonaPrefixes for the MoP variant.
	PersonaPrefixes []string
}

// New constructs a Planner.
func New(client model.Client, modelName string, registry *tools.Registry, bus hooks.Bus, costEstimator *cost.Estimator) *Planner {
	return &Planner{
		Client:         client,
		ModelName:      modelName,
		Registry:       registry,
		Bus:            bus,
		Cost:           costEstimator,
		ContextBuilder: contextbuild.New(),
	}
}

// Plan runs one Plan-node invocation (§4.5). pattern selects default vs
// Mixture-of-Personas; mopK is the number of parallel persona calls for
// the MoP variant (ignored otherwise).
func (p *Planner) Plan(ctx context.Context, s *state.AgentState, g goal.Goal, pattern Pattern, mopK int) (state.Update, error) {
	p.publish(ctx, hooks.NewStepStartEvent(s.RunID, s.Iteration))

	preflight := s.Iteration == 0 && !hasSystemMessage(s.Messages)
	var systemPrepend []state.Message
	if preflight {
		systemPrepend = []state.Message{{Role: state.RoleSystem, Content: p.buildSystemPrompt(g, s.CWD)}}
	}

	working := trim(append(append([]state.Message{}, systemPrepend...), s.Messages...), MaxMessages)

	defs := p.Registry.ListDefinitions()
	toolDefs := toModelToolDefinitions(defs)

	var (
		resp *model.Response
		err  error
	)
	if pattern == PatternMoP && mopK > 0 {
		resp, err = p.planMoP(ctx, working, toolDefs, mopK)
	} else {
		resp, err = p.invoke(ctx, working, toolDefs)
	}
	if err != nil {
		// §7: LLM errors surface as an assistant message, no tool_calls
		// dispatched; the graph still makes progress toward termination via
		// the next Evaluate.
		errMsg := state.Message{Role: state.RoleAssistant, Content: fmt.Sprintf("Planner error: %v", err)}
		return state.Update{
			AppendMessages:      append(systemPrepend, errMsg),
			SetPendingToolCalls: true,
			PendingToolCalls:    nil,
		}, nil
	}

	reasoningText, assistantText := splitReasoning(resp.Content)
	toolCalls := toStateToolCalls(resp.ToolCalls)

	p.publish(ctx, hooks.NewLLMUsageEvent(s.RunID, s.Iteration, hooks.UsagePayload{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		CostUSD:      p.estimateCost(resp.Usage),
	}))
	if reasoningText != "" {
		p.publish(ctx, hooks.NewReasoningEvent(s.RunID, s.Iteration, reasoningText))
	}

	assistantMessage := state.Message{Role: state.RoleAssistant, Content: assistantText}

	return state.Update{
		AppendMessages:      append(systemPrepend, assistantMessage),
		SetPendingToolCalls: true,
		PendingToolCalls:    toolCalls,
		AddTokens:           resp.Usage.InputTokens + resp.Usage.OutputTokens,
		AddCostUSD:          p.estimateCost(resp.Usage),
	}, nil
}

// planMoP runs step 3 k times in parallel with distinct persona prefixes,
// then once more with all persona outputs appended and tools bound; only
// the final call's tool calls are kept (§4.5 MoP variant).
func (p *Planner) planMoP(ctx context.Context, working []state.Message, toolDefs []*model.ToolDefinition, k int) (*model.Response, error) {
	prefixes := p.PersonaPrefixes
	if len(prefixes) == 0 {
		prefixes = defaultPersonaPrefixes
	}

	type personaOutcome struct {
		text string
		err  error
	}
	outcomes := make([]personaOutcome, k)
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		prefix := prefixes[i%len(prefixes)]
		go func(i int, prefix string) {
			defer wg.Done()
			personaMessages := append([]state.Message{{Role: state.RoleSystem, Content: prefix}}, working...)
			resp, err := p.invoke(ctx, personaMessages, nil)
			if err != nil {
				outcomes[i] = personaOutcome{err: err}
				return
			}
			_, text := splitReasoning(resp.Content)
			outcomes[i] = personaOutcome{text: text}
		}(i, prefix)
	}
	wg.Wait()

	var sb strings.Builder
	sb.WriteString("Independent persona analyses:\n")
	for i, o := range outcomes {
		if o.err != nil {
			fmt.Fprintf(&sb, "\n[persona %d] (failed: %v)\n", i+1, o.err)
			continue
		}
		fmt.Fprintf(&sb, "\n[persona %d]\n%s\n", i+1, o.text)
	}

	final := append(append([]state.Message{}, working...), state.Message{Role: state.RoleUser, Content: sb.String()})
	return p.invoke(ctx, final, toolDefs)
}

// invoke performs one model.Client.Complete call, converting to and from
// state.Message.
func (p *Planner) invoke(ctx context.Context, messages []state.Message, toolDefs []*model.ToolDefinition) (*model.Response, error) {
	req := &model.Request{
		Model:    p.ModelName,
		Messages: toModelMessages(messages),
		Tools:    toolDefs,
	}
	return p.Client.Complete(ctx, req)
}

func (p *Planner) estimateCost(usage model.TokenUsage) float64 {
	if p.Cost == nil {
		return 0
	}
	return p.Cost.Estimate(p.ModelName, cost.Usage{PromptTokens: usage.InputTokens, CompletionTokens: usage.OutputTokens})
}

func (p *Planner) buildSystemPrompt(g goal.Goal, cwd string) string {
	var sb strings.Builder
	if g != nil {
		sb.WriteString(g.SystemPrompt(cwd))
		sb.WriteString("\n\n")
	}
	if p.RolePrompt != "" {
		sb.WriteString(p.RolePrompt)
		sb.WriteString("\n\n")
	}
	if p.ContextBuilder != nil {
		sb.WriteString(p.ContextBuilder.Build(cwd))
		sb.WriteString("\n\n")
	}
	if p.Learnings != nil {
		if learnings := p.Learnings(); len(learnings) > 0 {
			sb.WriteString("Past learnings from prior runs:\n")
			for _, l := range learnings {
				fmt.Fprintf(&sb, "- %s\n", l)
			}
		}
	}
	return sb.String()
}

func (p *Planner) publish(ctx context.Context, e hooks.Event) {
	if p.Bus == nil {
		return
	}
	_ = p.Bus.Publish(ctx, e)
}

func hasSystemMessage(messages []state.Message) bool {
	return len(messages) > 0 && messages[0].Role == state.RoleSystem
}

// trim keeps the System message at index 0 (if present) plus the most
// recent max-1 remaining messages.
func trim(messages []state.Message, max int) []state.Message {
	if len(messages) <= max {
		return messages
	}
	if messages[0].Role == state.RoleSystem {
		tail := messages[1:]
		keep := max - 1
		if len(tail) > keep {
			tail = tail[len(tail)-keep:]
		}
		return append([]state.Message{messages[0]}, tail...)
	}
	return messages[len(messages)-max:]
}

func toModelToolDefinitions(defs []tools.Schema) []*model.ToolDefinition {
	out := make([]*model.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, &model.ToolDefinition{Name: d.Name, Description: d.Description, InputSchema: d.Parameters})
	}
	return out
}

func toModelMessages(messages []state.Message) []*model.Message {
	out := make([]*model.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case state.RoleSystem:
			out = append(out, &model.Message{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: m.Content}}})
		case state.RoleTool:
			out = append(out, &model.Message{Role: model.ConversationRoleUser, Parts: []model.Part{
				model.ToolResultPart{ToolUseID: m.ToolCallID, Content: m.Content},
			}})
		default:
			out = append(out, &model.Message{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: m.Content}}})
			if m.Role == state.RoleAssistant {
				out[len(out)-1].Role = model.ConversationRoleAssistant
			}
		}
	}
	return out
}

// splitReasoning separates ThinkingPart text (free-text reasoning) from
// TextPart text (the assistant's user-facing content) across every message
// in content.
func splitReasoning(content []model.Message) (reasoning, text string) {
	var reasoningSB, textSB strings.Builder
	for _, m := range content {
		for _, part := range m.Parts {
			switch tp := part.(type) {
			case model.ThinkingPart:
				reasoningSB.WriteString(tp.Text)
			case model.TextPart:
				textSB.WriteString(tp.Text)
			}
		}
	}
	return reasoningSB.String(), textSB.String()
}

func toStateToolCalls(calls []model.ToolCall) []state.ToolCall {
	out := make([]state.ToolCall, 0, len(calls))
	for _, tc := range calls {
		var args map[string]any
		if len(tc.Payload) > 0 {
			_ = json.Unmarshal(tc.Payload, &args)
		}
		id := tc.ID
		if id == "" {
			id = string(tc.Name)
		}
		out = append(out, state.ToolCall{ID: id, Name: string(tc.Name), Args: args})
	}
	return out
}
