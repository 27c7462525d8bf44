package hooks

import (
	"context"
	"encoding/json"
	"time"
)

// Kind identifies the variant of an Event's Payload.
type Kind string

const (
	// KindStepStart marks the beginning of a Plan/Act/Evaluate/Reflect
	// iteration.
	KindStepStart Kind = "step_start"
	// KindToolCall is published when the Act node dispatches a tool call.
	KindToolCall Kind = "tool_call"
	// KindToolResult is published when a tool call's result (or error) is
	// available.
	KindToolResult Kind = "tool_result"
	// KindLLMUsage reports token/cost accounting for a single model call.
	KindLLMUsage Kind = "llm_usage"
	// KindReasoning carries planner-emitted reasoning/thinking text.
	KindReasoning Kind = "reasoning"
	// KindGoalCheck reports the Evaluator's goal-achieved determination.
	KindGoalCheck Kind = "goal_check"
	// KindIterationComplete marks the end of one loop iteration.
	KindIterationComplete Kind = "iteration_complete"
	// KindHumanCheckRequired signals the Graph Runner has paused for human
	// input.
	KindHumanCheckRequired Kind = "human_check_required"
	// KindLog carries a free-form structured log line for observability.
	KindLog Kind = "log"
	// KindError reports the error that ended a run.
	KindError Kind = "error"
	// KindRunEnd marks run termination and its terminal status.
	KindRunEnd Kind = "run_end"
)

// Event is the unit of data published on the Bus: one observation about a
// run, tagged with the run and iteration it belongs to.
type Event struct {
	Kind      Kind
	RunID     string
	Iteration int
	Timestamp time.Time
	Payload   any
}

// ToolCallPayload is the Payload of a KindToolCall event.
type ToolCallPayload struct {
	ToolCallID string
	ToolName   string
	Args       json.RawMessage
	Batched    bool
}

// ToolResultPayload is the Payload of a KindToolResult event.
type ToolResultPayload struct {
	ToolCallID string
	ToolName   string
	Result     json.RawMessage
	Error      string
	Cached     bool
	Duration   time.Duration
}

// UsagePayload is the Payload of a KindLLMUsage event.
type UsagePayload struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
}

// ReasoningPayload is the Payload of a KindReasoning event.
type ReasoningPayload struct {
	Text string
}

// GoalCheckPayload is the Payload of a KindGoalCheck event.
type GoalCheckPayload struct {
	Achieved bool
	Detail   string
}

// IterationCompletePayload is the Payload of a KindIterationComplete event.
type IterationCompletePayload struct {
	Iteration     int
	MaxIterations int
}

// HumanCheckRequiredPayload is the Payload of a KindHumanCheckRequired event.
type HumanCheckRequiredPayload struct {
	Reason string
}

// LogPayload is the Payload of a KindLog event.
type LogPayload struct {
	Level   string
	Message string
}

// ErrorPayload is the Payload of a KindError event.
type ErrorPayload struct {
	Message string
}

// RunEndPayload is the Payload of a KindRunEnd event.
type RunEndPayload struct {
	Status string
	Reason string
}

// NewStepStartEvent builds a KindStepStart event.
func NewStepStartEvent(runID string, iteration int) Event {
	return newEvent(KindStepStart, runID, iteration, nil)
}

// NewToolCallEvent builds a KindToolCall event.
func NewToolCallEvent(runID string, iteration int, p ToolCallPayload) Event {
	return newEvent(KindToolCall, runID, iteration, p)
}

// NewToolResultEvent builds a KindToolResult event.
func NewToolResultEvent(runID string, iteration int, p ToolResultPayload) Event {
	return newEvent(KindToolResult, runID, iteration, p)
}

// NewLLMUsageEvent builds a KindLLMUsage event.
func NewLLMUsageEvent(runID string, iteration int, p UsagePayload) Event {
	return newEvent(KindLLMUsage, runID, iteration, p)
}

// NewReasoningEvent builds a KindReasoning event.
func NewReasoningEvent(runID string, iteration int, text string) Event {
	return newEvent(KindReasoning, runID, iteration, ReasoningPayload{Text: text})
}

// NewGoalCheckEvent builds a KindGoalCheck event.
func NewGoalCheckEvent(runID string, iteration int, achieved bool, detail string) Event {
	return newEvent(KindGoalCheck, runID, iteration, GoalCheckPayload{Achieved: achieved, Detail: detail})
}

// NewIterationCompleteEvent builds a KindIterationComplete event.
func NewIterationCompleteEvent(runID string, iteration, maxIterations int) Event {
	return newEvent(KindIterationComplete, runID, iteration, IterationCompletePayload{
		Iteration:     iteration,
		MaxIterations: maxIterations,
	})
}

// NewHumanCheckRequiredEvent builds a KindHumanCheckRequired event.
func NewHumanCheckRequiredEvent(runID string, iteration int, reason string) Event {
	return newEvent(KindHumanCheckRequired, runID, iteration, HumanCheckRequiredPayload{Reason: reason})
}

// NewLogEvent builds a KindLog event.
func NewLogEvent(runID string, iteration int, level, message string) Event {
	return newEvent(KindLog, runID, iteration, LogPayload{Level: level, Message: message})
}

// NewErrorEvent builds a KindError event.
func NewErrorEvent(runID string, iteration int, err error) Event {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return newEvent(KindError, runID, iteration, ErrorPayload{Message: msg})
}

// NewRunEndEvent builds a KindRunEnd event.
func NewRunEndEvent(runID string, iteration int, status, reason string) Event {
	return newEvent(KindRunEnd, runID, iteration, RunEndPayload{Status: status, Reason: reason})
}

func newEvent(kind Kind, runID string, iteration int, payload any) Event {
	return Event{
		Kind:      kind,
		RunID:     runID,
		Iteration: iteration,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, event Event) error

// HandleEvent implements Subscriber.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}
