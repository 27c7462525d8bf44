// Package state defines AgentState, the single record threaded through every
// node of the graph runner, and the reducer that merges partial node updates
// back into it.
//
// Grounded on the teacher's run.Context/planner.AgentMessage field
// inventory (goadesign-goa-ai/runtime/agent/run/run.go,
// goadesign-goa-ai/runtime/agent/planner/planner.go) generalized to the
// flat, append-or-overwrite record the graph runner needs.
package state

import "time"

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// StopMode controls the Evaluator's behavior on the penultimate iteration.
type StopMode string

const (
	StopModeSoft StopMode = "soft"
	StopModeHard StopMode = "hard"
)

// Message is one entry in the conversation history.
type Message struct {
	Role Role
	// Content is the message text.
	Content string
	// ToolCallID references the ToolCall this message answers. Only set on
	// Role == RoleTool messages.
	ToolCallID string
	// Name is the tool name for RoleTool messages, empty otherwise.
	Name string
}

// ToolCall is one pending invocation produced by a Plan step.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// RetryHint carries structured guidance attached to a failed ToolResult so
// the next Plan step can react precisely instead of re-deriving intent from
// free text. Grounded on
// goadesign-goa-ai/runtime/agent/toolregistry/executor/executor.go's
// buildRetryHintFromIssues.
type RetryHint struct {
	Reason             string
	MissingFields      []string
	ClarifyingQuestion string
}

// ToolResult is the outcome of dispatching one ToolCall.
type ToolResult struct {
	ToolCallID string
	Name       string
	Content    string
	Error      bool
	RetryHint  *RetryHint
}

// AgentState is the single shared record threaded through plan/act/evaluate/
// reflect. Nodes never mutate it directly; they return an Update which the
// graph runner merges via Reduce.
type AgentState struct {
	Messages          []Message
	PendingToolCalls  []ToolCall
	ToolResults       []ToolResult
	GoalAchieved      bool
	GoalReason        string
	Iteration         int
	MaxIterations     int
	StopMode          StopMode
	HITLEnabled       bool
	ModelName         string
	CWD               string
	RunID             string
	TotalTokens       int
	EstimatedCostUSD  float64
	MaxCostUSD        float64
	FailedStrategies  []string
	ConsecutiveFails  int
	ToolCache         map[string]string
	StartedAt         time.Time
}

// New constructs an AgentState for a fresh run, per the §3 lifecycle: all
// accumulators zero, iteration=0, Messages holding only the goal as a user
// message, and every other collection empty.
func New(runID, goal, cwd, model string, maxIterations int, stopMode StopMode, hitl bool, maxCostUSD float64) *AgentState {
	return &AgentState{
		Messages:         []Message{{Role: RoleUser, Content: goal}},
		MaxIterations:    maxIterations,
		StopMode:         stopMode,
		HITLEnabled:      hitl,
		ModelName:        model,
		CWD:              cwd,
		RunID:            runID,
		MaxCostUSD:       maxCostUSD,
		ToolCache:        make(map[string]string),
		StartedAt:        time.Now(),
	}
}

// Update is a partial result returned by a node. Zero-valued fields are
// treated per the reducer table in Reduce: Messages/FailedStrategies append,
// PendingToolCalls/ToolResults/GoalAchieved/.../ConsecutiveFails overwrite
// when the corresponding Set* flag (or non-zero convention) says a field was
// actually produced by this node.
type Update struct {
	AppendMessages       []Message
	SetPendingToolCalls  bool
	PendingToolCalls     []ToolCall
	SetToolResults       bool
	ToolResults          []ToolResult
	SetGoalAchieved      bool
	GoalAchieved         bool
	SetGoalReason        bool
	GoalReason           string
	SetIteration         bool
	Iteration            int
	SetConsecutiveFails  bool
	ConsecutiveFails     int
	AppendFailedStrategy string
	AddTokens            int
	AddCostUSD           float64
	CacheSet             map[string]string
}

// Reduce merges an Update into the state in place, following the
// Design-Notes §9 rule: "messages is append, everything else is overwrite."
// Expressed as one data-driven pass rather than per-field code scattered
// across components.
func Reduce(s *AgentState, u Update) {
	if len(u.AppendMessages) > 0 {
		s.Messages = append(s.Messages, u.AppendMessages...)
	}
	if u.SetPendingToolCalls {
		s.PendingToolCalls = u.PendingToolCalls
	}
	if u.SetToolResults {
		s.ToolResults = u.ToolResults
	}
	if u.SetGoalAchieved {
		s.GoalAchieved = u.GoalAchieved
	}
	if u.SetGoalReason {
		s.GoalReason = u.GoalReason
	}
	if u.SetIteration {
		s.Iteration = u.Iteration
	}
	if u.SetConsecutiveFails {
		s.ConsecutiveFails = u.ConsecutiveFails
	}
	if u.AppendFailedStrategy != "" {
		s.FailedStrategies = appendBounded(s.FailedStrategies, u.AppendFailedStrategy, 10)
	}
	if u.AddTokens != 0 {
		s.TotalTokens += u.AddTokens
	}
	if u.AddCostUSD != 0 {
		s.EstimatedCostUSD += u.AddCostUSD
	}
	for k, v := range u.CacheSet {
		if s.ToolCache == nil {
			s.ToolCache = make(map[string]string)
		}
		s.ToolCache[k] = v
	}
}

// appendBounded appends v to the end of list, deduplicating and keeping at
// most max most-recent entries, per §4.7's failed_strategies bound.
func appendBounded(list []string, v string, max int) []string {
	for i, existing := range list {
		if existing == v {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	list = append(list, v)
	if len(list) > max {
		list = list[len(list)-max:]
	}
	return list
}

// Snapshot captures the terminal state persisted to run history.
type Snapshot struct {
	RunID        string
	Goal         string
	Model        string
	Status       string
	Iterations   int
	MaxIterations int
	TotalTokens  int
	EstimatedCostUSD float64
	StartedAt    time.Time
	FinishedAt   time.Time
	Reason       string
	CWD          string
	FilesChanged []string
}
