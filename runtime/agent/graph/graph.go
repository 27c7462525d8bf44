// Package graph implements the Graph Runner (spec §4.9): the explicit
// (from, predicate, to) edge table binding Plan -> Act -> Evaluate ->
// Reflect into the iterative controller described in §2, plus
// checkpoint-per-run_id, human-in-the-loop suspension, and cancellation.
//
// Grounded on the teacher's deleted runtime/agent/runtime/workflow_loop.go
// (cited in DESIGN.md's "Deleted teacher modules"): its one-method-per-
// loop-concern shape (deadline checks, await-only handling, tool-turn
// handling) is reused here as a plain Go loop over an explicit node table
// instead of a Temporal workflow function, per spec.md §9's explicit
// instruction not to introduce a reflective type system.
package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"retrai.dev/retrai/runtime/agent/dispatch"
	"retrai.dev/retrai/runtime/agent/evaluate"
	"retrai.dev/retrai/runtime/agent/goal"
	"retrai.dev/retrai/runtime/agent/hooks"
	"retrai.dev/retrai/runtime/agent/interrupt"
	"retrai.dev/retrai/runtime/agent/planner"
	"retrai.dev/retrai/runtime/agent/reflect"
	"retrai.dev/retrai/runtime/agent/runhistory"
	"retrai.dev/retrai/runtime/agent/state"
)

// Node identifies one position in the graph.
type Node string

const (
	NodeStart      Node = "start"
	NodePlan       Node = "plan"
	NodeAct        Node = "act"
	NodeEvaluate   Node = "evaluate"
	NodeHumanCheck Node = "human_check"
	NodeReflect    Node = "reflect"
	NodeEnd        Node = "end"
)

// Status is a run's terminal outcome (spec §6).
type Status string

const (
	StatusAchieved Status = "achieved"
	StatusFailed   Status = "failed"
	StatusAborted  Status = "aborted"
)

// Checkpoint is the graph's resume point for one run: the node boundary
// about to execute and the state as of that boundary.
type Checkpoint struct {
	Node  Node
	State *state.AgentState
}

// Result is the outcome of a completed or suspended Run call.
type Result struct {
	Status   Status
	Snapshot state.Snapshot
	// Suspended is true when the run paused at a human_check boundary
	// rather than reaching NodeEnd (e.g. the caller's context was
	// canceled while waiting on approval).
	Suspended bool
}

// Runner composes the Plan/Act/Evaluate/Reflect nodes into the loop
// described by the edge table in nextNode.
type Runner struct {
	Planner    *planner.Planner
	Dispatcher *dispatch.Dispatcher
	Evaluator  *evaluate.Evaluator
	Reflector  *reflect.Reflector
	Interrupt  *interrupt.Controller
	Bus        hooks.Bus
	History    runhistory.Store

	mu          sync.Mutex
	checkpoints map[string]*Checkpoint
}

// New constructs a Runner.
func New(p *planner.Planner, d *dispatch.Dispatcher, e *evaluate.Evaluator, r *reflect.Reflector, ic *interrupt.Controller, bus hooks.Bus, history runhistory.Store) *Runner {
	return &Runner{
		Planner:     p,
		Dispatcher:  d,
		Evaluator:   e,
		Reflector:   r,
		Interrupt:   ic,
		Bus:         bus,
		History:     history,
		checkpoints: make(map[string]*Checkpoint),
	}
}

// Options configures a Run call.
type Options struct {
	Goal    goal.Goal
	Pattern planner.Pattern
	MopK    int
}

// Run executes the graph from NodeStart through NodeEnd (or a suspension
// point), per the edge table:
//
//	start -> plan                                          (unconditional)
//	plan -> act                                             (pending_tool_calls non-empty)
//	plan -> evaluate                                        (otherwise)
//	act -> evaluate                                         (unconditional)
//	evaluate -> end                                         (achieved, at cap, or budget exceeded)
//	evaluate -> human_check                                 (hitl_enabled, non-terminal)
//	evaluate -> reflect                                     (consecutive_failures >= 2, non-terminal)
//	evaluate -> plan                                        (otherwise)
//	reflect -> plan                                         (unconditional)
func (r *Runner) Run(ctx context.Context, s *state.AgentState, opts Options) (Result, error) {
	return r.run(ctx, NodeStart, s, opts)
}

// Resume continues a run previously suspended at a human_check boundary:
// it re-enters human_check, which waits on the interrupt.Controller for a
// new Decision for runID.
func (r *Runner) Resume(ctx context.Context, runID string, opts Options) (Result, error) {
	r.mu.Lock()
	cp, ok := r.checkpoints[runID]
	r.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("graph: no checkpoint for run %q", runID)
	}
	return r.run(ctx, cp.Node, cp.State, opts)
}

func (r *Runner) run(ctx context.Context, start Node, s *state.AgentState, opts Options) (Result, error) {
	g := opts.Goal
	if g == nil {
		g = goal.NoGoal
	}

	goalName := ""
	if g != nil {
		goalName = g.Name()
	}

	current := start
	for {
		if err := ctx.Err(); err != nil {
			r.checkpoint(s.RunID, current, s)
			return r.finish(ctx, s, goalName, StatusAborted, "canceled: "+err.Error()), nil
		}

		switch current {
		case NodeStart:
			current = NodePlan

		case NodePlan:
			u, err := r.Planner.Plan(ctx, s, g, opts.Pattern, opts.MopK)
			if err != nil {
				return r.fail(ctx, s, goalName, err)
			}
			state.Reduce(s, u)
			if len(s.PendingToolCalls) > 0 {
				current = NodeAct
			} else {
				current = NodeEvaluate
			}

		case NodeAct:
			u, err := r.Dispatcher.Act(ctx, s)
			if err != nil {
				return r.fail(ctx, s, goalName, err)
			}
			state.Reduce(s, u)
			current = NodeEvaluate

		case NodeEvaluate:
			u, err := r.Evaluator.Evaluate(ctx, s, g)
			if err != nil {
				return r.fail(ctx, s, goalName, err)
			}
			state.Reduce(s, u)
			current = r.nextAfterEvaluate(s)

		case NodeHumanCheck:
			r.checkpoint(s.RunID, NodeHumanCheck, s)
			r.publish(ctx, hooks.NewHumanCheckRequiredEvent(s.RunID, s.Iteration, s.GoalReason))
			decision, err := r.Interrupt.Pause(ctx, interrupt.PauseRequest{
				RunID:     s.RunID,
				Iteration: s.Iteration,
				Reason:    s.GoalReason,
			})
			if err != nil {
				res := r.finish(ctx, s, goalName, StatusAborted, "human check canceled: "+err.Error())
				// finish drops the checkpoint; restore it so Resume can
				// re-enter human_check for this run.
				r.checkpoint(s.RunID, NodeHumanCheck, s)
				res.Suspended = true
				return res, nil
			}
			if !decision.Approved {
				return r.finish(ctx, s, goalName, StatusAborted, "human check rejected: "+decision.Notes), nil
			}
			current = NodePlan

		case NodeReflect:
			u, err := r.Reflector.Reflect(ctx, s)
			if err != nil {
				return r.fail(ctx, s, goalName, err)
			}
			state.Reduce(s, u)
			current = NodePlan

		case NodeEnd:
			status := StatusFailed
			if s.GoalAchieved {
				status = StatusAchieved
			}
			return r.finish(ctx, s, goalName, status, s.GoalReason), nil

		default:
			return r.fail(ctx, s, goalName, fmt.Errorf("graph: unknown node %q", current))
		}

		r.checkpoint(s.RunID, current, s)
	}
}

// nextAfterEvaluate implements the evaluate node's four outgoing edges.
func (r *Runner) nextAfterEvaluate(s *state.AgentState) Node {
	terminal := s.GoalAchieved ||
		s.Iteration >= s.MaxIterations ||
		(s.MaxCostUSD > 0 && s.EstimatedCostUSD >= s.MaxCostUSD)
	if terminal {
		return NodeEnd
	}
	if s.HITLEnabled {
		return NodeHumanCheck
	}
	if s.ConsecutiveFails >= reflect.FailureThreshold {
		return NodeReflect
	}
	return NodePlan
}

func (r *Runner) checkpoint(runID string, node Node, s *state.AgentState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints[runID] = &Checkpoint{Node: node, State: s}
}

func (r *Runner) fail(ctx context.Context, s *state.AgentState, goalName string, err error) (Result, error) {
	r.publish(ctx, hooks.NewErrorEvent(s.RunID, s.Iteration, err))
	return r.finish(ctx, s, goalName, StatusFailed, err.Error()), err
}

func (r *Runner) finish(ctx context.Context, s *state.AgentState, goalName string, status Status, reason string) Result {
	r.publish(ctx, hooks.NewRunEndEvent(s.RunID, s.Iteration, string(status), reason))

	snapshot := state.Snapshot{
		RunID:            s.RunID,
		Goal:             goalName,
		Model:            s.ModelName,
		Status:           string(status),
		Iterations:       s.Iteration,
		MaxIterations:    s.MaxIterations,
		TotalTokens:      s.TotalTokens,
		EstimatedCostUSD: s.EstimatedCostUSD,
		StartedAt:        s.StartedAt,
		FinishedAt:       time.Now(),
		Reason:           reason,
		CWD:              s.CWD,
	}

	if r.History != nil {
		_ = r.History.Append(ctx, runhistory.FromSnapshot(snapshot, runhistory.Status(status)))
	}

	r.mu.Lock()
	delete(r.checkpoints, s.RunID)
	r.mu.Unlock()

	return Result{Status: status, Snapshot: snapshot}
}

func (r *Runner) publish(ctx context.Context, e hooks.Event) {
	if r.Bus == nil {
		return
	}
	_ = r.Bus.Publish(ctx, e)
}
