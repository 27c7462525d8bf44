// Package dispatch implements the Tool Dispatcher (Act node, spec §4.4):
// partitioning pending tool calls into parallel-safe batches, running each
// call through the Safety Guard, dispatching batches (sequentially,
// concurrently within a batch), caching read-only results, and turning the
// outcome into a state.Update.
//
// Grounded on goadesign-goa-ai/runtime/agent/toolregistry/executor/executor.go's
// batch-then-await shape, generalized away from its Temporal-activity
// plumbing to a plain context-driven dispatcher over runtime/agent/tools.Registry.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"retrai.dev/retrai/runtime/agent/hooks"
	"retrai.dev/retrai/runtime/agent/safety"
	"retrai.dev/retrai/runtime/agent/state"
	"retrai.dev/retrai/runtime/agent/toolcache"
	"retrai.dev/retrai/runtime/agent/tools"
)

// Content caps per spec §4.4: raw tool output is truncated to 8000 bytes
// (stdout+stderr combined), status/log/summary-style tools get a tighter
// 4000 byte cap, and the tool_result event's display copy is capped at 500
// characters regardless of the underlying tool.
const (
	MaxOutputBytes = 8000
	StatusCapBytes = 4000
	EventCapChars  = 500
)

// statusLikeTools names adapters whose output is a status/log/summary
// rather than raw process output, so they get the tighter StatusCapBytes
// cap instead of MaxOutputBytes.
var statusLikeTools = map[string]bool{
	"status":      true,
	"log":         true,
	"summary":     true,
	"git_status":  true,
	"test_status": true,
}

// Dispatcher is the Act node: it owns the tool registry, safety guard, and
// the run's read-only result cache.
type Dispatcher struct {
	Registry *tools.Registry
	Guard    *safety.Guard
	Bus      hooks.Bus
	// SharedCache, when set, is consulted ahead of (and written alongside)
	// the per-run AgentState.ToolCache map, letting identical read-only
	// tool calls share results across runs and process instances.
	SharedCache toolcache.Cache
}

// New constructs a Dispatcher with only the per-run in-memory tool cache.
func New(registry *tools.Registry, guard *safety.Guard, bus hooks.Bus) *Dispatcher {
	return &Dispatcher{Registry: registry, Guard: guard, Bus: bus}
}

// WithSharedCache returns a copy of d that additionally consults and
// populates cache for every parallel-safe tool call.
func (d *Dispatcher) WithSharedCache(cache toolcache.Cache) *Dispatcher {
	clone := *d
	clone.SharedCache = cache
	return &clone
}

// Act runs one Act-node invocation over s.PendingToolCalls. Per §4.4: an
// empty pending list returns immediately with no-op Update. Otherwise calls
// are partitioned into batches, each batch is safety-checked and dispatched,
// and the new tool results/messages and a cleared PendingToolCalls are
// returned as a state.Update ready for state.Reduce.
func (d *Dispatcher) Act(ctx context.Context, s *state.AgentState) (state.Update, error) {
	if len(s.PendingToolCalls) == 0 {
		return state.Update{}, nil
	}

	batches := partition(s.PendingToolCalls, d.Registry)

	var (
		results     []state.ToolResult
		messages    []state.Message
		cacheSet    map[string]string
	)

	for _, batch := range batches {
		batchResults, err := d.dispatchBatch(ctx, s, batch)
		if err != nil {
			return state.Update{}, err
		}
		for _, br := range batchResults {
			results = append(results, br.result)
			messages = append(messages, state.Message{
				Role:       state.RoleTool,
				Content:    br.result.Content,
				ToolCallID: br.result.ToolCallID,
				Name:       br.result.Name,
			})
			if br.cacheKey != "" {
				if cacheSet == nil {
					cacheSet = make(map[string]string)
				}
				cacheSet[br.cacheKey] = br.result.Content
			}
		}
	}

	return state.Update{
		AppendMessages:      messages,
		SetToolResults:      true,
		ToolResults:         results,
		SetPendingToolCalls: true,
		PendingToolCalls:    nil,
		CacheSet:            cacheSet,
	}, nil
}

// batchOutcome pairs a dispatched call's result with the cache key it
// should be stored under, empty if the call is not cacheable.
type batchOutcome struct {
	result   state.ToolResult
	cacheKey string
}

// partition splits calls into left-to-right batches: parallel-safe calls
// accumulate into the current batch; a mutating (non-parallel-safe) call
// flushes the accumulated batch first, then forms its own singleton batch.
// An unknown tool name is treated as mutating (conservative default: never
// guess a missing adapter is safe to parallelize).
func partition(calls []state.ToolCall, registry *tools.Registry) [][]state.ToolCall {
	var (
		batches []state.ToolCall
		out     [][]state.ToolCall
	)
	flush := func() {
		if len(batches) > 0 {
			out = append(out, batches)
			batches = nil
		}
	}
	for _, c := range calls {
		safe := false
		if a, ok := registry.Get(c.Name); ok {
			safe = a.ParallelSafe()
		}
		if safe {
			batches = append(batches, c)
			continue
		}
		flush()
		out = append(out, []state.ToolCall{c})
	}
	flush()
	return out
}

// dispatchBatch runs the safety guard over every call in batch, emits
// tool_call events for every surviving call before executing any of them,
// dispatches (directly if size 1, concurrently otherwise), and emits
// tool_result events as each call completes.
func (d *Dispatcher) dispatchBatch(ctx context.Context, s *state.AgentState, batch []state.ToolCall) ([]batchOutcome, error) {
	type surviving struct {
		call     state.ToolCall
		adapter  tools.Adapter
		cacheKey string
		cached   bool
		cachedContent string
	}

	survivors := make([]surviving, 0, len(batch))
	blocked := make([]batchOutcome, 0)

	for _, call := range batch {
		adapter, ok := d.Registry.Get(call.Name)
		if !ok {
			blocked = append(blocked, batchOutcome{result: state.ToolResult{
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    fmt.Sprintf("Tool error: unknown tool %q", call.Name),
				Error:      true,
			}})
			continue
		}

		violations := d.checkCall(call)
		if d.Guard != nil && d.Guard.ShouldBlock(violations) {
			blocked = append(blocked, batchOutcome{result: state.ToolResult{
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    formatViolations(violations),
				Error:      true,
			}})
			continue
		}

		sv := surviving{call: call, adapter: adapter}
		if adapter.ParallelSafe() {
			sv.cacheKey = fingerprint(call.Name, call.Args)
			if cached, ok := s.ToolCache[sv.cacheKey]; ok {
				sv.cached = true
				sv.cachedContent = cached
			} else if d.SharedCache != nil {
				if cached, err := d.SharedCache.Get(ctx, sv.cacheKey); err == nil {
					sv.cached = true
					sv.cachedContent = cached
				}
			}
		}
		survivors = append(survivors, sv)
	}

	// Emit tool_call events for every surviving call before any execution,
	// all tagged with the same iteration (batch-wide), per §4.4 step (b).
	for _, sv := range survivors {
		args, _ := json.Marshal(sv.call.Args)
		d.publish(ctx, hooks.NewToolCallEvent(s.RunID, s.Iteration, hooks.ToolCallPayload{
			ToolCallID: sv.call.ID,
			ToolName:   sv.call.Name,
			Args:       args,
			Batched:    len(batch) > 1,
		}))
	}

	outcomes := make([]batchOutcome, len(survivors))
	run := func(i int) {
		sv := survivors[i]
		start := time.Now()
		var tr state.ToolResult
		cacheKey := ""
		cached := sv.cached
		if sv.cached {
			tr = state.ToolResult{ToolCallID: sv.call.ID, Name: sv.call.Name, Content: sv.cachedContent}
		} else {
			tr = d.execute(ctx, sv.adapter, sv.call)
			if sv.cacheKey != "" && !tr.Error {
				cacheKey = sv.cacheKey
				if d.SharedCache != nil {
					_ = d.SharedCache.Set(ctx, sv.cacheKey, tr.Content, toolcache.DefaultTTL)
				}
			}
		}
		d.publish(ctx, hooks.NewToolResultEvent(s.RunID, s.Iteration, hooks.ToolResultPayload{
			ToolCallID: sv.call.ID,
			ToolName:   sv.call.Name,
			Result:     mustJSON(truncate(tr.Content, EventCapChars)),
			Error:      errString(tr),
			Cached:     cached,
			Duration:   time.Since(start),
		}))
		outcomes[i] = batchOutcome{result: tr, cacheKey: cacheKey}
	}

	if len(survivors) == 1 {
		run(0)
	} else if len(survivors) > 1 {
		var wg sync.WaitGroup
		for i := range survivors {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				run(i)
			}(i)
		}
		wg.Wait()
	}

	// Tool messages must appear in call-issued order regardless of
	// concurrent dispatch, so blocked calls and survivors are re-merged in
	// the batch's original order.
	byID := make(map[string]batchOutcome, len(batch))
	for _, b := range blocked {
		byID[b.result.ToolCallID] = b
	}
	for i, sv := range survivors {
		byID[sv.call.ID] = outcomes[i]
	}
	ordered := make([]batchOutcome, 0, len(batch))
	for _, call := range batch {
		ordered = append(ordered, byID[call.ID])
	}
	return ordered, nil
}

// checkCall runs every applicable safety check for a tool call's shape.
// Adapters are free-form (args map[string]any), so the guard probes the
// conventional argument names a dangerous tool would use.
func (d *Dispatcher) checkCall(call state.ToolCall) []safety.Violation {
	if d.Guard == nil {
		return nil
	}
	var out []safety.Violation
	if cmd, ok := stringArg(call.Args, "command"); ok {
		out = append(out, d.Guard.CheckShellCommand(cmd)...)
	}
	if code, ok := stringArg(call.Args, "code"); ok {
		out = append(out, d.Guard.CheckSandboxCode(code)...)
	}
	if u, ok := stringArg(call.Args, "url"); ok {
		out = append(out, d.Guard.CheckURL(u)...)
	}
	if path, ok := stringArg(call.Args, "path"); ok {
		if call.Name == "file_delete" || call.Name == "delete_file" {
			out = append(out, d.Guard.CheckFileDelete(path)...)
		}
	}
	if content, ok := stringArg(call.Args, "content"); ok {
		out = append(out, d.Guard.CheckFileWrite(int64(len(content)))...)
	}
	return out
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// execute invokes the adapter, converting an adapter-level panic into the
// synthetic ToolResult{error=true} the spec requires for uncaught exceptions
// (§4.4/§7: "Tool execution errors ... never exceptions").
func (d *Dispatcher) execute(ctx context.Context, a tools.Adapter, call state.ToolCall) (tr state.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			tr = state.ToolResult{
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    fmt.Sprintf("Tool error: panic: %v", r),
				Error:      true,
			}
		}
	}()
	content, isError := a.Execute(ctx, call.Args, "")
	cap := MaxOutputBytes
	if statusLikeTools[call.Name] {
		cap = StatusCapBytes
	}
	return state.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    truncate(content, cap),
		Error:      isError,
	}
}

func (d *Dispatcher) publish(ctx context.Context, e hooks.Event) {
	if d.Bus == nil {
		return
	}
	_ = d.Bus.Publish(ctx, e)
}

func errString(tr state.ToolResult) string {
	if tr.Error {
		return tr.Content
	}
	return ""
}

func mustJSON(s string) json.RawMessage {
	b, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return b
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func formatViolations(violations []safety.Violation) string {
	msg := "Tool call blocked by safety guard:"
	for _, v := range violations {
		msg += fmt.Sprintf(" [%s/%s] %s;", v.RiskLevel, v.Rule, v.Description)
	}
	return msg
}

// fingerprint derives the tool_cache key for a read-only call: the tool
// name plus a stable hash of its arguments, so identical calls collide
// regardless of map key ordering.
func fingerprint(name string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	h.Write([]byte(name))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{0})
		b, _ := json.Marshal(args[k])
		h.Write(b)
	}
	return name + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}
