// Package tools defines the tool registry contract: adapters the planner can
// bind into an LLM call and the dispatcher can invoke by name.
//
// Grounded on goadesign-goa-ai/runtime/agent/tools/tools.go's codec/spec
// shape, generalized away from Goa-DSL code generation (ToolSpec/TypeSpec/
// JSONCodec tied to generated services) to the plain Name/Schema/
// ParallelSafe/Execute adapter contract the dispatcher and planner actually
// need. Schema.Validate checks a tool definition with
// github.com/santhosh-tekuri/jsonschema/v6; Registry.Register does not call
// it, so registration accepts a definition without validating it.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Ident is a tool's registered name (e.g. "file_read", "grep_search").
type Ident string

// Schema is the JSON-Schema tool definition serialized verbatim to the LLM.
type Schema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Validate compiles Parameters as a JSON Schema object and returns an error
// if it is not well-formed. This backs the round-trip invariant in spec §8
// (ToolSchema -> JSON -> ToolSchema is identity): a schema that fails to
// compile here would not reliably survive provider re-serialization either.
func (s Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("tools: schema name is required")
	}
	raw, err := json.Marshal(s.Parameters)
	if err != nil {
		return fmt.Errorf("tools: parameters not serializable: %w", err)
	}
	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return fmt.Errorf("tools: parameters not valid JSON: %w", err)
	}
	resource := fmt.Sprintf("mem://tool/%s.json", s.Name)
	if err := c.AddResource(resource, doc); err != nil {
		return fmt.Errorf("tools: parameters schema invalid: %w", err)
	}
	if _, err := c.Compile(resource); err != nil {
		return fmt.Errorf("tools: parameters schema invalid: %w", err)
	}
	return nil
}

// Adapter is a self-contained tool implementation. A tool is parallel-safe
// iff it has no side effects outside cwd/.retrai/cache, does not touch
// shared mutable state, and is idempotent for identical args (§4.2).
type Adapter interface {
	Name() string
	Schema() Schema
	ParallelSafe() bool
	Execute(ctx context.Context, args map[string]any, cwd string) (content string, isError bool)
}

// Registry maps tool names to adapters.
//
// Registration discipline: Register overwrites duplicates silently (the new
// adapter keeps the original slot's insertion order) and rejects empty
// names. ListDefinitions yields schemas in insertion order.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]Adapter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Adapter)}
}

// Register adds or replaces the adapter under its own Name().
func (r *Registry) Register(a Adapter) error {
	name := a.Name()
	if name == "" {
		return fmt.Errorf("tools: adapter name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; !exists {
		r.order = append(r.order, name)
	}
	r.byName[name] = a
	return nil
}

// Get looks up an adapter by name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[name]
	return a, ok
}

// ListDefinitions returns the Schema of every registered adapter in
// insertion order, ready to bind to an LLM tool-call request.
func (r *Registry) ListDefinitions() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Schema, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.byName[name].Schema())
	}
	return defs
}

// Names returns the registered tool names in insertion order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
