package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"retrai.dev/retrai/config"
	"retrai.dev/retrai/features/model/anthropic"
	"retrai.dev/retrai/features/model/openai"
	"retrai.dev/retrai/runtime/agent/cost"
	"retrai.dev/retrai/runtime/agent/dispatch"
	"retrai.dev/retrai/runtime/agent/evaluate"
	"retrai.dev/retrai/runtime/agent/goal"
	"retrai.dev/retrai/runtime/agent/graph"
	"retrai.dev/retrai/runtime/agent/hooks"
	"retrai.dev/retrai/runtime/agent/interrupt"
	"retrai.dev/retrai/runtime/agent/model"
	"retrai.dev/retrai/runtime/agent/planner"
	"retrai.dev/retrai/runtime/agent/reflect"
	"retrai.dev/retrai/runtime/agent/runhistory"
	"retrai.dev/retrai/runtime/agent/runhistory/file"
	"retrai.dev/retrai/runtime/agent/safety"
	"retrai.dev/retrai/runtime/agent/tools"
)

// buildClient selects a model.Client implementation for cfg.Provider,
// reading provider credentials from the environment the way every adapter's
// NewFromAPIKey constructor expects. Defaults to anthropic when unset, since
// it is this module's primary reference provider (§4.9's examples all use
// Claude model names).
func buildClient(cfg config.Config) (model.Client, error) {
	modelName := cfg.Model
	if modelName == "" {
		modelName = "claude-sonnet-4-5"
	}
	switch cfg.Provider {
	case "", "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for provider %q", "anthropic")
		}
		return anthropic.NewFromAPIKey(key, modelName)
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for provider %q", "openai")
		}
		return openai.NewFromAPIKey(key, modelName)
	case "bedrock":
		// Bedrock requires an AWS config/region and an *bedrockruntime.Client,
		// which this CLI does not assemble; embedders wire features/model/bedrock
		// directly with their own AWS SDK configuration instead of selecting it
		// here by name.
		return nil, fmt.Errorf("provider %q is not configurable from environment variables alone; wire features/model/bedrock.New directly", cfg.Provider)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}

// historyStore opens the file-backed run history store under cwd/.retrai,
// the persistence layout spec.md §6 specifies.
func historyStore(cwd string) (runhistory.Store, error) {
	return file.New(cwd)
}

// newRunnerFactory builds a func(hooks.Bus) *graph.Runner closed over the
// shared client, model name, tool registry, safety guard, and run history
// store, matching the wiring pattern
// every *_test.go package in runtime/agent already exercises
// (planner.New + dispatch.New + evaluate.New + reflect.New +
// interrupt.NewController + graph.New).
func newRunnerFactory(client model.Client, modelName string, registry *tools.Registry, guard *safety.Guard, history runhistory.Store) func(bus hooks.Bus) *graph.Runner {
	return func(bus hooks.Bus) *graph.Runner {
		p := planner.New(client, modelName, registry, bus, cost.New())
		d := dispatch.New(registry, guard, bus)
		e := evaluate.New(bus)
		r := reflect.New()
		ic := interrupt.NewController()
		return graph.New(p, d, e, r, ic, bus, history)
	}
}

// buildGoal constructs the goal named by cfg.Goal (defaulting to "solve")
// with cfg.Extra as its parameters, per §6's project config contract.
func buildGoal(registry *goal.Registry, cfg config.Config) (goal.Goal, error) {
	name := cfg.Goal
	if name == "" {
		name = "solve"
	}
	return registry.Build(name, cfg.Extra)
}

// newRunID returns a globally unique run identifier prefixed with kind for
// observability in logs and run history file names.
func newRunID(kind string) string {
	return fmt.Sprintf("%s-%s", kind, uuid.NewString())
}
