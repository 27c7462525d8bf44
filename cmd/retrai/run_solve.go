package main

import (
	"context"
	"fmt"
	"os"

	"goa.design/clue/log"

	"retrai.dev/retrai/runtime/agent/goal"
	"retrai.dev/retrai/runtime/agent/graph"
	"retrai.dev/retrai/runtime/agent/hooks"
	"retrai.dev/retrai/runtime/agent/planner"
	"retrai.dev/retrai/runtime/agent/safety"
	"retrai.dev/retrai/runtime/agent/state"
	"retrai.dev/retrai/runtime/agent/tools"
)

// runSolve implements the `run`/`solve` command: run a single goal to
// completion through one Graph Runner invocation (§4.9).
func runSolve(ctx context.Context, args []string) error {
	fs, cwdF, modelF := newFlagSet("run")
	goalF := fs.String("goal", "", "goal family name (overrides .retrai.yml)")
	runIDF := fs.String("run-id", "", "run identifier (default: generated)")
	maxIterF := fs.Int("max-iterations", 0, "maximum iterations (overrides .retrai.yml)")
	maxCostF := fs.Float64("max-cost-usd", 0, "cost ceiling in USD (0 = unlimited)")
	hitlF := fs.Bool("hitl", false, "pause for human approval after each non-final evaluation")
	_ = fs.Parse(args)

	cwd, err := cwdOrDefault(*cwdF)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cwd, *modelF)
	if err != nil {
		return err
	}
	if *goalF != "" {
		cfg.Goal = *goalF
	}
	maxIterations := cfg.MaxIterations
	if *maxIterF > 0 {
		maxIterations = *maxIterF
	}
	if maxIterations <= 0 {
		maxIterations = 10
	}

	client, err := buildClient(cfg)
	if err != nil {
		return err
	}
	registry := goal.NewRegistry(client, cfg.Model)
	g, err := buildGoal(registry, cfg)
	if err != nil {
		return fmt.Errorf("build goal: %w", err)
	}

	history, err := historyStore(cwd)
	if err != nil {
		return err
	}
	toolRegistry := tools.NewRegistry()
	guard := safety.New(cfg.SafetyGuardConfig())
	newRunner := newRunnerFactory(client, cfg.Model, toolRegistry, guard, history)

	runID := *runIDF
	if runID == "" {
		runID = newRunID("run")
	}
	bus := hooks.NewBus()
	s := state.New(runID, cfg.Goal, cwd, cfg.Model, maxIterations, cfg.StopMode(), *hitlF || cfg.HITLEnabled, *maxCostF)

	result, err := newRunner(bus).Run(ctx, s, graph.Options{Goal: g, Pattern: planner.PatternDefault})
	if err != nil {
		return err
	}
	log.Print(ctx, log.KV{K: "run_id", V: runID}, log.KV{K: "status", V: string(result.Status)}, log.KV{K: "reason", V: result.Snapshot.Reason})
	if result.Status != graph.StatusAchieved {
		os.Exit(1)
	}
	return nil
}
