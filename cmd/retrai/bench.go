package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"goa.design/clue/log"

	"retrai.dev/retrai/runtime/agent/bench"
	"retrai.dev/retrai/runtime/agent/goal"
	"retrai.dev/retrai/runtime/agent/graph"
	"retrai.dev/retrai/runtime/agent/hooks"
	"retrai.dev/retrai/runtime/agent/safety"
	"retrai.dev/retrai/runtime/agent/tools"
	"retrai.dev/retrai/runtime/agent/vcs"
)

// runBench implements the `bench` command: repeat a task across models with
// a clean VCS reset before and after every attempt (§4.13).
func runBench(ctx context.Context, args []string) error {
	fs, cwdF, modelF := newFlagSet("bench")
	taskF := fs.String("task", "", "task to run (required)")
	modelsF := fs.String("models", "", "comma-separated model identifiers to benchmark (required)")
	roundsF := fs.Int("rounds", 1, "rounds per model")
	maxIterF := fs.Int("max-iterations", 10, "per-trial iteration cap")
	maxCostF := fs.Float64("max-cost-usd", 0, "per-trial cost ceiling in USD (0 = unlimited)")
	_ = fs.Parse(args)

	if *taskF == "" {
		return fmt.Errorf("bench: -task is required")
	}
	var models []string
	for _, m := range strings.Split(*modelsF, ",") {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	if len(models) == 0 {
		return fmt.Errorf("bench: -models is required (comma-separated)")
	}

	cwd, err := cwdOrDefault(*cwdF)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cwd, *modelF)
	if err != nil {
		return err
	}

	client, err := buildClient(cfg)
	if err != nil {
		return err
	}
	registry := goal.NewRegistry(client, cfg.Model)
	history, err := historyStore(cwd)
	if err != nil {
		return err
	}
	toolRegistry := tools.NewRegistry()
	guard := safety.New(cfg.SafetyGuardConfig())

	// Every model shares the one configured provider client; only the model
	// name passed to planner.New differs per trial, matching how
	// model.Request.Model selects the model server-side for a single
	// provider account (§4.13 benchmarks models within one provider).
	newRunner := func(modelName string, bus hooks.Bus) *graph.Runner {
		return newRunnerFactory(client, modelName, toolRegistry, guard, history)(bus)
	}

	repo := vcs.New(cwd)
	runner := bench.New(repo, newRunner, registry, *maxIterF, *maxCostF)

	outcome, err := runner.Run(ctx, *taskF, models, *roundsF)
	if err != nil {
		return err
	}

	log.Print(ctx, log.KV{K: "winner", V: outcome.Winner}, log.KV{K: "trials", V: len(outcome.Trials)})
	achieved := false
	for _, m := range outcome.Models {
		fmt.Printf("- %s: success_rate=%.2f mean_iterations=%.1f mean_cost_usd=%.4f\n", m.Model, m.SuccessRate, m.MeanIterations, m.MeanCostUSD)
		if m.SuccessRate > 0 {
			achieved = true
		}
	}

	if !achieved {
		os.Exit(1)
	}
	return nil
}
