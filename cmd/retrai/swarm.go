package main

import (
	"context"
	"fmt"
	"os"

	"goa.design/clue/log"

	"retrai.dev/retrai/runtime/agent/goal"
	"retrai.dev/retrai/runtime/agent/safety"
	"retrai.dev/retrai/runtime/agent/swarm"
	"retrai.dev/retrai/runtime/agent/tools"
)

// runSwarm implements the `swarm` command: decompose a task into parallel
// subtasks, each run by its own Graph Runner worker (§4.10).
func runSwarm(ctx context.Context, args []string) error {
	fs, cwdF, modelF := newFlagSet("swarm")
	taskF := fs.String("task", "", "task to decompose and run (required)")
	maxWorkersF := fs.Int("max-workers", 0, "cap on parallel workers (default: swarm.MaxWorkers)")
	maxIterF := fs.Int("max-iterations", 0, "per-worker iteration cap")
	maxCostF := fs.Float64("max-cost-usd", 0, "per-worker cost ceiling in USD (0 = unlimited)")
	_ = fs.Parse(args)

	if *taskF == "" {
		return fmt.Errorf("swarm: -task is required")
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
	newRunner := newRunnerFactory(client, cfg.Model, toolRegistry, guard, history)

	orchestrator := swarm.New(client, cfg.Model, registry, newRunner)
	if *maxWorkersF > 0 {
		orchestrator.MaxWorkers = *maxWorkersF
	}

	outcome, err := orchestrator.Run(ctx, swarm.RunOptions{
		Task:          *taskF,
		CWD:           cwd,
		MaxIterations: *maxIterF,
		MaxCostUSD:    *maxCostF,
		StopMode:      cfg.StopMode(),
	})
	if err != nil {
		return err
	}

	log.Print(ctx, log.KV{K: "status", V: string(outcome.Status)}, log.KV{K: "subtasks", V: len(outcome.Subtasks)})
	fmt.Println(outcome.Summary)
	if outcome.Status != swarm.StatusAchieved {
		os.Exit(1)
	}
	return nil
}
