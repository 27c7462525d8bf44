package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"goa.design/clue/log"

	"retrai.dev/retrai/runtime/agent/goal"
	"retrai.dev/retrai/runtime/agent/safety"
	"retrai.dev/retrai/runtime/agent/tools"
	"retrai.dev/retrai/runtime/agent/watcher"
)

// runWatch implements the `watch` command: poll the working tree and
// trigger a run once changes settle (§4.12). It runs until interrupted
// (SIGINT/SIGTERM), matching the teacher's os/signal.NotifyContext idiom
// for long-lived commands, and is not part of spec §6's achieved/not-achieved
// exit code contract since it has no single terminal outcome to report.
func runWatch(ctx context.Context, args []string) error {
	fs, cwdF, modelF := newFlagSet("watch")
	goalF := fs.String("goal", "", "goal family to run on every triggered change (overrides .retrai.yml)")
	pollF := fs.Duration("poll-interval", 2*time.Second, "snapshot poll interval")
	debounceF := fs.Duration("debounce", 5*time.Second, "quiet period before a triggered run")
	maxIterF := fs.Int("max-iterations", 10, "iteration cap for each triggered run")
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

	w := watcher.New(cwd, *pollF, *debounceF, g, newRunner, cfg.Model, *maxIterF)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Print(sigCtx, log.KV{K: "cwd", V: cwd}, log.KV{K: "poll_interval", V: pollF.String()}, log.KV{K: "debounce", V: debounceF.String()})
	return w.Run(sigCtx)
}
