package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"goa.design/clue/log"

	"retrai.dev/retrai/runtime/agent/goal"
	"retrai.dev/retrai/runtime/agent/pipeline"
	"retrai.dev/retrai/runtime/agent/planner"
	"retrai.dev/retrai/runtime/agent/safety"
	"retrai.dev/retrai/runtime/agent/tools"
)

// stepFlags collects repeated -step name=goal flags into an ordered list.
type stepFlags []string

func (s *stepFlags) String() string { return strings.Join(*s, ",") }

func (s *stepFlags) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// runPipeline implements the `pipeline` command: run a named sequence of
// goals, each through its own Graph Runner invocation (§4.11). Steps are
// given as repeated "-step name=goalfamily" flags; every step shares the
// project config's Extra params, since the project config format (§6) does
// not define a separate per-step parameter schema.
func runPipeline(ctx context.Context, args []string) error {
	fs, cwdF, modelF := newFlagSet("pipeline")
	var steps stepFlags
	fs.Var(&steps, "step", "pipeline step as name=goalfamily (repeatable, order matters)")
	maxIterF := fs.Int("max-iterations", 0, "per-step iteration cap")
	maxCostF := fs.Float64("max-cost-usd", 0, "per-step cost ceiling in USD (0 = unlimited)")
	continueOnErrF := fs.Bool("continue-on-error", false, "run every step even if an earlier one fails (§4.11)")
	hitlF := fs.Bool("hitl", false, "pause for human approval after each non-final evaluation in every step")
	_ = fs.Parse(args)

	if len(steps) == 0 {
		return fmt.Errorf("pipeline: at least one -step name=goalfamily is required")
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

	pipelineSteps := make([]pipeline.Step, 0, len(steps))
	for _, spec := range steps {
		name, goalName, ok := strings.Cut(spec, "=")
		if !ok || name == "" || goalName == "" {
			return fmt.Errorf("pipeline: malformed -step %q, want name=goalfamily", spec)
		}
		g, err := registry.Build(goalName, cfg.Extra)
		if err != nil {
			return fmt.Errorf("pipeline: build step %q goal %q: %w", name, goalName, err)
		}
		pipelineSteps = append(pipelineSteps, pipeline.Step{
			Name:          name,
			Goal:          g,
			MaxIterations: *maxIterF,
			MaxCostUSD:    *maxCostF,
			HITLEnabled:   *hitlF || cfg.HITLEnabled,
		})
	}

	runner := pipeline.New(newRunner)
	runIDPrefix := newRunID("pipeline")
	outcome := runner.Run(ctx, pipelineSteps, pipeline.Options{
		RunIDPrefix:     runIDPrefix,
		CWD:             cwd,
		ModelName:       cfg.Model,
		Pattern:         planner.PatternDefault,
		ContinueOnError: *continueOnErrF,
	})

	log.Print(ctx, log.KV{K: "status", V: string(outcome.Status)}, log.KV{K: "steps", V: len(outcome.Steps)})
	for _, s := range outcome.Steps {
		status := "skipped"
		switch {
		case s.Skipped:
			status = "skipped"
		case s.Err != nil:
			status = "error: " + s.Err.Error()
		default:
			status = string(s.Result.Status)
		}
		fmt.Printf("- %s: %s\n", s.Step.Name, status)
	}

	if outcome.Status != pipeline.StatusAchieved {
		os.Exit(1)
	}
	return nil
}
