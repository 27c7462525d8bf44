// Command retrai is the CLI entry point for the retrAI agent runtime
// (spec §6): run/solve/swarm/pipeline/bench/watch/review subcommands over
// the Graph Runner and its composed orchestrators.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"goa.design/clue/log"

	"retrai.dev/retrai/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	var err error
	switch os.Args[1] {
	case "run", "solve":
		err = runSolve(ctx, os.Args[2:])
	case "swarm":
		err = runSwarm(ctx, os.Args[2:])
	case "pipeline":
		err = runPipeline(ctx, os.Args[2:])
	case "bench":
		err = runBench(ctx, os.Args[2:])
	case "watch":
		err = runWatch(ctx, os.Args[2:])
	case "review":
		err = runReview(ctx, os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "retrai: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error(ctx, err, log.KV{K: "component", V: "cmd/retrai"})
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `retrai <command> [flags]

Commands:
  run, solve   Run a single goal to completion (§4.9)
  swarm        Decompose a task across parallel workers (§4.10)
  pipeline     Run a named sequence of goals (§4.11)
  bench        Benchmark a task across models (§4.13)
  watch        Watch the working tree and react to changes (§4.12)
  review       Review the working tree's diff (§4.14)`)
}

// loadConfig reads <cwd>/.retrai.yml and overlays any explicit flag value
// for model (flags take precedence over the project config file).
func loadConfig(cwd, modelFlag string) (config.Config, error) {
	cfg, err := config.Load(cwd)
	if err != nil {
		return config.Config{}, err
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	return cfg, nil
}

func cwdOrDefault(flagVal string) (string, error) {
	if flagVal != "" {
		return flagVal, nil
	}
	return os.Getwd()
}

func newFlagSet(name string) (*flag.FlagSet, *string, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cwd := fs.String("cwd", "", "working directory (default: current directory)")
	model := fs.String("model", "", "model identifier (overrides .retrai.yml)")
	return fs, cwd, model
}
