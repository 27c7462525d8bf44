package main

import (
	"context"
	"encoding/json"
	"fmt"

	"goa.design/clue/log"

	"retrai.dev/retrai/runtime/agent/review"
	"retrai.dev/retrai/runtime/agent/vcs"
)

// runReview implements the `review` command: score the working tree's diff
// against a strict JSON rubric (§4.14). Like watch, review has no
// achieved/not-achieved outcome under spec §6's exit code contract; it
// exits non-zero only when the diff itself could not be obtained or scored,
// never based on the score value, since a low score is a finding to report
// rather than a command failure.
func runReview(ctx context.Context, args []string) error {
	fs, cwdF, modelF := newFlagSet("review")
	jsonF := fs.Bool("json", false, "print the full report as JSON instead of a human summary")
	_ = fs.Parse(args)

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
	repo := vcs.New(cwd)
	engine := review.New(repo, client, cfg.Model)

	report, err := engine.Review(ctx)
	if err != nil {
		return err
	}

	if *jsonF {
		enc, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(enc))
		return nil
	}

	log.Print(ctx, log.KV{K: "score", V: report.Score}, log.KV{K: "findings", V: len(report.Findings)})
	fmt.Println(report.Summary)
	for _, f := range report.Findings {
		fmt.Printf("[%s/%s] %s:%d %s\n", f.Category, f.Severity, f.File, f.Line, f.Message)
		if f.Suggestion != "" {
			fmt.Printf("  suggestion: %s\n", f.Suggestion)
		}
	}
	return nil
}
