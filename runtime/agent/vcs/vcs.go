// Package vcs wraps the git subprocess calls the Benchmark Runner (§4.13)
// and Review Engine (§4.14) need: a clean-working-tree reset and a unified
// diff. Grounded on the subprocess-invocation idiom used throughout the
// tool adapters (exec.CommandContext, captured stdout/stderr, context
// cancellation) rather than a full git library, since only these two
// narrow operations are required.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Repo binds git operations to a working directory.
type Repo struct {
	Dir string
}

// New returns a Repo rooted at dir.
func New(dir string) *Repo {
	return &Repo{Dir: dir}
}

// ResetHard discards all staged, unstaged, and untracked changes, restoring
// the working tree to HEAD. Used by the Benchmark Runner before and after
// every model×round run so each attempt starts from (and leaves behind) a
// clean tree.
func (r *Repo) ResetHard(ctx context.Context) error {
	if err := r.run(ctx, "reset", "--hard", "HEAD"); err != nil {
		return fmt.Errorf("vcs: reset --hard: %w", err)
	}
	if err := r.run(ctx, "clean", "-fd"); err != nil {
		return fmt.Errorf("vcs: clean -fd: %w", err)
	}
	return nil
}

// Diff returns the unified diff of staged changes if any are staged,
// otherwise the working-tree diff against HEAD (§4.14 step 1).
func (r *Repo) Diff(ctx context.Context) (string, error) {
	staged, err := r.output(ctx, "diff", "--cached")
	if err != nil {
		return "", fmt.Errorf("vcs: diff --cached: %w", err)
	}
	if strings.TrimSpace(staged) != "" {
		return staged, nil
	}
	working, err := r.output(ctx, "diff")
	if err != nil {
		return "", fmt.Errorf("vcs: diff: %w", err)
	}
	return working, nil
}

func (r *Repo) run(ctx context.Context, args ...string) error {
	_, err := r.output(ctx, args...)
	return err
}

func (r *Repo) output(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
