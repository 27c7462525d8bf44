// Package watcher implements the Watcher (spec §4.12): a polling loop
// that snapshots a project's files, diffs against the previous snapshot,
// debounces bursts of changes, and triggers the Graph Runner once things
// settle.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"retrai.dev/retrai/runtime/agent/goal"
	"retrai.dev/retrai/runtime/agent/graph"
	"retrai.dev/retrai/runtime/agent/hooks"
	"retrai.dev/retrai/runtime/agent/planner"
	"retrai.dev/retrai/runtime/agent/state"
)

// defaultIgnore names directories excluded from every snapshot (§4.12:
// "VCS metadata, virtual environments, build outputs, caches, .retrai").
var defaultIgnore = map[string]bool{
	".git":         true,
	".retrai":      true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"venv":         true,
	".venv":        true,
	"dist":         true,
	"build":        true,
	"target":       true,
	".idea":        true,
	".vscode":      true,
}

// Snapshot maps a relative file path to its modification time and size, the
// minimal fingerprint needed to detect added/modified/deleted files without
// reading file contents.
type Snapshot map[string]fileStat

type fileStat struct {
	modTime time.Time
	size    int64
}

// Diff is the set of paths that changed between two snapshots.
type Diff struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Empty reports whether the diff carries no changes.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// Lock is the optional distributed-coordination contract a multi-instance
// deployment supplies (backed by features/toolcache/redis.Lock) so only
// one watcher instance debounces and triggers a run for a given project
// at a time.
type Lock interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// RunnerFactory builds a fresh graph.Runner bound to its own event bus for
// one triggered run.
type RunnerFactory func(bus hooks.Bus) *graph.Runner

// Watcher runs the polling/debounce/trigger loop.
type Watcher struct {
	CWD           string
	PollInterval  time.Duration
	Debounce      time.Duration
	Goal          goal.Goal
	NewRunner     RunnerFactory
	ModelName     string
	MaxIterations int
	// Lock, if set, must be acquired before triggering a run; a failed
	// acquisition means another instance owns this project right now, and
	// this poll tick is skipped without losing pending changes (the next
	// snapshot still carries them forward).
	Lock Lock

	// onRun, set only in tests, replaces the graph.Runner trigger with a
	// stub so the polling/debounce logic can be exercised without a real
	// model.Client.
	onRun func(ctx context.Context) error
}

// New constructs a Watcher.
func New(cwd string, pollInterval, debounce time.Duration, g goal.Goal, newRunner RunnerFactory, modelName string, maxIterations int) *Watcher {
	return &Watcher{
		CWD:           cwd,
		PollInterval:  pollInterval,
		Debounce:      debounce,
		Goal:          g,
		NewRunner:     newRunner,
		ModelName:     modelName,
		MaxIterations: maxIterations,
	}
}

// Run executes the polling loop until ctx is canceled (§4.12).
func (w *Watcher) Run(ctx context.Context) error {
	prev, err := snapshot(w.CWD)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	var (
		pendingSince time.Time
		pending      bool
		running      bool
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cur, err := snapshot(w.CWD)
			if err != nil {
				continue
			}
			d := diff(prev, cur)
			if !d.Empty() {
				if !pending {
					pendingSince = time.Now()
					pending = true
				}
				prev = cur
			}

			if pending && !running && time.Since(pendingSince) >= w.Debounce {
				running = true
				w.trigger(ctx)
				running = false
				pending = false
				// Re-snapshot to swallow agent-induced changes (§4.12 step 4).
				if cur, err := snapshot(w.CWD); err == nil {
					prev = cur
				}
			}
		}
	}
}

func (w *Watcher) trigger(ctx context.Context) {
	if w.Lock != nil {
		ok, err := w.Lock.Acquire(ctx, w.Debounce+w.PollInterval)
		if err != nil || !ok {
			return
		}
		defer w.Lock.Release(ctx)
	}

	if w.onRun != nil {
		_ = w.onRun(ctx)
		return
	}

	runID := "watch-" + time.Now().UTC().Format("20060102T150405.000000000")
	bus := hooks.NewBus()
	runner := w.NewRunner(bus)
	maxIterations := w.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}
	s := state.New(runID, "respond to file changes", w.CWD, w.ModelName, maxIterations, state.StopModeHard, false, 0)
	_, _ = runner.Run(ctx, s, graph.Options{Goal: w.Goal, Pattern: planner.PatternDefault})
}

// snapshot walks cwd, recording every file's mtime and size (dotfiles
// included), skipping defaultIgnore directories at any depth.
func snapshot(cwd string) (Snapshot, error) {
	out := make(Snapshot)
	err := filepath.WalkDir(cwd, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(cwd, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if defaultIgnore[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out[rel] = fileStat{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return out, nil
}

// diff computes added/modified/deleted paths between two snapshots.
func diff(prev, cur Snapshot) Diff {
	var d Diff
	for path, stat := range cur {
		if prevStat, ok := prev[path]; !ok {
			d.Added = append(d.Added, path)
		} else if prevStat != stat {
			d.Modified = append(d.Modified, path)
		}
	}
	for path := range prev {
		if _, ok := cur[path]; !ok {
			d.Deleted = append(d.Deleted, path)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Modified)
	sort.Strings(d.Deleted)
	return d
}
