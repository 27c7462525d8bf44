// Package file implements runhistory.Store as append-only JSON files under
// <cwd>/.retrai/history/<run_id>.json, the persistence layout spec.md §6
// specifies for run history.
package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"retrai.dev/retrai/runtime/agent/runhistory"
)

// Store persists one JSON file per run under dir/history.
type Store struct {
	mu  sync.Mutex
	dir string
}

// New returns a Store rooted at <cwd>/.retrai/history, creating the
// directory if necessary.
func New(cwd string) (*Store, error) {
	dir := filepath.Join(cwd, ".retrai", "history")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

// Append implements runhistory.Store.
func (s *Store) Append(_ context.Context, r runhistory.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(r.RunID), b, 0o644)
}

// Load implements runhistory.Store.
func (s *Store) Load(_ context.Context, runID string) (runhistory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return runhistory.Record{}, runhistory.ErrNotFound
		}
		return runhistory.Record{}, err
	}
	var r runhistory.Record
	if err := json.Unmarshal(b, &r); err != nil {
		return runhistory.Record{}, err
	}
	return r, nil
}

// List implements runhistory.Store, most recently finished first.
func (s *Store) List(_ context.Context) ([]runhistory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	out := make([]runhistory.Record, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var r runhistory.Record
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	return out, nil
}
