// Package inmem provides an in-memory runhistory.Store for tests and local
// development, grounded on
// goadesign-goa-ai/runtime/agent/run/inmem/inmem.go's map+RWMutex pattern
// with defensive copy-on-read/write.
package inmem

import (
	"context"
	"sort"
	"sync"

	"retrai.dev/retrai/runtime/agent/runhistory"
)

// Store implements runhistory.Store with no durability across restarts.
type Store struct {
	mu      sync.RWMutex
	records map[string]runhistory.Record
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]runhistory.Record)}
}

// Append implements runhistory.Store.
func (s *Store) Append(_ context.Context, r runhistory.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.FilesChanged = append([]string(nil), r.FilesChanged...)
	s.records[r.RunID] = r
	return nil
}

// Load implements runhistory.Store.
func (s *Store) Load(_ context.Context, runID string) (runhistory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[runID]
	if !ok {
		return runhistory.Record{}, runhistory.ErrNotFound
	}
	r.FilesChanged = append([]string(nil), r.FilesChanged...)
	return r, nil
}

// List implements runhistory.Store, most recently finished first.
func (s *Store) List(_ context.Context) ([]runhistory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]runhistory.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	return out, nil
}
