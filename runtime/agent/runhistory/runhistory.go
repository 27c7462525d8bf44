// Package runhistory defines the append-only record of completed runs and
// the Store contract used to persist it.
//
// Grounded on goadesign-goa-ai/runtime/agent/run/run.go's Store interface
// shape, narrowed from that file's full RunID/TurnID/SessionID/Handle model
// (built for a durable workflow engine this repo does not keep, see
// DESIGN.md) down to the flat snapshot spec.md §3 and §6 describe:
// {run_id, goal, model, status, iterations, tokens, cost, started_at,
// finished_at, duration, reason, cwd, files_changed}.
package runhistory

import (
	"context"
	"errors"
	"time"

	"retrai.dev/retrai/runtime/agent/state"
)

// Status is the terminal classification of a completed run (§6).
type Status string

const (
	StatusAchieved Status = "achieved"
	StatusFailed   Status = "failed"
	StatusAborted  Status = "aborted"
)

// Record is one persisted run-history entry.
type Record struct {
	RunID            string
	Goal             string
	Model            string
	Status           Status
	Iterations       int
	MaxIterations    int
	TotalTokens      int
	EstimatedCostUSD float64
	StartedAt        time.Time
	FinishedAt       time.Time
	DurationSeconds  float64
	Reason           string
	CWD              string
	FilesChanged     []string
}

// FromSnapshot builds a Record from a terminated AgentState snapshot.
func FromSnapshot(snap state.Snapshot, status Status) Record {
	return Record{
		RunID:            snap.RunID,
		Goal:             snap.Goal,
		Model:            snap.Model,
		Status:           status,
		Iterations:       snap.Iterations,
		MaxIterations:    snap.MaxIterations,
		TotalTokens:      snap.TotalTokens,
		EstimatedCostUSD: snap.EstimatedCostUSD,
		StartedAt:        snap.StartedAt,
		FinishedAt:       snap.FinishedAt,
		DurationSeconds:  snap.FinishedAt.Sub(snap.StartedAt).Seconds(),
		Reason:           snap.Reason,
		CWD:              snap.CWD,
		FilesChanged:     snap.FilesChanged,
	}
}

// Store persists run history. Append is the only mutator: history is
// append-only per spec.md §3 lifecycle and §6 run history contract.
type Store interface {
	// Append persists r, keyed by r.RunID. Implementations may allow a
	// single overwrite of the same RunID (e.g. to transition a crashed run
	// from "running" bookkeeping to its terminal record) but must never
	// silently merge two distinct runs.
	Append(ctx context.Context, r Record) error
	// Load retrieves the record for runID. Returns ErrNotFound if absent.
	Load(ctx context.Context, runID string) (Record, error)
	// List returns every stored record, most recent first.
	List(ctx context.Context) ([]Record, error)
}

// ErrNotFound indicates the requested run has no history record.
var ErrNotFound = errors.New("runhistory: run not found")
