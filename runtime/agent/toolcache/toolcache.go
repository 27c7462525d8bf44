// Package toolcache defines the cross-run tool-result cache contract the
// Tool Dispatcher (§4.4) consults in addition to a run's own in-memory
// AgentState.ToolCache map. A Cache lets identical read-only tool calls
// made by different runs (or different processes in a multi-instance
// deployment) share results instead of each paying the call cost once.
package toolcache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when key is not present (or has expired).
var ErrMiss = errors.New("toolcache: cache miss")

// Cache is the shared tool-result cache contract. Implementations must be
// safe for concurrent use: the Dispatcher calls Get/Set from every worker
// goroutine in a dispatched batch.
type Cache interface {
	// Get returns the cached content for key, or ErrMiss if absent.
	Get(ctx context.Context, key string) (string, error)
	// Set stores content under key with the given time-to-live.
	Set(ctx context.Context, key, content string, ttl time.Duration) error
}

// DefaultTTL is used when a caller does not specify one.
const DefaultTTL = 10 * time.Minute
