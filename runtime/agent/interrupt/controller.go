// Package interrupt implements the human-in-the-loop pause/resume contract
// the Graph Runner's human_check node (§4.9) uses: after a non-final goal
// check a run can be paused awaiting human review, and resumed with either
// an approval or a rejection.
package interrupt

import (
	"context"
	"errors"
	"sync"
)

// Decision is the human's answer to a pause request.
type Decision struct {
	Approved bool
	Notes    string
}

// PauseRequest describes why a run is waiting for human input.
type PauseRequest struct {
	RunID     string
	Iteration int
	Reason    string
}

// ErrAlreadyPaused is returned by Pause when the run already has a pending
// pause request awaiting a decision.
var ErrAlreadyPaused = errors.New("interrupt: run is already paused")

// ErrNotPaused is returned by Resume when the run has no pending pause.
var ErrNotPaused = errors.New("interrupt: run is not paused")

// pending tracks one run's outstanding pause request and the channel its
// Resume decision will arrive on.
type pending struct {
	request PauseRequest
	decide  chan Decision
}

// Controller coordinates pause/resume signaling between the Graph Runner
// (which calls Pause and blocks in it) and an external reviewer (which
// calls Resume once a decision is made).
//
// Grounded on the teacher's deleted engine.SignalChannel-backed
// interrupt.Controller: the same Signal-name/PollPause/WaitResume contract,
// rebuilt on plain buffered channels since this runtime has no durable
// workflow engine to host signal channels.
type Controller struct {
	mu      sync.Mutex
	waiting map[string]*pending
}

// NewController returns a Controller with no pending pauses.
func NewController() *Controller {
	return &Controller{waiting: make(map[string]*pending)}
}

// Pause registers req as a pending human-check request and blocks the
// caller (the Graph Runner loop) until Resume delivers a Decision for
// req.RunID, which it returns, or until ctx is done, in which case it
// removes the pending request and returns ctx.Err(). It returns
// ErrAlreadyPaused if req.RunID already has a pending request.
func (c *Controller) Pause(ctx context.Context, req PauseRequest) (Decision, error) {
	c.mu.Lock()
	if _, exists := c.waiting[req.RunID]; exists {
		c.mu.Unlock()
		return Decision{}, ErrAlreadyPaused
	}
	p := &pending{request: req, decide: make(chan Decision, 1)}
	c.waiting[req.RunID] = p
	c.mu.Unlock()

	select {
	case d := <-p.decide:
		return d, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.waiting, req.RunID)
		c.mu.Unlock()
		return Decision{}, ctx.Err()
	}
}

// Resume delivers d to the goroutine blocked in Pause for runID. Returns
// ErrNotPaused if no pause is pending for runID.
func (c *Controller) Resume(runID string, d Decision) error {
	c.mu.Lock()
	p, ok := c.waiting[runID]
	if ok {
		delete(c.waiting, runID)
	}
	c.mu.Unlock()
	if !ok {
		return ErrNotPaused
	}
	p.decide <- d
	return nil
}

// Pending reports the PauseRequest for runID, if any, and whether one
// exists. Intended for status/observability endpoints, not for driving
// control flow (use Pause/Resume for that).
func (c *Controller) Pending(runID string) (PauseRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.waiting[runID]
	if !ok {
		return PauseRequest{}, false
	}
	return p.request, true
}
