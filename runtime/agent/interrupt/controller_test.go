package interrupt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPauseResumeDeliversDecision(t *testing.T) {
	c := NewController()
	result := make(chan Decision, 1)
	go func() {
		d, err := c.Pause(context.Background(), PauseRequest{RunID: "run-1", Iteration: 3, Reason: "risky delete"})
		require.NoError(t, err)
		result <- d
	}()

	require.Eventually(t, func() bool {
		_, ok := c.Pending("run-1")
		return ok
	}, time.Second, time.Millisecond)

	require.NoError(t, c.Resume("run-1", Decision{Approved: true, Notes: "looks fine"}))

	select {
	case d := <-result:
		require.True(t, d.Approved)
		require.Equal(t, "looks fine", d.Notes)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decision")
	}
}

func TestResumeWithoutPauseReturnsErrNotPaused(t *testing.T) {
	c := NewController()
	require.ErrorIs(t, c.Resume("missing", Decision{Approved: true}), ErrNotPaused)
}

func TestDoublePauseReturnsErrAlreadyPaused(t *testing.T) {
	c := NewController()
	go func() { _, _ = c.Pause(context.Background(), PauseRequest{RunID: "run-1"}) }()
	require.Eventually(t, func() bool {
		_, ok := c.Pending("run-1")
		return ok
	}, time.Second, time.Millisecond)

	_, err := c.Pause(context.Background(), PauseRequest{RunID: "run-1"})
	require.ErrorIs(t, err, ErrAlreadyPaused)
	require.NoError(t, c.Resume("run-1", Decision{Approved: false}))
}

func TestPauseCanceledByContext(t *testing.T) {
	c := NewController()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Pause(ctx, PauseRequest{RunID: "run-1"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	_, ok := c.Pending("run-1")
	require.False(t, ok)
}
