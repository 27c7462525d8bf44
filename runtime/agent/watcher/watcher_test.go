package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, pollInterval, debounce time.Duration) (*Watcher, *int32) {
	t.Helper()
	dir := t.TempDir()

	var runs int32
	w := &Watcher{
		CWD:          dir,
		PollInterval: pollInterval,
		Debounce:     debounce,
		onRun: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	}
	return w, &runs
}

func TestWatcherTriggersAfterDebounceOnFileChange(t *testing.T) {
	w, runs := newTestWatcher(t, 10*time.Millisecond, 40*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Let the watcher take its initial snapshot.
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(w.CWD, "a.txt"), []byte("hello"), 0o644))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(runs) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestWatcherSkipsTriggerWithoutChanges(t *testing.T) {
	w, runs := newTestWatcher(t, 10*time.Millisecond, 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(150 * time.Millisecond)
	cancel()
	<-done

	require.EqualValues(t, 0, atomic.LoadInt32(runs))
}

func TestWatcherIgnoresDefaultIgnoredDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref: refs/heads/main"), 0o644))

	snap, err := snapshot(dir)
	require.NoError(t, err)
	require.Empty(t, snap)
}

func TestDiffDetectsAddedModifiedDeleted(t *testing.T) {
	prev := Snapshot{
		"a.txt": {modTime: time.Unix(1, 0), size: 1},
		"b.txt": {modTime: time.Unix(1, 0), size: 1},
	}
	cur := Snapshot{
		"a.txt": {modTime: time.Unix(2, 0), size: 2},
		"c.txt": {modTime: time.Unix(1, 0), size: 1},
	}

	d := diff(prev, cur)
	require.Equal(t, []string{"c.txt"}, d.Added)
	require.Equal(t, []string{"a.txt"}, d.Modified)
	require.Equal(t, []string{"b.txt"}, d.Deleted)
}

func TestLockPreventsTriggerWhenNotAcquired(t *testing.T) {
	w, runs := newTestWatcher(t, 10*time.Millisecond, 20*time.Millisecond)
	w.Lock = alwaysDeniedLock{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(w.CWD, "a.txt"), []byte("hello"), 0o644))

	time.Sleep(150 * time.Millisecond)
	cancel()

	require.EqualValues(t, 0, atomic.LoadInt32(runs))
}

type alwaysDeniedLock struct{}

func (alwaysDeniedLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	return false, nil
}

func (alwaysDeniedLock) Release(ctx context.Context) error { return nil }
