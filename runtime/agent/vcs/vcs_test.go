package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	ctx := context.Background()
	r := New(dir)

	run := func(args ...string) {
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}

	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("original\n"), 0o644))
	run("add", "file.txt")
	run("commit", "-m", "initial")

	return r
}

func TestDiffEmptyWhenNoChanges(t *testing.T) {
	r := newTestRepo(t)
	diff, err := r.Diff(context.Background())
	require.NoError(t, err)
	require.Empty(t, diff)
}

func TestDiffShowsWorkingTreeChanges(t *testing.T) {
	r := newTestRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(r.Dir, "file.txt"), []byte("changed\n"), 0o644))

	diff, err := r.Diff(context.Background())
	require.NoError(t, err)
	require.Contains(t, diff, "-original")
	require.Contains(t, diff, "+changed")
}

func TestResetHardDiscardsChangesAndUntrackedFiles(t *testing.T) {
	r := newTestRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(r.Dir, "file.txt"), []byte("changed\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(r.Dir, "new.txt"), []byte("new\n"), 0o644))

	require.NoError(t, r.ResetHard(context.Background()))

	content, err := os.ReadFile(filepath.Join(r.Dir, "file.txt"))
	require.NoError(t, err)
	require.Equal(t, "original\n", string(content))

	_, err = os.Stat(filepath.Join(r.Dir, "new.txt"))
	require.True(t, os.IsNotExist(err))
}
