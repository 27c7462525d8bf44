package contextbuild

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildIncludesTreeAndManifestExcerpt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/x\n\ngo 1.25\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "internal"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "internal", "x.go"), []byte("package internal\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "junk.js"), []byte("//"), 0o644))

	out := New().Build(dir)
	require.Contains(t, out, "internal/")
	require.Contains(t, out, "x.go")
	require.Contains(t, out, "go.mod")
	require.Contains(t, out, "module example.com/x")
	require.NotContains(t, out, "node_modules")
}

func TestBuildSkipsMissingManifests(t *testing.T) {
	dir := t.TempDir()
	out := New().Build(dir)
	require.NotContains(t, out, "go.mod")
}
