// Package contextbuild implements the Context Builder (spec §2 inventory,
// wired into the Planner's pre-flight step per §4.5): a depth-2 directory
// tree of the project plus the first lines of any recognized manifest
// file, assembled once per run and prepended to the system prompt.
//
// Grounded on the teacher's project-summary assembly in
// goadesign-goa-ai/runtime/agent/planner/planner.go (building a
// first-turn system prompt from project metadata), generalized off its
// Goa-service-specific fields onto a plain filesystem walk.
package contextbuild

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ManifestLineLimit caps how many lines of a recognized manifest file are
// included in the auto-context (§4.5: "first 150 lines").
const ManifestLineLimit = 150

// TreeDepth is the directory-tree depth the auto-context includes (§4.5:
// "depth-2 dir tree").
const TreeDepth = 2

// ignoreDirs are never descended into or listed.
var ignoreDirs = map[string]bool{
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

// manifestNames are recognized project manifest files, excerpted into the
// auto-context when present at the project root.
var manifestNames = []string{
	"go.mod",
	"package.json",
	"Cargo.toml",
	"pyproject.toml",
	"requirements.txt",
}

// Builder assembles project auto-context.
type Builder struct{}

// New constructs a Builder.
func New() *Builder { return &Builder{} }

// Build returns the auto-context text for cwd: a depth-2 directory tree
// excluding ignoreDirs, followed by the first ManifestLineLimit lines of
// every recognized manifest file found at the project root.
func (b *Builder) Build(cwd string) string {
	var sb strings.Builder
	sb.WriteString("Project layout:\n")
	sb.WriteString(renderTree(cwd))

	for _, name := range manifestNames {
		path := filepath.Join(cwd, name)
		excerpt, ok := readExcerpt(path)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "\n--- %s (first %d lines) ---\n%s\n", name, ManifestLineLimit, excerpt)
	}
	return sb.String()
}

// renderTree walks cwd to TreeDepth and renders an indented listing.
func renderTree(cwd string) string {
	var sb strings.Builder
	walk(cwd, "", 0, &sb)
	return sb.String()
}

func walk(dir, prefix string, depth int, sb *strings.Builder) {
	if depth > TreeDepth {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	names := make([]string, 0, len(entries))
	byName := make(map[string]os.DirEntry, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") && e.Name() != "." && !e.IsDir() {
			// Hidden regular files are skipped; hidden dirs go through the
			// ignoreDirs filter below (so ".github" is listed, while ".git"
			// and ".retrai" are filtered there).
			continue
		}
		if e.IsDir() && ignoreDirs[e.Name()] {
			continue
		}
		names = append(names, e.Name())
		byName[e.Name()] = e
	}
	sort.Strings(names)
	for _, name := range names {
		e := byName[name]
		marker := ""
		if e.IsDir() {
			marker = "/"
		}
		fmt.Fprintf(sb, "%s%s%s\n", prefix, name, marker)
		if e.IsDir() {
			walk(filepath.Join(dir, name), prefix+"  ", depth+1, sb)
		}
	}
}

// readExcerpt returns the first ManifestLineLimit lines of path, or
// (_, false) if it does not exist.
func readExcerpt(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > ManifestLineLimit {
		lines = lines[:ManifestLineLimit]
	}
	return strings.Join(lines, "\n"), true
}
