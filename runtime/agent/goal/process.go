package goal

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"retrai.dev/retrai/runtime/agent/state"
)

// processGoal is the shared shape behind the test-runner and
// command-success families (§4.8 a, b): run a subprocess in cwd, achieved
// iff it exits 0.
type processGoal struct {
	family  string
	command string
	args    []string
	prompt  string
}

func newTestRunnerGoal(params map[string]any) (Goal, error) {
	command := stringParam(params, "command", "")
	if command == "" {
		command = autoDetectTestCommand(params)
	}
	return &processGoal{
		family:  "test_runner",
		command: command,
		prompt:  fmt.Sprintf("Your goal is achieved when `%s` exits successfully (all tests pass).", command),
	}, nil
}

func newCommandSuccessGoal(params map[string]any) (Goal, error) {
	command := stringParam(params, "command", "")
	if command == "" {
		return nil, fmt.Errorf("goal: command_success requires a non-empty \"command\" param")
	}
	return &processGoal{
		family:  "command_success",
		command: command,
		prompt:  fmt.Sprintf("Your goal is achieved when `%s` exits with status 0.", command),
	}, nil
}

// autoDetectTestCommand picks a conventional test invocation from the
// "language" param (go, python, node/javascript/typescript, rust),
// defaulting to "go test ./...". It does not inspect project manifest files.
func autoDetectTestCommand(params map[string]any) string {
	if lang, ok := params["language"].(string); ok {
		switch lang {
		case "go":
			return "go test ./..."
		case "python":
			return "pytest"
		case "node", "javascript", "typescript":
			return "npm test"
		case "rust":
			return "cargo test"
		}
	}
	return "go test ./..."
}

func (g *processGoal) Name() string { return g.family }

func (g *processGoal) SystemPrompt(cwd string) string { return g.prompt }

func (g *processGoal) Check(ctx context.Context, s *state.AgentState, cwd string) (Result, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", g.command)
	cmd.Dir = cwd
	out, err := cmd.CombinedOutput()
	tail := lastLines(string(out), 20)
	if err != nil {
		return Result{
			Achieved: false,
			Reason:   fmt.Sprintf("%q failed: %v", g.command, err),
			Details:  map[string]any{"output": tail},
		}, nil
	}
	return Result{
		Achieved: true,
		Reason:   fmt.Sprintf("%q exited successfully", g.command),
		Details:  map[string]any{"output": tail},
	}, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
