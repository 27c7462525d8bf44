package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"retrai.dev/retrai/runtime/agent/safety"
	"retrai.dev/retrai/runtime/agent/state"
)

func writeConfig(t *testing.T, dir, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(contents), 0o644))
}

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, Config{}, cfg)
}

func TestLoadParsesRecognizedKeys(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
goal: solve
model: claude-sonnet-4-5
max_iterations: 25
hitl_enabled: true
provider: anthropic
safety:
  max_file_size_mb: 5
  require_approval_above: critical
  blocked_commands:
    - "curl evil.com"
  allowed_domains:
    - "api.github.com"
target_metric: accuracy
target_value: 0.95
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "solve", cfg.Goal)
	require.Equal(t, "claude-sonnet-4-5", cfg.Model)
	require.Equal(t, 25, cfg.MaxIterations)
	require.True(t, cfg.HITLEnabled)
	require.Equal(t, "anthropic", cfg.Provider)
	require.Equal(t, 5, cfg.Safety.MaxFileSizeMB)
	require.Equal(t, "critical", cfg.Safety.RequireApprovalAbove)
	require.Equal(t, []string{"curl evil.com"}, cfg.Safety.BlockedCommands)
	require.Equal(t, "accuracy", cfg.Extra["target_metric"])
	require.InDelta(t, 0.95, cfg.Extra["target_value"], 0.0001)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "goal: [unterminated")

	_, err := Load(dir)
	require.Error(t, err)
}

func TestSafetyGuardConfigMapsRecognizedFields(t *testing.T) {
	cfg := Config{
		Safety: SafetyConfig{
			MaxFileSizeMB:        2,
			RequireApprovalAbove: "medium",
			BlockedCommands:      []string{"rm -rf /tmp/x"},
			AllowedDomains:       []string{"example.com"},
		},
	}

	guardCfg := cfg.SafetyGuardConfig()
	require.Equal(t, int64(2*1024*1024), guardCfg.MaxFileWriteBytes)
	require.Equal(t, safety.RiskMedium, guardCfg.RequireApprovalAbove)
	require.Equal(t, []string{"rm -rf /tmp/x"}, guardCfg.ExtraBlockedCommands)
	require.Equal(t, []string{"example.com"}, guardCfg.ExtraAllowedDomains)
}

func TestStopModeDefaultsToHard(t *testing.T) {
	cfg := Config{}
	require.Equal(t, state.StopModeHard, cfg.StopMode())
}

func TestStopModeRecognizesSoft(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "goal: solve\nstop_mode: soft\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, state.StopModeSoft, cfg.StopMode())
}
