// Package config loads the project configuration file (§6: <cwd>/.retrai.yml)
// and maps its recognized keys onto the run configuration and safety.Config
// types the rest of the module consumes.
//
// Grounded on codeready-toolchain-tarsy/pkg/config/loader.go's
// read-file-then-unmarshal-into-struct shape, using gopkg.in/yaml.v3 (the
// same YAML library already a direct dependency via that example's pack
// entry) rather than introducing viper or a second YAML library.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"retrai.dev/retrai/runtime/agent/safety"
	"retrai.dev/retrai/runtime/agent/state"
)

// FileName is the recognized project config file name.
const FileName = ".retrai.yml"

// SafetyConfig mirrors the safety.* keys of §6's project config file.
type SafetyConfig struct {
	MaxFileSizeMB           int      `yaml:"max_file_size_mb"`
	MaxDownloadSizeMB       int      `yaml:"max_download_size_mb"`
	MaxExecutionTimeSeconds int      `yaml:"max_execution_time_seconds"`
	AllowNetworkAccess      bool     `yaml:"allow_network_access"`
	RequireApprovalAbove    string   `yaml:"require_approval_above"`
	BlockedCommands         []string `yaml:"blocked_commands"`
	AllowedDomains          []string `yaml:"allowed_domains"`
}

// Config is the parsed project config file (§6). Goal-specific keys
// (target_metric, target_value, data_file, bench_name, target_ns, topic,
// output_dir, …) are collected into Extra verbatim since which of them
// apply depends on the configured goal family.
type Config struct {
	Goal          string                 `yaml:"goal"`
	Model         string                 `yaml:"model"`
	MaxIterations int                    `yaml:"max_iterations"`
	HITLEnabled   bool                   `yaml:"hitl_enabled"`
	Provider      string                 `yaml:"provider"`
	Safety        SafetyConfig           `yaml:"safety"`
	Extra         map[string]any         `yaml:",inline"`
}

// Load reads and parses <cwd>/.retrai.yml. A missing file is not an error:
// it returns a zero-valued Config so callers can fall back to CLI flags or
// defaults (§7: a malformed file is a configuration error that fails fast,
// an absent one is not).
func Load(cwd string) (Config, error) {
	path := filepath.Join(cwd, FileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// StopMode returns the configured stop_mode's state.StopMode, defaulting to
// hard per §6.
func (c Config) StopMode() state.StopMode {
	if v, ok := c.Extra["stop_mode"].(string); ok && v == string(state.StopModeSoft) {
		return state.StopModeSoft
	}
	return state.StopModeHard
}

// SafetyGuardConfig maps the parsed safety.* keys onto safety.Config.
// max_download_size_mb, max_execution_time_seconds, and
// allow_network_access have no corresponding safety.Guard field today (the
// Guard only enforces a file-write byte ceiling, a blocked-command list, an
// allowed-domain list, and an approval-risk floor); they are retained on
// SafetyConfig for forward compatibility and surfaced by Config.Safety, but
// dropped here rather than silently misapplied to an unrelated check.
func (c Config) SafetyGuardConfig() safety.Config {
	return safety.Config{
		ExtraBlockedCommands: c.Safety.BlockedCommands,
		ExtraAllowedDomains:  c.Safety.AllowedDomains,
		MaxFileWriteBytes:    int64(c.Safety.MaxFileSizeMB) * 1024 * 1024,
		RequireApprovalAbove: parseRiskLevel(c.Safety.RequireApprovalAbove),
	}
}

func parseRiskLevel(s string) safety.RiskLevel {
	switch s {
	case "medium":
		return safety.RiskMedium
	case "high":
		return safety.RiskHigh
	case "critical":
		return safety.RiskCritical
	default:
		return safety.RiskLow
	}
}
