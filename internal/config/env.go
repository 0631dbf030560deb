package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/steveyegge/medic/internal/fleet"
)

// Environment variables read by medic.
const (
	// EnvRoot overrides the workspace root when --root is not given.
	EnvRoot = "MEDIC_ROOT"

	// EnvCheckInterval overrides healing.check_interval_seconds.
	EnvCheckInterval = "MEDIC_CHECK_INTERVAL"

	// EnvLogLevel overrides logging.level.
	EnvLogLevel = "MEDIC_LOG_LEVEL"
)

// Environment variables exported to the onboarding command.
const (
	EnvAgent        = "MEDIC_AGENT"
	EnvAgentDir     = "MEDIC_AGENT_DIR"
	EnvOnboardCause = "MEDIC_ONBOARD_REASON"
)

// OnboardEnvConfig specifies the environment handed to the onboarding command.
type OnboardEnvConfig struct {
	// Agent is the agent being onboarded.
	Agent fleet.AgentID

	// Root is the medic workspace root. Sets MEDIC_ROOT.
	Root string

	// AgentDir is the agent's state directory.
	AgentDir string

	// Reason is a short human-readable cause, e.g. "stalled 11m".
	Reason string
}

// OnboardEnv returns the environment variables for one onboarding run.
func OnboardEnv(cfg OnboardEnvConfig) map[string]string {
	env := map[string]string{
		EnvAgent: string(cfg.Agent),
	}
	if cfg.Root != "" {
		env[EnvRoot] = cfg.Root
	}
	if cfg.AgentDir != "" {
		env[EnvAgentDir] = cfg.AgentDir
	}
	if cfg.Reason != "" {
		env[EnvOnboardCause] = cfg.Reason
	}
	return env
}

// EnvToSlice converts an env map to a sorted slice of "K=V" strings.
func EnvToSlice(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]string, 0, len(env))
	for _, k := range keys {
		result = append(result, k+"="+env[k])
	}
	return result
}

// applyEnv overlays environment overrides onto cfg.
func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvCheckInterval)); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCheckInterval, err)
		}
		cfg.Healing.CheckIntervalSeconds = secs
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}
