// Package config loads medic.toml and exposes the immutable healing
// configuration used by the orchestrator.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/steveyegge/medic/internal/constants"
	"github.com/steveyegge/medic/internal/fleet"
)

// Config is the full medic configuration.
type Config struct {
	Healing       HealingConfig       `toml:"healing"`
	Fleet         FleetConfig         `toml:"fleet"`
	Collaborators CollaboratorsConfig `toml:"collaborators"`
	Logging       LoggingConfig       `toml:"logging"`

	// Root is the workspace root the config was loaded for. Not read from TOML.
	Root string `toml:"-"`
}

// HealingConfig controls the monitor cadence and the recovery stages.
type HealingConfig struct {
	CheckIntervalSeconds  float64 `toml:"check_interval_seconds"`
	StallThresholdSeconds float64 `toml:"stall_threshold_seconds"`
	RecoveryAttemptsMax   int     `toml:"recovery_attempts_max"`
	TerminalCancelEnabled bool    `toml:"terminal_cancel_enabled"`
	HardOnboardEnabled    bool    `toml:"hard_onboard_enabled"`
	HealingHistoryLimit   int     `toml:"healing_history_limit"`

	// Stage thresholds; must satisfy soft < rescue < hard.
	SoftInterruptSeconds float64 `toml:"soft_interrupt_seconds"`
	RescueSeconds        float64 `toml:"rescue_seconds"`
	HardOnboardSeconds   float64 `toml:"hard_onboard_seconds"`

	// CancelSettleSeconds is the wait between a terminal cancel and the re-check.
	CancelSettleSeconds float64 `toml:"cancel_settle_seconds"`

	// RecoveryWindowSeconds is how recently the status file must have been
	// touched for the re-check to count the agent as recovered.
	RecoveryWindowSeconds float64 `toml:"recovery_window_seconds"`

	// ActivityReportMaxAgeSeconds bounds how old the external activity
	// report may be before the detector is treated as unavailable.
	ActivityReportMaxAgeSeconds float64 `toml:"activity_report_max_age_seconds"`
}

// FleetConfig enumerates the monitored agents.
type FleetConfig struct {
	// Agents lists agent IDs explicitly. Takes precedence over FleetSize.
	Agents []string `toml:"agents"`

	// FleetSize generates AgentPrefix1..AgentPrefixN when Agents is empty.
	FleetSize   int    `toml:"fleet_size"`
	AgentPrefix string `toml:"agent_prefix"`

	// AgentsDir holds per-agent state; relative paths are resolved against the root.
	AgentsDir string `toml:"agents_dir"`
}

// CollaboratorsConfig configures the bundled recovery collaborators.
type CollaboratorsConfig struct {
	// TmuxSessionPrefix + agent ID names the tmux session that receives Ctrl-C.
	TmuxSessionPrefix string `toml:"tmux_session_prefix"`

	// OnboardCommand is run through "sh -c" for a hard onboard. Empty disables
	// the onboarding collaborator (stage 3 then always fails).
	OnboardCommand        string `toml:"onboard_command"`
	OnboardTimeoutSeconds int    `toml:"onboard_timeout_seconds"`

	// StuckTaskAgeSeconds is how long a task may stay in_progress before it
	// counts as stuck.
	StuckTaskAgeSeconds int `toml:"stuck_task_age_seconds"`
}

// LoggingConfig controls the daemon log.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Healing: HealingConfig{
			CheckIntervalSeconds:        30,
			StallThresholdSeconds:       120,
			RecoveryAttemptsMax:         3,
			TerminalCancelEnabled:       true,
			HardOnboardEnabled:          true,
			HealingHistoryLimit:         100,
			SoftInterruptSeconds:        300,
			RescueSeconds:               480,
			HardOnboardSeconds:          600,
			CancelSettleSeconds:         30,
			RecoveryWindowSeconds:       15,
			ActivityReportMaxAgeSeconds: 300,
		},
		Fleet: FleetConfig{
			FleetSize:   8,
			AgentPrefix: "worker-",
			AgentsDir:   constants.DirAgents,
		},
		Collaborators: CollaboratorsConfig{
			TmuxSessionPrefix:     "medic-",
			OnboardTimeoutSeconds: 300,
			StuckTaskAgeSeconds:   600,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the config for root. If path is empty, <root>/medic.toml is used.
// A missing file yields defaults; unknown keys are an error.
func Load(root, path string) (*Config, error) {
	cfg := Default()
	cfg.Root = root

	if path == "" {
		path = constants.ConfigPath(root)
	}

	md, err := toml.DecodeFile(path, cfg)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	default:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			sort.Strings(keys)
			return nil, fmt.Errorf("parsing %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks invariants the orchestrator relies on.
func (c *Config) Validate() error {
	h := c.Healing
	var errs []error
	if h.CheckIntervalSeconds <= 0 {
		errs = append(errs, errors.New("healing.check_interval_seconds must be > 0"))
	}
	if h.StallThresholdSeconds < 0 {
		errs = append(errs, errors.New("healing.stall_threshold_seconds must be >= 0"))
	}
	if h.RecoveryAttemptsMax < 1 {
		errs = append(errs, errors.New("healing.recovery_attempts_max must be >= 1"))
	}
	if h.HealingHistoryLimit < 1 {
		errs = append(errs, errors.New("healing.healing_history_limit must be >= 1"))
	}
	if !(h.SoftInterruptSeconds < h.RescueSeconds && h.RescueSeconds < h.HardOnboardSeconds) {
		errs = append(errs, fmt.Errorf("stage thresholds must increase: soft=%v rescue=%v hard=%v",
			h.SoftInterruptSeconds, h.RescueSeconds, h.HardOnboardSeconds))
	}
	if h.CancelSettleSeconds < 0 || h.RecoveryWindowSeconds < 0 {
		errs = append(errs, errors.New("healing settle and recovery window must be >= 0"))
	}
	if len(c.Fleet.Agents) == 0 && c.Fleet.FleetSize < 1 {
		errs = append(errs, errors.New("fleet: set agents or fleet_size >= 1"))
	}
	if c.Logging.Level != "" {
		switch strings.ToLower(c.Logging.Level) {
		case "debug", "info", "warn", "warning", "error":
		default:
			errs = append(errs, fmt.Errorf("logging.level %q not recognized", c.Logging.Level))
		}
	}
	return errors.Join(errs...)
}

// AgentIDs returns the configured fleet members.
func (c *Config) AgentIDs() []fleet.AgentID {
	if len(c.Fleet.Agents) > 0 {
		ids := make([]fleet.AgentID, 0, len(c.Fleet.Agents))
		for _, a := range c.Fleet.Agents {
			ids = append(ids, fleet.AgentID(strings.TrimSpace(a)))
		}
		return ids
	}
	ids := make([]fleet.AgentID, 0, c.Fleet.FleetSize)
	for i := 1; i <= c.Fleet.FleetSize; i++ {
		ids = append(ids, fleet.AgentID(fmt.Sprintf("%s%d", c.Fleet.AgentPrefix, i)))
	}
	return ids
}

// AgentsDir returns the absolute per-agent state directory.
func (c *Config) AgentsDir() string {
	dir := c.Fleet.AgentsDir
	if dir == "" {
		dir = constants.DirAgents
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.Root, dir)
}

// BuildFleet constructs the fleet described by the config.
func (c *Config) BuildFleet() *fleet.Fleet {
	return fleet.New(c.AgentsDir(), c.AgentIDs())
}

// seconds converts fractional seconds to a Duration.
func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// CheckInterval is the monitor tick cadence.
func (h HealingConfig) CheckInterval() time.Duration { return seconds(h.CheckIntervalSeconds) }

// StallThreshold is the minimum inactivity for an agent to be considered stale.
func (h HealingConfig) StallThreshold() time.Duration { return seconds(h.StallThresholdSeconds) }

// SoftInterruptAfter is stage 1's threshold (T1).
func (h HealingConfig) SoftInterruptAfter() time.Duration { return seconds(h.SoftInterruptSeconds) }

// RescueAfter is stage 2's threshold (T2).
func (h HealingConfig) RescueAfter() time.Duration { return seconds(h.RescueSeconds) }

// HardOnboardAfter is stage 3's threshold (T3).
func (h HealingConfig) HardOnboardAfter() time.Duration { return seconds(h.HardOnboardSeconds) }

// CancelSettle is the post-cancel wait before re-checking activity.
func (h HealingConfig) CancelSettle() time.Duration { return seconds(h.CancelSettleSeconds) }

// RecoveryWindow is the recency window used by the post-cancel re-check.
func (h HealingConfig) RecoveryWindow() time.Duration { return seconds(h.RecoveryWindowSeconds) }

// ActivityReportMaxAge bounds the freshness of the external activity report.
func (h HealingConfig) ActivityReportMaxAge() time.Duration {
	return seconds(h.ActivityReportMaxAgeSeconds)
}

// OnboardTimeout bounds a single onboarding run.
func (c CollaboratorsConfig) OnboardTimeout() time.Duration {
	return time.Duration(c.OnboardTimeoutSeconds) * time.Second
}

// StuckTaskAge is the in_progress age after which a task is stuck.
func (c CollaboratorsConfig) StuckTaskAge() time.Duration {
	return time.Duration(c.StuckTaskAgeSeconds) * time.Second
}
