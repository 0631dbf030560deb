package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/medic/internal/fleet"
)

func writeConfig(t *testing.T, root, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, "medic.toml"), []byte(body), 0644))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	root := t.TempDir()

	cfg, err := Load(root, "")
	require.NoError(t, err)

	h := cfg.Healing
	assert.Equal(t, 30*time.Second, h.CheckInterval())
	assert.Equal(t, 120*time.Second, h.StallThreshold())
	assert.Equal(t, 3, h.RecoveryAttemptsMax)
	assert.True(t, h.TerminalCancelEnabled)
	assert.True(t, h.HardOnboardEnabled)
	assert.Equal(t, 100, h.HealingHistoryLimit)
	assert.Equal(t, 300*time.Second, h.SoftInterruptAfter())
	assert.Equal(t, 480*time.Second, h.RescueAfter())
	assert.Equal(t, 600*time.Second, h.HardOnboardAfter())
	assert.Equal(t, 30*time.Second, h.CancelSettle())
	assert.Equal(t, 15*time.Second, h.RecoveryWindow())
	assert.Len(t, cfg.AgentIDs(), 8)
	assert.Equal(t, filepath.Join(root, "agents"), cfg.AgentsDir())
}

func TestLoad_FileOverridesOnlyGivenKeys(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
[healing]
check_interval_seconds = 10
terminal_cancel_enabled = false

[fleet]
agents = ["alpha", "beta"]
agents_dir = "/srv/agents"
`)

	cfg, err := Load(root, "")
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Healing.CheckInterval())
	assert.False(t, cfg.Healing.TerminalCancelEnabled)
	assert.True(t, cfg.Healing.HardOnboardEnabled)
	assert.Equal(t, 3, cfg.Healing.RecoveryAttemptsMax)
	assert.Equal(t, []fleet.AgentID{"alpha", "beta"}, cfg.AgentIDs())
	assert.Equal(t, "/srv/agents", cfg.AgentsDir())
}

func TestLoad_UnknownKeyIsError(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
[healing]
check_intervall_seconds = 10
`)

	_, err := Load(root, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check_intervall_seconds")
}

func TestLoad_EnvOverride(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvCheckInterval, "5")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load(root, "")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Healing.CheckInterval())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_BadEnvOverride(t *testing.T) {
	t.Setenv(EnvCheckInterval, "soon")
	_, err := Load(t.TempDir(), "")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero interval", func(c *Config) { c.Healing.CheckIntervalSeconds = 0 }, false},
		{"zero attempts", func(c *Config) { c.Healing.RecoveryAttemptsMax = 0 }, false},
		{"zero history", func(c *Config) { c.Healing.HealingHistoryLimit = 0 }, false},
		{"stages out of order", func(c *Config) { c.Healing.RescueSeconds = 700 }, false},
		{"stages equal", func(c *Config) { c.Healing.SoftInterruptSeconds = 480 }, false},
		{"empty fleet", func(c *Config) { c.Fleet.FleetSize = 0 }, false},
		{"explicit agents, no size", func(c *Config) {
			c.Fleet.FleetSize = 0
			c.Fleet.Agents = []string{"a"}
		}, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAgentIDs_Generated(t *testing.T) {
	cfg := Default()
	cfg.Fleet.FleetSize = 3
	cfg.Fleet.AgentPrefix = "w"
	assert.Equal(t, []fleet.AgentID{"w1", "w2", "w3"}, cfg.AgentIDs())
}

func TestOnboardEnv(t *testing.T) {
	env := OnboardEnv(OnboardEnvConfig{
		Agent:    "worker-2",
		Root:     "/fleet",
		AgentDir: "/fleet/agents/worker-2",
		Reason:   "stalled 11m",
	})
	assert.Equal(t, []string{
		"MEDIC_AGENT=worker-2",
		"MEDIC_AGENT_DIR=/fleet/agents/worker-2",
		"MEDIC_ONBOARD_REASON=stalled 11m",
		"MEDIC_ROOT=/fleet",
	}, EnvToSlice(env))
}
