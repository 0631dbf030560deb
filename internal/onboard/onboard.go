// Package onboard runs the operator-configured hard-onboard command for an
// agent: typically a script that kills the agent's session, wipes scratch
// state and starts it again with a fresh context.
package onboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/steveyegge/medic/internal/config"
	"github.com/steveyegge/medic/internal/fleet"
	"github.com/steveyegge/medic/internal/telemetry"
	"github.com/steveyegge/medic/internal/util"
)

// ErrNotConfigured is returned when no onboard command is set.
var ErrNotConfigured = errors.New("onboard command not configured")

// Runner executes the onboard command through sh -c.
type Runner struct {
	command string
	timeout time.Duration
	root    string
	fleet   *fleet.Fleet
	logger  *slog.Logger
}

// NewRunner builds a runner from the collaborators configuration.
func NewRunner(cfg *config.Config, f *fleet.Fleet, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		command: cfg.Collaborators.OnboardCommand,
		timeout: cfg.Collaborators.OnboardTimeout(),
		root:    cfg.Root,
		fleet:   f,
		logger:  logger,
	}
}

// HardOnboard runs the command for agent. Success is a zero exit status
// within the timeout.
func (r *Runner) HardOnboard(ctx context.Context, agent fleet.AgentID) (bool, error) {
	if r.command == "" {
		return false, ErrNotConfigured
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	env := config.EnvToSlice(config.OnboardEnv(config.OnboardEnvConfig{
		Agent:    agent,
		Root:     r.root,
		AgentDir: r.fleet.Dir(agent),
		Reason:   "stalled past hard onboard threshold",
	}))
	env = append(env, telemetry.EnvForSubprocess(agent.String(), "onboard")...)

	start := time.Now()
	out, err := util.ExecContext(ctx, r.root, env, "sh", "-c", r.command)
	if err != nil {
		return false, fmt.Errorf("onboarding %s: %w", agent, err)
	}
	r.logger.Info("onboard command finished", "agent", agent, "duration", time.Since(start).Round(time.Millisecond), "output", out)
	return true, nil
}
