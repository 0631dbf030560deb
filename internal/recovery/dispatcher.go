// Package recovery implements the staged recovery policy and the dispatcher
// that wraps each external collaborator call.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/steveyegge/medic/internal/fleet"
)

// ErrCollaboratorUnavailable is reported when a collaborator is not wired.
var ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

// TerminalCanceller interrupts an agent's in-flight terminal operation.
// It drives a single shared input device and must not be called for two
// agents at once.
type TerminalCanceller interface {
	Cancel(ctx context.Context, agent fleet.AgentID) (bool, error)
}

// TaskQueue clears tasks an agent has held too long.
type TaskQueue interface {
	ClearStuckTasks(ctx context.Context, agent fleet.AgentID) (bool, error)
}

// StatusStore resets and inspects an agent's status flags.
type StatusStore interface {
	ResetStatus(ctx context.Context, agent fleet.AgentID) (bool, error)
	IsRecentlyActive(agent fleet.AgentID, within time.Duration) (bool, error)
}

// RescueMessenger delivers a rescue notification to an agent.
type RescueMessenger interface {
	SendRescue(ctx context.Context, agent fleet.AgentID, stallMinutes float64) (bool, error)
}

// Onboarder re-initializes an agent from scratch.
type Onboarder interface {
	HardOnboard(ctx context.Context, agent fleet.AgentID) (bool, error)
}

// Collaborators groups the external services a Dispatcher calls.
// Canceller may be nil; every other field is required for the matching
// action to succeed.
type Collaborators struct {
	Canceller TerminalCanceller
	Tasks     TaskQueue
	Status    StatusStore
	Rescue    RescueMessenger
	Onboard   Onboarder
}

// Dispatcher normalizes collaborator calls to (ok, err). Errors and panics
// never propagate; err only explains a false result. Nothing is retried.
type Dispatcher struct {
	collab         Collaborators
	recoveryWindow time.Duration
	logger         *slog.Logger
}

// NewDispatcher creates a dispatcher. recoveryWindow bounds how recently an
// agent's status must have been touched for CheckRecovered to succeed.
func NewDispatcher(c Collaborators, recoveryWindow time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{collab: c, recoveryWindow: recoveryWindow, logger: logger}
}

// CancelTerminal interrupts the agent's terminal. A nil canceller fails.
func (d *Dispatcher) CancelTerminal(ctx context.Context, agent fleet.AgentID) (bool, error) {
	if d.collab.Canceller == nil {
		return false, fmt.Errorf("terminal cancel: %w", ErrCollaboratorUnavailable)
	}
	return d.call(agent, "cancel_terminal", func() (bool, error) {
		return d.collab.Canceller.Cancel(ctx, agent)
	})
}

// ClearStuckTasks releases the agent's stuck tasks.
func (d *Dispatcher) ClearStuckTasks(ctx context.Context, agent fleet.AgentID) (bool, error) {
	if d.collab.Tasks == nil {
		return false, fmt.Errorf("task queue: %w", ErrCollaboratorUnavailable)
	}
	return d.call(agent, "clear_stuck_tasks", func() (bool, error) {
		return d.collab.Tasks.ClearStuckTasks(ctx, agent)
	})
}

// ResetStatus clears the agent's busy and blocked flags.
func (d *Dispatcher) ResetStatus(ctx context.Context, agent fleet.AgentID) (bool, error) {
	if d.collab.Status == nil {
		return false, fmt.Errorf("status store: %w", ErrCollaboratorUnavailable)
	}
	return d.call(agent, "reset_status", func() (bool, error) {
		return d.collab.Status.ResetStatus(ctx, agent)
	})
}

// CheckRecovered reports whether the agent's status was touched within the
// recovery window.
func (d *Dispatcher) CheckRecovered(agent fleet.AgentID) (bool, error) {
	if d.collab.Status == nil {
		return false, fmt.Errorf("status store: %w", ErrCollaboratorUnavailable)
	}
	return d.call(agent, "check_recovered", func() (bool, error) {
		return d.collab.Status.IsRecentlyActive(agent, d.recoveryWindow)
	})
}

// SendRescue notifies the agent that it has been stalled for stallMinutes.
func (d *Dispatcher) SendRescue(ctx context.Context, agent fleet.AgentID, stallMinutes float64) (bool, error) {
	if d.collab.Rescue == nil {
		return false, fmt.Errorf("rescue messenger: %w", ErrCollaboratorUnavailable)
	}
	return d.call(agent, "send_rescue", func() (bool, error) {
		return d.collab.Rescue.SendRescue(ctx, agent, stallMinutes)
	})
}

// HardOnboard re-initializes the agent.
func (d *Dispatcher) HardOnboard(ctx context.Context, agent fleet.AgentID) (bool, error) {
	if d.collab.Onboard == nil {
		return false, fmt.Errorf("onboarder: %w", ErrCollaboratorUnavailable)
	}
	return d.call(agent, "hard_onboard", func() (bool, error) {
		return d.collab.Onboard.HardOnboard(ctx, agent)
	})
}

func (d *Dispatcher) call(agent fleet.AgentID, op string, fn func() (bool, error)) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("%s panicked: %v", op, r)
			d.logger.Error("collaborator panic", "agent", agent, "op", op, "panic", r)
		}
	}()

	ok, err = fn()
	if err != nil {
		d.logger.Warn("recovery action failed", "agent", agent, "op", op, "error", err)
		return false, err
	}
	return ok, nil
}
