// Package tmux drives agent terminals through the tmux CLI. It only needs
// enough of tmux to interrupt an agent's in-flight terminal command.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/steveyegge/medic/internal/fleet"
	"github.com/steveyegge/medic/internal/util"
)

// Common errors
var (
	ErrNoServer        = errors.New("no tmux server running")
	ErrSessionNotFound = errors.New("session not found")
)

// runFunc executes one tmux invocation and returns trimmed stdout and stderr.
type runFunc func(ctx context.Context, args ...string) (stdout string, err error)

// Tmux wraps tmux operations for agent sessions named <prefix><agent>.
type Tmux struct {
	prefix string
	run    runFunc

	// mu serializes keystroke injection; tmux targets one pane at a time.
	mu sync.Mutex
}

// NewTmux creates a tmux wrapper for sessions with the given name prefix.
func NewTmux(prefix string) *Tmux {
	t := &Tmux{prefix: prefix}
	t.run = func(ctx context.Context, args ...string) (string, error) {
		out, err := util.ExecContext(ctx, "", nil, "tmux", args...)
		if err != nil {
			return "", t.wrapError(err, err.Error(), args)
		}
		return out, nil
	}
	return t
}

// SessionName returns the tmux session for agent.
func (t *Tmux) SessionName(agent fleet.AgentID) string {
	return t.prefix + strings.ReplaceAll(string(agent), "/", "_")
}

// wrapError maps tmux stderr to the package sentinel errors.
func (t *Tmux) wrapError(err error, stderr string, args []string) error {
	if strings.Contains(stderr, "no server running") ||
		strings.Contains(stderr, "error connecting to") {
		return ErrNoServer
	}
	if strings.Contains(stderr, "session not found") ||
		strings.Contains(stderr, "can't find session") {
		return ErrSessionNotFound
	}
	if err == nil {
		return fmt.Errorf("tmux %s: %s", strings.Join(args, " "), stderr)
	}
	return fmt.Errorf("tmux %s: %w", strings.Join(args, " "), err)
}

// HasSession reports whether the session exists.
func (t *Tmux) HasSession(ctx context.Context, session string) (bool, error) {
	_, err := t.run(ctx, "has-session", "-t", "="+session)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SendKeysRaw sends tmux key names (e.g. "C-c") without literal translation.
func (t *Tmux) SendKeysRaw(ctx context.Context, session, keys string) error {
	_, err := t.run(ctx, "send-keys", "-t", session, keys)
	return err
}

// Cancel interrupts the agent's foreground command with Ctrl-C.
func (t *Tmux) Cancel(ctx context.Context, agent fleet.AgentID) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session := t.SessionName(agent)
	has, err := t.HasSession(ctx, session)
	if err != nil {
		return false, err
	}
	if !has {
		return false, fmt.Errorf("%s: %w", session, ErrSessionNotFound)
	}
	if err := t.SendKeysRaw(ctx, session, "C-c"); err != nil {
		return false, err
	}
	return true, nil
}
