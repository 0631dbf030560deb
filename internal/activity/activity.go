// Package activity answers "which agents are stale and for how long".
//
// Several providers can answer the question with different fidelity. They are
// tried in order through a Chain; a provider that cannot answer returns
// ErrUnavailable (possibly wrapped) and the next one is consulted. The last
// provider in a production chain is StatusFileOracle, which only needs the
// status file modification times and is always available.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/steveyegge/medic/internal/fleet"
)

// ErrUnavailable is returned by a provider that cannot currently answer.
var ErrUnavailable = errors.New("activity provider unavailable")

// Missing is the stall reported for an agent with no activity signal at all.
// It compares greater than every real threshold.
const Missing = time.Duration(math.MaxInt64)

// Staleness is one stale agent as seen at ObservedAt.
type Staleness struct {
	Agent      fleet.AgentID
	Stall      time.Duration
	ObservedAt time.Time
}

// IsMissing reports whether the agent had no activity signal.
func (s Staleness) IsMissing() bool { return s.Stall == Missing }

// StallSeconds returns the stall in seconds, +Inf when missing.
func (s Staleness) StallSeconds() float64 {
	if s.IsMissing() {
		return math.Inf(1)
	}
	return s.Stall.Seconds()
}

// StallMinutes returns the stall in minutes, +Inf when missing.
func (s Staleness) StallMinutes() float64 {
	if s.IsMissing() {
		return math.Inf(1)
	}
	return s.Stall.Minutes()
}

// Describe renders the stall for logs and action reasons.
func (s Staleness) Describe() string {
	if s.IsMissing() {
		return "no activity signal"
	}
	return fmt.Sprintf("stalled %s", s.Stall.Round(time.Second))
}

// Oracle reports agents whose inactivity is at least maxAge.
type Oracle interface {
	Name() string
	StaleAgents(ctx context.Context, maxAge time.Duration) ([]Staleness, error)
}

// StatusAges exposes per-agent status file ages. ok is false when the
// status file is missing.
type StatusAges interface {
	Age(agent fleet.AgentID) (age time.Duration, ok bool)
}

// Chain tries providers in order and returns the first answer.
type Chain struct {
	providers []Oracle
	logger    *slog.Logger
}

// NewChain builds a provider chain. A nil logger discards.
func NewChain(logger *slog.Logger, providers ...Oracle) *Chain {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Chain{providers: providers, logger: logger}
}

// Name lists the chained providers.
func (c *Chain) Name() string {
	name := "chain("
	for i, p := range c.providers {
		if i > 0 {
			name += ","
		}
		name += p.Name()
	}
	return name + ")"
}

// StaleAgents returns the answer of the first provider that succeeds.
// Provider failures are logged and never fatal unless every provider fails.
func (c *Chain) StaleAgents(ctx context.Context, maxAge time.Duration) ([]Staleness, error) {
	var lastErr error = ErrUnavailable
	for _, p := range c.providers {
		stale, err := p.StaleAgents(ctx, maxAge)
		if err == nil {
			return stale, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("activity provider failed, falling back", "provider", p.Name(), "error", err)
		lastErr = err
	}
	return nil, fmt.Errorf("all activity providers failed: %w", lastErr)
}

// StatusFileOracle derives staleness from status file ages. A missing status
// file counts as infinitely stale.
type StatusFileOracle struct {
	fleet *fleet.Fleet
	ages  StatusAges
	now   func() time.Time
}

// NewStatusFileOracle creates the fallback provider.
func NewStatusFileOracle(f *fleet.Fleet, ages StatusAges) *StatusFileOracle {
	return &StatusFileOracle{fleet: f, ages: ages, now: time.Now}
}

// Name implements Oracle.
func (o *StatusFileOracle) Name() string { return "status-file" }

// StaleAgents implements Oracle.
func (o *StatusFileOracle) StaleAgents(ctx context.Context, maxAge time.Duration) ([]Staleness, error) {
	now := o.now()
	var stale []Staleness
	for _, agent := range o.fleet.Agents() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		age, ok := o.ages.Age(agent)
		if !ok {
			age = Missing
		}
		if age >= maxAge {
			stale = append(stale, Staleness{Agent: agent, Stall: age, ObservedAt: now})
		}
	}
	return stale, nil
}
