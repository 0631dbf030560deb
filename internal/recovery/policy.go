package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/steveyegge/medic/internal/activity"
	"github.com/steveyegge/medic/internal/config"
	"github.com/steveyegge/medic/internal/fleet"
	"github.com/steveyegge/medic/internal/healing"
	"github.com/steveyegge/medic/internal/telemetry"
)

// Recorder receives every attempted action.
type Recorder interface {
	Append(a healing.Action)
}

// CancelLedger counts terminal cancellations per agent per day.
type CancelLedger interface {
	RecordCancellation(agent fleet.AgentID) (int, error)
}

// Escalator writes a manual-intervention marker once attempts reach max.
type Escalator interface {
	MaybeEscalate(agent fleet.AgentID, attemptCount, max int) (bool, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-time Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy runs the staged recovery cycle for one stale agent at a time and
// owns the per-agent attempt counters.
type Policy struct {
	cfg        config.HealingConfig
	dispatcher *Dispatcher
	recorder   Recorder
	ledger     CancelLedger
	escalator  Escalator
	logger     *slog.Logger
	now        func() time.Time
	sleep      Sleeper

	mu       sync.Mutex
	attempts map[fleet.AgentID]int
}

// PolicyOption customizes a Policy.
type PolicyOption func(*Policy)

// WithClock overrides the clock used for action timestamps.
func WithClock(now func() time.Time) PolicyOption {
	return func(p *Policy) { p.now = now }
}

// WithSleeper overrides how the settle period is waited out.
func WithSleeper(s Sleeper) PolicyOption {
	return func(p *Policy) { p.sleep = s }
}

// WithLogger sets the policy logger.
func WithLogger(l *slog.Logger) PolicyOption {
	return func(p *Policy) { p.logger = l }
}

// NewPolicy builds a policy. ledger and escalator may be nil.
func NewPolicy(cfg config.HealingConfig, d *Dispatcher, rec Recorder, ledger CancelLedger, esc Escalator, opts ...PolicyOption) *Policy {
	p := &Policy{
		cfg:        cfg,
		dispatcher: d,
		recorder:   rec,
		ledger:     ledger,
		escalator:  esc,
		logger:     slog.Default(),
		now:        time.Now,
		sleep:      Sleep,
		attempts:   make(map[fleet.AgentID]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Heal runs one recovery cycle for s and reports whether any stage
// succeeded. Stages are evaluated from scratch on every call:
//
//   - stage 1 (stall >= soft interrupt, cancel enabled): cancel the terminal;
//     on success wait the settle period and return early if the agent is
//     active again.
//   - stage 2 (stall >= rescue, stage 1 did not succeed): rescue message,
//     stuck-task clear and status reset, each attempted independently.
//   - stage 3 (stall >= hard onboard, onboard enabled): hard onboard; success
//     resets the attempt counter and returns.
//
// A cycle without success increments the attempt counter and escalates once
// it reaches recovery_attempts_max. A cycle interrupted by ctx skips that
// bookkeeping.
func (p *Policy) Heal(ctx context.Context, s activity.Staleness) bool {
	agent := s.Agent
	log := p.logger.With("agent", agent)
	success := false

	if p.cfg.TerminalCancelEnabled && s.Stall >= p.cfg.SoftInterruptAfter() {
		ok, err := p.dispatcher.CancelTerminal(ctx, agent)
		p.record(ctx, agent, healing.CancelTerminal, "soft interrupt: "+s.Describe(), ok, err)
		if ok {
			success = true
			p.recordCancellation(ctx, agent)
			if err := p.sleep(ctx, p.cfg.CancelSettle()); err != nil {
				log.Info("recovery interrupted during settle", "error", err)
				return success
			}
			if recovered, _ := p.dispatcher.CheckRecovered(agent); recovered {
				log.Info("agent recovered after terminal cancel")
				return true
			}
			log.Info("agent still stalled after terminal cancel")
		}
	}

	if ctx.Err() != nil {
		return success
	}

	if !success && s.Stall >= p.cfg.RescueAfter() {
		reason := "rescue: " + s.Describe()

		ok, err := p.dispatcher.SendRescue(ctx, agent, s.StallMinutes())
		p.record(ctx, agent, healing.SendRescue, reason, ok, err)
		success = success || ok

		ok, err = p.dispatcher.ClearStuckTasks(ctx, agent)
		p.record(ctx, agent, healing.ClearStuckTasks, reason, ok, err)
		success = success || ok

		ok, err = p.dispatcher.ResetStatus(ctx, agent)
		p.record(ctx, agent, healing.ResetStatus, reason, ok, err)
		success = success || ok
	}

	if ctx.Err() != nil {
		return success
	}

	if p.cfg.HardOnboardEnabled && s.Stall >= p.cfg.HardOnboardAfter() {
		ok, err := p.dispatcher.HardOnboard(ctx, agent)
		p.record(ctx, agent, healing.HardOnboard, "hard onboard: "+s.Describe(), ok, err)
		if ok {
			p.resetAttempts(agent)
			log.Info("agent hard onboarded")
			return true
		}
	}

	if !success {
		count := p.bumpAttempts(agent)
		log.Warn("recovery cycle failed", "attempts", count, "max", p.cfg.RecoveryAttemptsMax)
		p.maybeEscalate(ctx, agent, count)
	}
	return success
}

// Attempts returns the agent's current attempt counter.
func (p *Policy) Attempts(agent fleet.AgentID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts[agent]
}

// AttemptCounts returns a copy of every non-zero attempt counter.
func (p *Policy) AttemptCounts() map[fleet.AgentID]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[fleet.AgentID]int, len(p.attempts))
	for id, n := range p.attempts {
		if n > 0 {
			out[id] = n
		}
	}
	return out
}

func (p *Policy) bumpAttempts(agent fleet.AgentID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[agent]++
	return p.attempts[agent]
}

func (p *Policy) resetAttempts(agent fleet.AgentID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[agent] = 0
}

func (p *Policy) record(ctx context.Context, agent fleet.AgentID, typ healing.ActionType, reason string, ok bool, err error) {
	a := healing.NewAction(agent, typ, p.now(), reason, ok, err)
	if p.recorder != nil {
		p.recorder.Append(a)
	}
	telemetry.RecordHealingAction(ctx, a)
}

func (p *Policy) recordCancellation(ctx context.Context, agent fleet.AgentID) {
	if p.ledger == nil {
		return
	}
	count, err := p.ledger.RecordCancellation(agent)
	if err != nil {
		p.logger.Error("persisting cancellation ledger", "agent", agent, "error", err)
	}
	telemetry.RecordCancellation(ctx, agent.String(), count, err)
}

func (p *Policy) maybeEscalate(ctx context.Context, agent fleet.AgentID, count int) {
	if p.escalator == nil || count < p.cfg.RecoveryAttemptsMax {
		return
	}
	_, err := p.escalator.MaybeEscalate(agent, count, p.cfg.RecoveryAttemptsMax)
	if err != nil {
		p.logger.Error("writing escalation record", "agent", agent, "error", err)
	} else {
		p.logger.Warn("agent escalated for manual intervention", "agent", agent, "attempts", count)
	}
	telemetry.RecordEscalation(ctx, agent.String(), count, err)
}

// String describes the stage thresholds.
func (p *Policy) String() string {
	return fmt.Sprintf("policy(soft=%s rescue=%s onboard=%s max=%d)",
		p.cfg.SoftInterruptAfter(), p.cfg.RescueAfter(), p.cfg.HardOnboardAfter(), p.cfg.RecoveryAttemptsMax)
}
