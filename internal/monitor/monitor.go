// Package monitor runs the periodic stall check. One goroutine owns the loop;
// stale agents found in a tick are healed strictly one after another.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/steveyegge/medic/internal/activity"
	"github.com/steveyegge/medic/internal/recovery"
	"github.com/steveyegge/medic/internal/telemetry"
)

// Healer runs one recovery cycle for a stale agent.
type Healer interface {
	Heal(ctx context.Context, s activity.Staleness) bool
}

// TickResult summarizes one tick.
type TickResult struct {
	Started  time.Time
	Duration time.Duration
	Stale    []activity.Staleness
	Healed   int
	Err      error
}

// Options configures a Monitor. Zero values take defaults.
type Options struct {
	Interval  time.Duration
	Threshold time.Duration
	Logger    *slog.Logger
	Sleeper   recovery.Sleeper
	Clock     func() time.Time
	// OnTick is called after every tick from the loop goroutine.
	OnTick func(TickResult)
}

// Monitor periodically asks the oracle for stale agents and heals them.
type Monitor struct {
	oracle    activity.Oracle
	healer    Healer
	interval  time.Duration
	threshold time.Duration
	logger    *slog.Logger
	sleep     recovery.Sleeper
	now       func() time.Time
	onTick    func(TickResult)
	metrics   *monitorMetrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an idle monitor.
func New(oracle activity.Oracle, healer Healer, opts Options) *Monitor {
	m := &Monitor{
		oracle:    oracle,
		healer:    healer,
		interval:  opts.Interval,
		threshold: opts.Threshold,
		logger:    opts.Logger,
		sleep:     opts.Sleeper,
		now:       opts.Clock,
		onTick:    opts.OnTick,
	}
	if m.interval <= 0 {
		m.interval = 30 * time.Second
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.sleep == nil {
		m.sleep = recovery.Sleep
	}
	if m.now == nil {
		m.now = time.Now
	}
	metrics, err := newMonitorMetrics()
	if err != nil {
		m.logger.Warn("monitor metrics unavailable", "error", err)
	}
	m.metrics = metrics
	return m
}

// Start launches the loop under ctx. It is a no-op if already running and
// reports whether a loop was started.
func (m *Monitor) Start(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	m.metrics.setRunning(true)
	go m.loop(loopCtx, m.done)
	m.logger.Info("monitor started", "interval", m.interval, "threshold", m.threshold, "oracle", m.oracle.Name())
	return true
}

// Stop cancels the loop and waits for it to finish. It is a no-op if the
// monitor is not running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Done is closed when the current loop exits. It is nil before Start.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.cancel = nil
		m.mu.Unlock()
		m.metrics.setRunning(false)
		m.logger.Info("monitor stopped")
		close(done)
	}()

	for {
		res := m.RunOnce(ctx)
		if m.onTick != nil {
			m.onTick(res)
		}
		if ctx.Err() != nil {
			return
		}
		if err := m.sleep(ctx, m.interval); err != nil {
			return
		}
	}
}

// RunOnce performs a single tick: find stale agents, then heal each in turn.
// Panics are contained at the tick and agent boundaries.
func (m *Monitor) RunOnce(ctx context.Context) (res TickResult) {
	res.Started = m.now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("tick panicked: %v", r)
			m.logger.Error("tick panic", "panic", r)
		}
		res.Duration = m.now().Sub(res.Started)
		m.metrics.setStalled(len(res.Stale))
		telemetry.RecordTick(ctx, len(res.Stale), float64(res.Duration.Microseconds())/1000, res.Err)
	}()

	stale, err := m.oracle.StaleAgents(ctx, m.threshold)
	if err != nil {
		res.Err = fmt.Errorf("detecting stale agents: %w", err)
		m.logger.Error("stale agent detection failed", "error", err)
		return res
	}

	for _, s := range stale {
		if s.Stall < m.threshold {
			continue
		}
		res.Stale = append(res.Stale, s)
	}
	if len(res.Stale) > 0 {
		m.logger.Info("stale agents found", "count", len(res.Stale))
	}

	for _, s := range res.Stale {
		if ctx.Err() != nil {
			break
		}
		if m.healOne(ctx, s) {
			res.Healed++
		}
	}
	return res
}

func (m *Monitor) healOne(ctx context.Context, s activity.Staleness) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			m.logger.Error("healing panic", "agent", s.Agent, "panic", r)
		}
	}()
	m.logger.Info("healing agent", "agent", s.Agent, "stall", s.Describe())
	return m.healer.Heal(ctx, s)
}
