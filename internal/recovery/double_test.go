package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/steveyegge/medic/internal/fleet"
	"github.com/steveyegge/medic/internal/healing"
)

// result is one scripted collaborator outcome.
type result struct {
	ok    bool
	err   error
	panic any
}

func (r result) get() (bool, error) {
	if r.panic != nil {
		panic(r.panic)
	}
	return r.ok, r.err
}

// double is a scripted spy implementing every collaborator interface.
type double struct {
	mu sync.Mutex

	cancel, clear, reset, rescue, onboard result
	recovered                            result

	calls        []string
	rescueMinute float64
	// onCancel runs inside Cancel, before returning.
	onCancel func()
}

func allSucceed() *double {
	ok := result{ok: true}
	return &double{cancel: ok, clear: ok, reset: ok, rescue: ok, onboard: ok, recovered: ok}
}

func allFail() *double {
	return &double{}
}

func (d *double) log(op string, agent fleet.AgentID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, op+":"+string(agent))
}

func (d *double) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *double) Cancel(_ context.Context, agent fleet.AgentID) (bool, error) {
	d.log("cancel", agent)
	if d.onCancel != nil {
		d.onCancel()
	}
	return d.cancel.get()
}

func (d *double) ClearStuckTasks(_ context.Context, agent fleet.AgentID) (bool, error) {
	d.log("clear", agent)
	return d.clear.get()
}

func (d *double) ResetStatus(_ context.Context, agent fleet.AgentID) (bool, error) {
	d.log("reset", agent)
	return d.reset.get()
}

func (d *double) IsRecentlyActive(agent fleet.AgentID, _ time.Duration) (bool, error) {
	d.log("recheck", agent)
	return d.recovered.get()
}

func (d *double) SendRescue(_ context.Context, agent fleet.AgentID, stallMinutes float64) (bool, error) {
	d.log("rescue", agent)
	d.mu.Lock()
	d.rescueMinute = stallMinutes
	d.mu.Unlock()
	return d.rescue.get()
}

func (d *double) HardOnboard(_ context.Context, agent fleet.AgentID) (bool, error) {
	d.log("onboard", agent)
	return d.onboard.get()
}

func (d *double) collaborators() Collaborators {
	return Collaborators{Canceller: d, Tasks: d, Status: d, Rescue: d, Onboard: d}
}

// actionLog is an in-memory Recorder.
type actionLog struct {
	mu      sync.Mutex
	actions []healing.Action
}

func (l *actionLog) Append(a healing.Action) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.actions = append(l.actions, a)
}

func (l *actionLog) Actions() []healing.Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]healing.Action(nil), l.actions...)
}

func (l *actionLog) Types() []healing.ActionType {
	var out []healing.ActionType
	for _, a := range l.Actions() {
		out = append(out, a.Type)
	}
	return out
}

type countingLedger struct {
	mu     sync.Mutex
	counts map[fleet.AgentID]int
	err    error
}

func (c *countingLedger) RecordCancellation(agent fleet.AgentID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[fleet.AgentID]int)
	}
	c.counts[agent]++
	return c.counts[agent], c.err
}

type escalationSpy struct {
	calls []int
}

func (e *escalationSpy) MaybeEscalate(_ fleet.AgentID, attemptCount, max int) (bool, error) {
	e.calls = append(e.calls, attemptCount)
	return attemptCount >= max, nil
}

// virtualSleeper advances a fake clock instead of blocking.
type virtualSleeper struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newVirtualSleeper() *virtualSleeper {
	return &virtualSleeper{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (v *virtualSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = v.now.Add(d)
	v.slept = append(v.slept, d)
	return nil
}

func (v *virtualSleeper) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}
