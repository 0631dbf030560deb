// Package history keeps a bounded, in-memory log of recovery actions and
// derives statistics from it.
package history

import (
	"sync"

	"github.com/steveyegge/medic/internal/fleet"
	"github.com/steveyegge/medic/internal/healing"
)

// History is a FIFO log of healing actions capped at a fixed capacity.
// It is safe for concurrent use.
type History struct {
	mu      sync.RWMutex
	limit   int
	actions []healing.Action
}

// Tally counts successes and failures for one action type.
type Tally struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// Stats is derived from the retained actions only.
type Stats struct {
	Total           int                              `json:"total"`
	AttemptsByAgent map[fleet.AgentID]int            `json:"attempts_by_agent"`
	ByType          map[healing.ActionType]Tally     `json:"by_type"`
	LatestByAgent   map[fleet.AgentID]healing.Action `json:"latest_by_agent"`
}

// New creates a history holding at most limit actions. limit < 1 is treated as 1.
func New(limit int) *History {
	if limit < 1 {
		limit = 1
	}
	return &History{
		limit:   limit,
		actions: make([]healing.Action, 0, limit),
	}
}

// Append adds an action at the tail, evicting the oldest entries once the
// capacity is exceeded.
func (h *History) Append(a healing.Action) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.actions = append(h.actions, a)
	if over := len(h.actions) - h.limit; over > 0 {
		// Shift in place so the backing array doesn't grow without bound.
		n := copy(h.actions, h.actions[over:])
		clear(h.actions[n:])
		h.actions = h.actions[:n]
	}
}

// Len returns the number of retained actions.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.actions)
}

// Limit returns the capacity.
func (h *History) Limit() int { return h.limit }

// All returns a copy of the retained actions, oldest first.
func (h *History) All() []healing.Action {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]healing.Action, len(h.actions))
	copy(out, h.actions)
	return out
}

// Recent returns up to n of the newest actions, oldest first.
func (h *History) Recent(n int) []healing.Action {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	if n > len(h.actions) {
		n = len(h.actions)
	}
	out := make([]healing.Action, n)
	copy(out, h.actions[len(h.actions)-n:])
	return out
}

// ForAgent returns the retained actions for one agent, oldest first.
func (h *History) ForAgent(agent fleet.AgentID) []healing.Action {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []healing.Action
	for _, a := range h.actions {
		if a.Agent == agent {
			out = append(out, a)
		}
	}
	return out
}

// Stats computes per-agent attempt counts, per-type tallies and the most
// recent action for each agent. It has no side effects.
func (h *History) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Stats{
		Total:           len(h.actions),
		AttemptsByAgent: make(map[fleet.AgentID]int),
		ByType:          make(map[healing.ActionType]Tally),
		LatestByAgent:   make(map[fleet.AgentID]healing.Action),
	}
	for _, a := range h.actions {
		s.AttemptsByAgent[a.Agent]++

		t := s.ByType[a.Type]
		if a.Success {
			t.Success++
		} else {
			t.Failure++
		}
		s.ByType[a.Type] = t

		// actions are appended in time order, so the last one wins
		s.LatestByAgent[a.Agent] = a
	}
	return s
}
