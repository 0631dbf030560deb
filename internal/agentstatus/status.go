// Package agentstatus reads and writes each agent's status.json. The file's
// modification time doubles as the fallback activity signal: agents touch it
// whenever they make progress. Writes made on an agent's behalf by medic keep
// the previous modification time so they never read as activity.
package agentstatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/steveyegge/medic/internal/fleet"
	"github.com/steveyegge/medic/internal/util"
)

// Agent states.
const (
	StateIdle    = "idle"
	StateWorking = "working"
	StateBlocked = "blocked"
)

// neverActive is the modification time given to a status file that medic
// created for an agent that never wrote one. Age reports such a file as
// missing.
var neverActive = time.Unix(0, 0).UTC()

// Status is the on-disk status document.
type Status struct {
	State       string     `json:"state"`
	Busy        bool       `json:"busy"`
	Blocked     bool       `json:"blocked"`
	CurrentTask string     `json:"current_task,omitempty"`
	Note        string     `json:"note,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ResetAt     *time.Time `json:"reset_at,omitempty"` // last reset by medic
}

// Store is the status store for a fleet.
type Store struct {
	fleet *fleet.Fleet
	now   func() time.Time
}

// NewStore creates a status store.
func NewStore(f *fleet.Fleet) *Store {
	return &Store{fleet: f, now: time.Now}
}

// Read returns the agent's status, or nil if it has none.
func (s *Store) Read(agent fleet.AgentID) (*Status, error) {
	data, err := os.ReadFile(s.fleet.StatusPath(agent))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading status: %w", err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing status %s: %w", s.fleet.StatusPath(agent), err)
	}
	return &st, nil
}

// Write replaces the agent's status. A zero UpdatedAt is stamped with now.
func (s *Store) Write(agent fleet.AgentID, st Status) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.now().UTC()
	}
	return util.AtomicWriteJSON(s.fleet.StatusPath(agent), st)
}

// Touch records activity for the agent without changing its flags.
func (s *Store) Touch(agent fleet.AgentID, note string) error {
	st, err := s.Read(agent)
	if err != nil || st == nil {
		st = &Status{State: StateWorking}
	}
	if note != "" {
		st.Note = note
	}
	st.UpdatedAt = time.Time{}
	return s.Write(agent, *st)
}

// ResetStatus clears the agent's busy and blocked flags and marks it idle.
// An unreadable status file is replaced. The file keeps its previous
// modification time and UpdatedAt, so the reset does not shorten the stall.
func (s *Store) ResetStatus(ctx context.Context, agent fleet.AgentID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path := s.fleet.StatusPath(agent)
	modTime := neverActive
	if info, err := os.Stat(path); err == nil {
		modTime = info.ModTime()
	}

	st, _ := s.Read(agent)
	if st == nil {
		st = &Status{}
	}
	st.State = StateIdle
	st.Busy = false
	st.Blocked = false
	st.CurrentTask = ""
	st.Note = "reset by medic"
	resetAt := s.now().UTC()
	st.ResetAt = &resetAt
	if err := util.AtomicWriteJSONModTime(path, st, modTime); err != nil {
		return false, err
	}
	return true, nil
}

// Age returns how long ago the status file was modified. ok is false when
// the file does not exist, cannot be inspected, or was only ever written by
// medic.
func (s *Store) Age(agent fleet.AgentID) (time.Duration, bool) {
	info, err := os.Stat(s.fleet.StatusPath(agent))
	if err != nil || !info.ModTime().After(neverActive) {
		return 0, false
	}
	age := s.now().Sub(info.ModTime())
	if age < 0 {
		age = 0
	}
	return age, true
}

// IsRecentlyActive reports whether the status file was modified within the
// window. A missing file is not an error.
func (s *Store) IsRecentlyActive(agent fleet.AgentID, within time.Duration) (bool, error) {
	info, err := os.Stat(s.fleet.StatusPath(agent))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat status: %w", err)
	}
	return s.now().Sub(info.ModTime()) <= within, nil
}
