package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/medic/internal/constants"
	"github.com/steveyegge/medic/internal/fleet"
	"github.com/steveyegge/medic/internal/healing"
	"github.com/steveyegge/medic/internal/history"
	"github.com/steveyegge/medic/internal/util"
)

// recentActions is how many history entries are mirrored into state.json.
const recentActions = 25

// State is the daemon's published view of itself, rewritten after every tick
// so CLI commands can report on a running daemon without talking to it.
type State struct {
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`

	LastTick         time.Time `json:"last_tick,omitempty"`
	TickCount        int64     `json:"tick_count"`
	LastTickDuration string    `json:"last_tick_duration,omitempty"`
	LastTickError    string    `json:"last_tick_error,omitempty"`
	LastStale        []string  `json:"last_stale,omitempty"`

	Attempts map[fleet.AgentID]int `json:"attempts,omitempty"`
	Stats    *history.Stats        `json:"stats,omitempty"`
	Recent   []healing.Action      `json:"recent,omitempty"`
}

// StateFile returns the path to the daemon state file.
func StateFile(root string) string {
	return filepath.Join(constants.DaemonDir(root), constants.FileDaemonState)
}

// LoadState loads daemon state from disk. A missing file yields an empty state.
func LoadState(root string) (*State, error) {
	data, err := os.ReadFile(StateFile(root)) //nolint:gosec // G304: path is workspace-internal
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("reading daemon state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing daemon state: %w", err)
	}
	return &st, nil
}

// SaveState atomically writes daemon state to disk.
func SaveState(root string, st *State) error {
	return util.AtomicWriteJSON(StateFile(root), st)
}
