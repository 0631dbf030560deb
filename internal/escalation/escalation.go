// Package escalation writes manual-intervention markers for agents whose
// automated recovery keeps failing.
package escalation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/medic/internal/fleet"
	"github.com/steveyegge/medic/internal/util"
)

// Record is the marker written for an escalated agent.
type Record struct {
	Agent        fleet.AgentID `json:"agent"`
	Timestamp    time.Time     `json:"timestamp"`
	AttemptCount int           `json:"attempt_count"`
}

// Tracker owns the escalation marker directory. The orchestrator only ever
// writes markers; Clear exists for the operator.
type Tracker struct {
	dir string
	now func() time.Time
}

// NewTracker creates a tracker writing markers under dir.
func NewTracker(dir string) *Tracker {
	return &Tracker{dir: dir, now: time.Now}
}

// Dir returns the marker directory.
func (t *Tracker) Dir() string { return t.dir }

// MaybeEscalate writes (or overwrites) the marker for agent when
// attemptCount >= max. It reports whether a marker was written.
func (t *Tracker) MaybeEscalate(agent fleet.AgentID, attemptCount, max int) (bool, error) {
	if attemptCount < max {
		return false, nil
	}

	rec := Record{
		Agent:        agent,
		Timestamp:    t.now().UTC(),
		AttemptCount: attemptCount,
	}
	if err := util.AtomicWriteJSON(t.path(agent), rec); err != nil {
		return false, fmt.Errorf("writing escalation for %s: %w", agent, err)
	}
	return true, nil
}

// Get returns the marker for agent, or nil if none exists.
func (t *Tracker) Get(agent fleet.AgentID) (*Record, error) {
	return readRecord(t.path(agent))
}

// List returns all markers sorted by agent.
func (t *Tracker) List() ([]Record, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading escalations: %w", err)
	}

	var records []Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := readRecord(filepath.Join(t.dir, e.Name()))
		if err != nil || rec == nil {
			continue
		}
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Agent < records[j].Agent
	})
	return records, nil
}

// Clear removes the marker for agent. Clearing a missing marker is not an error.
func (t *Tracker) Clear(agent fleet.AgentID) error {
	if err := os.Remove(t.path(agent)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clearing escalation for %s: %w", agent, err)
	}
	return nil
}

func (t *Tracker) path(agent fleet.AgentID) string {
	safe := strings.ReplaceAll(string(agent), "/", "_")
	return filepath.Join(t.dir, safe+".json")
}

func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is workspace-internal
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading escalation: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing escalation %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}
