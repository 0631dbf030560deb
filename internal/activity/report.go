package activity

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

// Report is published by the external activity detector, which folds
// filesystem, git and message signals into one last-active time per agent.
type Report struct {
	UpdatedAt time.Time                       `json:"updated_at"`
	Agents    map[fleet.AgentID]AgentActivity `json:"agents"`
}

// AgentActivity is one agent's entry in a Report.
type AgentActivity struct {
	LastActive time.Time `json:"last_active"`
	Source     string    `json:"source,omitempty"`
}

// WriteReport publishes a report atomically.
func WriteReport(path string, r Report) error {
	return util.AtomicWriteJSON(path, r)
}

// FileOracle answers from the detector's report file. It is unavailable when
// the report is absent, unreadable, or older than maxReportAge. Agents the
// report does not mention are not reported as stale.
type FileOracle struct {
	path         string
	fleet        *fleet.Fleet
	maxReportAge time.Duration
	now          func() time.Time
}

// NewFileOracle creates a provider reading the report at path.
func NewFileOracle(path string, f *fleet.Fleet, maxReportAge time.Duration) *FileOracle {
	return &FileOracle{path: path, fleet: f, maxReportAge: maxReportAge, now: time.Now}
}

// Name implements Oracle.
func (o *FileOracle) Name() string { return "activity-report" }

// StaleAgents implements Oracle.
func (o *FileOracle) StaleAgents(ctx context.Context, maxAge time.Duration) ([]Staleness, error) {
	data, err := os.ReadFile(o.path) //nolint:gosec // G304: path is workspace-internal
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no report at %s", ErrUnavailable, o.path)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: parsing report: %v", ErrUnavailable, err)
	}

	now := o.now()
	if o.maxReportAge > 0 && now.Sub(r.UpdatedAt) > o.maxReportAge {
		return nil, fmt.Errorf("%w: report is %s old", ErrUnavailable, now.Sub(r.UpdatedAt).Round(time.Second))
	}

	var stale []Staleness
	for _, agent := range o.fleet.Agents() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, ok := r.Agents[agent]
		if !ok {
			continue
		}
		age := Missing
		if !entry.LastActive.IsZero() {
			age = now.Sub(entry.LastActive)
		}
		if age >= maxAge {
			stale = append(stale, Staleness{Agent: agent, Stall: age, ObservedAt: now})
		}
	}
	return stale, nil
}
