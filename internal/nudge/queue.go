// Package nudge provides non-destructive message delivery to agents.
//
// Instead of typing into an agent's terminal, a nudge is written to the
// agent's queue directory and picked up by the agent at its next turn
// boundary (for example through "medic inbox <agent>" in a prompt hook).
//
// Queue location: <agents_dir>/<agent>/nudges/
// Each nudge is a JSON file named by timestamp for FIFO ordering.
package nudge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/medic/internal/fleet"
	"github.com/steveyegge/medic/internal/util"
)

// Priority levels for nudge delivery.
const (
	// PriorityNormal is the default, delivered at the next turn boundary.
	PriorityNormal = "normal"
	// PriorityUrgent means the agent should handle this promptly.
	PriorityUrgent = "urgent"
)

// Sender is the sender name used for rescue nudges.
const Sender = "medic"

// QueuedNudge represents a nudge message stored in the queue.
type QueuedNudge struct {
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Priority  string    `json:"priority"`
	Timestamp time.Time `json:"timestamp"`
}

// Queue is the file-backed nudge queue for every agent in a fleet.
type Queue struct {
	fleet *fleet.Fleet
}

// NewQueue creates a queue over the fleet's agent directories.
func NewQueue(f *fleet.Fleet) *Queue {
	return &Queue{fleet: f}
}

// Enqueue writes a nudge to the agent's queue.
func (q *Queue) Enqueue(agent fleet.AgentID, nudge QueuedNudge) error {
	if nudge.Timestamp.IsZero() {
		nudge.Timestamp = time.Now()
	}
	if nudge.Priority == "" {
		nudge.Priority = PriorityNormal
	}

	// Nanosecond timestamp orders the queue; the suffix keeps concurrent
	// writers from colliding.
	filename := fmt.Sprintf("%d-%s.json", nudge.Timestamp.UnixNano(), uuid.NewString()[:8])
	path := filepath.Join(q.fleet.NudgeDir(agent), filename)

	if err := util.AtomicWriteJSON(path, nudge); err != nil {
		return fmt.Errorf("writing nudge to queue: %w", err)
	}
	return nil
}

// queued lists the nudge files in dir, oldest first. A missing dir is an
// empty queue.
func queued(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading nudge queue %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Drain removes and returns every queued nudge for agent in FIFO order.
// Files another drainer claimed first, or that fail to parse, are skipped.
func (q *Queue) Drain(agent fleet.AgentID) ([]QueuedNudge, error) {
	dir := q.fleet.NudgeDir(agent)
	names, err := queued(dir)
	if err != nil {
		return nil, err
	}

	var out []QueuedNudge
	for _, name := range names {
		n, ok := claim(filepath.Join(dir, name))
		if ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// claim takes ownership of one nudge file by renaming it, then consumes it.
func claim(path string) (QueuedNudge, bool) {
	var n QueuedNudge
	held := path + ".claimed"
	if err := os.Rename(path, held); err != nil {
		return n, false
	}
	defer os.Remove(held) //nolint:errcheck

	data, err := os.ReadFile(held) //nolint:gosec // G304: path is inside the queue dir
	if err != nil {
		return n, false
	}
	return n, json.Unmarshal(data, &n) == nil
}

// Pending counts queued nudges without consuming them.
func (q *Queue) Pending(agent fleet.AgentID) (int, error) {
	names, err := queued(q.fleet.NudgeDir(agent))
	return len(names), err
}

// SendRescue queues an urgent rescue nudge. It implements the rescue
// messenger used by recovery stage 2.
func (q *Queue) SendRescue(ctx context.Context, agent fleet.AgentID, stallMinutes float64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := q.Enqueue(agent, QueuedNudge{
		Sender:   Sender,
		Message:  RescueMessage(stallMinutes),
		Priority: PriorityUrgent,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// RescueMessage renders the rescue text for a stall.
func RescueMessage(stallMinutes float64) string {
	if math.IsInf(stallMinutes, 1) {
		return "No activity has been recorded for you. If you are stuck, abandon the current step, " +
			"re-read your task list, and report your status."
	}
	return fmt.Sprintf("You appear stalled (no activity for %.0f minutes). If you are stuck, abandon the "+
		"current step, re-read your task list, and report your status.", stallMinutes)
}

// Format renders queued nudges as a reminder block for an agent prompt.
// Urgent nudges are listed first with an instruction to handle them now.
func Format(nudges []QueuedNudge) string {
	if len(nudges) == 0 {
		return ""
	}

	var urgent, normal []QueuedNudge
	for _, n := range nudges {
		if n.Priority == PriorityUrgent {
			urgent = append(urgent, n)
			continue
		}
		normal = append(normal, n)
	}

	var b strings.Builder
	b.WriteString("<system-reminder>\n")
	switch {
	case len(urgent) > 0:
		fmt.Fprintf(&b, "QUEUED NUDGE (%d urgent):\n\n", len(urgent))
		writeNudges(&b, urgent, "URGENT from ")
		if len(normal) > 0 {
			fmt.Fprintf(&b, "\nPlus %d non-urgent nudge(s):\n", len(normal))
			writeNudges(&b, normal, "from ")
		}
		b.WriteString("\nHandle urgent nudges before continuing current work.\n")
	default:
		fmt.Fprintf(&b, "QUEUED NUDGE (%d message(s)):\n\n", len(normal))
		writeNudges(&b, normal, "from ")
		b.WriteString("\nThis is a background notification. Continue current work unless the nudge is higher priority.\n")
	}
	b.WriteString("</system-reminder>\n")
	return b.String()
}

func writeNudges(b *strings.Builder, nudges []QueuedNudge, label string) {
	for _, n := range nudges {
		fmt.Fprintf(b, "  [%s%s] %s\n", label, n.Sender, n.Message)
	}
}
