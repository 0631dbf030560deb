// Package taskqueue manages each agent's file-backed task queue at
// <agents_dir>/<agent>/tasks/<id>.json.
package taskqueue

import (
	"context"
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

// Task states.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
)

// Task is one queued unit of work.
type Task struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	Status    string     `json:"status"`
	Attempts  int        `json:"attempts"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Queue operates on the task queues of a fleet.
type Queue struct {
	fleet    *fleet.Fleet
	stuckAge time.Duration
	now      func() time.Time
}

// New creates a queue. An in-progress task claimed longer than stuckAge ago
// is considered stuck.
func New(f *fleet.Fleet, stuckAge time.Duration) *Queue {
	return &Queue{fleet: f, stuckAge: stuckAge, now: time.Now}
}

// List returns the agent's tasks sorted by ID. Malformed files are skipped
// and reported in the joined error alongside the readable tasks.
func (q *Queue) List(agent fleet.AgentID) ([]Task, error) {
	dir := q.fleet.TasksDir(agent)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading task queue: %w", err)
	}

	var tasks []Task
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path) //nolint:gosec // G304: path is inside the queue dir
		if err != nil {
			errs = append(errs, err)
			continue
		}
		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			errs = append(errs, fmt.Errorf("parsing %s: %w", e.Name(), err))
			continue
		}
		if t.ID == "" {
			t.ID = strings.TrimSuffix(e.Name(), ".json")
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, errors.Join(errs...)
}

// Put writes a task, replacing any task with the same ID.
func (q *Queue) Put(agent fleet.AgentID, t Task) error {
	if t.ID == "" {
		return errors.New("task has no id")
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = q.now().UTC()
	}
	path := filepath.Join(q.fleet.TasksDir(agent), strings.ReplaceAll(t.ID, "/", "_")+".json")
	return util.AtomicWriteJSON(path, t)
}

// IsStuck reports whether t has been in progress longer than the stuck age.
func (q *Queue) IsStuck(t Task) bool {
	if t.Status != StatusInProgress {
		return false
	}
	since := t.UpdatedAt
	if t.ClaimedAt != nil {
		since = *t.ClaimedAt
	}
	return q.now().Sub(since) >= q.stuckAge
}

// ClearStuckTasks returns stuck tasks to pending and bumps their attempt
// count. It succeeds only when at least one task was released; an agent with
// nothing stuck reports false with a nil error.
func (q *Queue) ClearStuckTasks(ctx context.Context, agent fleet.AgentID) (bool, error) {
	tasks, listErr := q.List(agent)

	cleared := 0
	var errs []error
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return cleared > 0, err
		}
		if t.Status != StatusInProgress {
			continue
		}
		if !q.IsStuck(t) {
			continue
		}
		t.Status = StatusPending
		t.Attempts++
		t.ClaimedAt = nil
		t.UpdatedAt = q.now().UTC()
		if err := q.Put(agent, t); err != nil {
			errs = append(errs, fmt.Errorf("releasing %s: %w", t.ID, err))
			continue
		}
		cleared++
	}

	if cleared > 0 {
		return true, nil
	}
	return false, errors.Join(append([]error{listErr}, errs...)...)
}
