// Package ledger persists a per-agent, per-UTC-day count of terminal-cancel
// actions. The ledger is bookkeeping only; nothing reads it back to limit
// how often an agent is interrupted.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/steveyegge/medic/internal/fleet"
	"github.com/steveyegge/medic/internal/util"
)

// DateLayout is the day key format used in the ledger document.
const DateLayout = "2006-01-02"

// Document is the on-disk shape: {agent: {date: count}}.
type Document map[fleet.AgentID]map[string]int

// Ledger is a write-through cancellation counter. Every mutation rewrites the
// whole document under a cross-process file lock, so a concurrent
// "medic check" and the daemon never lose each other's increments.
type Ledger struct {
	path string
	lock *flock.Flock

	mu     sync.Mutex
	counts Document
	now    func() time.Time
}

// Open loads the ledger at path, creating the parent directory if needed.
// A missing file starts an empty ledger.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	doc, err := Read(path)
	if err != nil {
		return nil, err
	}

	return &Ledger{
		path:   path,
		lock:   flock.New(path + ".lock"),
		counts: doc,
		now:    time.Now,
	}, nil
}

// Read loads a ledger document without opening a writable Ledger.
func Read(path string) (Document, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is workspace-internal
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, nil
		}
		return nil, fmt.Errorf("reading cancel ledger: %w", err)
	}

	doc := Document{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing cancel ledger: %w", err)
	}
	return doc, nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// RecordCancellation increments today's count for agent and persists the
// ledger. The returned count reflects the increment even when persisting
// fails; the error is then non-nil and the increment may be lost on restart.
func (l *Ledger) RecordCancellation(agent fleet.AgentID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var lockErr error
	if err := l.lock.Lock(); err != nil {
		lockErr = fmt.Errorf("locking cancel ledger: %w", err)
	} else {
		defer func() { _ = l.lock.Unlock() }()
		if disk, err := Read(l.path); err == nil {
			l.merge(disk)
		}
	}

	day := l.today()
	days := l.counts[agent]
	if days == nil {
		days = make(map[string]int)
		l.counts[agent] = days
	}
	days[day]++
	count := days[day]

	if lockErr != nil {
		return count, lockErr
	}
	if err := util.AtomicWriteJSON(l.path, l.counts); err != nil {
		return count, fmt.Errorf("persisting cancel ledger: %w", err)
	}
	return count, nil
}

// CountToday returns today's count for agent, 0 if there is no entry.
func (l *Ledger) CountToday(agent fleet.AgentID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[agent][l.today()]
}

// Snapshot returns a deep copy of the in-memory document.
func (l *Ledger) Snapshot() Document {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(Document, len(l.counts))
	for agent, days := range l.counts {
		cp := make(map[string]int, len(days))
		for d, n := range days {
			cp[d] = n
		}
		out[agent] = cp
	}
	return out
}

// merge folds a document read from disk into memory, keeping the larger
// count per (agent, day) so counts never go backwards.
func (l *Ledger) merge(disk Document) {
	for agent, days := range disk {
		mem := l.counts[agent]
		if mem == nil {
			mem = make(map[string]int, len(days))
			l.counts[agent] = mem
		}
		for d, n := range days {
			if n > mem[d] {
				mem[d] = n
			}
		}
	}
}

func (l *Ledger) today() string {
	return l.now().UTC().Format(DateLayout)
}
