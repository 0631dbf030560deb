package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/steveyegge/medic/internal/constants"
	"github.com/steveyegge/medic/internal/fleet"
)

// WatchOracle tracks the last filesystem write in each agent directory.
// It is seeded from status file ages on Start so that a freshly started
// daemon does not treat every agent as missing.
type WatchOracle struct {
	fleet  *fleet.Fleet
	ages   StatusAges
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	lastSeen map[fleet.AgentID]time.Time
	watcher  *fsnotify.Watcher
	running  bool
	done     chan struct{}
}

// NewWatchOracle creates an unstarted watcher. It is unavailable until Start.
func NewWatchOracle(f *fleet.Fleet, ages StatusAges, logger *slog.Logger) *WatchOracle {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WatchOracle{
		fleet:    f,
		ages:     ages,
		logger:   logger,
		now:      time.Now,
		lastSeen: make(map[fleet.AgentID]time.Time),
	}
}

// Name implements Oracle.
func (w *WatchOracle) Name() string { return "fs-watch" }

// Start begins watching the agents directory and every agent directory that
// exists. Directories created later are picked up from the parent's events.
func (w *WatchOracle) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if w.watcher != nil {
		// Stopped by its context; release the old watcher before replacing it.
		_ = w.watcher.Close()
		w.watcher = nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(w.fleet.AgentsDir()); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", w.fleet.AgentsDir(), err)
	}

	now := w.now()
	for _, agent := range w.fleet.Agents() {
		dir := w.fleet.Dir(agent)
		if err := watcher.Add(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("watch agent dir failed", "agent", agent, "error", err)
		}
		if age, ok := w.ages.Age(agent); ok {
			w.lastSeen[agent] = now.Add(-age)
		}
	}

	w.watcher = watcher
	w.running = true
	w.done = make(chan struct{})
	go w.loop(ctx, watcher, w.done)
	return nil
}

// Close stops watching. The oracle becomes unavailable.
func (w *WatchOracle) Close() error {
	w.mu.Lock()
	watcher, done := w.watcher, w.done
	w.watcher = nil
	w.running = false
	w.mu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-done
	return err
}

func (w *WatchOracle) loop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			w.markStopped()
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				w.markStopped()
				return
			}
			w.handle(watcher, ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				w.markStopped()
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *WatchOracle) markStopped() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

func (w *WatchOracle) handle(watcher *fsnotify.Watcher, ev fsnotify.Event) {
	if ignored(ev.Name) {
		return
	}
	agent, ok := w.fleet.AgentForPath(ev.Name)
	if !ok {
		return
	}
	if ev.Has(fsnotify.Create) && filepath.Clean(ev.Name) == filepath.Clean(w.fleet.Dir(agent)) {
		if err := watcher.Add(ev.Name); err != nil {
			w.logger.Warn("watch new agent dir failed", "agent", agent, "error", err)
		}
	}
	if filepath.Clean(ev.Name) == filepath.Clean(w.fleet.StatusPath(agent)) {
		// Status writes made on the agent's behalf keep the old mtime, so
		// the file's own age is the activity signal here, not the event.
		if age, ok := w.ages.Age(agent); ok {
			w.Observe(agent, w.now().Add(-age))
		}
		return
	}
	w.Observe(agent, w.now())
}

// Observe records activity for agent at t if it is newer than what is known.
func (w *WatchOracle) Observe(agent fleet.AgentID, t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t.After(w.lastSeen[agent]) {
		w.lastSeen[agent] = t
	}
}

// ignored filters writes that are not agent activity: the rescue nudge queue
// and atomic-write scratch files.
func ignored(path string) bool {
	base := filepath.Base(path)
	if strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".lock") {
		return true
	}
	return base == constants.DirNudges
}

// StaleAgents implements Oracle.
func (w *WatchOracle) StaleAgents(ctx context.Context, maxAge time.Duration) ([]Staleness, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil, fmt.Errorf("%w: watcher not running", ErrUnavailable)
	}

	now := w.now()
	var stale []Staleness
	for _, agent := range w.fleet.Agents() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		age := Missing
		if seen, ok := w.lastSeen[agent]; ok {
			age = now.Sub(seen)
		}
		if age >= maxAge {
			stale = append(stale, Staleness{Agent: agent, Stall: age, ObservedAt: now})
		}
	}
	return stale, nil
}
