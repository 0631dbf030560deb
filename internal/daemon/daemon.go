// Package daemon runs the stall monitor as a single-instance background
// process for one medic workspace.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/steveyegge/medic/internal/config"
	"github.com/steveyegge/medic/internal/constants"
	"github.com/steveyegge/medic/internal/monitor"
	"github.com/steveyegge/medic/internal/telemetry"
	"github.com/steveyegge/medic/internal/util"
)

var (
	// ErrAlreadyRunning is returned when another daemon holds the lock.
	ErrAlreadyRunning = errors.New("daemon already running")
	// ErrNotRunning is returned by StopDaemon when no daemon is running.
	ErrNotRunning = errors.New("daemon is not running")
)

// shutdownGrace is how long StopDaemon waits after SIGTERM before SIGKILL.
const shutdownGrace = 5 * time.Second

// Paths locates the daemon's files for a workspace.
type Paths struct {
	Root    string
	LogFile string
	PidFile string
	Lock    string
}

// DefaultPaths returns the daemon file locations under <root>/.medic/daemon.
func DefaultPaths(root string) Paths {
	dir := constants.DaemonDir(root)
	return Paths{
		Root:    root,
		LogFile: filepath.Join(dir, constants.FileDaemonLog),
		PidFile: filepath.Join(dir, constants.FileDaemonPid),
		Lock:    filepath.Join(dir, constants.FileDaemonLock),
	}
}

// Daemon owns the orchestrator for the lifetime of the process.
type Daemon struct {
	cfg     *config.Config
	paths   Paths
	logger  *slog.Logger
	logFile *os.File
	orch    *Orchestrator
	metrics *daemonMetrics
	version string

	ctx    context.Context
	cancel context.CancelFunc

	stateMu sync.Mutex
	state   *State
}

// New creates a daemon for cfg. The log file is opened immediately.
func New(cfg *config.Config, version string) (*Daemon, error) {
	paths := DefaultPaths(cfg.Root)
	logFile, err := OpenLogFile(paths.LogFile)
	if err != nil {
		return nil, err
	}
	logger := NewLogger(logFile, cfg.Logging.Level)
	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		cfg:     cfg,
		paths:   paths,
		logger:  logger,
		logFile: logFile,
		version: version,
		ctx:     ctx,
		cancel:  cancel,
		state:   &State{},
	}, nil
}

// Run acquires the workspace lock, starts the monitor and blocks until
// Stop is called or a termination signal arrives.
func (d *Daemon) Run() error {
	defer func() { _ = d.logFile.Close() }()
	d.logger.Info("daemon starting", "pid", os.Getpid(), "version", d.version, "root", d.cfg.Root)

	fileLock := flock.New(d.paths.Lock)
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w (lock held by another process)", ErrAlreadyRunning)
	}
	defer func() { _ = fileLock.Unlock() }()

	if err := os.WriteFile(d.paths.PidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() { _ = os.Remove(d.paths.PidFile) }()

	provider, err := telemetry.Init(d.ctx, "medic", d.version)
	if err != nil {
		d.logger.Warn("telemetry unavailable", "error", err)
	}
	if provider != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(ctx); err != nil {
				d.logger.Warn("telemetry shutdown", "error", err)
			}
		}()
	}
	d.metrics, err = newDaemonMetrics()
	if err != nil {
		d.logger.Warn("daemon metrics unavailable", "error", err)
	}

	d.orch, err = Assemble(d.cfg, AssembleOptions{
		Logger: d.logger,
		Watch:  true,
		OnTick: d.onTick,
	})
	if err != nil {
		return fmt.Errorf("assembling orchestrator: %w", err)
	}

	d.stateMu.Lock()
	d.state = &State{Running: true, PID: os.Getpid(), StartedAt: time.Now().UTC()}
	d.stateMu.Unlock()
	d.saveState()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	d.orch.Start(d.ctx)
	d.logger.Info("daemon running",
		"agents", d.orch.Fleet.Size(),
		"interval", d.cfg.Healing.CheckInterval(),
		"policy", d.orch.Policy.String(),
		"ledger", d.orch.Ledger.Path())

	select {
	case <-d.ctx.Done():
		d.logger.Info("daemon context canceled, shutting down")
	case sig := <-sigChan:
		d.logger.Info("received signal, shutting down", "signal", sig.String())
	}
	return d.shutdown()
}

func (d *Daemon) shutdown() error {
	d.orch.Stop()
	d.cancel()

	d.stateMu.Lock()
	d.state.Running = false
	d.stateMu.Unlock()
	d.saveState()

	d.logger.Info("daemon stopped")
	return nil
}

// Stop signals the daemon to stop.
func (d *Daemon) Stop() {
	d.cancel()
}

// onTick publishes the result of every monitor tick to state.json.
func (d *Daemon) onTick(res monitor.TickResult) {
	d.stateMu.Lock()
	st := d.state
	st.TickCount++
	st.LastTick = res.Started.UTC()
	st.LastTickDuration = res.Duration.Round(time.Millisecond).String()
	st.LastTickError = ""
	if res.Err != nil {
		st.LastTickError = res.Err.Error()
	}
	st.LastStale = st.LastStale[:0]
	for _, s := range res.Stale {
		st.LastStale = append(st.LastStale, s.Agent.String())
	}
	st.Attempts = d.orch.Policy.AttemptCounts()
	stats := d.orch.History.Stats()
	st.Stats = &stats
	st.Recent = d.orch.History.Recent(recentActions)
	d.stateMu.Unlock()

	maxAttempts := 0
	for _, n := range st.Attempts {
		maxAttempts = max(maxAttempts, n)
	}
	open, err := d.orch.Escalations.List()
	if err != nil {
		d.logger.Warn("listing escalations", "error", err)
	}
	d.metrics.update(len(open), maxAttempts)

	d.saveState()
}

func (d *Daemon) saveState() {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	err := SaveState(d.cfg.Root, d.state)
	if err != nil {
		d.logger.Warn("failed to save state", "error", err)
	}
	d.metrics.recordStateWrite(d.ctx, err)
}

// IsRunning checks if a daemon is running for the given workspace.
// The file lock in Run is authoritative; this is for status and stop.
func IsRunning(root string) (bool, int, error) {
	pidFile := DefaultPaths(root).PidFile
	data, err := os.ReadFile(pidFile) //nolint:gosec // G304: path is workspace-internal
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("reading PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return false, 0, fmt.Errorf("invalid PID in file %q: %w", pidStr, err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0, nil
	}

	// On Unix, FindProcess always succeeds. Send signal 0 to check if alive.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		if err := os.Remove(pidFile); err == nil {
			return false, 0, fmt.Errorf("removed stale PID file (process %d not found)", pid)
		}
		return false, 0, nil
	}

	// Guard against PID reuse.
	if !isMedicDaemon(pid) {
		if err := os.Remove(pidFile); err == nil {
			return false, 0, fmt.Errorf("removed stale PID file (PID %d is not medic daemon)", pid)
		}
		return false, 0, nil
	}

	return true, pid, nil
}

// isMedicDaemon checks that pid is a "medic daemon run" process.
var isMedicDaemon = func(pid int) bool {
	cmdline, err := util.ExecWithOutput("", "ps", "-p", strconv.Itoa(pid), "-o", "command=")
	if err != nil {
		return false
	}
	return strings.Contains(cmdline, "medic") && strings.Contains(cmdline, "daemon") && strings.Contains(cmdline, "run")
}

// StopDaemon sends SIGTERM to the workspace daemon, escalating to SIGKILL
// if it has not exited after a grace period.
func StopDaemon(root string) error {
	running, pid, err := IsRunning(root)
	if err != nil {
		return err
	}
	if !running {
		return ErrNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}

	deadline := time.Now().Add(shutdownGrace)
	for time.Now().Before(deadline) {
		if err := process.Signal(syscall.Signal(0)); err != nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	_ = process.Signal(syscall.SIGKILL)
	_ = os.Remove(DefaultPaths(root).PidFile)
	return nil
}
