package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/steveyegge/medic/internal/activity"
	"github.com/steveyegge/medic/internal/agentstatus"
	"github.com/steveyegge/medic/internal/config"
	"github.com/steveyegge/medic/internal/constants"
	"github.com/steveyegge/medic/internal/escalation"
	"github.com/steveyegge/medic/internal/fleet"
	"github.com/steveyegge/medic/internal/history"
	"github.com/steveyegge/medic/internal/ledger"
	"github.com/steveyegge/medic/internal/monitor"
	"github.com/steveyegge/medic/internal/nudge"
	"github.com/steveyegge/medic/internal/onboard"
	"github.com/steveyegge/medic/internal/recovery"
	"github.com/steveyegge/medic/internal/taskqueue"
	"github.com/steveyegge/medic/internal/tmux"
)

// Orchestrator is one fully wired stall monitor and everything it owns.
// Build it once per process and pass it around; there is no global instance.
type Orchestrator struct {
	Config      *config.Config
	Fleet       *fleet.Fleet
	History     *history.History
	Ledger      *ledger.Ledger
	Escalations *escalation.Tracker
	Status      *agentstatus.Store
	Tasks       *taskqueue.Queue
	Nudges      *nudge.Queue
	Policy      *recovery.Policy
	Monitor     *monitor.Monitor

	watch  *activity.WatchOracle
	logger *slog.Logger
}

// AssembleOptions tunes Assemble.
type AssembleOptions struct {
	Logger *slog.Logger
	// Watch enables the fsnotify activity provider. It needs a long-lived
	// process and is only worth it in the daemon.
	Watch bool
	// OnTick is forwarded to the monitor.
	OnTick func(monitor.TickResult)
}

// Assemble wires the orchestrator from configuration.
func Assemble(cfg *config.Config, opts AssembleOptions) (*Orchestrator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	f := cfg.BuildFleet()
	if err := os.MkdirAll(f.AgentsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating agents dir: %w", err)
	}

	led, err := ledger.Open(constants.CancelLedgerPath(cfg.Root))
	if err != nil {
		return nil, fmt.Errorf("opening cancellation ledger: %w", err)
	}

	o := &Orchestrator{
		Config:      cfg,
		Fleet:       f,
		History:     history.New(cfg.Healing.HealingHistoryLimit),
		Ledger:      led,
		Escalations: escalation.NewTracker(constants.EscalationsDir(cfg.Root)),
		Status:      agentstatus.NewStore(f),
		Tasks:       taskqueue.New(f, cfg.Collaborators.StuckTaskAge()),
		Nudges:      nudge.NewQueue(f),
		logger:      logger,
	}

	collab := recovery.Collaborators{
		Tasks:   o.Tasks,
		Status:  o.Status,
		Rescue:  o.Nudges,
		Onboard: onboard.NewRunner(cfg, f, logger.With("component", "onboard")),
	}
	if cfg.Healing.TerminalCancelEnabled {
		collab.Canceller = tmux.NewTmux(cfg.Collaborators.TmuxSessionPrefix)
	}

	o.Policy = recovery.NewPolicy(cfg.Healing,
		recovery.NewDispatcher(collab, cfg.Healing.RecoveryWindow(), logger.With("component", "dispatcher")),
		o.History, o.Ledger, o.Escalations,
		recovery.WithLogger(logger.With("component", "policy")),
	)

	providers := []activity.Oracle{
		activity.NewFileOracle(constants.ActivityReportPath(cfg.Root), f, cfg.Healing.ActivityReportMaxAge()),
	}
	if opts.Watch {
		o.watch = activity.NewWatchOracle(f, o.Status, logger.With("component", "watch"))
		providers = append(providers, o.watch)
	}
	providers = append(providers, activity.NewStatusFileOracle(f, o.Status))

	o.Monitor = monitor.New(activity.NewChain(logger, providers...), o.Policy, monitor.Options{
		Interval:  cfg.Healing.CheckInterval(),
		Threshold: cfg.Healing.StallThreshold(),
		Logger:    logger.With("component", "monitor"),
		OnTick:    opts.OnTick,
	})
	return o, nil
}

// Start begins watching (if enabled) and starts the monitor loop.
func (o *Orchestrator) Start(ctx context.Context) {
	if o.watch != nil {
		if err := o.watch.Start(ctx); err != nil {
			o.logger.Warn("activity watcher unavailable, using other providers", "error", err)
		}
	}
	o.Monitor.Start(ctx)
}

// Stop stops the monitor and the watcher. Persisted state is already
// flushed when Stop returns.
func (o *Orchestrator) Stop() {
	o.Monitor.Stop()
	if o.watch != nil {
		if err := o.watch.Close(); err != nil {
			o.logger.Warn("closing activity watcher", "error", err)
		}
	}
}
