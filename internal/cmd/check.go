package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/medic/internal/config"
	"github.com/steveyegge/medic/internal/daemon"
	"github.com/steveyegge/medic/internal/exitcode"
	"github.com/steveyegge/medic/internal/fleet"
	"github.com/steveyegge/medic/internal/healing"
	"github.com/steveyegge/medic/internal/monitor"
	"github.com/steveyegge/medic/internal/style"
)

var (
	checkJSON    bool
	checkForce   bool
	checkVerbose bool
)

var checkCmd = &cobra.Command{
	Use:     "check",
	GroupID: GroupRecovery,
	Short:   "Run one monitor tick in the foreground",
	Long: `Run a single stall check and heal every stalled agent, then exit.

This is the same tick the daemon runs on its interval. It refuses to run
while the daemon is up unless --force is given, so two processes never
drive recovery for the same agent.

Exit codes:
  0   no stalled agents, or every stalled agent was recovered
  60  at least one stalled agent could not be recovered
  61  at least one agent is escalated for manual intervention

Examples:
  medic check
  medic check --json
  medic check -v          # stream the recovery log to stderr`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Output as JSON")
	checkCmd.Flags().BoolVar(&checkForce, "force", false, "Run even if the daemon is running")
	checkCmd.Flags().BoolVarP(&checkVerbose, "verbose", "v", false, "Log recovery steps to stderr")

	rootCmd.AddCommand(checkCmd)
}

// CheckReport is the JSON form of one foreground tick. Escalated counts the
// open escalation markers after the tick.
type CheckReport struct {
	Started   time.Time        `json:"started"`
	Duration  string           `json:"duration"`
	Stale     []StaleAgent     `json:"stale"`
	Healed    int              `json:"healed"`
	Actions   []healing.Action `json:"actions"`
	Escalated int              `json:"escalated"`
	Error     string           `json:"error,omitempty"`
}

// StaleAgent is one stalled agent and its recovery outcome.
type StaleAgent struct {
	Agent        fleet.AgentID `json:"agent"`
	StallSeconds float64       `json:"stall_seconds"`
	Missing      bool          `json:"missing"`
	Recovered    bool          `json:"recovered"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(cfg.Root)
	if err != nil {
		style.PrintWarning("%v", err)
	}
	if running && !checkForce {
		return exitcode.Newf(exitcode.ErrAlreadyRunning, "daemon is running (PID %d); use --force to check anyway", pid)
	}

	report, err := runCheckOnce(cmd, cfg)
	if err != nil {
		return err
	}

	if checkJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printCheckReport(report)
	}

	if report.Error != "" {
		return fmt.Errorf("activity check failed: %s", report.Error)
	}
	if report.Escalated > 0 {
		return exitcode.Silent(exitcode.ErrEscalated)
	}
	if report.Healed < len(report.Stale) {
		return exitcode.Silent(exitcode.ErrUnrecovered)
	}
	return nil
}

func runCheckOnce(cmd *cobra.Command, cfg *config.Config) (*CheckReport, error) {
	var logOut io.Writer = io.Discard
	if checkVerbose {
		logOut = cmd.ErrOrStderr()
	}
	logger := daemon.NewLogger(logOut, cfg.Logging.Level)

	orch, err := daemon.Assemble(cfg, daemon.AssembleOptions{Logger: logger})
	if err != nil {
		return nil, err
	}

	res := orch.Monitor.RunOnce(cmd.Context())
	report := buildCheckReport(res, orch.History.All())
	open, err := orch.Escalations.List()
	if err != nil {
		return nil, err
	}
	report.Escalated = len(open)
	return report, nil
}

func buildCheckReport(res monitor.TickResult, actions []healing.Action) *CheckReport {
	recovered := make(map[fleet.AgentID]bool)
	for _, a := range actions {
		if a.Success {
			recovered[a.Agent] = true
		}
	}

	r := &CheckReport{
		Started:  res.Started,
		Duration: res.Duration.Round(time.Millisecond).String(),
		Stale:    make([]StaleAgent, 0, len(res.Stale)),
		Healed:   res.Healed,
		Actions:  actions,
	}
	if r.Actions == nil {
		r.Actions = []healing.Action{}
	}
	if res.Err != nil {
		r.Error = res.Err.Error()
	}
	for _, s := range res.Stale {
		sa := StaleAgent{Agent: s.Agent, Missing: s.IsMissing(), Recovered: recovered[s.Agent]}
		if !sa.Missing {
			sa.StallSeconds = s.StallSeconds()
		}
		r.Stale = append(r.Stale, sa)
	}
	return r
}

func printCheckReport(r *CheckReport) {
	if r.Error != "" {
		fmt.Printf("%s Activity check failed: %s\n", style.ErrorPrefix, r.Error)
		return
	}
	if len(r.Stale) == 0 {
		fmt.Printf("%s No stalled agents (%s)\n", style.SuccessPrefix, r.Duration)
		return
	}

	fmt.Printf("%s %d stalled agent(s), %d recovered (%s)\n\n",
		style.WarningPrefix, len(r.Stale), r.Healed, r.Duration)

	tbl := style.NewTable(
		style.Column{Name: "AGENT", Width: 20},
		style.Column{Name: "STALL", Width: 12, Align: style.AlignRight},
		style.Column{Name: "RESULT", Width: 10},
	)
	for _, s := range r.Stale {
		stall := "no signal"
		if !s.Missing {
			stall = (time.Duration(s.StallSeconds) * time.Second).String()
		}
		result := style.Error.Render("failed")
		if s.Recovered {
			result = style.Success.Render("recovered")
		}
		tbl.AddRow(s.Agent.String(), stall, result)
	}
	fmt.Print(tbl.Render())

	if len(r.Actions) > 0 {
		fmt.Println()
		fmt.Println(style.Bold.Render("Actions:"))
		fmt.Print(renderActions(r.Actions))
	}
	if r.Escalated > 0 {
		fmt.Println()
		fmt.Printf("%s %d agent(s) escalated; see 'medic escalations list'\n", style.ErrorPrefix, r.Escalated)
	}
}
