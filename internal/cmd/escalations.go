package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/steveyegge/medic/internal/constants"
	"github.com/steveyegge/medic/internal/escalation"
	"github.com/steveyegge/medic/internal/fleet"
	"github.com/steveyegge/medic/internal/style"
	"github.com/steveyegge/medic/internal/ui"
)

var escalationsJSON bool

var escalationsCmd = &cobra.Command{
	Use:     "escalations",
	GroupID: GroupRecovery,
	Short:   "Manage agents escalated for manual intervention",
	RunE:    requireSubcommand,
	Long: `Manage escalation markers.

An agent is escalated once its consecutive failed recovery cycles reach
recovery_attempts_max. medic never clears a marker on its own; clear it
after the agent has been looked at.

Examples:
  medic escalations list
  medic escalations clear worker-3`,
}

var escalationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List escalated agents",
	Args:  cobra.NoArgs,
	RunE:  runEscalationsList,
}

var escalationsClearCmd = &cobra.Command{
	Use:   "clear <agent>",
	Short: "Clear an agent's escalation marker",
	Args:  cobra.ExactArgs(1),
	RunE:  runEscalationsClear,
}

func init() {
	escalationsListCmd.Flags().BoolVar(&escalationsJSON, "json", false, "Output as JSON")

	escalationsCmd.AddCommand(escalationsListCmd)
	escalationsCmd.AddCommand(escalationsClearCmd)
	rootCmd.AddCommand(escalationsCmd)
}

func escalationTracker() (*escalation.Tracker, error) {
	root, err := workspaceRoot()
	if err != nil {
		return nil, err
	}
	return escalation.NewTracker(constants.EscalationsDir(root)), nil
}

func runEscalationsList(cmd *cobra.Command, args []string) error {
	tracker, err := escalationTracker()
	if err != nil {
		return err
	}
	records, err := tracker.List()
	if err != nil {
		return err
	}

	if escalationsJSON {
		if records == nil {
			records = []escalation.Record{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Printf("%s No escalated agents\n", ui.RenderPassIcon())
		return nil
	}
	fmt.Printf("%s %d agent(s) need manual intervention\n\n", ui.RenderFailIcon(), len(records))
	tbl := style.NewTable(
		style.Column{Name: "AGENT", Width: 20},
		style.Column{Name: "ATTEMPTS", Width: 8, Align: style.AlignRight},
		style.Column{Name: "SINCE", Width: 12},
	)
	for _, r := range records {
		tbl.AddRow(r.Agent.String(), strconv.Itoa(r.AttemptCount), ui.RelativeTime(r.Timestamp))
	}
	fmt.Print(tbl.Render())
	return nil
}

func runEscalationsClear(cmd *cobra.Command, args []string) error {
	tracker, err := escalationTracker()
	if err != nil {
		return err
	}
	agent := fleet.AgentID(args[0])
	rec, err := tracker.Get(agent)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Printf("%s %s is not escalated\n", ui.RenderWarnIcon(), agent)
		return nil
	}
	if err := tracker.Clear(agent); err != nil {
		return err
	}
	fmt.Printf("%s Cleared escalation for %s\n", ui.RenderPassIcon(), agent)
	return nil
}
