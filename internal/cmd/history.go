package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/medic/internal/daemon"
	"github.com/steveyegge/medic/internal/healing"
	"github.com/steveyegge/medic/internal/history"
	"github.com/steveyegge/medic/internal/style"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: GroupRecovery,
	Short:   "Show recent recovery actions",
	Long: `Show the recovery actions recorded by the daemon.

Reads the snapshot the daemon publishes after every tick, so it works
while the daemon is running and after it has stopped.

Examples:
  medic history
  medic history -n 5
  medic history --json`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of actions to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	root, err := workspaceRoot()
	if err != nil {
		return err
	}
	state, err := daemon.LoadState(root)
	if err != nil {
		return err
	}

	actions := state.Recent
	if historyLimit > 0 && len(actions) > historyLimit {
		actions = actions[len(actions)-historyLimit:]
	}

	if historyJSON {
		out := struct {
			Actions []healing.Action `json:"actions"`
			Stats   *history.Stats   `json:"stats,omitempty"`
		}{Actions: actions, Stats: state.Stats}
		if out.Actions == nil {
			out.Actions = []healing.Action{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(actions) == 0 {
		fmt.Println(style.Dim.Render("No recovery actions recorded"))
		return nil
	}
	fmt.Print(renderActions(actions))

	if s := state.Stats; s != nil && s.Total > 0 {
		fmt.Println()
		fmt.Printf("%s %d action(s) retained\n", style.Bold.Render("Totals:"), s.Total)
		types := make([]string, 0, len(s.ByType))
		for t := range s.ByType {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			tally := s.ByType[healing.ActionType(t)]
			fmt.Printf("  %-18s %s %s\n", t,
				style.Success.Render(fmt.Sprintf("%d ok", tally.Success)),
				style.Error.Render(fmt.Sprintf("%d failed", tally.Failure)))
		}
	}
	return nil
}

// renderActions formats recovery actions as a table, oldest first.
func renderActions(actions []healing.Action) string {
	tbl := style.NewTable(
		style.Column{Name: "TIME", Width: 8},
		style.Column{Name: "AGENT", Width: 16},
		style.Column{Name: "ACTION", Width: 18},
		style.Column{Name: "RESULT", Width: 6},
		style.Column{Name: "REASON", Width: 40},
	)
	for _, a := range actions {
		result := style.Success.Render("ok")
		if !a.Success {
			result = style.Error.Render("failed")
		}
		reason := a.Reason
		if a.Error != "" {
			reason = strings.TrimSpace(reason + " (" + a.Error + ")")
		}
		tbl.AddRow(a.Timestamp.Local().Format("15:04:05"), a.Agent.String(), string(a.Type), result, reason)
	}
	return tbl.Render()
}
