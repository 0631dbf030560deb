package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/steveyegge/medic/internal/constants"
	"github.com/steveyegge/medic/internal/fleet"
	"github.com/steveyegge/medic/internal/ledger"
	"github.com/steveyegge/medic/internal/style"
)

var ledgerJSON bool

var ledgerCmd = &cobra.Command{
	Use:     "ledger [agent]",
	GroupID: GroupRecovery,
	Short:   "Show terminal cancellation counts",
	Long: `Show how many terminal cancellations were issued per agent per day.

The ledger is persisted in .medic/cancel_ledger.json and survives restarts.

Examples:
  medic ledger
  medic ledger worker-3
  medic ledger --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLedger,
}

func init() {
	ledgerCmd.Flags().BoolVar(&ledgerJSON, "json", false, "Output as JSON")

	rootCmd.AddCommand(ledgerCmd)
}

func runLedger(cmd *cobra.Command, args []string) error {
	root, err := workspaceRoot()
	if err != nil {
		return err
	}
	doc, err := ledger.Read(constants.CancelLedgerPath(root))
	if err != nil {
		return err
	}
	if len(args) == 1 {
		agent := fleet.AgentID(args[0])
		doc = ledger.Document{agent: doc[agent]}
		if doc[agent] == nil {
			doc[agent] = map[string]int{}
		}
	}

	if ledgerJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}

	rows := ledgerRows(doc)
	if len(rows) == 0 {
		fmt.Println(style.Dim.Render("No cancellations recorded"))
		return nil
	}
	tbl := style.NewTable(
		style.Column{Name: "AGENT", Width: 20},
		style.Column{Name: "DATE", Width: 10},
		style.Column{Name: "COUNT", Width: 5, Align: style.AlignRight},
	)
	for _, r := range rows {
		tbl.AddRow(r.agent.String(), r.day, strconv.Itoa(r.count))
	}
	fmt.Print(tbl.Render())
	return nil
}

type ledgerRow struct {
	agent fleet.AgentID
	day   string
	count int
}

// ledgerRows flattens doc sorted by agent, then newest day first.
func ledgerRows(doc ledger.Document) []ledgerRow {
	var rows []ledgerRow
	for agent, days := range doc {
		for day, n := range days {
			rows = append(rows, ledgerRow{agent: agent, day: day, count: n})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].agent != rows[j].agent {
			return rows[i].agent < rows[j].agent
		}
		return rows[i].day > rows[j].day
	})
	return rows
}
