package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/medic/internal/agentstatus"
	"github.com/steveyegge/medic/internal/exitcode"
	"github.com/steveyegge/medic/internal/fleet"
	"github.com/steveyegge/medic/internal/nudge"
	"github.com/steveyegge/medic/internal/ui"
)

var (
	inboxPeek bool
	inboxJSON bool

	heartbeatNote string
)

var inboxCmd = &cobra.Command{
	Use:     "inbox <agent>",
	GroupID: GroupAgents,
	Short:   "Deliver queued rescue messages to an agent",
	Long: `Drain the agent's nudge queue and print the messages.

Agents call this at the start of each turn; a rescue message means medic
noticed the agent stalled and wants it to re-evaluate its approach.

Examples:
  medic inbox worker-3
  medic inbox worker-3 --peek    # count without draining`,
	Args: cobra.ExactArgs(1),
	RunE: runInbox,
}

var heartbeatCmd = &cobra.Command{
	Use:     "heartbeat <agent>",
	GroupID: GroupAgents,
	Short:   "Record activity for an agent",
	Long: `Touch the agent's status file so medic sees it as active.

Examples:
  medic heartbeat worker-3
  medic heartbeat worker-3 --note "running tests"`,
	Args: cobra.ExactArgs(1),
	RunE: runHeartbeat,
}

func init() {
	inboxCmd.Flags().BoolVar(&inboxPeek, "peek", false, "Show the pending count without draining")
	inboxCmd.Flags().BoolVar(&inboxJSON, "json", false, "Output as JSON")
	heartbeatCmd.Flags().StringVar(&heartbeatNote, "note", "", "Short description of current work")

	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(heartbeatCmd)
}

// agentFleet loads config and checks that agent belongs to the fleet.
func agentFleet(agent fleet.AgentID) (*fleet.Fleet, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	f := cfg.BuildFleet()
	if !f.Contains(agent) {
		return nil, exitcode.AgentNotFound(agent.String())
	}
	return f, nil
}

func runInbox(cmd *cobra.Command, args []string) error {
	agent := fleet.AgentID(args[0])
	f, err := agentFleet(agent)
	if err != nil {
		return err
	}
	q := nudge.NewQueue(f)

	if inboxPeek {
		n, err := q.Pending(agent)
		if err != nil {
			return err
		}
		fmt.Printf("%d pending\n", n)
		return nil
	}

	nudges, err := q.Drain(agent)
	if err != nil {
		return err
	}
	if inboxJSON {
		if nudges == nil {
			nudges = []nudge.QueuedNudge{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(nudges)
	}
	fmt.Print(nudge.Format(nudges))
	return nil
}

func runHeartbeat(cmd *cobra.Command, args []string) error {
	agent := fleet.AgentID(args[0])
	f, err := agentFleet(agent)
	if err != nil {
		return err
	}
	if err := agentstatus.NewStore(f).Touch(agent, heartbeatNote); err != nil {
		return err
	}
	if ui.IsTerminal() {
		fmt.Printf("%s %s active\n", ui.RenderPassIcon(), agent)
	}
	return nil
}
