// Package cmd provides CLI commands for the medic tool.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/medic/internal/config"
	"github.com/steveyegge/medic/internal/exitcode"
	"github.com/steveyegge/medic/internal/workspace"
)

var (
	rootDir    string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:     "medic",
	Short:   "Stall detection and progressive recovery for agent fleets",
	Version: Version,
	Long: `medic watches a fleet of autonomous agents and recovers the ones that stop
making progress.

Each stalled agent is taken through escalating recovery stages: a terminal
interrupt, a rescue message with task and status cleanup, and finally a hard
onboard. Agents that keep failing are escalated for manual intervention.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Command group IDs - used by subcommands to organize help output
const (
	GroupServices = "services"
	GroupRecovery = "recovery"
	GroupAgents   = "agents"
	GroupDiag     = "diag"
)

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupServices, Title: "Services:"},
		&cobra.Group{ID: GroupRecovery, Title: "Recovery:"},
		&cobra.Group{ID: GroupAgents, Title: "Agent Tools:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
	)
	rootCmd.SetHelpCommandGroupID(GroupDiag)
	rootCmd.SetCompletionCommandGroupID(GroupDiag)

	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "Workspace root (default $MEDIC_ROOT or nearest medic.toml)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default <root>/medic.toml)")
}

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	err := rootCmd.Execute()
	if err != nil && !exitcode.IsSilent(err) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return exitcode.Code(err)
}

// workspaceRoot resolves --root, then MEDIC_ROOT, then the nearest enclosing
// workspace, then the working directory.
func workspaceRoot() (string, error) {
	dir := rootDir
	if dir == "" {
		dir = os.Getenv(config.EnvRoot)
	}
	if dir == "" {
		return workspace.FindFromCwdOr()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving workspace root: %w", err)
	}
	return abs, nil
}

// loadConfig loads the workspace configuration.
func loadConfig() (*config.Config, error) {
	root, err := workspaceRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root, configPath)
	if err != nil {
		return nil, exitcode.Wrap(exitcode.ErrUsage, "", err)
	}
	return cfg, nil
}

// buildCommandPath walks the command hierarchy to build the full command path.
func buildCommandPath(cmd *cobra.Command) string {
	var parts []string
	for c := cmd; c != nil; c = c.Parent() {
		parts = append([]string{c.Name()}, parts...)
	}
	return strings.Join(parts, " ")
}

// requireSubcommand returns a RunE function for parent commands that require
// a subcommand. Without this, Cobra silently shows help and exits 0 for
// unknown subcommands.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("requires a subcommand\n\nRun '%s --help' for usage", buildCommandPath(cmd))
	}
	return fmt.Errorf("unknown command %q for %q\n\nRun '%s --help' for available commands",
		args[0], buildCommandPath(cmd), buildCommandPath(cmd))
}
