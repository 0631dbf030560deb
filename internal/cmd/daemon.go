package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/medic/internal/daemon"
	"github.com/steveyegge/medic/internal/exitcode"
	"github.com/steveyegge/medic/internal/style"
	"github.com/steveyegge/medic/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: GroupServices,
	Short:   "Manage the medic daemon",
	RunE:    requireSubcommand,
	Long: `Manage the medic background daemon.

The daemon runs the stall monitor for one workspace:
- Checks every agent's activity on a fixed interval
- Walks stalled agents through the recovery stages
- Publishes its progress to .medic/daemon/state.json

Only one daemon may run per workspace.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long: `Start the medic daemon in the background.

The daemon will run until stopped with 'medic daemon stop'.`,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runDaemonStatus,
}

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View daemon logs",
	RunE:  runDaemonLogs,
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run daemon in foreground (internal)",
	Hidden: true,
	RunE:   runDaemonRun,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the daemon",
	Long:  `Stop and start the daemon. Useful after editing medic.toml or upgrading medic.`,
	RunE:  runDaemonRestart,
}

var (
	daemonLogLines  int
	daemonLogFollow bool
)

// daemonStartWait is how long start waits for the child to take the lock.
const daemonStartWait = 200 * time.Millisecond

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonLogsCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonRunCmd)

	daemonLogsCmd.Flags().IntVarP(&daemonLogLines, "lines", "n", 50, "Number of lines to show")
	daemonLogsCmd.Flags().BoolVarP(&daemonLogFollow, "follow", "f", false, "Follow log output")

	rootCmd.AddCommand(daemonCmd)
}

// spawnDaemon launches "medic daemon run" detached and returns its PID once
// the workspace lock has been taken.
func spawnDaemon(root string) (int, error) {
	// Validate up front so config errors surface here rather than in the log.
	if _, err := loadConfig(); err != nil {
		return 0, err
	}

	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("finding executable: %w", err)
	}
	args := []string{"--root", root}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	args = append(args, "daemon", "run")

	proc := exec.Command(exe, args...) //nolint:gosec // G204: our own binary
	proc.Dir = root
	proc.Stdin = nil
	proc.Stdout = nil
	proc.Stderr = nil
	if err := proc.Start(); err != nil {
		return 0, fmt.Errorf("starting daemon: %w", err)
	}

	time.Sleep(daemonStartWait)

	running, pid, err := daemon.IsRunning(root)
	if err != nil {
		return 0, fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		return 0, fmt.Errorf("daemon failed to start (check logs with 'medic daemon logs')")
	}
	if pid != proc.Process.Pid {
		// Another concurrent start won the lock.
		return pid, daemon.ErrAlreadyRunning
	}
	return pid, nil
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	root, err := workspaceRoot()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(root)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if running {
		return exitcode.Newf(exitcode.ErrAlreadyRunning, "daemon already running (PID %d)", pid)
	}

	pid, err = spawnDaemon(root)
	if errors.Is(err, daemon.ErrAlreadyRunning) {
		fmt.Printf("%s Daemon already running (PID %d)\n", ui.RenderWarnIcon(), pid)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s Daemon started (PID %d, v%s)\n", ui.RenderPassIcon(), pid, Version)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	root, err := workspaceRoot()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(root)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		return exitcode.Wrap(exitcode.ErrNotRunning, "", daemon.ErrNotRunning)
	}

	if err := daemon.StopDaemon(root); err != nil {
		return fmt.Errorf("stopping daemon: %w", err)
	}

	fmt.Printf("%s Daemon stopped (was PID %d)\n", ui.RenderPassIcon(), pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	root, err := workspaceRoot()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(root)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	logFile := daemon.DefaultPaths(root).LogFile

	if !running {
		fmt.Printf("%s Daemon not running\n", ui.RenderMuted("○"))
		fmt.Println()
		fmt.Printf("  Workspace:  %s\n", ui.ShortenPath(root))
		fmt.Println()
		fmt.Printf("  Start with: %s\n", ui.RenderMuted("medic daemon start"))
		return nil
	}

	fmt.Printf("%s Daemon running (PID %d, v%s)\n", ui.RenderPassIcon(), pid, Version)
	fmt.Println()
	fmt.Printf("  Workspace:  %s\n", ui.ShortenPath(root))

	state, err := daemon.LoadState(root)
	if err != nil {
		style.PrintWarning("%v", err)
	}
	if err == nil && !state.StartedAt.IsZero() {
		fmt.Printf("  Started:    %s (%s)\n",
			state.StartedAt.Local().Format("2006-01-02 15:04:05"),
			ui.RelativeTime(state.StartedAt))
		if !state.LastTick.IsZero() {
			fmt.Printf("  Last tick:  #%d (%s, took %s)\n",
				state.TickCount, ui.RelativeTime(state.LastTick), state.LastTickDuration)
		}
		if state.LastTickError != "" {
			fmt.Printf("  %s Last tick failed: %s\n", ui.RenderWarnIcon(), state.LastTickError)
		}
		if len(state.LastStale) > 0 {
			fmt.Printf("  Stalled:    %d agent(s)\n", len(state.LastStale))
		}
		for agent, n := range state.Attempts {
			fmt.Printf("  Attempts:   %s %d\n", agent, n)
		}
	}
	fmt.Printf("  Log:        %s\n", ui.ShortenPath(logFile))

	if err == nil && !state.StartedAt.IsZero() {
		if binaryModTime, err := getBinaryModTime(); err == nil && binaryModTime.After(state.StartedAt) {
			fmt.Println()
			fmt.Printf("  %s Binary updated since daemon start\n", ui.RenderWarnIcon())
			fmt.Printf("    Run: %s\n", ui.RenderMuted("medic daemon restart"))
		}
	}
	return nil
}

// getBinaryModTime returns the modification time of the current executable
func getBinaryModTime() (time.Time, error) {
	exePath, err := os.Executable()
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(exePath)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func runDaemonLogs(cmd *cobra.Command, args []string) error {
	root, err := workspaceRoot()
	if err != nil {
		return err
	}

	logFile := daemon.DefaultPaths(root).LogFile
	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		return exitcode.FileNotFound(logFile)
	}

	var tailCmd *exec.Cmd
	if daemonLogFollow {
		tailCmd = exec.Command("tail", "-f", logFile) //nolint:gosec // G204: fixed binary
	} else {
		tailCmd = exec.Command("tail", "-n", strconv.Itoa(daemonLogLines), logFile) //nolint:gosec // G204: fixed binary
	}
	tailCmd.Stdout = os.Stdout
	tailCmd.Stderr = os.Stderr
	return tailCmd.Run()
}

func runDaemonRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	d, err := daemon.New(cfg, Version)
	if err != nil {
		return fmt.Errorf("creating daemon: %w", err)
	}
	return d.Run()
}

func runDaemonRestart(cmd *cobra.Command, args []string) error {
	root, err := workspaceRoot()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(root)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if running {
		fmt.Printf("Stopping daemon (PID %d)...\n", pid)
		if err := daemon.StopDaemon(root); err != nil {
			return fmt.Errorf("stopping daemon: %w", err)
		}
		time.Sleep(daemonStartWait)
	}

	fmt.Println("Starting daemon...")
	newPid, err := spawnDaemon(root)
	if err != nil && !errors.Is(err, daemon.ErrAlreadyRunning) {
		return err
	}

	if pid > 0 {
		fmt.Printf("%s Daemon restarted (PID %d → %d, v%s)\n", ui.RenderPassIcon(), pid, newPid, Version)
	} else {
		fmt.Printf("%s Daemon started (PID %d, v%s)\n", ui.RenderPassIcon(), newPid, Version)
	}
	return nil
}
