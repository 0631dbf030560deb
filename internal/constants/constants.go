// Package constants defines shared directory names, file names and path helpers.
package constants

import "path/filepath"

// Directory names within a medic workspace.
const (
	// DirMedic holds all orchestrator-owned state.
	DirMedic = ".medic"

	// DirDaemon holds the daemon lock, pid, state and log files.
	DirDaemon = "daemon"

	// DirEscalations holds one manual-intervention marker per agent.
	DirEscalations = "escalations"

	// DirAgents is the default per-agent state directory.
	DirAgents = "agents"

	// DirTasks is the per-agent task queue directory.
	DirTasks = "tasks"

	// DirNudges is the per-agent rescue message queue directory.
	DirNudges = "nudges"
)

// File names.
const (
	FileConfig       = "medic.toml"
	FileCancelLedger = "cancel_ledger.json"
	FileActivity     = "activity.json"
	FileStatus       = "status.json"
	FileDaemonLock   = "daemon.lock"
	FileDaemonPid    = "daemon.pid"
	FileDaemonState  = "state.json"
	FileDaemonLog    = "medic.log"
)

// MedicDir returns <root>/.medic.
func MedicDir(root string) string {
	return filepath.Join(root, DirMedic)
}

// DaemonDir returns <root>/.medic/daemon.
func DaemonDir(root string) string {
	return filepath.Join(root, DirMedic, DirDaemon)
}

// CancelLedgerPath returns the path of the cancellation ledger document.
func CancelLedgerPath(root string) string {
	return filepath.Join(root, DirMedic, FileCancelLedger)
}

// EscalationsDir returns the escalation marker directory.
func EscalationsDir(root string) string {
	return filepath.Join(root, DirMedic, DirEscalations)
}

// ActivityReportPath returns the path where the external activity
// detector publishes its report.
func ActivityReportPath(root string) string {
	return filepath.Join(root, DirMedic, FileActivity)
}

// ConfigPath returns the default config file path.
func ConfigPath(root string) string {
	return filepath.Join(root, FileConfig)
}
