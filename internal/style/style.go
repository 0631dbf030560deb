// Package style provides consistent terminal styling for medic output.
package style

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/steveyegge/medic/internal/ui"
)

func init() {
	if !ui.ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

var (
	// Success renders healthy states and completed actions.
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)

	// Warning renders stalled agents and retries.
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)

	// Error renders failures and escalations.
	Error = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)

	// Info renders neutral highlights.
	Info = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	// Dim renders secondary detail.
	Dim = lipgloss.NewStyle().Faint(true)

	// Bold renders headings.
	Bold = lipgloss.NewStyle().Bold(true)

	SuccessPrefix = Success.Render("✓")
	WarningPrefix = Warning.Render("⚠")
	ErrorPrefix   = Error.Render("✗")
	ArrowPrefix   = Info.Render("→")
)

// PrintWarning prints a formatted warning line to stderr.
func PrintWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", WarningPrefix, fmt.Sprintf(format, args...))
}
