// Package ui holds small terminal helpers shared by the CLI.
package ui

import (
	"os"

	"golang.org/x/term"
)

// IsTerminal returns true if stdout is connected to a terminal (TTY).
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor reports whether ANSI color codes should be used.
// Respects NO_COLOR (https://no-color.org/), CLICOLOR, and CLICOLOR_FORCE.
func ShouldUseColor() bool {
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return false
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if _, exists := os.LookupEnv("CLICOLOR_FORCE"); exists {
		return true
	}
	return IsTerminal()
}

// ShouldUseIcons reports whether status glyphs should prefix output lines.
// MEDIC_NO_ICONS turns them off.
func ShouldUseIcons() bool {
	if _, exists := os.LookupEnv("MEDIC_NO_ICONS"); exists {
		return false
	}
	return IsTerminal()
}
