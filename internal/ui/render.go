package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	passStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	mutedStyle = lipgloss.NewStyle().Faint(true)
)

func icon(s lipgloss.Style, glyph, plain string) string {
	if !ShouldUseIcons() {
		return plain
	}
	return s.Render(glyph)
}

// RenderPassIcon returns the success marker.
func RenderPassIcon() string { return icon(passStyle, "✓", "[ok]") }

// RenderWarnIcon returns the warning marker.
func RenderWarnIcon() string { return icon(warnStyle, "⚠", "[warn]") }

// RenderFailIcon returns the failure marker.
func RenderFailIcon() string { return icon(failStyle, "✗", "[fail]") }

// RenderMuted renders s as secondary text.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// ShortenPath replaces the home directory prefix with ~.
func ShortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == home {
		return "~"
	}
	if strings.HasPrefix(path, home+string(filepath.Separator)) {
		return "~" + path[len(home):]
	}
	return path
}

// RelativeTime formats t relative to now, e.g. "3m ago".
func RelativeTime(t time.Time) string {
	return relativeTime(t, time.Now())
}

func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < 0:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
