package style

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Align is a column alignment.
type Align int

const (
	AlignLeft Align = iota
	AlignRight
	AlignCenter
)

// Column describes one table column.
type Column struct {
	Name  string
	Width int
	Align Align
	// Style, if set, is applied to every cell in the column.
	Style *lipgloss.Style
}

// Table renders fixed-width rows with a bold header.
type Table struct {
	columns   []Column
	rows      [][]string
	indent    string
	headerSep bool
}

// NewTable creates a table with a header separator and a two-space indent.
func NewTable(columns ...Column) *Table {
	return &Table{
		columns:   columns,
		indent:    "  ",
		headerSep: true,
	}
}

// SetIndent sets the prefix for every rendered line.
func (t *Table) SetIndent(indent string) *Table {
	t.indent = indent
	return t
}

// SetHeaderSeparator toggles the rule under the header.
func (t *Table) SetHeaderSeparator(on bool) *Table {
	t.headerSep = on
	return t
}

// AddRow appends a row. Missing trailing values are left blank. Values may
// carry ANSI styling; widths are measured on the visible text.
func (t *Table) AddRow(values ...string) *Table {
	row := make([]string, len(t.columns))
	copy(row, values)
	t.rows = append(t.rows, row)
	return t
}

// Render returns the table as text, one line per row.
func (t *Table) Render() string {
	if len(t.columns) == 0 {
		return ""
	}
	var sb strings.Builder

	sb.WriteString(t.indent)
	for i, col := range t.columns {
		text := truncate(col.Name, col.Width)
		sb.WriteString(t.pad(Bold.Render(text), text, col.Width, col.Align))
		if i < len(t.columns)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("\n")

	if t.headerSep {
		total := 0
		for _, col := range t.columns {
			total += col.Width
		}
		total += len(t.columns) - 1
		sb.WriteString(t.indent)
		sb.WriteString(Dim.Render(strings.Repeat("─", total)))
		sb.WriteString("\n")
	}

	for _, row := range t.rows {
		sb.WriteString(t.indent)
		for i, col := range t.columns {
			styled, plain := row[i], stripAnsi(row[i])
			if len([]rune(plain)) > col.Width {
				plain = truncate(plain, col.Width)
				styled = plain
			}
			if col.Style != nil {
				styled = col.Style.Render(plain)
			}
			sb.WriteString(t.pad(styled, plain, col.Width, col.Align))
			if i < len(t.columns)-1 {
				sb.WriteString(" ")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// pad pads styled to width using the visible length of plain.
func (t *Table) pad(styled, plain string, width int, align Align) string {
	n := len([]rune(plain))
	if n >= width {
		return styled
	}
	gap := width - n
	switch align {
	case AlignRight:
		return strings.Repeat(" ", gap) + styled
	case AlignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + styled + strings.Repeat(" ", gap-left)
	default:
		return styled + strings.Repeat(" ", gap)
	}
}

func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 0 || len(r) <= width {
		return s
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripAnsi(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}
