package style

import (
	"strings"
	"testing"
)

func renderLines(tbl *Table) []string {
	return strings.Split(strings.TrimRight(tbl.Render(), "\n"), "\n")
}

func TestNewTable_Defaults(t *testing.T) {
	tbl := NewTable(
		Column{Name: "Agent", Width: 12},
		Column{Name: "Stall", Width: 8, Align: AlignRight},
	)
	if len(tbl.columns) != 2 {
		t.Errorf("columns = %d, want 2", len(tbl.columns))
	}
	if !tbl.headerSep {
		t.Error("headerSep should default to true")
	}
	if tbl.indent != "  " {
		t.Errorf("indent = %q, want %q", tbl.indent, "  ")
	}
	if tbl.SetIndent("") != tbl || tbl.SetHeaderSeparator(false) != tbl {
		t.Error("setters should return the table for chaining")
	}
}

func TestTable_AddRow_PadsMissingValues(t *testing.T) {
	tbl := NewTable(Column{Name: "Agent", Width: 5}, Column{Name: "Action", Width: 5})
	tbl.AddRow("w-1")
	if got := tbl.rows[0]; len(got) != 2 || got[1] != "" {
		t.Errorf("row = %q, want [w-1 \"\"]", got)
	}
}

func TestTable_Render(t *testing.T) {
	tests := []struct {
		name      string
		sep       bool
		rows      [][]string
		wantLines int
	}{
		{"header only", true, nil, 2},
		{"no separator", false, [][]string{{"worker-1", "5m0s"}, {"worker-2", "8m0s"}}, 3},
		{"with separator", true, [][]string{{"worker-1", "5m0s"}}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := NewTable(
				Column{Name: "Agent", Width: 10},
				Column{Name: "Stall", Width: 6, Align: AlignRight},
			).SetIndent("").SetHeaderSeparator(tt.sep)
			for _, r := range tt.rows {
				tbl.AddRow(r...)
			}
			lines := renderLines(tbl)
			if len(lines) != tt.wantLines {
				t.Fatalf("lines = %d, want %d: %q", len(lines), tt.wantLines, lines)
			}
			if tt.sep && !strings.Contains(stripAnsi(lines[1]), "─") {
				t.Errorf("separator line = %q", stripAnsi(lines[1]))
			}
			if len(tt.rows) > 0 {
				last := stripAnsi(lines[len(lines)-1])
				if !strings.Contains(last, tt.rows[len(tt.rows)-1][0]) {
					t.Errorf("last row %q missing agent", last)
				}
			}
		})
	}
}

func TestTable_Render_Empty(t *testing.T) {
	if got := NewTable().Render(); got != "" {
		t.Errorf("Render() with no columns = %q, want empty", got)
	}
}

func TestTable_Render_Indent(t *testing.T) {
	tbl := NewTable(Column{Name: "Agent", Width: 8}).SetIndent("> ")
	tbl.AddRow("worker-3")
	for _, line := range renderLines(tbl) {
		if !strings.HasPrefix(line, "> ") {
			t.Errorf("line missing indent: %q", line)
		}
	}
}

func TestTable_Render_Truncation(t *testing.T) {
	tbl := NewTable(Column{Name: "Reason", Width: 10}).SetHeaderSeparator(false).SetIndent("")
	tbl.AddRow("rescue: stalled 12m30s")

	row := strings.TrimSpace(stripAnsi(renderLines(tbl)[1]))
	if !strings.HasSuffix(row, "...") {
		t.Errorf("truncated row should end with '...': %q", row)
	}
	if len(row) > 10 {
		t.Errorf("truncated row too wide: %d chars", len(row))
	}
}

func TestTable_Pad(t *testing.T) {
	tbl := &Table{}
	tests := []struct {
		name  string
		in    string
		width int
		align Align
		want  string
	}{
		{"left", "ok", 6, AlignLeft, "ok    "},
		{"right", "ok", 6, AlignRight, "    ok"},
		{"center", "ok", 6, AlignCenter, "  ok  "},
		{"exact", "failed", 6, AlignLeft, "failed"},
		{"overflow", "escalated", 3, AlignLeft, "escalated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tbl.pad(tt.in, tt.in, tt.width, tt.align); got != tt.want {
				t.Errorf("pad(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
			}
		})
	}
}

func TestStripAnsi(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "hello"},
		{"\x1b[1mhello\x1b[0m", "hello"},
		{"\x1b[1m\x1b[31mbold red\x1b[0m", "bold red"},
		{"before\x1b[32mgreen\x1b[0mafter", "beforegreenafter"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := stripAnsi(tt.input); got != tt.want {
			t.Errorf("stripAnsi(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestTable_Render_StyledCellsAligned(t *testing.T) {
	tbl := NewTable(
		Column{Name: "Result", Width: 10},
		Column{Name: "Agent", Width: 8},
	).SetIndent("").SetHeaderSeparator(false)
	tbl.AddRow("\x1b[32mok\x1b[0m", "worker-1")

	row := stripAnsi(renderLines(tbl)[1])
	if row != "ok         worker-1" {
		t.Errorf("row = %q, want styled cell padded on visible width", row)
	}
}
