package display

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

const (
	minColumnWidth   = 6
	defaultTermWidth = 120
)

// Table renders rows of aligned columns sized to the terminal
type Table struct {
	colors  *ColorSystem
	headers []string
	rows    [][]string
	width   int
}

// NewTable creates a table with the given column headers
func NewTable(colors *ColorSystem, headers ...string) *Table {
	width := defaultTermWidth
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}
	return &Table{
		colors:  colors,
		headers: headers,
		width:   width,
	}
}

// AddRow appends a row; missing cells render empty
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render writes the table to the given builder
func (t *Table) Render(sb *strings.Builder) {
	widths := t.columnWidths()

	var header []string
	for i, h := range t.headers {
		header = append(header, padCell(h, widths[i]))
	}
	sb.WriteString(t.colors.Colorize(strings.Join(header, "  "), ColorHeader))
	sb.WriteString("\n")

	var sep []string
	for _, w := range widths {
		sep = append(sep, strings.Repeat("-", w))
	}
	sb.WriteString(t.colors.Colorize(strings.Join(sep, "  "), ColorMuted))
	sb.WriteString("\n")

	for _, row := range t.rows {
		var line []string
		for i := range t.headers {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			line = append(line, padCell(cell, widths[i]))
		}
		sb.WriteString(strings.TrimRight(strings.Join(line, "  "), " "))
		sb.WriteString("\n")
	}
}

// String renders the table to a string
func (t *Table) String() string {
	var sb strings.Builder
	t.Render(&sb)
	return sb.String()
}

func (t *Table) columnWidths() []int {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i := range t.headers {
			if i < len(row) && len(row[i]) > widths[i] {
				widths[i] = len(row[i])
			}
		}
	}

	// Shrink the widest columns until the table fits the terminal
	total := func() int {
		sum := 0
		for _, w := range widths {
			sum += w
		}
		return sum + 2*(len(widths)-1)
	}
	for total() > t.width {
		widest := 0
		for i, w := range widths {
			if w > widths[widest] {
				widest = i
			}
			_ = w
		}
		if widths[widest] <= minColumnWidth {
			break
		}
		widths[widest]--
	}
	return widths
}

func padCell(s string, width int) string {
	if len(s) > width {
		if width <= 3 {
			return s[:width]
		}
		return s[:width-3] + "..."
	}
	return fmt.Sprintf("%-*s", width, s)
}
