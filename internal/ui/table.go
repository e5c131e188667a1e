package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Table is a header row plus data rows
type Table struct {
	Headers []string
	Rows    [][]string

	// Empty is shown instead of the table when there are no rows
	Empty string
}

// Render returns the bordered table, capped to width
func (t Table) Render(width int) string {
	if len(t.Rows) == 0 {
		empty := t.Empty
		if empty == "" {
			empty = "(none)"
		}
		return TroubleshootingItemStyle.PaddingLeft(2).Render(empty)
	}

	tbl := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(PrimaryColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return TableCellStyle
		}).
		Headers(t.Headers...).
		Rows(t.Rows...)

	if width >= MinTerminalWidth {
		tbl = tbl.Width(width)
	}
	return tbl.Render()
}
