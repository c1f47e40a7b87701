package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2196F3"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	actionStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935"))
	mutedStyle     = lipgloss.NewStyle().Faint(true)
	headerStyle    = lipgloss.NewStyle().Bold(true).Underline(true)
)

// renderTable lays rows out in left-aligned columns sized to the widest cell.
func renderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	var sb strings.Builder
	line := func(cells []string, style lipgloss.Style) {
		for i, cell := range cells {
			if i >= len(widths) {
				break
			}
			sb.WriteString(style.Width(widths[i] + 2).Render(cell))
		}
		sb.WriteString("\n")
	}

	line(headers, headerStyle)
	for _, row := range rows {
		line(row, lipgloss.NewStyle())
	}
	return sb.String()
}
