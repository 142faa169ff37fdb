package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	offStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
)

// printTable writes rows in aligned columns under a styled header.
func printTable(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if cw := lipgloss.Width(cell); cw > widths[i] {
				widths[i] = cw
			}
		}
	}

	cells := make([]string, len(header))
	for i, h := range header {
		cells[i] = headerStyle.Render(pad(h, widths[i]))
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " "))
	for _, row := range rows {
		for i, cell := range row {
			cells[i] = pad(cell, widths[i])
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
}

func pad(s string, width int) string {
	if gap := width - lipgloss.Width(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}
