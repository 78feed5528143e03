package tui

import (
	"github.com/charmbracelet/lipgloss"

	"patternmem/internal/store"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("78"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)

	listItemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

var severityColors = map[store.Severity]lipgloss.Color{
	store.SeverityCritical: lipgloss.Color("196"),
	store.SeverityHigh:     lipgloss.Color("208"),
	store.SeverityMedium:   lipgloss.Color("220"),
	store.SeverityLow:      lipgloss.Color("111"),
}

func severityLabel(s store.Severity) string {
	return lipgloss.NewStyle().Foreground(severityColors[s]).Bold(true).Width(8).Render(string(s))
}
