package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("5")
	colorAccent  = lipgloss.Color("6")
	colorDanger  = lipgloss.Color("1")
	colorMuted   = lipgloss.Color("8")

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	cursorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(colorPrimary)
	dateStyle     = lipgloss.NewStyle().Foreground(colorAccent)
	previewStyle  = lipgloss.NewStyle().Italic(true).Foreground(colorMuted)
	helpStyle     = lipgloss.NewStyle().Foreground(colorMuted)
	promptStyle   = lipgloss.NewStyle().Foreground(colorAccent)
	errorStyle    = lipgloss.NewStyle().Foreground(colorDanger)
	modalBoxStyle = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(colorPrimary).Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(colorMuted)
)
