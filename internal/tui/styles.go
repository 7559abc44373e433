package tui

import "github.com/charmbracelet/lipgloss"

// styles contains all lipgloss styles used by the TUI.
var styles = struct {
	// Layout styles
	Container lipgloss.Style
	Divider   lipgloss.Style

	// Header styles
	Mode     lipgloss.Style
	Duration lipgloss.Style
	Current  lipgloss.Style
	Stats    lipgloss.Style
	Gate     lipgloss.Style

	// Footer style
	Footer lipgloss.Style

	// Event styles
	Feed    lipgloss.Style
	Reel    lipgloss.Style
	Run     lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style

	// Status colors
	StatusIdle    lipgloss.Style
	StatusRunning lipgloss.Style
	StatusPending lipgloss.Style
	StatusStopped lipgloss.Style
}{
	Container: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")),

	Divider: lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")),

	Mode: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")),

	Duration: lipgloss.NewStyle().
		Foreground(lipgloss.Color("220")),

	Current: lipgloss.NewStyle().
		Foreground(lipgloss.Color("39")),

	Stats: lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")),

	Gate: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("214")),

	Footer: lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")),

	Feed: lipgloss.NewStyle().
		Foreground(lipgloss.Color("250")),

	Reel: lipgloss.NewStyle().
		Foreground(lipgloss.Color("177")),

	Run: lipgloss.NewStyle().
		Foreground(lipgloss.Color("114")),

	Warning: lipgloss.NewStyle().
		Foreground(lipgloss.Color("214")),

	Error: lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")),

	Muted: lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")),

	StatusIdle: lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")),

	StatusRunning: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("82")),

	StatusPending: lipgloss.NewStyle().
		Foreground(lipgloss.Color("214")),

	StatusStopped: lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")),
}
