// Package theme holds the terminal colour palette used by CLI output.
package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/agusx1211/ccplane/internal/store"
)

// Catppuccin Mocha.
var (
	ColorOverlay0 = lipgloss.Color("#6c7086")
	ColorText     = lipgloss.Color("#cdd6f4")
	ColorSubtext0 = lipgloss.Color("#a6adc8")
	ColorRed      = lipgloss.Color("#f38ba8")
	ColorGreen    = lipgloss.Color("#a6e3a1")
	ColorYellow   = lipgloss.Color("#f9e2af")
	ColorBlue     = lipgloss.Color("#89b4fa")
	ColorMauve    = lipgloss.Color("#cba6f7")
)

var (
	Header = lipgloss.NewStyle().Foreground(ColorMauve).Bold(true)
	Dim    = lipgloss.NewStyle().Foreground(ColorSubtext0)
	Accent = lipgloss.NewStyle().Foreground(ColorBlue).Bold(true)
)

var (
	statusStarting = lipgloss.NewStyle().Foreground(ColorYellow)
	statusRunning  = lipgloss.NewStyle().Foreground(ColorGreen).Bold(true)
	statusIdle     = lipgloss.NewStyle().Foreground(ColorBlue)
	statusClosed   = lipgloss.NewStyle().Foreground(ColorOverlay0)
	statusDead     = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
)

// TerminalStatus returns the style for a terminal status.
func TerminalStatus(status string) lipgloss.Style {
	switch status {
	case store.StatusStarting:
		return statusStarting
	case store.StatusRunning:
		return statusRunning
	case store.StatusIdle:
		return statusIdle
	case store.StatusDead:
		return statusDead
	default:
		return statusClosed
	}
}

// ChildStatus returns the style for a normalized child-agent status.
func ChildStatus(status string) lipgloss.Style {
	switch status {
	case store.ChildStatusRunning:
		return statusStarting
	case store.ChildStatusComplete:
		return statusRunning
	case store.ChildStatusFailed:
		return statusDead
	default:
		return statusClosed
	}
}
