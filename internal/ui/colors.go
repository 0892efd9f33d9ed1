// Package ui holds the terminal palette and the styled fragments the CLI
// prints: status lines, state badges and the block-found banner.
package ui

import "github.com/charmbracelet/lipgloss"

// Semantic colors for status indication. ANSI codes keep the output
// readable on any terminal theme.
const (
	ColorSuccess lipgloss.Color = "2" // Green
	ColorError   lipgloss.Color = "1" // Red
	ColorWarning lipgloss.Color = "3" // Yellow
	ColorInfo    lipgloss.Color = "6" // Cyan
)

// Text colors for content hierarchy
const (
	ColorPrimary   lipgloss.Color = "7" // White/default
	ColorSecondary lipgloss.Color = "4" // Blue
	ColorMuted     lipgloss.Color = "8" // Gray (bright black)
)

// Shared styles.
var (
	HeaderStyle  = lipgloss.NewStyle().Foreground(ColorSecondary).Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	BoldStyle    = lipgloss.NewStyle().Bold(true)
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorError)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)
	InfoStyle    = lipgloss.NewStyle().Foreground(ColorInfo)
)

// StateStyle returns the style for a supervisor state name.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "running":
		return SuccessStyle
	case "starting", "stopping":
		return WarningStyle
	default:
		return MutedStyle
	}
}
