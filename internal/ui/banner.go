package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// bannerWidth is the inner width of the block-found banner.
const bannerWidth = 56

var bannerStyle = lipgloss.NewStyle().
	Border(lipgloss.DoubleBorder()).
	BorderForeground(ColorSuccess).
	Padding(0, 2).
	Width(bannerWidth)

// BlockBanner renders the boxed notice shown when the miner reports a
// solo block. line is the raw miner output that announced it.
func BlockBanner(line string, at time.Time, generation uint64) string {
	title := lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true).Render("BLOCK FOUND")

	body := []string{
		title,
		"",
		MutedStyle.Render(fmt.Sprintf("%s  run #%d", at.Local().Format("2006-01-02 15:04:05"), generation)),
	}
	if line = strings.TrimSpace(line); line != "" {
		body = append(body, line)
	}
	return bannerStyle.Render(strings.Join(body, "\n"))
}

// StatusLine renders a single "label  value" line with a muted label.
func StatusLine(label, value string) string {
	return fmt.Sprintf("  %s %s", MutedStyle.Render(fmt.Sprintf("%-12s", label)), value)
}
