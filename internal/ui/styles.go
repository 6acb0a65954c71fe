// Package ui renders terminal output for the portal CLI.
package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func init() {
	// Color only when stdout is a terminal and NO_COLOR is unset
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// ShouldUseColor reports whether stdout supports ANSI colors.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") != "" {
		return true
	}
	return termenv.NewOutput(os.Stdout).Profile != termenv.Ascii
}

var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1F6FEB", Dark: "#58A6FF"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"}
)

var (
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	BoldStyle   = lipgloss.NewStyle().Bold(true)
)

func RenderAccent(s string) string { return AccentStyle.Render(s) }
func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderBold(s string) string   { return BoldStyle.Render(s) }

// RenderLevel colors s by notice level name.
func RenderLevel(level, s string) string {
	switch level {
	case "success":
		return RenderPass(s)
	case "warning":
		return RenderWarn(s)
	case "error":
		return RenderFail(s)
	default:
		return RenderAccent(s)
	}
}

// RenderTable lays out rows in aligned columns with a bold header.
func RenderTable(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string, style *lipgloss.Style) {
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			pad := strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			if style != nil && cell != "" {
				cell = style.Render(cell)
			}
			b.WriteString(cell + pad)
			if i < len(widths)-1 {
				b.WriteString("  ")
			}
		}
		b.WriteString("\n")
	}

	writeRow(header, &BoldStyle)
	for _, row := range rows {
		writeRow(row, nil)
	}
	return b.String()
}
