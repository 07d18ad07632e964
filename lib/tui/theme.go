// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color palette for command output. All colors use
// lipgloss ANSI 256-color codes for broad terminal compatibility.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Status colors.
	StatusDone    lipgloss.Color
	StatusRunning lipgloss.Color
	StatusFailed  lipgloss.Color

	// UI chrome.
	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color

	// Enabled is false when output is not a terminal.
	Enabled bool
}

// DefaultTheme is the built-in dark-terminal color scheme.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	StatusDone:    lipgloss.Color("114"), // green
	StatusRunning: lipgloss.Color("220"), // yellow/amber
	StatusFailed:  lipgloss.Color("196"), // red

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),

	Enabled: true,
}

// StatusColor returns the color for a status string. Loader, provider,
// and operation statuses are all recognized; unknown values are faint.
func (theme Theme) StatusColor(status string) lipgloss.Color {
	switch strings.ToLower(status) {
	case "succeeded", "success", "succeed", "valid":
		return theme.StatusDone
	case "running", "loading", "checking", "missing":
		return theme.StatusRunning
	case "failed", "fail", "invalid":
		return theme.StatusFailed
	default:
		return theme.FaintText
	}
}

// Header renders a section title.
func (theme Theme) Header(text string) string {
	return theme.render(lipgloss.NewStyle().Bold(true).Foreground(theme.HeaderForeground), text)
}

// Faint renders secondary text.
func (theme Theme) Faint(text string) string {
	return theme.render(lipgloss.NewStyle().Foreground(theme.FaintText), text)
}

// Status renders status in its status color, padded to width.
func (theme Theme) Status(status string, width int) string {
	style := lipgloss.NewStyle().Foreground(theme.StatusColor(status))
	if width > 0 {
		style = style.Width(width)
	}
	if !theme.Enabled {
		return status + strings.Repeat(" ", max(0, width-len(status)))
	}
	return style.Render(status)
}

// Box renders lines inside a rounded border.
func (theme Theme) Box(lines ...string) string {
	body := strings.Join(lines, "\n")
	if !theme.Enabled {
		return body
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.BorderColor).
		Padding(0, 1).
		Render(body)
}

func (theme Theme) render(style lipgloss.Style, text string) string {
	if !theme.Enabled {
		return text
	}
	return style.Render(text)
}
