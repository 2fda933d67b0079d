// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for the parley TUI.
package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Color palette.
var (
	ColorPrimary   = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F6"}
	ColorUser      = lipgloss.AdaptiveColor{Light: "#0550AE", Dark: "#79B8FF"}
	ColorAssistant = lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#56D364"}
	ColorMuted     = lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"}
	ColorError     = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#FF7B72"}
	ColorWarning   = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"}
	ColorSuccess   = lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"}
	ColorBorder    = lipgloss.AdaptiveColor{Light: "#D0D7DE", Dark: "#30363D"}
)

// Theme holds the styled components for the application. It detects
// the terminal's color capability and adjusts accordingly.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	Width  int
	Height int

	// Header
	Header      lipgloss.Style
	HeaderTitle lipgloss.Style

	// Message chrome
	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	SystemLabel    lipgloss.Style
	MessageBody    lipgloss.Style
	Timestamp      lipgloss.Style

	// Input area
	InputContainer lipgloss.Style
	InputPrompt    lipgloss.Style

	// Status bar
	StatusBar    lipgloss.Style
	StatusKey    lipgloss.Style
	HealthUp     lipgloss.Style
	HealthDown   lipgloss.Style
	StateBadge   lipgloss.Style
	ShortcutKey  lipgloss.Style
	ShortcutDesc lipgloss.Style

	// Conversation list
	ListItem     lipgloss.Style
	ListSelected lipgloss.Style
	ListMeta     lipgloss.Style

	// Errors
	ErrorBox lipgloss.Style

	// Spinner
	Spinner lipgloss.Style
}

// NewTheme builds a theme for the current terminal.
func NewTheme() *Theme {
	output := termenv.DefaultOutput()

	t := &Theme{
		IsDark:       lipgloss.HasDarkBackground(),
		ColorProfile: output.Profile,
	}

	t.Header = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(ColorBorder).
		Padding(0, 1)
	t.HeaderTitle = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)

	t.UserLabel = lipgloss.NewStyle().Bold(true).Foreground(ColorUser)
	t.AssistantLabel = lipgloss.NewStyle().Bold(true).Foreground(ColorAssistant)
	t.SystemLabel = lipgloss.NewStyle().Bold(true).Foreground(ColorMuted)
	t.MessageBody = lipgloss.NewStyle().PaddingLeft(2)
	t.Timestamp = lipgloss.NewStyle().Foreground(ColorMuted).Faint(true)

	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1)
	t.InputPrompt = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)

	t.StatusBar = lipgloss.NewStyle().Foreground(ColorMuted).Padding(0, 1)
	t.StatusKey = lipgloss.NewStyle().Foreground(ColorMuted).Bold(true)
	t.HealthUp = lipgloss.NewStyle().Foreground(ColorSuccess)
	t.HealthDown = lipgloss.NewStyle().Foreground(ColorError)
	t.StateBadge = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
	t.ShortcutKey = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	t.ShortcutDesc = lipgloss.NewStyle().Foreground(ColorMuted)

	t.ListItem = lipgloss.NewStyle().Padding(0, 2)
	t.ListSelected = lipgloss.NewStyle().Padding(0, 2).
		Foreground(ColorPrimary).Bold(true)
	t.ListMeta = lipgloss.NewStyle().Foreground(ColorMuted).Faint(true)

	t.ErrorBox = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Foreground(ColorError).
		Padding(0, 1)

	t.Spinner = lipgloss.NewStyle().Foreground(ColorPrimary)

	return t
}

// SetSize records the terminal dimensions for layout math.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}
