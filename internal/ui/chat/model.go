// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
package chat

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/morganforge/parley/internal/config"
	"github.com/morganforge/parley/internal/local"
	"github.com/morganforge/parley/internal/session"
	"github.com/morganforge/parley/internal/store"
	"github.com/morganforge/parley/internal/ui/styles"
)

// viewMode selects which surface the chat model draws.
type viewMode int

const (
	modeChat viewMode = iota
	modeList
)

// Model is the root Bubble Tea model for the chat interface.
//
// IMPORTANT: Bubble Tea copies the model on every Update, so all
// mutable shared state (store, controller, buffer) lives behind
// pointers.
type Model struct {
	theme      *styles.Theme
	store      *store.Store
	controller *session.Controller

	// events carries controller and health notifications from their
	// goroutines into the Update loop.
	events chan tea.Msg

	input    textarea.Model
	viewport viewport.Model
	spin     spinner.Model
	renderer *glamour.TermRenderer
	buffer   *StreamingBuffer
	keys     keyMap

	mode       viewMode
	listRows   []store.Meta
	listCursor int

	// models caches the local server's model list for ctrl+p cycling.
	models        []local.ModelInfo
	modelsPending bool

	healthKnown bool
	healthy     bool
	errText     string

	width  int
	height int
	ready  bool
}

// New assembles the chat model. events must be the channel the
// controller and health monitor publish into.
func New(st *store.Store, controller *session.Controller, events chan tea.Msg) *Model {
	input := textarea.New()
	input.Placeholder = "Ask anything..."
	input.Prompt = "│ "
	input.SetHeight(3)
	input.CharLimit = 8192
	input.ShowLineNumbers = false
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return &Model{
		theme:      styles.NewTheme(),
		store:      st,
		controller: controller,
		events:     events,
		input:      input,
		spin:       spin,
		buffer:     NewStreamingBuffer(),
		keys:       defaultKeyMap(),
	}
}

// Init starts the event pump and cursor blink.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spin.Tick, m.waitEvent())
}

// waitEvent blocks on the event channel and re-delivers whatever
// arrives as a tea.Msg. Re-issued after every delivery.
func (m *Model) waitEvent() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

// rebuildRenderer sizes the markdown renderer to the viewport.
func (m *Model) rebuildRenderer() {
	width := m.width - 4
	if width < 20 {
		width = 20
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		// Plain text fallback keeps the app usable.
		m.renderer = nil
		return
	}
	m.renderer = renderer
}

// renderMarkdown renders assistant markdown, falling back to the raw
// text when the renderer is unavailable.
func (m *Model) renderMarkdown(content string) string {
	if m.renderer == nil {
		return content
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return out
}

// statusModel returns the model name to show in the status bar.
func (m *Model) statusModel() string {
	return config.Global().SelectedModel
}
