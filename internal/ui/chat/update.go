// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/morganforge/parley/internal/config"
	"github.com/morganforge/parley/internal/local"
	"github.com/morganforge/parley/internal/session"
	"github.com/morganforge/parley/internal/store"
	"github.com/morganforge/parley/internal/util"
)

// errBannerTimeout is how long transient errors stay on screen.
const errBannerTimeout = 5 * time.Second

// Update is the Bubble Tea message dispatcher.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		if m.mode == modeList {
			return m.handleListKey(msg)
		}
		return m.handleChatKey(msg)

	case TurnEventMsg:
		return m.handleTurnEvent(msg.Event)

	case HealthMsg:
		m.healthKnown = true
		m.healthy = msg.Status.Healthy
		return m, m.waitEvent()

	case SettingsReloadedMsg:
		return m, m.waitEvent()

	case ModelsMsg:
		return m.handleModels(msg)

	case StreamTickMsg:
		if m.buffer.TakeDirty() {
			m.refreshViewport(true)
		}
		if m.controller.Busy() {
			return m, streamTickCmd()
		}
		return m, nil

	case ErrorDismissMsg:
		m.errText = ""
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// KEY HANDLING
// =============================================================================

func (m *Model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if m.controller.Busy() {
			m.controller.Cancel()
			return m, nil
		}
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.submit()

	case key.Matches(msg, m.keys.NewConv):
		if !m.controller.Busy() {
			m.store.NewConversation()
			m.refreshViewport(false)
		}
		return m, nil

	case key.Matches(msg, m.keys.ClearConv):
		if !m.controller.Busy() {
			m.store.Clear()
			m.refreshViewport(false)
		}
		return m, nil

	case key.Matches(msg, m.keys.ListConvs):
		if !m.controller.Busy() {
			m.mode = modeList
			m.listRows = m.store.List()
			m.listCursor = 0
		}
		return m, nil

	case key.Matches(msg, m.keys.ExportMd):
		return m.exportCurrent()

	case key.Matches(msg, m.keys.CycleModel):
		return m.cycleModel()

	case key.Matches(msg, m.keys.ScrollUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.ScrollDown):
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.ListDismiss):
		m.mode = modeChat
		return m, nil

	case key.Matches(msg, m.keys.ListUp):
		if m.listCursor > 0 {
			m.listCursor--
		}
		return m, nil

	case key.Matches(msg, m.keys.ListDown):
		if m.listCursor < len(m.listRows)-1 {
			m.listCursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.ListSelect):
		if m.listCursor < len(m.listRows) {
			if err := m.store.Switch(m.listRows[m.listCursor].ID); err != nil {
				m.showError(fmt.Sprintf("could not open conversation: %v", err))
			}
		}
		m.mode = modeChat
		m.refreshViewport(false)
		return m, nil

	case key.Matches(msg, m.keys.ListDelete):
		if m.listCursor < len(m.listRows) {
			if err := m.store.Delete(m.listRows[m.listCursor].ID); err == nil {
				m.listRows = m.store.List()
				if m.listCursor >= len(m.listRows) && m.listCursor > 0 {
					m.listCursor--
				}
			}
		}
		return m, nil
	}
	return m, nil
}

// =============================================================================
// TURN FLOW
// =============================================================================

func (m *Model) submit() (tea.Model, tea.Cmd) {
	input := m.input.Value()

	err := m.controller.Send(input)
	switch {
	case err == nil:
		m.input.Reset()
		m.buffer.Reset()
		m.refreshViewport(false)
		return m, streamTickCmd()

	case errors.Is(err, session.ErrEmptyInput):
		return m, nil

	case errors.Is(err, session.ErrStreamActive):
		m.showError("A response is still streaming. Press esc to cancel it first.")
		return m, m.dismissErrorLater()

	default:
		m.showError(err.Error())
		return m, m.dismissErrorLater()
	}
}

func (m *Model) handleTurnEvent(ev session.Event) (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{m.waitEvent()}

	switch ev.Kind {
	case session.EventTurnStarted:
		m.refreshViewport(false)

	case session.EventFragment:
		// Repaints happen on the stream tick, not per fragment.
		m.buffer.NoteFragment()

	case session.EventTurnEnded:
		m.buffer.Reset()
		m.refreshViewport(false)
		if ev.Outcome == session.OutcomeFailed {
			m.showError("Response failed. See the log for details.")
			cmds = append(cmds, m.dismissErrorLater())
		}
	}
	return m, tea.Batch(cmds...)
}

// =============================================================================
// MODEL SWITCHING
// =============================================================================

// cycleModel advances the selected model through the local server's
// installed models. The first press fetches the list; switching only
// applies between turns.
func (m *Model) cycleModel() (tea.Model, tea.Cmd) {
	if m.controller.Busy() {
		return m, nil
	}
	if config.Global().Backend != config.BackendLocal {
		m.showError("Model cycling needs the local backend. Edit config.toml for cloud models.")
		return m, m.dismissErrorLater()
	}
	if len(m.models) == 0 {
		if m.modelsPending {
			return m, nil
		}
		m.modelsPending = true
		return m, fetchModelsCmd()
	}
	m.selectNextModel()
	return m, nil
}

func (m *Model) handleModels(msg ModelsMsg) (tea.Model, tea.Cmd) {
	m.modelsPending = false
	if msg.Error != nil {
		m.showError("Could not list models: " + msg.Error.Error())
		return m, m.dismissErrorLater()
	}
	m.models = msg.Models
	if len(m.models) > 0 {
		m.selectNextModel()
	}
	return m, nil
}

// selectNextModel rotates SelectedModel to the next installed model
// and persists the choice.
func (m *Model) selectNextModel() {
	current := config.Global().SelectedModel
	next := m.models[0].Name
	for i, info := range m.models {
		if info.Name == current {
			next = m.models[(i+1)%len(m.models)].Name
			break
		}
	}

	cfg := config.Global().Clone()
	cfg.SelectedModel = next
	config.SetGlobal(cfg)
	if err := config.Save(cfg); err != nil {
		log.Printf("[CHAT] Could not persist model selection: %v", err)
	}
}

func fetchModelsCmd() tea.Cmd {
	return func() tea.Msg {
		cfg := config.Global()
		client := local.NewClientWithConfig(&local.Config{BaseURL: cfg.Local.URL})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		models, err := client.ListModels(ctx)
		return ModelsMsg{Models: models, Error: err}
	}
}

// =============================================================================
// EXPORT
// =============================================================================

func (m *Model) exportCurrent() (tea.Model, tea.Cmd) {
	// Export reads live message content, so wait for the stream.
	if m.controller.Busy() {
		return m, nil
	}
	conv := m.store.Current()
	if conv.IsEmpty() {
		return m, nil
	}

	name := fmt.Sprintf("parley-%s.md", time.Now().Format("20060102-150405"))
	path := filepath.Join(".", name)
	if err := util.AtomicWriteFile(path, []byte(store.ExportMarkdown(conv)), 0644); err != nil {
		m.showError(fmt.Sprintf("export failed: %v", err))
		return m, m.dismissErrorLater()
	}
	m.showError("Exported to " + path) // informational banner
	return m, m.dismissErrorLater()
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.theme.SetSize(msg.Width, msg.Height)

	headerHeight := 2
	inputHeight := 5
	statusHeight := 1
	vpHeight := msg.Height - headerHeight - inputHeight - statusHeight
	if vpHeight < 3 {
		vpHeight = 3
	}

	if !m.ready {
		m.viewport = viewport.New(msg.Width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = msg.Width
		m.viewport.Height = vpHeight
	}
	m.input.SetWidth(msg.Width - 4)

	m.rebuildRenderer()
	m.refreshViewport(false)
	return m, nil
}

func (m *Model) showError(text string) {
	m.errText = text
}

func (m *Model) dismissErrorLater() tea.Cmd {
	return tea.Tick(errBannerTimeout, func(time.Time) tea.Msg {
		return ErrorDismissMsg{}
	})
}

// refreshViewport re-renders the transcript. With followTail the view
// pins to the bottom, tracking the stream.
func (m *Model) refreshViewport(followTail bool) {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderConversation())
	if followTail || atBottom {
		m.viewport.GotoBottom()
	}
}
