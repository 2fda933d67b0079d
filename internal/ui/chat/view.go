// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/morganforge/parley/internal/config"
	"github.com/morganforge/parley/internal/model"
	"github.com/morganforge/parley/internal/store"
	"github.com/morganforge/parley/internal/util"
)

// View renders the full chat surface.
func (m *Model) View() string {
	if !m.ready {
		return "Starting parley..."
	}

	if m.mode == modeList {
		return m.renderListView()
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if m.errText != "" {
		b.WriteString(m.theme.ErrorBox.Width(m.width - 2).Render(m.errText))
		b.WriteString("\n")
	}
	b.WriteString(m.theme.InputContainer.Width(m.width - 2).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	return b.String()
}

// =============================================================================
// HEADER
// =============================================================================

func (m *Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render("parley")
	conv := m.store.Snapshot()
	sub := m.theme.Timestamp.Render(util.TruncateWidth(conv.Title, m.width-12))
	return m.theme.Header.Width(m.width).Render(title + "  " + sub)
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

func (m *Model) renderConversation() string {
	conv := m.store.Snapshot()
	if len(conv.Messages) == 0 {
		return m.theme.Timestamp.Render("\n  No messages yet. Type below and press enter.")
	}

	var b strings.Builder
	for _, msg := range conv.Messages {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderMessage(msg store.MessageView) string {
	label := m.roleLabel(msg)
	ts := m.theme.Timestamp.Render(msg.Timestamp.Format("15:04"))

	var body string
	switch {
	case msg.Streaming:
		// Raw text while streaming; markdown only once finalized.
		body = msg.Content
		if body == "" {
			body = m.theme.Spinner.Render(m.spin.View()) + " thinking..."
		} else {
			body += " " + m.theme.Spinner.Render(m.spin.View())
		}
	case msg.Role == model.RoleAssistant:
		body = strings.TrimRight(m.renderMarkdown(msg.Content), "\n")
	default:
		body = msg.Content
	}

	return label + " " + ts + "\n" + m.theme.MessageBody.Render(body) + "\n"
}

func (m *Model) roleLabel(msg store.MessageView) string {
	switch msg.Role {
	case model.RoleUser:
		return m.theme.UserLabel.Render(msg.Role.DisplayName())
	case model.RoleAssistant:
		name := msg.Role.DisplayName()
		if msg.Model != "" {
			name += " (" + msg.Model + ")"
		}
		return m.theme.AssistantLabel.Render(name)
	default:
		return m.theme.SystemLabel.Render(msg.Role.DisplayName())
	}
}

// =============================================================================
// STATUS BAR
// =============================================================================

func (m *Model) renderStatusBar() string {
	var parts []string

	cfg := config.Global()
	parts = append(parts, m.theme.StatusKey.Render(cfg.Backend))
	parts = append(parts, m.statusModel())

	if cfg.Backend == config.BackendLocal {
		parts = append(parts, m.renderHealthDot())
	}

	if m.controller.Busy() {
		parts = append(parts, m.theme.StateBadge.Render(m.controller.State().String()))
	}

	left := strings.Join(parts, " │ ")
	right := m.renderShortcuts()

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return m.theme.StatusBar.Render(left + strings.Repeat(" ", gap) + right)
}

func (m *Model) renderHealthDot() string {
	switch {
	case !m.healthKnown:
		return m.theme.Timestamp.Render("● ...")
	case m.healthy:
		return m.theme.HealthUp.Render("● up")
	default:
		return m.theme.HealthDown.Render("● down")
	}
}

func (m *Model) renderShortcuts() string {
	pairs := []struct{ k, d string }{
		{"enter", "send"},
		{"esc", "cancel"},
		{"^n", "new"},
		{"^o", "list"},
		{"^e", "export"},
		{"^c", "quit"},
	}
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(m.theme.ShortcutKey.Render(p.k))
		b.WriteString(" ")
		b.WriteString(m.theme.ShortcutDesc.Render(p.d))
	}
	return b.String()
}

// =============================================================================
// CONVERSATION LIST
// =============================================================================

func (m *Model) renderListView() string {
	var b strings.Builder
	b.WriteString(m.theme.Header.Width(m.width).Render(
		m.theme.HeaderTitle.Render("Conversations")))
	b.WriteString("\n\n")

	if len(m.listRows) == 0 {
		b.WriteString(m.theme.Timestamp.Render("  No saved conversations."))
		b.WriteString("\n")
	}

	for i, row := range m.listRows {
		line := fmt.Sprintf("%s  %s",
			util.TruncateWidth(row.Title, m.width-30),
			m.theme.ListMeta.Render(fmt.Sprintf("%d msgs · %s",
				row.MessageCount, row.UpdatedAt.Format("Jan 2 15:04"))))
		if i == m.listCursor {
			b.WriteString(m.theme.ListSelected.Render("▸ " + line))
		} else {
			b.WriteString(m.theme.ListItem.Render("  " + line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.theme.StatusBar.Render(
		m.theme.ShortcutKey.Render("enter") + " " + m.theme.ShortcutDesc.Render("open") + "  " +
			m.theme.ShortcutKey.Render("d") + " " + m.theme.ShortcutDesc.Render("delete") + "  " +
			m.theme.ShortcutKey.Render("esc") + " " + m.theme.ShortcutDesc.Render("back")))
	return b.String()
}
