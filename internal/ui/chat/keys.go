// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the chat view key bindings.
type keyMap struct {
	Submit       key.Binding
	Cancel       key.Binding
	Quit         key.Binding
	NewConv      key.Binding
	ListConvs    key.Binding
	ClearConv    key.Binding
	ScrollUp     key.Binding
	ScrollDown   key.Binding
	ListUp       key.Binding
	ListDown     key.Binding
	ListSelect   key.Binding
	ListDelete   key.Binding
	ListDismiss  key.Binding
	ExportMd     key.Binding
	CycleModel   key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
		NewConv: key.NewBinding(
			key.WithKeys("ctrl+n"),
			key.WithHelp("ctrl+n", "new conversation"),
		),
		ListConvs: key.NewBinding(
			key.WithKeys("ctrl+o"),
			key.WithHelp("ctrl+o", "conversations"),
		),
		ClearConv: key.NewBinding(
			key.WithKeys("ctrl+x"),
			key.WithHelp("ctrl+x", "clear"),
		),
		ScrollUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("pgup", "scroll up"),
		),
		ScrollDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("pgdn", "scroll down"),
		),
		ListUp: key.NewBinding(
			key.WithKeys("up", "k"),
		),
		ListDown: key.NewBinding(
			key.WithKeys("down", "j"),
		),
		ListSelect: key.NewBinding(
			key.WithKeys("enter"),
		),
		ListDelete: key.NewBinding(
			key.WithKeys("d"),
		),
		ListDismiss: key.NewBinding(
			key.WithKeys("esc"),
		),
		ExportMd: key.NewBinding(
			key.WithKeys("ctrl+e"),
			key.WithHelp("ctrl+e", "export"),
		),
		CycleModel: key.NewBinding(
			key.WithKeys("ctrl+p"),
			key.WithHelp("ctrl+p", "model"),
		),
	}
}
