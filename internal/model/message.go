// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
//
// Assistant messages are created in-flight: fragments accumulate in a
// builder until Finalize freezes them into Content. Finalized content
// never changes.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	Content string `json:"content"`

	// Model that produced an assistant message.
	Model string `json:"model,omitempty"`

	// Streaming state (not persisted)
	// PERFORMANCE: strings.Builder avoids quadratic allocations during streaming
	IsStreaming   bool            `json:"-"`
	streamContent strings.Builder `json:"-"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates an empty in-flight assistant message.
func NewAssistantMessage(model string) *Message {
	return &Message{
		ID:          uuid.NewString(),
		Role:        RoleAssistant,
		Model:       model,
		Timestamp:   time.Now(),
		IsStreaming: true,
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// AppendFragment appends streamed content to an in-flight message.
// Appends to a finalized message are dropped.
func (m *Message) AppendFragment(fragment string) {
	if m.IsStreaming {
		m.streamContent.WriteString(fragment)
	}
}

// Finalize freezes the accumulated stream into Content. Calling it
// again is a no-op, the first finalization wins.
func (m *Message) Finalize() {
	if !m.IsStreaming {
		return
	}
	m.Content = m.streamContent.String()
	m.streamContent.Reset()
	m.IsStreaming = false
}

// FinalizeWith discards anything accumulated so far and finalizes the
// message with the given content. Used for the fixed user-facing error
// text when a stream fails mid-flight. No-op on a finalized message.
func (m *Message) FinalizeWith(content string) {
	if !m.IsStreaming {
		return
	}
	m.streamContent.Reset()
	m.Content = content
	m.IsStreaming = false
}

// DisplayContent returns the content to render, streaming or final.
func (m *Message) DisplayContent() string {
	if m.IsStreaming {
		return m.streamContent.String()
	}
	return m.Content
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0 && m.streamContent.Len() == 0
}

// EstimateTokens gives a rough estimate of token count at ~4 chars per token.
func (m *Message) EstimateTokens() int {
	return (len(m.DisplayContent()) + 3) / 4
}
