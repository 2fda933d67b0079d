// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/morganforge/parley/internal/util"
)

// MaxMessages caps conversation history. Old messages are pruned past
// this to prevent unbounded memory growth.
const MaxMessages = 1000

// titlePreviewLen is how many runes of the first user message become
// the conversation title.
const titlePreviewLen = 50

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a complete chat conversation with history and metadata.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Messages []*Message `json:"messages"`

	// Model last used in this conversation.
	Model string `json:"model,omitempty"`
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        uuid.NewString(),
		Title:     "New Conversation",
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []*Message{},
	}
}

// =============================================================================
// CONVERSATION METHODS
// =============================================================================

// AddMessage appends a message, bumps UpdatedAt, and derives the title
// once the conversation has an exchange going.
func (c *Conversation) AddMessage(msg *Message) {
	c.Messages = append(c.Messages, msg)
	c.touch()
	c.updateTitle()
	c.pruneOldMessages()
}

// RemoveMessage deletes the message with the given ID, preserving order.
// Returns true if a message was removed.
func (c *Conversation) RemoveMessage(id string) bool {
	for i, msg := range c.Messages {
		if msg.ID == id {
			c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
			c.touch()
			return true
		}
	}
	return false
}

// FindMessage returns the message with the given ID, or nil.
func (c *Conversation) FindMessage(id string) *Message {
	for _, msg := range c.Messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// LastMessage returns the most recent message, or nil if empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// Clear removes all messages and resets the title.
func (c *Conversation) Clear() {
	c.Messages = []*Message{}
	c.Title = "New Conversation"
	c.touch()
}

// Window returns the most recent n messages in order. It is what goes
// on the wire: older history stays local only.
func (c *Conversation) Window(n int) []*Message {
	if n <= 0 || len(c.Messages) <= n {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}

// IsEmpty returns true when the conversation has no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// touch bumps UpdatedAt, keeping it monotonic even if the wall clock
// steps backwards.
func (c *Conversation) touch() {
	now := time.Now()
	if now.After(c.UpdatedAt) {
		c.UpdatedAt = now
	} else {
		c.UpdatedAt = c.UpdatedAt.Add(time.Nanosecond)
	}
}

// updateTitle derives the title from the first user message once a
// second message exists.
func (c *Conversation) updateTitle() {
	if c.Title != "New Conversation" || len(c.Messages) < 2 {
		return
	}
	for _, msg := range c.Messages {
		if msg.Role == RoleUser && !msg.IsEmpty() {
			c.Title = util.Preview(msg.Content, titlePreviewLen)
			return
		}
	}
}

// pruneOldMessages drops the oldest messages past MaxMessages.
func (c *Conversation) pruneOldMessages() {
	if len(c.Messages) <= MaxMessages {
		return
	}
	excess := len(c.Messages) - MaxMessages
	c.Messages = append([]*Message{}, c.Messages[excess:]...)
}
