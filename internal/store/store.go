// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store owns conversation state: the in-memory source of truth
// plus a debounced durable mirror in the key-value store.
//
// All reads and writes go through the in-memory state; persistence is
// asynchronous and write-behind. A flush failure never fails the
// mutation that scheduled it.
package store

import (
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/morganforge/parley/internal/model"
	"github.com/morganforge/parley/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrStreamActive indicates an assistant message is already in flight.
	ErrStreamActive = errors.New("a response is already streaming")

	// ErrMessageNotFound indicates the message is absent, typically
	// because the turn was cancelled. Benign for fragment delivery.
	ErrMessageNotFound = errors.New("message not found")

	// ErrConversationNotFound indicates an unknown conversation ID.
	ErrConversationNotFound = errors.New("conversation not found")
)

// MaxConversations caps how many conversations are retained. The
// least recently updated are evicted first.
const MaxConversations = 100

// flushDelay is the persistence debounce window. Rapid mutations
// during streaming coalesce into one write.
const flushDelay = 500 * time.Millisecond

// =============================================================================
// STORE
// =============================================================================

// Meta is a conversation list row.
type Meta struct {
	ID           string
	Title        string
	UpdatedAt    time.Time
	MessageCount int
}

// Store holds every conversation and the identity of the in-flight
// assistant message, if any. Safe for concurrent use.
type Store struct {
	mu            sync.Mutex
	conversations map[string]*model.Conversation
	current       *model.Conversation
	inFlightID    string

	persist    Persister
	flushTimer *time.Timer
	closed     bool
}

// Persister is the durable mirror the store writes behind. Saves take
// the immutable stored form: live messages carry builders the
// streaming goroutine writes, so the snapshot happens under the store
// lock and only the copy leaves it. Satisfied by *KVPersister and by
// test fakes.
type Persister interface {
	SaveConversations(convs []storedConversation) error
	LoadConversations() ([]*model.Conversation, error)
}

// New creates a store backed by p, loading whatever state survived the
// last run. Corrupt or missing persisted data degrades to an empty
// store and is logged, never surfaced.
func New(p Persister) *Store {
	s := &Store{
		conversations: make(map[string]*model.Conversation),
		persist:       p,
	}

	if p != nil {
		convs, err := p.LoadConversations()
		if err != nil {
			log.Printf("store: starting empty, could not load conversations: %v", err)
		}
		for _, conv := range convs {
			s.conversations[conv.ID] = conv
		}
	}

	s.current = model.NewConversation()
	s.conversations[s.current.ID] = s.current
	return s
}

// Current returns the active conversation.
func (s *Store) Current() *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// InFlightID returns the ID of the streaming assistant message, or "".
func (s *Store) InFlightID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlightID
}

// MessageView is an immutable display copy of one message.
type MessageView struct {
	ID        string
	Role      model.Role
	Timestamp time.Time
	Model     string
	Content   string
	Streaming bool
}

// ConversationView is an immutable display copy of a conversation.
type ConversationView struct {
	ID       string
	Title    string
	Messages []MessageView
}

// Snapshot returns a display copy of the active conversation. The
// copy is safe to read while the streaming goroutine appends
// fragments; live message pointers are not.
func (s *Store) Snapshot() ConversationView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := ConversationView{
		ID:       s.current.ID,
		Title:    s.current.Title,
		Messages: make([]MessageView, 0, len(s.current.Messages)),
	}
	for _, msg := range s.current.Messages {
		view.Messages = append(view.Messages, MessageView{
			ID:        msg.ID,
			Role:      msg.Role,
			Timestamp: msg.Timestamp,
			Model:     msg.Model,
			Content:   msg.DisplayContent(),
			Streaming: msg.IsStreaming,
		})
	}
	return view
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// AppendUserMessage appends a finalized user message to the active
// conversation.
func (s *Store) AppendUserMessage(content string) *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := model.NewUserMessage(content)
	s.current.AddMessage(msg)
	s.scheduleFlushLocked()
	return msg
}

// BeginAssistantMessage creates an empty in-flight assistant message.
// Only one may be in flight at a time; a second Begin while one is
// active returns ErrStreamActive.
func (s *Store) BeginAssistantMessage(modelName string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlightID != "" {
		return nil, ErrStreamActive
	}

	msg := model.NewAssistantMessage(modelName)
	s.current.AddMessage(msg)
	s.inFlightID = msg.ID
	s.scheduleFlushLocked()
	return msg, nil
}

// AppendFragment appends streamed content to the in-flight message.
// Returns ErrMessageNotFound when the message no longer exists, which
// callers treat as a benign signal that the turn was cancelled.
func (s *Store) AppendFragment(messageID, fragment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.current.FindMessage(messageID)
	if msg == nil {
		return ErrMessageNotFound
	}
	msg.AppendFragment(fragment)
	s.scheduleFlushLocked()
	return nil
}

// FinalizeMessage freezes the in-flight message. Finalizing an already
// finalized message is a no-op; finalizing a missing one returns
// ErrMessageNotFound.
func (s *Store) FinalizeMessage(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.current.FindMessage(messageID)
	if msg == nil {
		return ErrMessageNotFound
	}
	msg.Finalize()
	if s.inFlightID == messageID {
		s.inFlightID = ""
	}
	s.scheduleFlushLocked()
	return nil
}

// FailMessage replaces whatever has streamed so far with the given
// user-facing text and finalizes. No-op on an already finalized message.
func (s *Store) FailMessage(messageID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.current.FindMessage(messageID)
	if msg == nil {
		return ErrMessageNotFound
	}
	msg.FinalizeWith(text)
	if s.inFlightID == messageID {
		s.inFlightID = ""
	}
	s.scheduleFlushLocked()
	return nil
}

// DiscardMessage removes an in-flight message entirely. Used on
// cancellation: the aborted response must not appear in history.
func (s *Store) DiscardMessage(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current.RemoveMessage(messageID)
	if s.inFlightID == messageID {
		s.inFlightID = ""
	}
	s.scheduleFlushLocked()
}

// Clear removes all messages from the active conversation.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current.Clear()
	s.inFlightID = ""
	s.scheduleFlushLocked()
}

// =============================================================================
// CONVERSATION OPERATIONS
// =============================================================================

// NewConversation starts a fresh active conversation. Empty previous
// conversations are dropped rather than kept as clutter.
func (s *Store) NewConversation() *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.IsEmpty() {
		delete(s.conversations, s.current.ID)
	}
	s.current = model.NewConversation()
	s.conversations[s.current.ID] = s.current
	s.inFlightID = ""
	s.enforceLimitLocked()
	s.scheduleFlushLocked()
	return s.current
}

// Switch makes the conversation with the given ID active.
func (s *Store) Switch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	if s.current != nil && s.current.IsEmpty() && s.current.ID != id {
		delete(s.conversations, s.current.ID)
	}
	s.current = conv
	s.inFlightID = ""
	return nil
}

// Delete removes a conversation. Deleting the active one starts a
// fresh conversation in its place.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return ErrConversationNotFound
	}
	delete(s.conversations, id)
	if s.current != nil && s.current.ID == id {
		s.current = model.NewConversation()
		s.conversations[s.current.ID] = s.current
		s.inFlightID = ""
	}
	s.scheduleFlushLocked()
	return nil
}

// List returns metadata for all non-empty conversations, most recently
// updated first.
func (s *Store) List() []Meta {
	s.mu.Lock()
	defer s.mu.Unlock()

	metas := make([]Meta, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if conv.IsEmpty() && conv != s.current {
			continue
		}
		metas = append(metas, Meta{
			ID:           conv.ID,
			Title:        conv.Title,
			UpdatedAt:    conv.UpdatedAt,
			MessageCount: len(conv.Messages),
		})
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas
}

// Search returns conversations whose title or message content contains
// the query, case-insensitive, most recently updated first.
func (s *Store) Search(query string) []Meta {
	s.mu.Lock()
	q := strings.ToLower(strings.TrimSpace(query))
	var metas []Meta
	for _, conv := range s.conversations {
		if q == "" || conversationMatches(conv, q) {
			metas = append(metas, Meta{
				ID:           conv.ID,
				Title:        conv.Title,
				UpdatedAt:    conv.UpdatedAt,
				MessageCount: len(conv.Messages),
			})
		}
	}
	s.mu.Unlock()

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas
}

func conversationMatches(conv *model.Conversation, q string) bool {
	if strings.Contains(strings.ToLower(conv.Title), q) {
		return true
	}
	for _, msg := range conv.Messages {
		if strings.Contains(strings.ToLower(msg.DisplayContent()), q) {
			return true
		}
	}
	return false
}

// Get returns a conversation by ID.
func (s *Store) Get(id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

// enforceLimitLocked evicts the least recently updated conversations
// past MaxConversations. The active conversation is never evicted.
func (s *Store) enforceLimitLocked() {
	if len(s.conversations) <= MaxConversations {
		return
	}
	type aged struct {
		id string
		at time.Time
	}
	var all []aged
	for id, conv := range s.conversations {
		if s.current != nil && id == s.current.ID {
			continue
		}
		all = append(all, aged{id, conv.UpdatedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	excess := len(s.conversations) - MaxConversations
	for i := 0; i < excess && i < len(all); i++ {
		delete(s.conversations, all[i].id)
	}
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// scheduleFlushLocked arms (or re-arms) the debounced flush.
// Callers must hold s.mu.
func (s *Store) scheduleFlushLocked() {
	if s.persist == nil || s.closed {
		return
	}
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	s.flushTimer = time.AfterFunc(flushDelay, func() {
		if err := s.Flush(); err != nil {
			log.Printf("store: flush failed: %v", err)
		}
	})
}

// Flush writes the full conversation set to the durable mirror now.
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.persist == nil {
		s.mu.Unlock()
		return nil
	}
	snapshot := make([]storedConversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if !conv.IsEmpty() {
			snapshot = append(snapshot, toStored(conv))
		}
	}
	s.mu.Unlock()

	// Only the copy crosses the lock boundary; the SQLite write can
	// take as long as it likes.
	return s.persist.SaveConversations(snapshot)
}

// Close flushes pending state and stops the debounce timer.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.mu.Unlock()
	return s.Flush()
}

// Preview returns a short display string for a conversation row.
func (m Meta) Preview() string {
	return util.TruncateRunes(m.Title, 60)
}
