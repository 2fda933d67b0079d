// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/morganforge/parley/internal/model"
	"github.com/morganforge/parley/internal/storage"
)

// =============================================================================
// STORED FORM
// =============================================================================

// storedMessage is the persisted shape of a message. Streaming state
// never persists: an in-flight message is stored with whatever content
// it had at flush time and reloads as a plain finalized message.
type storedMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model,omitempty"`
}

type storedConversation struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Model     string          `json:"model,omitempty"`
	Messages  []storedMessage `json:"messages"`
}

// =============================================================================
// KV PERSISTER
// =============================================================================

// KVPersister mirrors conversations into the key-value store as one
// JSON document under storage.KeyConversations.
type KVPersister struct {
	kv *storage.KV
}

// NewKVPersister wraps kv.
func NewKVPersister(kv *storage.KV) *KVPersister {
	return &KVPersister{kv: kv}
}

// SaveConversations replaces the persisted conversation set.
func (p *KVPersister) SaveConversations(convs []storedConversation) error {
	data, err := json.Marshal(convs)
	if err != nil {
		return fmt.Errorf("failed to encode conversations: %w", err)
	}
	return p.kv.Put(context.Background(), storage.KeyConversations, data)
}

// LoadConversations reads the persisted set. A missing key is an empty
// set; a corrupt document is an error the caller degrades on.
func (p *KVPersister) LoadConversations() ([]*model.Conversation, error) {
	data, err := p.kv.Get(context.Background(), storage.KeyConversations)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var stored []storedConversation
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("corrupt conversation data: %w", err)
	}

	convs := make([]*model.Conversation, 0, len(stored))
	for _, sc := range stored {
		convs = append(convs, fromStored(sc))
	}
	return convs, nil
}

func toStored(conv *model.Conversation) storedConversation {
	sc := storedConversation{
		ID:        conv.ID,
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
		Model:     conv.Model,
		Messages:  make([]storedMessage, 0, len(conv.Messages)),
	}
	for _, msg := range conv.Messages {
		sc.Messages = append(sc.Messages, storedMessage{
			ID:        msg.ID,
			Role:      msg.Role.String(),
			Content:   msg.DisplayContent(),
			Timestamp: msg.Timestamp,
			Model:     msg.Model,
		})
	}
	return sc
}

func fromStored(sc storedConversation) *model.Conversation {
	conv := &model.Conversation{
		ID:        sc.ID,
		Title:     sc.Title,
		CreatedAt: sc.CreatedAt,
		UpdatedAt: sc.UpdatedAt,
		Model:     sc.Model,
		Messages:  make([]*model.Message, 0, len(sc.Messages)),
	}
	for _, sm := range sc.Messages {
		conv.Messages = append(conv.Messages, &model.Message{
			ID:        sm.ID,
			Role:      model.Role(sm.Role),
			Content:   sm.Content,
			Timestamp: sm.Timestamp,
			Model:     sm.Model,
		})
	}
	return conv
}
