// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"

	"github.com/morganforge/parley/internal/cloud"
	"github.com/morganforge/parley/internal/config"
	"github.com/morganforge/parley/internal/local"
	"github.com/morganforge/parley/internal/model"
)

// Transport carries one turn to a backend and streams fragments back.
// When streaming is disabled in settings the whole response arrives as
// a single fragment.
type Transport interface {
	StreamTurn(ctx context.Context, turn TurnConfig, history []*model.Message, onFragment func(fragment string) error) error
}

// defaultTransport picks the backend the turn snapshot names.
func defaultTransport(turn TurnConfig) Transport {
	if turn.Backend == config.BackendCloud {
		return &cloudTransport{
			client: cloud.NewClient(turn.APIKey).WithBaseURL(turn.CloudBaseURL),
		}
	}
	return &localTransport{
		client: local.NewClientWithConfig(&local.Config{BaseURL: turn.LocalURL}),
	}
}

// =============================================================================
// CLOUD TRANSPORT
// =============================================================================

type cloudTransport struct {
	client *cloud.Client
}

func (t *cloudTransport) StreamTurn(ctx context.Context, turn TurnConfig, history []*model.Message, onFragment func(string) error) error {
	req := cloud.ChatRequest{
		Model:       turn.Model,
		Messages:    toCloudMessages(history),
		Temperature: turn.Temperature,
		MaxTokens:   turn.MaxTokens,
	}

	if !turn.StreamingEnabled {
		resp, err := t.client.Chat(ctx, req)
		if err != nil {
			return err
		}
		return onFragment(resp.GetContent())
	}
	return t.client.ChatStream(ctx, req, onFragment)
}

func toCloudMessages(history []*model.Message) []cloud.ChatMessage {
	msgs := make([]cloud.ChatMessage, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, cloud.ChatMessage{
			Role:    m.Role.String(),
			Content: m.DisplayContent(),
		})
	}
	return msgs
}

// =============================================================================
// LOCAL TRANSPORT
// =============================================================================

type localTransport struct {
	client *local.Client
}

func (t *localTransport) StreamTurn(ctx context.Context, turn TurnConfig, history []*model.Message, onFragment func(string) error) error {
	req := local.ChatRequest{
		Model:    turn.Model,
		Messages: toLocalMessages(history),
	}
	if turn.Temperature != 0 || turn.MaxTokens != 0 {
		req.Options = &local.Options{
			Temperature: turn.Temperature,
			NumPredict:  turn.MaxTokens,
		}
	}

	if !turn.StreamingEnabled {
		resp, err := t.client.Chat(ctx, req)
		if err != nil {
			return err
		}
		return onFragment(resp.Message.Content)
	}
	return t.client.ChatStream(ctx, req, onFragment)
}

func toLocalMessages(history []*model.Message) []local.Message {
	msgs := make([]local.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, local.Message{
			Role:    m.Role.String(),
			Content: m.DisplayContent(),
		})
	}
	return msgs
}
