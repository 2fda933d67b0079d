// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// This file defines the Bubble Tea message types the chat interface
// consumes. Controller and health events arrive over a channel and are
// re-delivered as these messages.

package chat

import (
	"time"

	"github.com/morganforge/parley/internal/local"
	"github.com/morganforge/parley/internal/session"
)

// =============================================================================
// TURN MESSAGES
// =============================================================================

// TurnEventMsg wraps one controller event.
type TurnEventMsg struct {
	Event session.Event
}

// HealthMsg reports the local server health probe result.
type HealthMsg struct {
	Status session.HealthStatus
}

// SettingsReloadedMsg signals that configuration changed on disk.
type SettingsReloadedMsg struct{}

// =============================================================================
// MODEL LIST MESSAGES
// =============================================================================

// ModelsMsg delivers the list of locally installed models.
type ModelsMsg struct {
	Models []local.ModelInfo
	Error  error
}

// =============================================================================
// RENDER MESSAGES
// =============================================================================

// StreamTickMsg drives the streaming render loop while a response is
// in flight.
type StreamTickMsg struct {
	Time time.Time
}

// ErrorDismissMsg clears the transient error banner.
type ErrorDismissMsg struct{}
