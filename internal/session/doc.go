// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session drives chat turns and backend health.
//
// A Controller owns the lifecycle of one streaming turn at a time:
// it snapshots settings, appends the user message, opens the backend
// transport, applies fragments to the conversation store, and settles
// the turn as completed, aborted, or failed. A second send while a
// turn is active is rejected, never queued.
//
// # Key Types
//
//   - Controller: the turn state machine (Idle, Starting, Streaming)
//   - TurnConfig: per-turn settings snapshot, immune to mid-turn edits
//   - Transport: backend seam, swapped for a fake in tests
//   - HealthMonitor: background reachability probe for the local server
//
// # Concurrency
//
// Send returns immediately; the turn runs on its own goroutine and
// reports through the EventFn callback. Cancel is safe from any
// goroutine; fragments a transport had already read when the turn's
// context died are dropped, never applied to the store.
package session
