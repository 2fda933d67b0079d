// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// This file batches streamed fragments for flicker-free rendering. A
// stream can deliver hundreds of fragments per second; re-rendering on
// each would burn CPU and flicker, so the view repaints on a capped
// tick instead.

package chat

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// streamFPS caps the streaming repaint rate.
const streamFPS = 30

// streamTickInterval is the repaint period, ~33ms at 30fps.
const streamTickInterval = time.Second / streamFPS

// StreamingBuffer accumulates fragments between repaints.
// Fragments land from the controller goroutine while rendering happens
// on the Bubble Tea loop, so all access is mutex-guarded.
type StreamingBuffer struct {
	mu      sync.Mutex
	pending int
	dirty   bool
}

// NewStreamingBuffer creates an empty buffer.
func NewStreamingBuffer() *StreamingBuffer {
	return &StreamingBuffer{}
}

// NoteFragment records that new content arrived since the last repaint.
func (b *StreamingBuffer) NoteFragment() {
	b.mu.Lock()
	b.pending++
	b.dirty = true
	b.mu.Unlock()
}

// TakeDirty reports whether a repaint is due and resets the flag.
func (b *StreamingBuffer) TakeDirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	dirty := b.dirty
	b.dirty = false
	return dirty
}

// Reset clears all state at turn boundaries.
func (b *StreamingBuffer) Reset() {
	b.mu.Lock()
	b.pending = 0
	b.dirty = false
	b.mu.Unlock()
}

// streamTickCmd schedules the next streaming repaint.
func streamTickCmd() tea.Cmd {
	return tea.Tick(streamTickInterval, func(t time.Time) tea.Msg {
		return StreamTickMsg{Time: t}
	})
}
