// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"testing"
)

func TestStreamingBufferDirtyCycle(t *testing.T) {
	b := NewStreamingBuffer()

	if b.TakeDirty() {
		t.Error("fresh buffer should not be dirty")
	}

	b.NoteFragment()
	b.NoteFragment()
	if !b.TakeDirty() {
		t.Error("buffer should be dirty after fragments")
	}
	if b.TakeDirty() {
		t.Error("TakeDirty should clear the flag")
	}

	b.NoteFragment()
	b.Reset()
	if b.TakeDirty() {
		t.Error("Reset should clear pending state")
	}
}

func TestStreamingBufferConcurrentFragments(t *testing.T) {
	b := NewStreamingBuffer()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.NoteFragment()
			}
		}()
	}
	wg.Wait()

	if !b.TakeDirty() {
		t.Error("buffer should be dirty after concurrent fragments")
	}
}
