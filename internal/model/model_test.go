// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strconv"
	"testing"
)

func TestMessageAppendAndFinalize(t *testing.T) {
	msg := NewAssistantMessage("test-model")
	if !msg.IsStreaming {
		t.Fatal("new assistant message should be streaming")
	}

	msg.AppendFragment("He")
	msg.AppendFragment("llo")
	msg.AppendFragment(" there")

	if got := msg.DisplayContent(); got != "Hello there" {
		t.Errorf("DisplayContent = %q, want %q", got, "Hello there")
	}

	msg.Finalize()
	if msg.IsStreaming {
		t.Error("message still streaming after Finalize")
	}
	if msg.Content != "Hello there" {
		t.Errorf("Content = %q, want %q", msg.Content, "Hello there")
	}
}

func TestMessageFinalizeIdempotent(t *testing.T) {
	msg := NewAssistantMessage("m")
	msg.AppendFragment("done")
	msg.Finalize()

	// Further finalizes and appends change nothing.
	msg.Finalize()
	msg.AppendFragment(" extra")
	msg.Finalize()

	if msg.Content != "done" {
		t.Errorf("Content = %q, want %q", msg.Content, "done")
	}
}

func TestMessageEmptyFragments(t *testing.T) {
	msg := NewAssistantMessage("m")
	msg.AppendFragment("")
	msg.AppendFragment("a")
	msg.AppendFragment("")
	msg.Finalize()

	if msg.Content != "a" {
		t.Errorf("Content = %q, want %q", msg.Content, "a")
	}
}

func TestMessageFinalizeEmpty(t *testing.T) {
	msg := NewAssistantMessage("m")
	msg.Finalize()

	if msg.IsStreaming {
		t.Error("still streaming")
	}
	if msg.Content != "" {
		t.Errorf("Content = %q, want empty", msg.Content)
	}
}

func TestMessageFinalizeWith(t *testing.T) {
	msg := NewAssistantMessage("m")
	msg.AppendFragment("partial resp")
	msg.FinalizeWith("Sorry, something went wrong.")

	if msg.Content != "Sorry, something went wrong." {
		t.Errorf("Content = %q, want replacement text", msg.Content)
	}

	// Already finalized: replacement path is a no-op too.
	msg.FinalizeWith("other")
	if msg.Content != "Sorry, something went wrong." {
		t.Errorf("FinalizeWith mutated finalized message: %q", msg.Content)
	}
}

func TestConversationTitleDerivation(t *testing.T) {
	conv := NewConversation()
	if conv.Title != "New Conversation" {
		t.Fatalf("initial title = %q", conv.Title)
	}

	conv.AddMessage(NewUserMessage("What is the airspeed velocity of an unladen swallow?"))
	// One message is not yet an exchange.
	if conv.Title != "New Conversation" {
		t.Errorf("title derived too early: %q", conv.Title)
	}

	reply := NewAssistantMessage("m")
	reply.AppendFragment("African or European?")
	reply.Finalize()
	conv.AddMessage(reply)

	if conv.Title == "New Conversation" {
		t.Error("title not derived after second message")
	}
	if len([]rune(conv.Title)) > 50 {
		t.Errorf("title too long: %q", conv.Title)
	}
}

func TestConversationUpdatedAtMonotonic(t *testing.T) {
	conv := NewConversation()
	prev := conv.UpdatedAt
	for i := 0; i < 100; i++ {
		conv.AddMessage(NewUserMessage("msg " + strconv.Itoa(i)))
		if !conv.UpdatedAt.After(prev) {
			t.Fatalf("UpdatedAt not strictly increasing at message %d", i)
		}
		prev = conv.UpdatedAt
	}
}

func TestConversationClear(t *testing.T) {
	conv := NewConversation()
	conv.AddMessage(NewUserMessage("hello"))
	conv.AddMessage(NewMessage(RoleAssistant, "hi"))
	before := conv.UpdatedAt

	conv.Clear()
	if !conv.IsEmpty() {
		t.Error("messages remain after Clear")
	}
	if conv.Title != "New Conversation" {
		t.Errorf("title not reset: %q", conv.Title)
	}
	if !conv.UpdatedAt.After(before) {
		t.Error("Clear did not bump UpdatedAt")
	}
}

func TestConversationRemoveMessage(t *testing.T) {
	conv := NewConversation()
	a := NewUserMessage("a")
	b := NewUserMessage("b")
	c := NewUserMessage("c")
	conv.AddMessage(a)
	conv.AddMessage(b)
	conv.AddMessage(c)

	if !conv.RemoveMessage(b.ID) {
		t.Fatal("RemoveMessage returned false for existing message")
	}
	if conv.RemoveMessage(b.ID) {
		t.Error("RemoveMessage returned true for missing message")
	}
	if len(conv.Messages) != 2 || conv.Messages[0] != a || conv.Messages[1] != c {
		t.Error("order not preserved after removal")
	}
}

func TestConversationWindow(t *testing.T) {
	conv := NewConversation()
	for i := 0; i < 25; i++ {
		conv.AddMessage(NewUserMessage("msg " + strconv.Itoa(i)))
	}

	win := conv.Window(10)
	if len(win) != 10 {
		t.Fatalf("window size = %d, want 10", len(win))
	}
	if win[0].Content != "msg 15" || win[9].Content != "msg 24" {
		t.Errorf("window holds wrong span: first=%q last=%q", win[0].Content, win[9].Content)
	}

	// Window larger than history returns everything.
	if got := conv.Window(100); len(got) != 25 {
		t.Errorf("oversized window = %d messages, want 25", len(got))
	}
}

func TestConversationPrune(t *testing.T) {
	conv := NewConversation()
	for i := 0; i < MaxMessages+10; i++ {
		conv.AddMessage(NewUserMessage("msg " + strconv.Itoa(i)))
	}
	if len(conv.Messages) != MaxMessages {
		t.Errorf("messages = %d, want %d", len(conv.Messages), MaxMessages)
	}
	if conv.Messages[0].Content != "msg 10" {
		t.Errorf("oldest surviving message = %q, want %q", conv.Messages[0].Content, "msg 10")
	}
}
