// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/morganforge/parley/internal/cloud"
	"github.com/morganforge/parley/internal/config"
	"github.com/morganforge/parley/internal/local"
	"github.com/morganforge/parley/internal/model"
	"github.com/morganforge/parley/internal/store"
)

// fakeTransport replays a scripted stream and records what the
// controller sent it.
type fakeTransport struct {
	mu        sync.Mutex
	fragments []string
	err       error
	gate      chan struct{} // when non-nil, each fragment waits for a tick

	gotTurn    TurnConfig
	gotHistory []*model.Message
}

func (f *fakeTransport) StreamTurn(ctx context.Context, turn TurnConfig, history []*model.Message, onFragment func(string) error) error {
	f.mu.Lock()
	f.gotTurn = turn
	f.gotHistory = history
	f.mu.Unlock()

	for _, frag := range f.fragments {
		if f.gate != nil {
			select {
			case <-f.gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := onFragment(frag); err != nil {
			return err
		}
	}
	if f.err != nil {
		return f.err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return nil
}

type harness struct {
	store      *store.Store
	controller *Controller
	events     chan Event
	transport  *fakeTransport
}

func newHarness(t *testing.T, transport *fakeTransport) *harness {
	t.Helper()
	st := store.New(nil)
	events := make(chan Event, 64)
	c := NewController(st, func(ev Event) { events <- ev }).
		WithSettings(func() *config.Config { return config.Default() }).
		WithTransport(func(TurnConfig) Transport { return transport })
	return &harness{store: st, controller: c, events: events, transport: transport}
}

func (h *harness) waitTurnEnd(t *testing.T) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.Kind == EventTurnEnded {
				return ev
			}
		case <-deadline:
			t.Fatal("turn did not end")
		}
	}
}

func TestSendStreamsAndFinalizes(t *testing.T) {
	h := newHarness(t, &fakeTransport{fragments: []string{"He", "llo", " there"}})

	if err := h.controller.Send("greet me"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	end := h.waitTurnEnd(t)
	if end.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v, want completed", end.Outcome)
	}

	msgs := h.store.Current().Messages
	if len(msgs) != 2 {
		t.Fatalf("conversation has %d messages, want 2", len(msgs))
	}
	asst := msgs[1]
	if asst.IsStreaming {
		t.Error("assistant message not finalized")
	}
	if asst.Content != "Hello there" {
		t.Errorf("content = %q, want %q", asst.Content, "Hello there")
	}
	if h.controller.State() != StateIdle {
		t.Errorf("state = %v, want idle", h.controller.State())
	}
}

func TestSendRejectsEmptyInput(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	for _, input := range []string{"", "   ", "\n\t "} {
		if err := h.controller.Send(input); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("Send(%q) = %v, want ErrEmptyInput", input, err)
		}
	}
	if len(h.store.Current().Messages) != 0 {
		t.Error("empty input appended messages")
	}
}

func TestSecondSendRejected(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, &fakeTransport{fragments: []string{"slow"}, gate: gate})

	if err := h.controller.Send("first"); err != nil {
		t.Fatalf("first Send failed: %v", err)
	}
	if err := h.controller.Send("second"); !errors.Is(err, ErrStreamActive) {
		t.Errorf("second Send = %v, want ErrStreamActive", err)
	}

	close(gate)
	h.waitTurnEnd(t)

	// The rejected send left no trace.
	for _, msg := range h.store.Current().Messages {
		if msg.Content == "second" {
			t.Error("rejected input appeared in conversation")
		}
	}

	// Idle again: a new send works.
	if err := h.controller.Send("third"); err != nil {
		t.Errorf("Send after turn end failed: %v", err)
	}
	h.waitTurnEnd(t)
}

func TestCancelDiscardsMessage(t *testing.T) {
	gate := make(chan struct{}, 1)
	h := newHarness(t, &fakeTransport{fragments: []string{"partial", " answer"}, gate: gate})

	if err := h.controller.Send("question"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	gate <- struct{}{} // let one fragment through

	// Wait for the fragment to land before cancelling.
	deadline := time.After(5 * time.Second)
	for {
		var ev Event
		select {
		case ev = <-h.events:
		case <-deadline:
			t.Fatal("no fragment arrived")
		}
		if ev.Kind == EventFragment {
			break
		}
	}

	h.controller.Cancel()
	end := h.waitTurnEnd(t)
	if end.Outcome != OutcomeAborted {
		t.Fatalf("outcome = %v, want aborted", end.Outcome)
	}

	msgs := h.store.Current().Messages
	if len(msgs) != 1 {
		t.Fatalf("conversation has %d messages, want only the user message", len(msgs))
	}
	if msgs[0].Role != model.RoleUser {
		t.Errorf("surviving message role = %v", msgs[0].Role)
	}
	if h.controller.State() != StateIdle {
		t.Errorf("state = %v, want idle", h.controller.State())
	}
}

func TestFailureProducesSingleErrorMessage(t *testing.T) {
	h := newHarness(t, &fakeTransport{err: cloud.ErrAuthFailed})

	if err := h.controller.Send("hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	end := h.waitTurnEnd(t)
	if end.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", end.Outcome)
	}
	if !errors.Is(end.Err, cloud.ErrAuthFailed) {
		t.Errorf("event error = %v, want ErrAuthFailed", end.Err)
	}

	// Exactly user message plus one finalized error message.
	msgs := h.store.Current().Messages
	if len(msgs) != 2 {
		t.Fatalf("conversation has %d messages, want 2", len(msgs))
	}
	asst := msgs[1]
	if asst.Content != FailureText {
		t.Errorf("content = %q, want fixed failure text", asst.Content)
	}
	if asst.IsStreaming {
		t.Error("failed message not finalized")
	}
}

func TestFailureMidStreamReplacesPartial(t *testing.T) {
	h := newHarness(t, &fakeTransport{fragments: []string{"half an ans"}, err: errors.New("connection reset")})

	if err := h.controller.Send("hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	end := h.waitTurnEnd(t)
	if end.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", end.Outcome)
	}

	asst := h.store.Current().Messages[1]
	if asst.Content != FailureText {
		t.Errorf("partial content survived failure: %q", asst.Content)
	}
}

func TestEmptyStreamFinalizesEmptyMessage(t *testing.T) {
	h := newHarness(t, &fakeTransport{})

	if err := h.controller.Send("hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	end := h.waitTurnEnd(t)
	if end.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v, want completed", end.Outcome)
	}

	asst := h.store.Current().Messages[1]
	if asst.IsStreaming {
		t.Error("message not finalized")
	}
	if asst.Content != "" {
		t.Errorf("content = %q, want empty", asst.Content)
	}
}

func TestTurnUsesSettingsSnapshot(t *testing.T) {
	cfg := config.Default()
	cfg.SelectedModel = "model-at-send"
	cfg.Temperature = 0.3

	gate := make(chan struct{}, 1)
	transport := &fakeTransport{fragments: []string{"x"}, gate: gate}
	st := store.New(nil)
	events := make(chan Event, 64)
	c := NewController(st, func(ev Event) { events <- ev }).
		WithSettings(func() *config.Config { return cfg }).
		WithTransport(func(TurnConfig) Transport { return transport })

	if err := c.Send("hi"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Mutate settings mid-turn.
	cfg.SelectedModel = "model-after-edit"
	cfg.Temperature = 1.9
	gate <- struct{}{}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventTurnEnded {
				transport.mu.Lock()
				defer transport.mu.Unlock()
				if transport.gotTurn.Model != "model-at-send" {
					t.Errorf("turn model = %q, want snapshot value", transport.gotTurn.Model)
				}
				if transport.gotTurn.Temperature != 0.3 {
					t.Errorf("turn temperature = %g, want snapshot value", transport.gotTurn.Temperature)
				}
				return
			}
		case <-deadline:
			t.Fatal("turn did not end")
		}
	}
}

func TestHistoryWindowAndPlaceholderExclusion(t *testing.T) {
	transport := &fakeTransport{fragments: []string{"ok"}}
	h := newHarness(t, transport)

	// Build up more history than the window carries.
	for i := 0; i < 15; i++ {
		h.store.AppendUserMessage("old message")
	}

	if err := h.controller.Send("newest"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	h.waitTurnEnd(t)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	cfgWindow := config.Default().HistoryWindow
	if len(transport.gotHistory) > cfgWindow {
		t.Errorf("wire history has %d messages, window is %d", len(transport.gotHistory), cfgWindow)
	}
	for _, msg := range transport.gotHistory {
		if msg.Role == model.RoleAssistant && msg.IsStreaming {
			t.Error("in-flight placeholder leaked onto the wire")
		}
	}
	last := transport.gotHistory[len(transport.gotHistory)-1]
	if last.Content != "newest" {
		t.Errorf("last wire message = %q, want the new input", last.Content)
	}
}

func TestHealthMonitor(t *testing.T) {
	var healthy bool = true
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ok := healthy
		mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	statuses := make(chan HealthStatus, 16)
	client := local.NewClientWithConfig(&local.Config{BaseURL: server.URL})
	monitor := NewHealthMonitor(client, 50*time.Millisecond, func(s HealthStatus) { statuses <- s })
	monitor.Start()
	defer monitor.Stop()

	select {
	case s := <-statuses:
		if !s.Healthy {
			t.Errorf("first probe unhealthy: %v", s.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no probe ran")
	}

	mu.Lock()
	healthy = false
	mu.Unlock()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-statuses:
			if !s.Healthy {
				if monitor.Last().Healthy {
					t.Error("Last() disagrees with callback")
				}
				return
			}
		case <-deadline:
			t.Fatal("monitor never noticed the server going down")
		}
	}
}

// tailTransport delivers one more fragment after the context dies,
// the way a decoder hands over lines it had already buffered when the
// stream was torn down.
type tailTransport struct {
	applied chan error
}

func (f *tailTransport) StreamTurn(ctx context.Context, _ TurnConfig, _ []*model.Message, onFragment func(string) error) error {
	if err := onFragment("partial"); err != nil {
		return err
	}
	<-ctx.Done()
	f.applied <- onFragment("buffered tail")
	return ctx.Err()
}

func TestCancelDropsBufferedFragments(t *testing.T) {
	tr := &tailTransport{applied: make(chan error, 1)}
	st := store.New(nil)
	events := make(chan Event, 64)
	c := NewController(st, func(ev Event) { events <- ev }).
		WithSettings(func() *config.Config { return config.Default() }).
		WithTransport(func(TurnConfig) Transport { return tr })

	if err := c.Send("question"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Wait for the first fragment, then abort.
	deadline := time.After(5 * time.Second)
	for {
		var ev Event
		select {
		case ev = <-events:
		case <-deadline:
			t.Fatal("no fragment arrived")
		}
		if ev.Kind == EventFragment {
			break
		}
	}
	c.Cancel()

	select {
	case err := <-tr.applied:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("post-cancel fragment accepted, err = %v", err)
		}
	case <-deadline:
		t.Fatal("transport never delivered its buffered fragment")
	}

	// Drain to the turn end; nothing after the abort may be a fragment.
	for {
		var ev Event
		select {
		case ev = <-events:
		case <-deadline:
			t.Fatal("turn did not end")
		}
		if ev.Kind == EventFragment {
			t.Errorf("fragment event emitted after cancel: %q", ev.Fragment)
		}
		if ev.Kind == EventTurnEnded {
			if ev.Outcome != OutcomeAborted {
				t.Errorf("outcome = %v, want aborted", ev.Outcome)
			}
			break
		}
	}

	msgs := st.Current().Messages
	if len(msgs) != 1 {
		t.Fatalf("conversation has %d messages, want only the user message", len(msgs))
	}
}

func TestShutdownDrainReleasesTurn(t *testing.T) {
	tr := &fakeTransport{fragments: []string{"a", "b", "c", "d"}}
	st := store.New(nil)
	// Tiny buffer and no reader: the turn wedges on emit the way it
	// would against a UI that already exited.
	events := make(chan Event, 1)
	c := NewController(st, func(ev Event) { events <- ev }).
		WithSettings(func() *config.Config { return config.Default() }).
		WithTransport(func(TurnConfig) Transport { return tr })

	if err := c.Send("hi"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Shutdown path: cancel, then drain until the turn lets go.
	c.Cancel()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-events:
			case <-stop:
				return
			}
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for c.State() != StateIdle {
		if time.Now().After(deadline) {
			t.Fatal("turn goroutine never released after cancel and drain")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthMonitorRestart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	statuses := make(chan HealthStatus, 8)
	client := local.NewClientWithConfig(&local.Config{BaseURL: server.URL})
	monitor := NewHealthMonitor(client, time.Hour, func(s HealthStatus) { statuses <- s })

	for i := 0; i < 2; i++ {
		monitor.Start()
		select {
		case s := <-statuses:
			if !s.Healthy {
				t.Errorf("run %d: probe unhealthy: %v", i, s.Err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("run %d: no probe after Start", i)
		}
		monitor.Stop()
	}
}
