// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session drives chat turns: one controller owns the stream
// lifecycle from user input to finalized assistant message.
package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/morganforge/parley/internal/config"
	"github.com/morganforge/parley/internal/model"
	"github.com/morganforge/parley/internal/store"
)

// FailureText is the fixed user-facing content of a failed response.
// The underlying error goes to the log, never to the transcript.
const FailureText = "Sorry, something went wrong while generating a response. Please try again."

// ErrEmptyInput indicates the input was empty or whitespace.
var ErrEmptyInput = errors.New("empty input")

// ErrStreamActive mirrors store.ErrStreamActive for callers that only
// import session.
var ErrStreamActive = store.ErrStreamActive

// =============================================================================
// STATES
// =============================================================================

// State is the controller's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Outcome is how a turn ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeAborted
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAborted:
		return "aborted"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// =============================================================================
// EVENTS
// =============================================================================

// EventKind discriminates controller events.
type EventKind int

const (
	EventTurnStarted EventKind = iota
	EventFragment
	EventTurnEnded
)

// Event is one controller notification. Events fire on the streaming
// goroutine; subscribers forward them onto their own loop.
type Event struct {
	Kind      EventKind
	MessageID string
	Fragment  string
	Outcome   Outcome
	Err       error
}

// EventFn receives controller events.
type EventFn func(Event)

// =============================================================================
// TURN CONFIG
// =============================================================================

// TurnConfig is the settings snapshot a single turn runs under.
// Settings edits during the turn do not touch it.
type TurnConfig struct {
	Backend          string
	Model            string
	Temperature      float64
	MaxTokens        int
	StreamingEnabled bool
	HistoryWindow    int

	APIKey       string
	CloudBaseURL string
	LocalURL     string
}

// SnapshotTurnConfig copies the fields a turn needs out of cfg.
func SnapshotTurnConfig(cfg *config.Config) TurnConfig {
	return TurnConfig{
		Backend:          cfg.Backend,
		Model:            cfg.SelectedModel,
		Temperature:      cfg.Temperature,
		MaxTokens:        cfg.MaxTokens,
		StreamingEnabled: cfg.StreamingEnabled,
		HistoryWindow:    cfg.HistoryWindow,
		APIKey:           cfg.Cloud.APIKey,
		CloudBaseURL:     cfg.Cloud.BaseURL,
		LocalURL:         cfg.Local.URL,
	}
}

// =============================================================================
// CANCEL MANAGER
// =============================================================================

// cancelManager guards the turn's cancel function. The Update loop and
// the streaming goroutine both reach for it.
type cancelManager struct {
	mu         sync.Mutex
	cancelFunc context.CancelFunc
}

func (cm *cancelManager) set(fn context.CancelFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.cancelFunc = fn
}

// cancel invokes and clears the stored function. Safe to call twice.
func (cm *cancelManager) cancel() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.cancelFunc != nil {
		cm.cancelFunc()
		cm.cancelFunc = nil
	}
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller runs one turn at a time against the conversation store.
// Safe for concurrent use.
type Controller struct {
	mu         sync.Mutex
	state      State
	generation uint64

	store     *store.Store
	settings  func() *config.Config
	transport func(TurnConfig) Transport
	events    EventFn
	cancelMgr cancelManager
}

// NewController creates a controller over st. Events may be nil.
func NewController(st *store.Store, events EventFn) *Controller {
	return &Controller{
		store:     st,
		settings:  config.Global,
		transport: defaultTransport,
		events:    events,
	}
}

// WithSettings overrides the settings source, used in tests.
func (c *Controller) WithSettings(fn func() *config.Config) *Controller {
	c.settings = fn
	return c
}

// WithTransport overrides transport construction, used in tests.
func (c *Controller) WithTransport(fn func(TurnConfig) Transport) *Controller {
	c.transport = fn
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether a turn is running.
func (c *Controller) Busy() bool {
	return c.State() != StateIdle
}

// Send starts a turn for the given user input. It appends the user
// message, opens the transport, and streams the assistant response
// into the store. The actual streaming runs on a goroutine; Send
// returns once the turn is accepted.
//
// A second Send while a turn runs is rejected with ErrStreamActive,
// never queued. Empty or whitespace input is rejected with
// ErrEmptyInput and appends nothing.
func (c *Controller) Send(input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return ErrEmptyInput
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrStreamActive
	}
	c.state = StateStarting
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	// Snapshot settings for the whole turn.
	turn := SnapshotTurnConfig(c.settings())

	c.store.AppendUserMessage(input)
	asst, err := c.store.BeginAssistantMessage(turn.Model)
	if err != nil {
		c.setIdle()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelMgr.set(cancel)

	c.emit(Event{Kind: EventTurnStarted, MessageID: asst.ID})
	go c.run(ctx, gen, turn, asst.ID)
	return nil
}

// Cancel aborts the running turn, if any. The in-flight assistant
// message is discarded, not kept as a partial.
func (c *Controller) Cancel() {
	c.cancelMgr.cancel()
}

// run is the streaming goroutine for one turn.
func (c *Controller) run(ctx context.Context, gen uint64, turn TurnConfig, messageID string) {
	defer c.cancelMgr.cancel()

	history := c.historyFor(turn, messageID)
	transport := c.transport(turn)

	err := transport.StreamTurn(ctx, turn, history, func(fragment string) error {
		// Transports can have lines buffered past the cancel point;
		// once the context is dead nothing more reaches the store.
		if ctx.Err() != nil {
			return context.Canceled
		}
		if c.stale(gen) {
			return context.Canceled
		}
		if err := c.store.AppendFragment(messageID, fragment); err != nil {
			// Message gone means the turn was torn down under us.
			return context.Canceled
		}
		c.markStreaming()
		c.emit(Event{Kind: EventFragment, MessageID: messageID, Fragment: fragment})
		return nil
	})

	switch {
	case err == nil:
		c.store.FinalizeMessage(messageID)
		c.finish(Event{Kind: EventTurnEnded, MessageID: messageID, Outcome: OutcomeCompleted})

	case errors.Is(err, context.Canceled):
		c.store.DiscardMessage(messageID)
		c.finish(Event{Kind: EventTurnEnded, MessageID: messageID, Outcome: OutcomeAborted, Err: err})

	default:
		log.Printf("session: turn failed: %v", err)
		c.store.FailMessage(messageID, FailureText)
		c.finish(Event{Kind: EventTurnEnded, MessageID: messageID, Outcome: OutcomeFailed, Err: err})
	}
}

// historyFor builds the outbound message window. The in-flight
// placeholder never goes on the wire.
func (c *Controller) historyFor(turn TurnConfig, inFlightID string) []*model.Message {
	window := c.store.Current().Window(turn.HistoryWindow)
	history := make([]*model.Message, 0, len(window))
	for _, msg := range window {
		if msg.ID == inFlightID {
			continue
		}
		history = append(history, msg)
	}
	return history
}

func (c *Controller) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.generation
}

func (c *Controller) markStreaming() {
	c.mu.Lock()
	if c.state == StateStarting {
		c.state = StateStreaming
	}
	c.mu.Unlock()
}

func (c *Controller) setIdle() {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

func (c *Controller) finish(ev Event) {
	c.setIdle()
	c.emit(ev)
}

func (c *Controller) emit(ev Event) {
	if c.events != nil {
		c.events(ev)
	}
}
