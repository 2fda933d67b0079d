// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/morganforge/parley/internal/local"
)

// probeTimeout bounds each individual health probe.
const probeTimeout = 5 * time.Second

// HealthStatus is one probe result.
type HealthStatus struct {
	Healthy   bool
	Err       error
	CheckedAt time.Time
}

// HealthMonitor probes the local model server on a fixed interval,
// independent of any running stream. The rate limiter keeps manual
// RefreshNow calls from stacking probes on top of the ticker.
type HealthMonitor struct {
	client   *local.Client
	interval time.Duration
	limiter  *rate.Limiter
	onStatus func(HealthStatus)

	mu      sync.Mutex
	last    HealthStatus
	refresh chan struct{}
	done    chan struct{}
	started bool
}

// NewHealthMonitor creates a monitor. onStatus fires after every probe
// on the monitor goroutine; it may be nil.
func NewHealthMonitor(client *local.Client, interval time.Duration, onStatus func(HealthStatus)) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthMonitor{
		client:   client,
		interval: interval,
		// One probe per half interval, small burst for manual refresh.
		limiter:  rate.NewLimiter(rate.Every(interval/2), 2),
		onStatus: onStatus,
		refresh:  make(chan struct{}, 1),
	}
}

// Start launches the probe loop. The first probe runs immediately.
// A stopped monitor can be started again.
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	// Fresh channel per run; the previous one is closed.
	h.done = make(chan struct{})
	done := h.done
	h.mu.Unlock()
	go h.loop(done)
}

// Stop terminates the probe loop.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return
	}
	h.started = false
	close(h.done)
}

// Last returns the most recent probe result.
func (h *HealthMonitor) Last() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// RefreshNow requests an out-of-band probe. Non-blocking; collapsed if
// one is already queued.
func (h *HealthMonitor) RefreshNow() {
	select {
	case h.refresh <- struct{}{}:
	default:
	}
}

func (h *HealthMonitor) loop(done chan struct{}) {
	h.probe()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.probe()
		case <-h.refresh:
			h.probe()
		case <-done:
			return
		}
	}
}

func (h *HealthMonitor) probe() {
	if !h.limiter.Allow() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	err := h.client.CheckRunning(ctx)
	cancel()

	status := HealthStatus{
		Healthy:   err == nil,
		Err:       err,
		CheckedAt: time.Now(),
	}

	h.mu.Lock()
	changed := status.Healthy != h.last.Healthy || h.last.CheckedAt.IsZero()
	h.last = status
	h.mu.Unlock()

	if changed {
		if status.Healthy {
			log.Printf("health: local server reachable")
		} else {
			log.Printf("health: local server unreachable: %v", err)
		}
	}
	if h.onStatus != nil {
		h.onStatus(status)
	}
}
