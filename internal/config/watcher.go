// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces editor write bursts into one reload.
const watchDebounce = 500 * time.Millisecond

// Watcher reloads configuration when the config file changes on disk.
// Reloads only update the global snapshot; running turns keep the
// settings they started with.
type Watcher struct {
	fw       *fsnotify.Watcher
	onChange func(*Config)

	mu      sync.Mutex
	pending *time.Timer
	done    chan struct{}
}

// Watch starts watching the config directory. onChange runs on the
// watcher goroutine after each successful reload.
func Watch(onChange func(*Config)) (*Watcher, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	if err := EnsureConfigDir(); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		fw:       fw,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !isConfigFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Printf("config: watch error: %v", err)
		case <-w.done:
			return
		}
	}
}

func isConfigFile(path string) bool {
	base := filepath.Base(path)
	return base == "config.toml" || base == "config.json"
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(watchDebounce, func() {
		if err := ReloadGlobal(); err != nil {
			log.Printf("config: reload failed, keeping previous settings: %v", err)
			return
		}
		if w.onChange != nil {
			w.onChange(Global())
		}
	})
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
	return w.fw.Close()
}
