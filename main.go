// parley - A terminal chat client for local and cloud language models.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/morganforge/parley/internal/config"
	"github.com/morganforge/parley/internal/local"
	"github.com/morganforge/parley/internal/session"
	"github.com/morganforge/parley/internal/storage"
	"github.com/morganforge/parley/internal/store"
	"github.com/morganforge/parley/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			fmt.Printf("parley %s (%s, built %s)\n", Version, GitCommit, BuildDate)
			return
		case "setup":
			if err := runSetup(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "help", "--help", "-h":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
			printUsage()
			os.Exit(1)
		}
	}

	if err := runTUI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`parley - terminal chat for local and cloud models

Usage:
  parley           Start the chat interface
  parley setup     Configure the cloud API key
  parley version   Print version information`)
}

// =============================================================================
// TUI BOOTSTRAP
// =============================================================================

func runTUI() error {
	// Route the stdlib logger to a file. Writing to stderr would
	// corrupt the alternate screen.
	closeLog, err := setupLogging()
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer closeLog()

	cfg := config.Global()
	log.Printf("[MAIN] parley %s starting, backend=%s model=%s",
		Version, cfg.Backend, cfg.SelectedModel)

	if cfg.Backend == config.BackendCloud && cfg.Cloud.APIKey == "" {
		fmt.Println("Cloud backend selected but no API key configured.")
		fmt.Println("Run 'parley setup' or set PARLEY_API_KEY.")
		return nil
	}

	// Persistence.
	dataPath, err := config.DataPath()
	if err != nil {
		return fmt.Errorf("data path: %w", err)
	}
	kv, err := storage.Open(dataPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer kv.Close()

	st := store.New(store.NewKVPersister(kv))
	defer st.Close()

	// events is the bridge from background goroutines into the Bubble
	// Tea update loop. Buffered so emitters never block on a slow UI.
	events := make(chan tea.Msg, 64)

	controller := session.NewController(st, func(ev session.Event) {
		events <- chat.TurnEventMsg{Event: ev}
	})

	// Health probing only matters for the local backend, but settings
	// can switch backends at runtime, so the monitor always runs.
	healthClient := local.NewClientWithConfig(&local.Config{BaseURL: cfg.Local.URL})
	monitor := session.NewHealthMonitor(healthClient,
		time.Duration(cfg.Local.HealthCheckSecs)*time.Second,
		func(status session.HealthStatus) {
			events <- chat.HealthMsg{Status: status}
		})
	monitor.Start()
	defer monitor.Stop()

	// Pick up config file edits without a restart.
	watcher, err := config.Watch(func(*config.Config) {
		events <- chat.SettingsReloadedMsg{}
	})
	if err != nil {
		log.Printf("[MAIN] Config watcher unavailable: %v", err)
	} else {
		defer watcher.Close()
	}

	program := tea.NewProgram(
		chat.New(st, controller, events),
		tea.WithAltScreen(),
	)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	// The UI no longer reads events. Cancel any in-flight turn and
	// keep the channel drained so its goroutine can finish emitting
	// instead of blocking on a full buffer.
	controller.Cancel()
	go func() {
		for range events {
		}
	}()

	// Make sure the debounced write-behind lands before exit.
	if err := st.Flush(); err != nil {
		log.Printf("[MAIN] Final flush failed: %v", err)
	}
	log.Printf("[MAIN] parley exiting")
	return nil
}

func setupLogging() (func(), error) {
	logPath, err := config.LogPath()
	if err != nil {
		return nil, err
	}
	if err := config.EnsureConfigDir(); err != nil {
		return nil, err
	}
	// SECURITY: 0600, the log can contain conversation titles.
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}
	log.SetOutput(f)
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	return func() { f.Close() }, nil
}

// =============================================================================
// SETUP
// =============================================================================

// runSetup prompts for the cloud API key and writes it to the config
// file. The key is read without echo.
func runSetup() error {
	cfg := config.Global().Clone()

	fmt.Println("parley setup")
	fmt.Println()
	fmt.Printf("Backend [%s]: ", cfg.Backend)
	var backend string
	fmt.Scanln(&backend)
	backend = strings.TrimSpace(backend)
	if backend != "" {
		if backend != config.BackendCloud && backend != config.BackendLocal {
			return fmt.Errorf("backend must be %q or %q", config.BackendCloud, config.BackendLocal)
		}
		cfg.Backend = backend
	}

	if cfg.Backend == config.BackendCloud {
		fmt.Print("API key (input hidden): ")
		// SECURITY: no echo, the key never appears on screen or in
		// shell history.
		keyBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		key := strings.TrimSpace(string(keyBytes))
		if key != "" {
			cfg.Cloud.APIKey = key
		}
	}

	fmt.Printf("Model [%s]: ", cfg.SelectedModel)
	var modelName string
	fmt.Scanln(&modelName)
	if modelName = strings.TrimSpace(modelName); modelName != "" {
		cfg.SelectedModel = modelName
	}

	if errs := cfg.Validate(); errs != nil {
		return errs
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	config.SetGlobal(cfg)

	path, _ := config.ConfigPathTOML()
	fmt.Printf("Saved to %s\n", path)
	return nil
}
