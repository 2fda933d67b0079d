// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config manages parley settings.
//
// Settings live in ~/.parley/config.toml (JSON fallback), are
// validated on load, and may be overridden per-field from PARLEY_*
// environment variables. Files are kept at 0600 because they can hold
// the API key.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/morganforge/parley/internal/util"
)

// Backend names.
const (
	BackendCloud = "cloud"
	BackendLocal = "local"
)

// =============================================================================
// CONFIG TYPES
// =============================================================================

// Config is the full settings document.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Backend selects which transport answers chat turns.
	Backend string `toml:"backend" json:"backend"`

	// SelectedModel is the model requested on each turn.
	SelectedModel string `toml:"selected_model" json:"selected_model"`

	// Temperature is the sampling temperature, 0 to 2.
	Temperature float64 `toml:"temperature" json:"temperature"`

	// MaxTokens caps the completion length. 0 lets the server decide.
	MaxTokens int `toml:"max_tokens" json:"max_tokens"`

	// StreamingEnabled turns incremental responses on or off.
	StreamingEnabled bool `toml:"streaming_enabled" json:"streaming_enabled"`

	// HistoryWindow is how many recent messages go on the wire.
	HistoryWindow int `toml:"history_window" json:"history_window"`

	Cloud CloudConfig `toml:"cloud" json:"cloud"`
	Local LocalConfig `toml:"local" json:"local"`
	UI    UIConfig    `toml:"ui" json:"ui"`
}

// CloudConfig holds hosted API settings.
type CloudConfig struct {
	APIKey  string `toml:"api_key" json:"api_key"`
	BaseURL string `toml:"base_url" json:"base_url"`
}

// LocalConfig holds local model server settings.
type LocalConfig struct {
	URL string `toml:"url" json:"url"`

	// HealthCheckSecs is the background health probe interval.
	HealthCheckSecs int `toml:"health_check_secs" json:"health_check_secs"`
}

// UIConfig holds presentation settings.
type UIConfig struct {
	Theme       string `toml:"theme" json:"theme"`
	CompactMode bool   `toml:"compact_mode" json:"compact_mode"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Version:          "1.0.0",
		Backend:          BackendLocal,
		SelectedModel:    "qwen2.5:14b",
		Temperature:      0.7,
		MaxTokens:        0,
		StreamingEnabled: true,
		HistoryWindow:    10,
		Cloud: CloudConfig{
			APIKey:  "",
			BaseURL: "https://openrouter.ai/api/v1",
		},
		Local: LocalConfig{
			URL:             "http://127.0.0.1:11434",
			HealthCheckSecs: 30,
		},
		UI: UIConfig{
			Theme: "dark",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the parley configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".parley"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// DataPath returns the path to the durable key-value database.
func DataPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "parley.db"), nil
}

// LogPath returns the path to the application log file.
func LogPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "parley.log"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions fixes overly permissive config files.
// SECURITY: Config files hold the API key and must stay 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads configuration, trying TOML first, then JSON, then
// defaults. Environment overrides and validation apply in every case.
func Load() (*Config, error) {
	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			cfg, err := LoadFromPath(tomlPath)
			if err != nil {
				return nil, err
			}
			return cfg, nil
		}
	}

	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			cfg, err := LoadFromPath(jsonPath)
			if err != nil {
				return nil, err
			}
			return cfg, nil
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath reads one specific config file, format by extension.
// Values decode over defaults so absent keys keep their default.
func LoadFromPath(path string) (*Config, error) {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	cfg := Default()
	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode TOML config: %w", err)
		}
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read JSON config: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}

	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as TOML with restrictive permissions.
func Save(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the configuration to a specific path, format by extension.
func SaveTo(cfg *Config, path string) error {
	var data []byte
	switch filepath.Ext(path) {
	case ".toml":
		var b strings.Builder
		if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode TOML config: %w", err)
		}
		data = []byte(b.String())
	case ".json":
		var err error
		data, err = json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s", path)
	}

	// SECURITY: 0600, the file can hold the API key.
	return util.AtomicWriteFile(path, data, 0600)
}

// fillDefaults repairs empty fields after a partial decode.
func (c *Config) fillDefaults() {
	def := Default()
	if c.Version == "" {
		c.Version = def.Version
	}
	if c.Backend == "" {
		c.Backend = def.Backend
	}
	if c.SelectedModel == "" {
		c.SelectedModel = def.SelectedModel
	}
	if c.HistoryWindow == 0 {
		c.HistoryWindow = def.HistoryWindow
	}
	if c.Cloud.BaseURL == "" {
		c.Cloud.BaseURL = def.Cloud.BaseURL
	}
	if c.Local.URL == "" {
		c.Local.URL = def.Local.URL
	}
	if c.Local.HealthCheckSecs == 0 {
		c.Local.HealthCheckSecs = def.Local.HealthCheckSecs
	}
	if c.UI.Theme == "" {
		c.UI.Theme = def.UI.Theme
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors aggregates all validation failures.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Backend != BackendCloud && c.Backend != BackendLocal {
		errs = append(errs, ValidationError{"backend", fmt.Sprintf("must be %q or %q, got %q", BackendCloud, BackendLocal, c.Backend)})
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, ValidationError{"temperature", fmt.Sprintf("must be between 0 and 2, got %g", c.Temperature)})
	}
	if c.MaxTokens < 0 {
		errs = append(errs, ValidationError{"max_tokens", "must not be negative"})
	}
	if c.HistoryWindow < 1 {
		errs = append(errs, ValidationError{"history_window", "must be at least 1"})
	}
	if c.Local.HealthCheckSecs < 1 {
		errs = append(errs, ValidationError{"local.health_check_secs", "must be at least 1"})
	}
	if c.Cloud.BaseURL != "" && !strings.HasPrefix(c.Cloud.BaseURL, "http://") && !strings.HasPrefix(c.Cloud.BaseURL, "https://") {
		errs = append(errs, ValidationError{"cloud.base_url", "must be an http(s) URL"})
	}
	if c.Local.URL != "" && !strings.HasPrefix(c.Local.URL, "http://") && !strings.HasPrefix(c.Local.URL, "https://") {
		errs = append(errs, ValidationError{"local.url", "must be an http(s) URL"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies PARLEY_* environment variables on top of
// the loaded values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PARLEY_API_KEY"); v != "" {
		c.Cloud.APIKey = v
	}
	if v := os.Getenv("PARLEY_BASE_URL"); v != "" {
		c.Cloud.BaseURL = v
	}
	if v := os.Getenv("PARLEY_LOCAL_URL"); v != "" {
		c.Local.URL = v
	}
	if v := os.Getenv("PARLEY_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("PARLEY_MODEL"); v != "" {
		c.SelectedModel = v
	}
	if v := os.Getenv("PARLEY_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Temperature = f
		}
	}
	if v := os.Getenv("PARLEY_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxTokens = n
		}
	}
	if v := os.Getenv("PARLEY_STREAMING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.StreamingEnabled = b
		}
	}
}

// Clone returns a deep copy. Turn snapshots use this so a settings
// change mid-stream cannot alter an in-flight request.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// =============================================================================
// GLOBAL ACCESSOR
// =============================================================================

var (
	globalMu   sync.RWMutex
	globalCfg  *Config
	globalOnce sync.Once
)

// Global returns the process-wide configuration, loading it on first use.
func Global() *Config {
	globalOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: using default config: %v\n", err)
			cfg = Default()
		}
		globalMu.Lock()
		globalCfg = cfg
		globalMu.Unlock()
	})

	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalCfg
}

// SetGlobal replaces the process-wide configuration.
func SetGlobal(cfg *Config) {
	globalOnce.Do(func() {})
	globalMu.Lock()
	globalCfg = cfg
	globalMu.Unlock()
}

// ReloadGlobal re-reads configuration from disk.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}
