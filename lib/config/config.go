// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Chatwarden.
//
// Configuration is loaded from a single YAML file specified by:
//   - CHATWARDEN_CONFIG environment variable, or
//   - --config flag passed to the daemon
//
// There are no fallbacks or automatic discovery, and environment
// variables never override file values. The only expansion performed
// is ${HOME} and similar path variables for portability.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the Chatwarden daemon.
type Config struct {
	// Prefix is the single character that marks a message as a command.
	// Default: "!"
	Prefix string `yaml:"prefix"`

	// CountryCode is prepended to phone numbers given to the add
	// command when they do not already start with it.
	// Default: "1"
	CountryCode string `yaml:"country_code"`

	// Paths configures directory and file locations.
	Paths PathsConfig `yaml:"paths"`

	// HTTP configures the status endpoint.
	HTTP HTTPConfig `yaml:"http"`

	// Reconnect configures the session retry loop.
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// Chat configures command behavior inside conversations.
	Chat ChatConfig `yaml:"chat"`
}

// PathsConfig configures directory and file locations.
type PathsConfig struct {
	// State is the base directory for Chatwarden data.
	// Default: ~/.local/share/chatwarden
	State string `yaml:"state"`

	// Credentials is the directory holding the transport's session key
	// material. Purged wholesale on logout.
	// Default: ${state}/credentials
	Credentials string `yaml:"credentials"`

	// StoreFile is the moderation store (warning counts, saved quotes).
	// Default: ${state}/warden.json
	StoreFile string `yaml:"store_file"`
}

// HTTPConfig configures the status endpoint.
type HTTPConfig struct {
	// ListenAddr is the address the status server binds to. Empty
	// disables the server.
	// Default: 127.0.0.1:8632
	ListenAddr string `yaml:"listen_addr"`
}

// ReconnectConfig configures the session retry loop. Durations are
// Go duration strings ("1s", "500ms").
type ReconnectConfig struct {
	// BaseDelay is the delay before the first reconnect attempt; each
	// subsequent attempt doubles it.
	// Default: 1s
	BaseDelay string `yaml:"base_delay"`

	// MaxDelay caps the doubling.
	// Default: 60s
	MaxDelay string `yaml:"max_delay"`

	// ConnectTimeout is how long a dial may sit without reaching the
	// open state before it is abandoned and retried.
	// Default: 60s
	ConnectTimeout string `yaml:"connect_timeout"`
}

// ChatConfig configures command behavior inside conversations.
type ChatConfig struct {
	// TagAllHeader is the first line of the tagall announcement.
	// Default: "Attention everyone:"
	TagAllHeader string `yaml:"tagall_header"`

	// Greetings enables welcome and goodbye messages on group
	// membership changes.
	// Default: true
	Greetings *bool `yaml:"greetings"`
}

// Default returns the default configuration. These defaults are used as
// a base before loading the config file; running without a file at all
// is supported and uses them as-is.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultState := filepath.Join(homeDir, ".local", "share", "chatwarden")
	greetings := true

	return &Config{
		Prefix:      "!",
		CountryCode: "1",
		Paths: PathsConfig{
			State:       defaultState,
			Credentials: filepath.Join(defaultState, "credentials"),
			StoreFile:   filepath.Join(defaultState, "warden.json"),
		},
		HTTP: HTTPConfig{
			ListenAddr: "127.0.0.1:8632",
		},
		Reconnect: ReconnectConfig{
			BaseDelay:      "1s",
			MaxDelay:       "60s",
			ConnectTimeout: "60s",
		},
		Chat: ChatConfig{
			TagAllHeader: "Attention everyone:",
			Greetings:    &greetings,
		},
	}
}

// Load loads configuration from the CHATWARDEN_CONFIG environment
// variable. Fails when the variable is unset; callers that accept a
// --config flag should call LoadFile directly.
func Load() (*Config, error) {
	configPath := os.Getenv("CHATWARDEN_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("CHATWARDEN_CONFIG environment variable not set; " +
			"set it to the path of your chatwarden.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging over
// the defaults, then expands ${VAR} path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"CHATWARDEN_STATE": c.Paths.State,
		"HOME":             os.Getenv("HOME"),
	}

	c.Paths.State = expandVars(c.Paths.State, vars)
	vars["CHATWARDEN_STATE"] = c.Paths.State // Update for dependent paths.

	c.Paths.Credentials = expandVars(c.Paths.Credentials, vars)
	c.Paths.StoreFile = expandVars(c.Paths.StoreFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Prefix) != 1 {
		errs = append(errs, fmt.Errorf("prefix must be exactly one character, got %q", c.Prefix))
	}
	if c.CountryCode == "" || strings.Trim(c.CountryCode, "0123456789") != "" {
		errs = append(errs, fmt.Errorf("country_code must be digits, got %q", c.CountryCode))
	}
	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}
	if c.Paths.Credentials == "" {
		errs = append(errs, fmt.Errorf("paths.credentials is required"))
	}
	if c.Paths.StoreFile == "" {
		errs = append(errs, fmt.Errorf("paths.store_file is required"))
	}

	durations := map[string]string{
		"reconnect.base_delay":      c.Reconnect.BaseDelay,
		"reconnect.max_delay":       c.Reconnect.MaxDelay,
		"reconnect.connect_timeout": c.Reconnect.ConnectTimeout,
	}
	for field, value := range durations {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			continue
		}
		if parsed <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", field, value))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ReconnectBase returns the parsed reconnect.base_delay. Falls back to
// the default when the string does not parse; Validate reports that
// case as an error.
func (c *Config) ReconnectBase() time.Duration {
	return parseDuration(c.Reconnect.BaseDelay, time.Second)
}

// ReconnectMax returns the parsed reconnect.max_delay.
func (c *Config) ReconnectMax() time.Duration {
	return parseDuration(c.Reconnect.MaxDelay, 60*time.Second)
}

// ConnectTimeout returns the parsed reconnect.connect_timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return parseDuration(c.Reconnect.ConnectTimeout, 60*time.Second)
}

// GreetingsEnabled reports whether membership greetings are on.
func (c *Config) GreetingsEnabled() bool {
	return c.Chat.Greetings == nil || *c.Chat.Greetings
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(s)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// EnsurePaths creates the configured directories if they don't exist.
// The store file's parent is the state directory; the file itself is
// created lazily by the store.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.State, c.Paths.Credentials} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
