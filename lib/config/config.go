// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the village
// relay.
//
// Configuration comes from a single YAML file named by the --config
// flag or the HAMLET_CONFIG environment variable. When neither is
// set, the documented defaults apply — there is no automatic
// discovery, so a deployment's effective configuration is always
// auditable.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable consulted when no --config
// flag is passed.
const EnvVar = "HAMLET_CONFIG"

// Config is the relay's full configuration. Interval fields are
// whole seconds to keep the YAML surface simple; use the duration
// accessors in code.
type Config struct {
	// ListenAddr is the HTTP listen address for heartbeat ingestion,
	// point queries, and the SSE event stream.
	ListenAddr string `yaml:"listen_addr"`

	// SocketPath is the Unix socket for the CBOR tail stream. Empty
	// means <data_dir>/tail.sock.
	SocketPath string `yaml:"socket_path"`

	// DataDir holds the two state documents (agents.json,
	// buildings.json) and their archive/ directory.
	DataDir string `yaml:"data_dir"`

	// SaveDebounceSeconds is the profile-store save debounce window.
	SaveDebounceSeconds int `yaml:"save_debounce_seconds"`

	// SessionTimeoutSeconds is how long a live session may go without
	// a heartbeat before the sweep force-despawns it.
	SessionTimeoutSeconds int `yaml:"session_timeout_seconds"`

	// SweepIntervalSeconds is how often the inactivity sweep runs.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`

	// KeepAliveSeconds is the idle-ping interval on subscriber
	// streams (SSE comments and tail heartbeat frames).
	KeepAliveSeconds int `yaml:"keep_alive_seconds"`

	// LeaderboardLimit caps the leaderboard query result.
	LeaderboardLimit int `yaml:"leaderboard_limit"`
}

// Default returns the documented default configuration.
func Default() Config {
	return Config{
		ListenAddr:            ":3737",
		DataDir:               ".hamlet",
		SaveDebounceSeconds:   3,
		SessionTimeoutSeconds: 120,
		SweepIntervalSeconds:  15,
		KeepAliveSeconds:      15,
		LeaderboardLimit:      50,
	}
}

// Load reads the configuration from path, falling back to the
// HAMLET_CONFIG environment variable and then to Default(). Values
// absent from the file keep their defaults.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the relay cannot run with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if c.SaveDebounceSeconds <= 0 {
		return fmt.Errorf("config: save_debounce_seconds must be positive, got %d", c.SaveDebounceSeconds)
	}
	if c.SessionTimeoutSeconds <= 0 {
		return fmt.Errorf("config: session_timeout_seconds must be positive, got %d", c.SessionTimeoutSeconds)
	}
	if c.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("config: sweep_interval_seconds must be positive, got %d", c.SweepIntervalSeconds)
	}
	if c.KeepAliveSeconds <= 0 {
		return fmt.Errorf("config: keep_alive_seconds must be positive, got %d", c.KeepAliveSeconds)
	}
	if c.LeaderboardLimit <= 0 {
		return fmt.Errorf("config: leaderboard_limit must be positive, got %d", c.LeaderboardLimit)
	}
	return nil
}

// SaveDebounce returns the debounce window as a duration.
func (c Config) SaveDebounce() time.Duration {
	return time.Duration(c.SaveDebounceSeconds) * time.Second
}

// SessionTimeout returns the inactivity timeout as a duration.
func (c Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// SweepInterval returns the sweep cadence as a duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// KeepAlive returns the subscriber ping interval as a duration.
func (c Config) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSeconds) * time.Second
}

// TailSocket returns the effective tail socket path.
func (c Config) TailSocket() string {
	if c.SocketPath != "" {
		return c.SocketPath
	}
	return filepath.Join(c.DataDir, "tail.sock")
}

// AgentStatePath returns the agent store's document path.
func (c Config) AgentStatePath() string {
	return filepath.Join(c.DataDir, "agents.json")
}

// BuildingStatePath returns the building store's document path.
func (c Config) BuildingStatePath() string {
	return filepath.Join(c.DataDir, "buildings.json")
}
