// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg != Default() {
		t.Errorf("Load(\"\") = %+v, want defaults %+v", cfg, Default())
	}
	if cfg.SaveDebounce() != 3*time.Second {
		t.Errorf("SaveDebounce = %v", cfg.SaveDebounce())
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hamlet.yaml")
	content := "listen_addr: \":9000\"\nsession_timeout_seconds: 30\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.SessionTimeout() != 30*time.Second {
		t.Errorf("SessionTimeout = %v", cfg.SessionTimeout())
	}
	// Untouched fields keep defaults.
	if cfg.LeaderboardLimit != Default().LeaderboardLimit {
		t.Errorf("LeaderboardLimit = %d", cfg.LeaderboardLimit)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of a missing explicit path succeeded")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hamlet.yaml")
	if err := os.WriteFile(path, []byte("save_debounce_seconds: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted a negative debounce")
	}
}

func TestTailSocketDefaultsUnderDataDir(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if got := cfg.TailSocket(); got != filepath.Join(cfg.DataDir, "tail.sock") {
		t.Errorf("TailSocket = %q", got)
	}
	cfg.SocketPath = "/run/hamlet/tail.sock"
	if got := cfg.TailSocket(); got != "/run/hamlet/tail.sock" {
		t.Errorf("explicit TailSocket = %q", got)
	}
}
