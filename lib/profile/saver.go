// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hamlet-works/hamlet/lib/clock"
)

// saver owns the persistence discipline for one state file: mutations
// schedule a single debounced write, and the write replaces the file
// atomically (temp file in the same directory, then rename) so a
// crash never leaves a half-written document behind.
//
// Write failures are logged and rescheduled for the next debounce
// window — durability is best-effort and must never reach the request
// path.
type saver struct {
	path     string
	debounce time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	// marshal snapshots the owning store's state. It takes the
	// store's lock internally, so the saver must never call it while
	// holding a lock the store could be waiting on.
	marshal func() ([]byte, error)

	mu      sync.Mutex
	pending bool
	timer   *clock.Timer
}

func newSaver(path string, debounce time.Duration, cl clock.Clock, logger *slog.Logger, marshal func() ([]byte, error)) *saver {
	return &saver{
		path:     path,
		debounce: debounce,
		clock:    cl,
		logger:   logger,
		marshal:  marshal,
	}
}

// schedule arms the debounce timer if no write is already pending.
// Called after every store mutation; coalesces bursts into one write
// per debounce window.
func (s *saver) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return
	}
	s.pending = true
	s.timer = s.clock.AfterFunc(s.debounce, s.fire)
}

func (s *saver) fire() {
	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()

	if err := s.write(); err != nil {
		s.logger.Warn("state save failed, retrying next cycle",
			"path", s.path,
			"error", err,
		)
		s.schedule()
	}
}

// Flush cancels any pending debounced write and writes synchronously.
// Called at shutdown so the debounce window cannot drop the tail of
// activity, and by tests to avoid waiting on timers.
func (s *saver) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.pending = false
	s.mu.Unlock()

	return s.write()
}

func (s *saver) write() error {
	data, err := s.marshal()
	if err != nil {
		return fmt.Errorf("serializing state: %w", err)
	}

	directory := filepath.Dir(s.path)
	temp, err := os.CreateTemp(directory, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(temp.Name(), s.path); err != nil {
		os.Remove(temp.Name())
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// loadJSON reads a state file into target. A missing file is not an
// error (first run). A corrupt file is reported so the caller can
// decide whether to start empty.
func loadJSON(path string, target any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading state file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("parsing state file %s: %w", path, err)
	}
	return nil
}
