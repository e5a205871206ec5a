// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// archivePrior compresses the existing state file into an archive/
// sibling directory before the first overwrite of a new process
// lifetime. Purely best-effort crash forensics: every failure is
// logged and swallowed.
func archivePrior(path string, now time.Time, logger *slog.Logger) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		logger.Warn("state archive skipped: read failed", "path", path, "error", err)
		return
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		logger.Warn("state archive skipped: encoder init failed", "error", err)
		return
	}
	compressed := encoder.EncodeAll(data, nil)
	encoder.Close()

	directory := filepath.Join(filepath.Dir(path), "archive")
	if err := os.MkdirAll(directory, 0o755); err != nil {
		logger.Warn("state archive skipped: mkdir failed", "path", directory, "error", err)
		return
	}

	base := strings.TrimSuffix(filepath.Base(path), ".json")
	name := fmt.Sprintf("%s-%s.json.zst", base, now.UTC().Format("20060102T150405Z"))
	target := filepath.Join(directory, name)
	if err := os.WriteFile(target, compressed, 0o644); err != nil {
		logger.Warn("state archive failed", "path", target, "error", err)
		return
	}

	logger.Debug("archived prior state", "path", target, "bytes", len(compressed))
}
