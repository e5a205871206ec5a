// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

// Package profile holds the durable village records: one store for
// agent lifetime statistics, one for per-building aggregates. Both
// persist to independent JSON documents with debounced, atomic
// write-to-temp-then-rename saves, and both enrich lookups with
// derived progression computed on demand.
package profile
