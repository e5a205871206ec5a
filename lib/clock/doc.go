// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the village relay so that the
// debounced state saver, the inactivity sweep, and subscriber
// keep-alive pings can be driven deterministically in tests.
package clock
