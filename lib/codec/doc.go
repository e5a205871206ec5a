// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec centralizes Hamlet's CBOR configuration. The tail
// stream frames village events as CBOR; wrapping the encoder here
// keeps the deterministic-encoding settings in one place and keeps
// consumers from importing fxamacker/cbor directly.
package codec
