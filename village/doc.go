// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

// Package village is the relay's state machine: it ingests agent
// heartbeats and lifecycle events, maintains the live-session
// registry and the durable profile stores, derives progression, and
// broadcasts an ordered stream of typed events to every subscriber.
//
// Renderers are pure consumers of the event stream. A late-joining
// subscriber receives a replayed snapshot (live residents, offline
// residents, building states) before any live events, so it converges
// to the relay's authoritative state without having observed prior
// broadcasts.
package village
