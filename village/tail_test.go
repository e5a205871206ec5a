// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

package village

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/hamlet-works/hamlet/lib/codec"
)

// clientFrame mirrors tailFrame with the payload left raw, the way a
// tooling client would decode it.
type clientFrame struct {
	Type  string           `json:"type"`
	Kind  string           `json:"kind"`
	Event codec.RawMessage `json:"event"`
}

func TestTailStream(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if err := f.server.HandleHeartbeat(Heartbeat{Agent: "tailed", Activity: str("coding")}); err != nil {
		t.Fatal(err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- f.server.ServeTail(ctx, listener) }()

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	decoder := codec.NewDecoder(conn)

	var frame clientFrame
	if err := decoder.Decode(&frame); err != nil {
		t.Fatalf("decoding handshake: %v", err)
	}
	if frame.Type != "ready" {
		t.Fatalf("handshake type = %q, want ready", frame.Type)
	}

	// The snapshot replay arrives next: the live resident's spawn.
	if err := decoder.Decode(&frame); err != nil {
		t.Fatalf("decoding snapshot frame: %v", err)
	}
	if frame.Type != "event" || frame.Kind != "agent:spawn" {
		t.Fatalf("snapshot frame = %+v", frame)
	}
	var spawn AgentSpawn
	if err := codec.Unmarshal(frame.Event, &spawn); err != nil {
		t.Fatalf("decoding spawn payload: %v", err)
	}
	if spawn.AgentID != "tailed" {
		t.Errorf("spawn AgentID = %q", spawn.AgentID)
	}

	// Skip the rest of the snapshot (work, building state), then
	// observe a live event.
	for frame.Kind != "building:state" {
		if err := decoder.Decode(&frame); err != nil {
			t.Fatalf("draining snapshot: %v", err)
		}
	}
	if err := f.server.HandleRawEvent(RawEvent{Type: "agent:failure", AgentID: "tailed", Reason: "oom"}); err != nil {
		t.Fatal(err)
	}
	if err := decoder.Decode(&frame); err != nil {
		t.Fatalf("decoding live frame: %v", err)
	}
	if frame.Kind != "agent:failure" {
		t.Errorf("live frame kind = %q, want agent:failure", frame.Kind)
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("ServeTail returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("ServeTail did not stop on context cancel")
	}
}

func TestTailSubscriberCleanupOnDisconnect(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.server.ServeTail(ctx, listener)

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	decoder := codec.NewDecoder(conn)
	var frame clientFrame
	if err := decoder.Decode(&frame); err != nil {
		t.Fatalf("decoding handshake: %v", err)
	}

	// Registration is asynchronous to the handshake frame; wait for it.
	deadline := time.Now().Add(5 * time.Second)
	for f.server.Status().Subscribers == 0 {
		if time.Now().After(deadline) {
			t.Fatal("tail subscriber never registered")
		}
		time.Sleep(time.Millisecond)
	}

	conn.Close()
	deadline = time.Now().Add(5 * time.Second)
	for f.server.Status().Subscribers != 0 {
		if time.Now().After(deadline) {
			t.Fatal("tail subscriber not cleaned up after disconnect")
		}
		time.Sleep(time.Millisecond)
	}
}
