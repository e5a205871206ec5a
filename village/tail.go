// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

package village

import (
	"context"
	"fmt"
	"net"

	"github.com/hamlet-works/hamlet/lib/codec"
)

// tailFrame is one CBOR frame on the tail socket. Type is "ready"
// (handshake), "event" (payload in Event, kind duplicated at the
// frame level for cheap filtering), or "heartbeat" (idle keep-alive).
type tailFrame struct {
	Type  string `json:"type"`
	Kind  string `json:"kind,omitempty"`
	Event Event  `json:"event,omitempty"`
}

// ServeTail accepts tail-stream connections on the listener until ctx
// is done. Each connection gets a ready frame, the snapshot replay,
// then live events, all as CBOR frames. Local tooling (recorders,
// terminal dashboards) uses this instead of SSE to skip HTTP and JSON
// overhead.
func (s *Server) ServeTail(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting tail connection: %w", err)
		}
		go s.serveTailConn(ctx, conn)
	}
}

func (s *Server) serveTailConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	// Drain reads so we notice the peer closing; the protocol itself
	// is one-way after accept.
	peerClosed := make(chan struct{})
	go func() {
		defer close(peerClosed)
		buffer := make([]byte, 512)
		for {
			if _, err := conn.Read(buffer); err != nil {
				return
			}
		}
	}()

	encoder := codec.NewEncoder(conn)
	if err := encoder.Encode(tailFrame{Type: "ready"}); err != nil {
		return
	}

	sub := s.Subscribe()
	defer s.Unsubscribe(sub)
	s.logger.Info("tail subscriber connected")

	ticker := s.clock.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-peerClosed:
			return
		case <-sub.Dropped():
			s.logger.Warn("tail subscriber evicted for falling behind")
			return
		case event := <-sub.Events():
			frame := tailFrame{Type: "event", Kind: event.Kind(), Event: event}
			if err := encoder.Encode(frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := encoder.Encode(tailFrame{Type: "heartbeat"}); err != nil {
				return
			}
		}
	}
}
