// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

package village

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxRequestBody bounds ingestion payloads. Heartbeats are a few
// hundred bytes; anything near this limit is malformed or hostile.
const maxRequestBody = 1 << 20

// Handler returns the relay's HTTP surface:
//
//	POST /api/heartbeat   heartbeat ingestion
//	POST /api/event       direct lifecycle events
//	GET  /api/status      operational counters and live sessions
//	GET  /api/leaderboard top agents by XP
//	GET  /events          SSE event stream with snapshot replay
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /api/event", s.handleRawEvent)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /events", s.handleEvents)
	return mux
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb Heartbeat
	if err := s.decodeBody(w, r, &hb); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.HandleHeartbeat(hb); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRawEvent(w http.ResponseWriter, r *http.Request) {
	var ev RawEvent
	if err := s.decodeBody(w, r, &ev); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.HandleRawEvent(ev); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Leaderboard())
}

// handleEvents serves the SSE stream: the snapshot replay, then live
// events, with comment pings on the keep-alive interval. The
// connection ends when the client goes away or the hub evicts this
// subscriber for falling behind.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	ticker := s.clock.NewTicker(s.keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Dropped():
			return
		case event := <-sub.Events():
			payload, err := MarshalEvent(event)
			if err != nil {
				s.logger.Error("event stream encoding failed", "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// decodeBody parses a JSON request body with a hard size cap and a
// read deadline, so a stalled or trickling client aborts instead of
// pinning the handler. Errors are safe to echo to the client.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	controller := http.NewResponseController(w)
	if err := controller.SetReadDeadline(time.Now().Add(s.bodyReadTimeout)); err == nil {
		defer controller.SetReadDeadline(time.Time{})
	}

	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("malformed request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already out; an encode failure here means the client
	// went away mid-response.
	_ = json.NewEncoder(w).Encode(v)
}
