// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

package village

import (
	"log/slog"
	"sync"
)

// subscriberSlack is the per-subscriber buffer headroom beyond the
// snapshot prefill. A subscriber that falls this far behind the
// broadcast stream is dropped rather than allowed to stall ingestion.
const subscriberSlack = 256

// Subscriber is one registered consumer of the event stream. Events
// arrive in broadcast order on Events; Dropped closes if the hub
// evicts the subscriber for falling behind.
type Subscriber struct {
	events   chan Event
	dropped  chan struct{}
	dropOnce sync.Once
}

// Events returns the ordered event channel.
func (s *Subscriber) Events() <-chan Event { return s.events }

// Dropped returns a channel that closes when the hub has evicted this
// subscriber. After that no further events arrive and the consumer
// should resubscribe if it wants to continue (it will get a fresh
// snapshot).
func (s *Subscriber) Dropped() <-chan struct{} { return s.dropped }

func (s *Subscriber) markDropped() {
	s.dropOnce.Do(func() { close(s.dropped) })
}

// hub fans events out to subscribers with non-blocking sends. All
// broadcasts happen under the server's state lock, so every subscriber
// observes the same total order.
type hub struct {
	mu          sync.Mutex
	subscribers []*Subscriber
	logger      *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{logger: logger}
}

// add registers a subscriber with the prefill events already queued,
// so snapshot delivery and registration are a single atomic step from
// the broadcaster's point of view.
func (h *hub) add(prefill []Event) *Subscriber {
	sub := &Subscriber{
		events:  make(chan Event, len(prefill)+subscriberSlack),
		dropped: make(chan struct{}),
	}
	for _, event := range prefill {
		sub.events <- event
	}

	h.mu.Lock()
	h.subscribers = append(h.subscribers, sub)
	h.mu.Unlock()
	return sub
}

// remove deregisters a subscriber. Safe to call for an
// already-evicted subscriber.
func (h *hub) remove(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, registered := range h.subscribers {
		if registered == sub {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			return
		}
	}
}

// broadcast delivers an event to every subscriber that still has
// buffer room and evicts the rest. Never blocks.
func (h *hub) broadcast(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.subscribers[:0]
	for _, sub := range h.subscribers {
		select {
		case sub.events <- event:
			kept = append(kept, sub)
		default:
			sub.markDropped()
			h.logger.Warn("dropping slow subscriber",
				"buffered", len(sub.events),
				"event", event.Kind())
		}
	}
	// Zero the evicted tail so the backing array does not pin them.
	for i := len(kept); i < len(h.subscribers); i++ {
		h.subscribers[i] = nil
	}
	h.subscribers = kept
}

// count returns the number of registered subscribers.
func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
