package main

import (
	"sync"
	"time"

	"github.com/marosstudenic/lib-gsm/gsm"
)

// Event is one categorized wire trace from the modem.
type Event struct {
	Kind    gsm.DiagnosticKind
	Message string
	Time    time.Time
}

// eventHub fans modem diagnostics out to subscribers, so a live websocket
// feed never blocks the modem's receive loop.
type eventHub struct {
	pool map[chan Event]struct{}
	sync.RWMutex
}

func newEventHub() *eventHub {
	return &eventHub{pool: make(map[chan Event]struct{})}
}

// Diagnostic is the modem's diagnostics sink; it timestamps each trace and
// broadcasts it.
func (h *eventHub) Diagnostic(kind gsm.DiagnosticKind, message string) {
	h.Broadcast(Event{Kind: kind, Message: message, Time: time.Now()})
}

// Broadcast sends an event to all subscribers non-blocking.
// If a subscriber's channel is full, the event is skipped for that subscriber.
func (h *eventHub) Broadcast(ev Event) {
	h.RLock()
	defer h.RUnlock()

	for ch := range h.pool {
		select {
		case ch <- ev:
		default:
			// Channel full, skip event
		}
	}
}

// Subscribe creates a new subscription channel.
// Returns the channel to receive events and a cancel function to unsubscribe.
func (h *eventHub) Subscribe(buffer int) (chan Event, func()) {
	if buffer <= 0 {
		buffer = 100
	}
	ch := make(chan Event, buffer)

	h.Lock()
	h.pool[ch] = struct{}{}
	h.Unlock()

	return ch, func() {
		h.Lock()
		defer h.Unlock()
		if _, ok := h.pool[ch]; ok {
			delete(h.pool, ch)
			close(ch)
		}
	}
}
