package main

import (
	"testing"
	"time"

	"github.com/marosstudenic/lib-gsm/gsm"
)

func TestEventHub(t *testing.T) {
	t.Run("broadcast reaches all subscribers", func(t *testing.T) {
		h := newEventHub()
		a, cancelA := h.Subscribe(4)
		defer cancelA()
		b, cancelB := h.Subscribe(4)
		defer cancelB()

		h.Diagnostic(gsm.DiagnosticCommandReceive, "OK")

		for _, ch := range []chan Event{a, b} {
			select {
			case ev := <-ch:
				if ev.Kind != gsm.DiagnosticCommandReceive || ev.Message != "OK" {
					t.Errorf("event = %v %q", ev.Kind, ev.Message)
				}
				if ev.Time.IsZero() {
					t.Error("event not timestamped")
				}
			case <-time.After(time.Second):
				t.Fatal("subscriber never received the event")
			}
		}
	})

	t.Run("full subscriber drops events instead of blocking", func(t *testing.T) {
		h := newEventHub()
		ch, cancel := h.Subscribe(1)
		defer cancel()

		h.Broadcast(Event{Message: "first"})
		h.Broadcast(Event{Message: "second"})

		if ev := <-ch; ev.Message != "first" {
			t.Errorf("message = %q, want the first event", ev.Message)
		}
		select {
		case ev := <-ch:
			t.Errorf("unexpected buffered event %q", ev.Message)
		default:
		}
	})

	t.Run("cancel closes the channel and is idempotent", func(t *testing.T) {
		h := newEventHub()
		ch, cancel := h.Subscribe(1)
		cancel()
		cancel()

		if _, ok := <-ch; ok {
			t.Error("channel still open after cancel")
		}

		// a removed subscriber no longer receives
		h.Broadcast(Event{Message: "late"})
	})
}
