package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("net.", 10)
	defer unsub()

	b.Publish(Event{Kind: NetOnline, Timestamp: time.Now()})

	select {
	case evt := <-ch:
		if evt.Kind != NetOnline {
			t.Errorf("got kind %q, want net.online", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("rt.", 10)
	defer unsub()

	b.Publish(Event{Kind: NetOffline})
	b.Publish(Event{Kind: RealtimeMessage})

	select {
	case evt := <-ch:
		if evt.Kind != RealtimeMessage {
			t.Errorf("got kind %q, want rt.message", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the net event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	unsub()

	b.Publish(Event{Kind: MessageUpserted})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("rt.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: RealtimeMessage, Payload: "one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: RealtimeMessage, Payload: "two"})

	evt := <-ch
	if evt.Payload != "one" {
		t.Errorf("got %v, want one", evt.Payload)
	}
}

func TestFanOut(t *testing.T) {
	b := New()
	ch1, unsub1 := b.Subscribe("rt.", 10)
	defer unsub1()
	ch2, unsub2 := b.Subscribe("rt.", 10)
	defer unsub2()

	b.Publish(Event{Kind: RealtimeTyping})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Kind != RealtimeTyping {
				t.Errorf("subscriber %d: got kind %q", i, evt.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timeout", i)
		}
	}
}
