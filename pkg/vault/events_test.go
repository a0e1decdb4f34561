package vault

import (
	"testing"
	"time"
)

func TestEventsSubscribeUnsubscribe(t *testing.T) {
	b := NewEvents()

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()
	if b.Count() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.Count())
	}

	b.Unsubscribe(ch1)
	if b.Count() != 1 {
		t.Fatalf("expected 1 subscriber after unsubscribe, got %d", b.Count())
	}
	b.Unsubscribe(ch1)

	b.Unsubscribe(ch2)
	if b.Count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.Count())
	}
}

func TestEventsPublish(t *testing.T) {
	b := NewEvents()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(ChangeEvent{Type: EventRename, Path: "Home/a.txt", Target: "Home/b.txt"})

	select {
	case got := <-ch:
		if got.Type != EventRename || got.Target != "Home/b.txt" {
			t.Errorf("unexpected event %+v", got)
		}
		if got.Timestamp == 0 {
			t.Error("expected non-zero timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventsSlowConsumerDropped(t *testing.T) {
	b := NewEvents()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 100; i++ {
		b.Publish(ChangeEvent{Type: EventCreate, Path: "Home/x"})
	}
	if len(ch) != 64 {
		t.Errorf("buffered %d events, want 64", len(ch))
	}
}

func TestEventsNilPublish(t *testing.T) {
	var b *Events
	b.Publish(ChangeEvent{Type: EventDelete})
}
