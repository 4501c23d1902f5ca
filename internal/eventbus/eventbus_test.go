package eventbus

import (
	"fmt"
	"testing"
	"time"
)

func TestBus_PublishDeliversSynchronously(t *testing.T) {
	bus := New(8)

	var got []string
	bus.Subscribe("health:failure", func(e Event) {
		got = append(got, e.Message)
	})

	bus.Publish("health:failure", "timeout 1")
	bus.Publish("health:success", "ok") // different topic, not delivered
	bus.Publish("health:failure", "timeout 2")

	if len(got) != 2 {
		t.Fatalf("delivered %d events, want 2", len(got))
	}
	if got[0] != "timeout 1" || got[1] != "timeout 2" {
		t.Errorf("delivery order = %v, want [timeout 1, timeout 2]", got)
	}
}

func TestBus_WildcardSubscription(t *testing.T) {
	bus := New(8)

	count := 0
	bus.Subscribe("", func(Event) { count++ })

	bus.Publish("health:success", "ok")
	bus.Publish("job:completed", "done")

	if count != 2 {
		t.Errorf("wildcard handler saw %d events, want 2", count)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New(8)

	count := 0
	unsubscribe := bus.Subscribe("health:success", func(Event) { count++ })

	bus.Publish("health:success", "ok")
	unsubscribe()
	bus.Publish("health:success", "ok")

	if count != 1 {
		t.Errorf("handler saw %d events after unsubscribe, want 1", count)
	}
}

func TestBus_RecentRingBounded(t *testing.T) {
	bus := New(3)

	for i := 0; i < 5; i++ {
		bus.Publish("job:log", fmt.Sprintf("line %d", i))
	}

	recent := bus.Recent()
	if len(recent) != 3 {
		t.Fatalf("len(Recent()) = %d, want 3", len(recent))
	}

	// Oldest first, with the first two publishes evicted.
	want := []string{"line 2", "line 3", "line 4"}
	for i, e := range recent {
		if e.Message != want[i] {
			t.Errorf("Recent()[%d] = %q, want %q", i, e.Message, want[i])
		}
	}
}

func TestBus_RecentBeforeFull(t *testing.T) {
	bus := New(10)
	bus.Publish("a", "1")
	bus.Publish("b", "2")

	recent := bus.Recent()
	if len(recent) != 2 {
		t.Fatalf("len(Recent()) = %d, want 2", len(recent))
	}
	if recent[0].Message != "1" || recent[1].Message != "2" {
		t.Errorf("Recent() order wrong: %v", recent)
	}
}

func TestBus_EventsStamped(t *testing.T) {
	fixed := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	bus := New(4).WithClock(func() time.Time { return fixed })

	e := bus.Publish("health:success", "ok")
	if e.ID == "" {
		t.Error("event ID is empty")
	}
	if !e.At.Equal(fixed) {
		t.Errorf("event At = %v, want %v", e.At, fixed)
	}
}

func TestBus_HandlerCanUnsubscribeDuringDelivery(t *testing.T) {
	bus := New(4)

	var unsubscribe func()
	count := 0
	unsubscribe = bus.Subscribe("x", func(Event) {
		count++
		unsubscribe()
	})

	bus.Publish("x", "first")
	bus.Publish("x", "second")

	if count != 1 {
		t.Errorf("handler ran %d times, want 1", count)
	}
}
