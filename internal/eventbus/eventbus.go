// Package eventbus provides in-process synchronous publish/subscribe
// with a bounded ring buffer of recent events.
//
// The bus is constructed explicitly and owned by the supervisor; it is
// not a package-level singleton. Handlers run synchronously on the
// publisher's goroutine, so cross-timer ordering follows publication
// order and a subscriber never observes events out of sequence.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the default size of the recent-event ring.
const DefaultCapacity = 50

// Event is one published notification.
type Event struct {
	ID      string
	Topic   string
	Message string
	At      time.Time
}

// Handler receives published events.
type Handler func(Event)

// Bus is a synchronous pub/sub bus with bounded recent-event history.
type Bus struct {
	mu       sync.Mutex
	nextSub  int
	subs     map[int]subscription
	ring     []Event
	ringHead int
	ringLen  int
	now      func() time.Time
}

type subscription struct {
	topic   string // "" subscribes to everything
	handler Handler
}

// New creates a bus whose recent-event ring holds capacity events.
// capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Bus{
		subs: make(map[int]subscription),
		ring: make([]Event, capacity),
		now:  time.Now,
	}
}

// WithClock replaces the bus clock (tests).
func (b *Bus) WithClock(now func() time.Time) *Bus {
	b.now = now
	return b
}

// Subscribe registers handler for events on topic; an empty topic
// receives every event. The returned function removes the subscription.
func (b *Bus) Subscribe(topic string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = subscription{topic: topic, handler: handler}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish records the event in the ring and delivers it synchronously
// to all matching subscribers.
func (b *Bus) Publish(topic, message string) Event {
	event := Event{
		ID:      uuid.NewString(),
		Topic:   topic,
		Message: message,
	}

	b.mu.Lock()
	event.At = b.now()

	b.ring[b.ringHead] = event
	b.ringHead = (b.ringHead + 1) % len(b.ring)
	if b.ringLen < len(b.ring) {
		b.ringLen++
	}

	// Snapshot handlers so a handler can unsubscribe during delivery
	// without deadlocking on the bus lock.
	handlers := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.topic == "" || sub.topic == topic {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}

	return event
}

// Recent returns the retained events, oldest first. The ring is
// bounded: once full, each publish evicts the oldest entry.
func (b *Bus) Recent() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, 0, b.ringLen)
	start := (b.ringHead - b.ringLen + len(b.ring)) % len(b.ring)
	for i := 0; i < b.ringLen; i++ {
		out = append(out, b.ring[(start+i)%len(b.ring)])
	}

	return out
}
