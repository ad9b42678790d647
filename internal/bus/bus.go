// Package bus provides a small typed publish/subscribe bus.
//
// It replaces broadcast-style notification with compile-time-checked
// payloads: each Bus[T] fans one event type out to any number of
// independent subscribers. Publish never blocks; a subscriber that falls
// behind loses events rather than stalling the publisher, which is the
// right trade for "something changed" signals backed by periodic re-sync.
package bus

import "sync"

// Bus fans values of type T out to subscribers.
type Bus[T any] struct {
	mu   sync.Mutex
	subs map[int]chan T
	next int
}

// New creates an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[int]chan T)}
}

// Subscribe registers a listener and returns its channel plus a cancel
// function. The channel is buffered; it is closed by cancel.
func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan T, 16)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish delivers v to every subscriber without blocking. Subscribers
// with full buffers are skipped.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
