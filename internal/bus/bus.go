// Package bus provides non-blocking fan-out of pipeline events to named
// subscribers. Publishing never waits on a consumer: a subscriber whose
// channel is full misses that event, keeping producers on schedule.
package bus

import (
	"fmt"
	"sync"
)

// Bus distributes values of one event type to named subscriber channels.
// All methods are safe for concurrent use.
type Bus[T any] struct {
	mu   sync.RWMutex
	subs map[string]chan<- T
}

// New creates an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[string]chan<- T)}
}

// Subscribe registers ch under name. The channel should be buffered;
// an unbuffered channel only receives events a goroutine is already
// blocked waiting for. Names must be unique per bus.
func (b *Bus[T]) Subscribe(name string, ch chan<- T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subs[name]; exists {
		return fmt.Errorf("subscriber %q is already registered", name)
	}
	b.subs[name] = ch
	return nil
}

// Unsubscribe removes the named subscriber. The channel stays open;
// it belongs to the subscriber, not the bus. Unknown names are ignored.
func (b *Bus[T]) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, name)
}

// Publish offers v to every subscriber without blocking and reports how
// many of them had room for it.
func (b *Bus[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, ch := range b.subs {
		select {
		case ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the number of registered subscribers.
func (b *Bus[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
