// Package stream pushes live data to remote listeners: filtered audio to
// WebRTC peers and rendered strokes to websocket clients.
package stream

import (
	"sync"
)

// MonitorBuffer is the listener queue depth for 20ms audio frames (~3s).
const MonitorBuffer = 150

// Broadcaster fans out values from one producer to N listeners. Slow
// listeners lose values rather than stalling the producer.
type Broadcaster[T any] struct {
	buffer int

	mu        sync.RWMutex
	listeners map[*Listener[T]]struct{}
	dropped   uint64
}

// Listener receives values from a Broadcaster.
type Listener[T any] struct {
	C    chan T
	done chan struct{}
	once sync.Once
}

// Done is closed once the listener has been unsubscribed.
func (l *Listener[T]) Done() <-chan struct{} { return l.done }

// NewBroadcaster creates a broadcaster whose listeners queue up to buffer
// values each.
func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster[T]{
		buffer:    buffer,
		listeners: make(map[*Listener[T]]struct{}),
	}
}

// Subscribe registers a new listener.
func (b *Broadcaster[T]) Subscribe() *Listener[T] {
	l := &Listener[T]{
		C:    make(chan T, b.buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop. Safe to call twice.
func (b *Broadcaster[T]) Unsubscribe(l *Listener[T]) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster[T]) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Dropped returns how many deliveries were skipped for full listeners.
func (b *Broadcaster[T]) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Publish delivers v to every listener without blocking.
func (b *Broadcaster[T]) Publish(v T) {
	var dropped uint64
	b.mu.RLock()
	for l := range b.listeners {
		select {
		case l.C <- v:
		default:
			dropped++
		}
	}
	b.mu.RUnlock()

	if dropped > 0 {
		b.mu.Lock()
		b.dropped += dropped
		b.mu.Unlock()
	}
}
