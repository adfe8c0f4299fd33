// Package events provides a generic lossy broadcaster: the tradecore
// subsystems that fan events out to subscribers (Performance Tracker,
// Order Manager) use the same type instead of hand-rolling
// the non-blocking-send-with-default pattern at each call site, the way the
// teacher's risk.Manager.emitKill and engine.Engine.emitDashboardEvent did
// independently.
//
// "Lossy" means a slow subscriber never blocks the publisher (spec.md §5:
// "Broadcasters are lossy on subscriber-slow"): if a subscriber's channel is
// full, the event is dropped for that subscriber only.
package events

import "sync"

// Broadcaster fans out values of type T to any number of subscribers. Zero
// value is not usable; construct with New.
type Broadcaster[T any] struct {
	mu         sync.RWMutex
	subs       map[int]chan T
	nextID     int
	bufferSize int
}

// New creates a Broadcaster whose subscriber channels have the given
// buffer size.
func New[T any](bufferSize int) *Broadcaster[T] {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Broadcaster[T]{
		subs:       make(map[int]chan T),
		bufferSize: bufferSize,
	}
}

// Subscription is a handle for an active subscriber.
type Subscription[T any] struct {
	id int
	ch chan T
	b  *Broadcaster[T]
}

// C returns the channel to receive events from.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Unsubscribe removes the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if ch, ok := s.b.subs[s.id]; ok {
		delete(s.b.subs, s.id)
		close(ch)
	}
}

// Subscribe registers a new subscriber and returns its handle.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan T, b.bufferSize)
	b.subs[id] = ch
	return &Subscription[T]{id: id, ch: ch, b: b}
}

// Publish sends value to every current subscriber. A subscriber whose
// channel is full does not receive this value — the publisher never blocks.
func (b *Broadcaster[T]) Publish(value T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- value:
		default:
		}
	}
}

// SubscriberCount returns the number of currently active subscriptions.
func (b *Broadcaster[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel and clears the subscriber set. The
// broadcaster itself remains usable for new subscriptions afterward.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
