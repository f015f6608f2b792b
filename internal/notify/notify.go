// Package notify implements the dispatcher's broadcast subscriptions:
// inbound CAN frames, COBS frames, and actor-dropped events fanned out to
// every subscribed client with bounded per-subscriber backpressure.
package notify

import (
	"sync"

	"github.com/nereid-labs/instrumentd/internal/metrics"
)

// Policy selects what happens when a subscriber's channel is full.
type Policy int

const (
	// DropNewest discards the incoming notification for a full
	// subscriber, used for transient telemetry (CAN raw/GCT traffic).
	DropNewest Policy = iota
	// Disconnect closes a full subscriber's channel, used for COBS frame
	// delivery where a gap would desynchronize the client.
	Disconnect
)

// DefaultCapacity is the bounded channel size applied when Subscribe's
// capacity argument is <= 0.
const DefaultCapacity = 1000

// Subscriber is one client's notification channel.
type Subscriber[T any] struct {
	ch     chan T
	policy Policy
	hub    *Hub[T]
}

// C returns the channel to range over for delivered notifications; it is
// closed when the subscriber disconnects or is force-closed.
func (s *Subscriber[T]) C() <-chan T { return s.ch }

// Close unsubscribes and releases the channel.
func (s *Subscriber[T]) Close() { s.hub.remove(s) }

// Hub fans out notifications of type T to every subscriber.
type Hub[T any] struct {
	mu   sync.Mutex
	subs map[*Subscriber[T]]struct{}
}

// NewHub returns an empty Hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[*Subscriber[T]]struct{})}
}

// Subscribe registers a new subscriber with the given backpressure policy
// and channel capacity (DefaultCapacity if capacity <= 0).
func (h *Hub[T]) Subscribe(policy Policy, capacity int) *Subscriber[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Subscriber[T]{ch: make(chan T, capacity), policy: policy, hub: h}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub[T]) remove(s *Subscriber[T]) {
	h.mu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
	h.mu.Unlock()
}

// Broadcast delivers msg to every subscriber. Per-listener order is
// preserved; cross-listener order is not guaranteed since each send is
// independent.
func (h *Hub[T]) Broadcast(msg T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- msg:
		default:
			switch s.policy {
			case Disconnect:
				metrics.IncSubscriberKick()
				delete(h.subs, s)
				close(s.ch)
			default:
				// drop-newest: the notification is simply not delivered.
				metrics.IncSubscriberDrop()
			}
		}
	}
}

// Len reports the current subscriber count, used for diagnostics.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
