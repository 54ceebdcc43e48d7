// Package relay fans one frame producer out to many subscribers.
//
// Every subscription owns a one-slot buffer with drop-oldest semantics:
// publishing never blocks, a slow consumer only ever loses frames, and
// each consumer sees a monotonic subsequence of the producer stream.
package relay

import (
	"sync"

	"github.com/google/uuid"

	"vrcam/internal/frame"
	"vrcam/internal/metrics"
)

// Subscription delivers frames to one consumer.
type Subscription struct {
	ID string

	frames chan *frame.Frame
	done   chan struct{}
	once   sync.Once
}

// Frames returns the receive side of the one-slot buffer.
func (s *Subscription) Frames() <-chan *frame.Frame {
	return s.frames
}

// Done is closed when the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) cancel() {
	s.once.Do(func() { close(s.done) })
}

// Relay is the registry plus broadcast step.
type Relay struct {
	name string

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
}

// New creates a relay. The name labels metrics only.
func New(name string) *Relay {
	return &Relay{
		name: name,
		subs: make(map[string]*Subscription),
	}
}

// Subscribe registers a new one-slot subscription. O(1).
func (r *Relay) Subscribe() *Subscription {
	sub := &Subscription{
		ID:     uuid.NewString(),
		frames: make(chan *frame.Frame, 1),
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sub.cancel()
		return sub
	}
	r.subs[sub.ID] = sub
	n := len(r.subs)
	r.mu.Unlock()

	metrics.Subscribers.WithLabelValues(r.name).Set(float64(n))
	return sub
}

// Unsubscribe cancels a subscription. Idempotent, O(1).
func (r *Relay) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	_, ok := r.subs[sub.ID]
	if ok {
		delete(r.subs, sub.ID)
	}
	n := len(r.subs)
	r.mu.Unlock()

	if ok {
		sub.cancel()
		metrics.Subscribers.WithLabelValues(r.name).Set(float64(n))
	}
}

// Publish offers fr to every subscription without blocking. When a slot
// is still full the buffered frame is replaced by the newer one.
func (r *Relay) Publish(fr *frame.Frame) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subs {
		select {
		case sub.frames <- fr:
		default:
			// Slot occupied: drain the stale frame, then store the new
			// one. A concurrent reader may win the race for the stale
			// frame, in which case the send below succeeds directly.
			select {
			case <-sub.frames:
				metrics.FramesDropped.WithLabelValues(r.name).Inc()
			default:
			}
			select {
			case sub.frames <- fr:
			default:
			}
		}
	}
}

// Close cancels all subscriptions and rejects future ones.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.subs = make(map[string]*Subscription)
	r.mu.Unlock()

	for _, s := range subs {
		s.cancel()
	}
	metrics.Subscribers.WithLabelValues(r.name).Set(0)
}

// Len reports the live subscription count.
func (r *Relay) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
