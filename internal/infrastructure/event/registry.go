package event

import (
	"sync"
	"sync/atomic"

	"github.com/erp/syncengine/internal/domain/shared"
)

// DefaultBufferSize is the per-subscriber buffer used when none is configured.
const DefaultBufferSize = 64

// subscription is a bounded, drop-oldest mailbox for one subscriber.
type subscription struct {
	ch      chan shared.Message
	types   map[shared.EventType]struct{}
	dropped atomic.Uint64

	// mu serialises deliveries and close, so a send never races a close.
	mu     sync.Mutex
	closed bool
}

func newSubscription(size int, eventTypes []shared.EventType) *subscription {
	if size <= 0 {
		size = DefaultBufferSize
	}
	s := &subscription{ch: make(chan shared.Message, size)}
	if len(eventTypes) > 0 {
		s.types = make(map[shared.EventType]struct{}, len(eventTypes))
		for _, t := range eventTypes {
			s.types[t] = struct{}{}
		}
	}
	return s
}

// C implements shared.Subscription
func (s *subscription) C() <-chan shared.Message { return s.ch }

// Dropped implements shared.Subscription
func (s *subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *subscription) wants(t shared.EventType) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// deliver enqueues msg, evicting the oldest buffered message when full.
func (s *subscription) deliver(msg shared.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- msg:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// subscriptionRegistry tracks live subscriptions
type subscriptionRegistry struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{subs: make(map[*subscription]struct{})}
}

func (r *subscriptionRegistry) add(s *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[s] = struct{}{}
}

// remove reports whether s was registered.
func (r *subscriptionRegistry) remove(s *subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[s]; !ok {
		return false
	}
	delete(r.subs, s)
	return true
}

// matching returns the subscriptions interested in t.
func (r *subscriptionRegistry) matching(t shared.EventType) []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*subscription, 0, len(r.subs))
	for s := range r.subs {
		if s.wants(t) {
			out = append(out, s)
		}
	}
	return out
}

func (r *subscriptionRegistry) drain() []*subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*subscription, 0, len(r.subs))
	for s := range r.subs {
		out = append(out, s)
	}
	r.subs = make(map[*subscription]struct{})
	return out
}

func (r *subscriptionRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
