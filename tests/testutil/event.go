package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
)

// Subscriber is the subscribe side of the notification bus.
type Subscriber interface {
	Subscribe(eventTypes ...shared.EventType) shared.Subscription
	Unsubscribe(s shared.Subscription)
}

// MessageRecorder drains a bus subscription into memory.
type MessageRecorder struct {
	mu       sync.Mutex
	messages []shared.Message
	done     chan struct{}
}

// RecordMessages subscribes to bus and records every delivered message until
// test cleanup. No types means every type.
func RecordMessages(t *testing.T, bus Subscriber, eventTypes ...shared.EventType) *MessageRecorder {
	t.Helper()
	sub := bus.Subscribe(eventTypes...)
	r := &MessageRecorder{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for msg := range sub.C() {
			r.mu.Lock()
			r.messages = append(r.messages, msg)
			r.mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		bus.Unsubscribe(sub)
		<-r.done
	})
	return r
}

// Messages returns a copy of the recorded messages.
func (r *MessageRecorder) Messages() []shared.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// OfType returns the recorded messages of one type.
func (r *MessageRecorder) OfType(eventType shared.EventType) []shared.Message {
	var out []shared.Message
	for _, m := range r.Messages() {
		if m.Type == eventType {
			out = append(out, m)
		}
	}
	return out
}

// Count returns the number of recorded messages.
func (r *MessageRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// WaitFor returns the first recorded message matching match, failing the test on timeout.
func (r *MessageRecorder) WaitFor(t *testing.T, timeout time.Duration, match func(shared.Message) bool) shared.Message {
	t.Helper()
	var found shared.Message
	RequireEventually(t, func() bool {
		for _, m := range r.Messages() {
			if match(m) {
				found = m
				return true
			}
		}
		return false
	}, timeout, 10*time.Millisecond, "no matching message")
	return found
}
