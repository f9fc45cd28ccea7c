package event

import (
	"context"
	"sync/atomic"

	"github.com/erp/syncengine/internal/domain/shared"
	"go.uber.org/zap"
)

// InMemoryEventBus implements EventBus with in-memory fan-out.
// Publish never blocks: slow subscribers lose their oldest buffered messages.
type InMemoryEventBus struct {
	registry   *subscriptionRegistry
	bufferSize int
	logger     *zap.Logger
	running    atomic.Bool
	published  atomic.Uint64
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(bufferSize int, logger *zap.Logger) *InMemoryEventBus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &InMemoryEventBus{
		registry:   newSubscriptionRegistry(),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Publish delivers a message to every matching subscription
func (b *InMemoryEventBus) Publish(ctx context.Context, eventType shared.EventType, payload any) {
	if !eventType.IsValid() {
		b.logger.Warn("dropping message with unknown event type", zap.String("event_type", string(eventType)))
		return
	}
	msg := shared.NewMessage(eventType, payload)
	for _, sub := range b.registry.matching(eventType) {
		sub.deliver(msg)
	}
	b.published.Add(1)
}

// Subscribe registers a subscription. No event types means all types.
func (b *InMemoryEventBus) Subscribe(eventTypes ...shared.EventType) shared.Subscription {
	sub := newSubscription(b.bufferSize, eventTypes)
	b.registry.add(sub)
	b.logger.Debug("subscriber added",
		zap.Int("subscribers", b.registry.count()),
	)
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *InMemoryEventBus) Unsubscribe(s shared.Subscription) {
	sub, ok := s.(*subscription)
	if !ok {
		return
	}
	if b.registry.remove(sub) {
		sub.close()
		b.logger.Debug("subscriber removed",
			zap.Uint64("dropped", sub.Dropped()),
		)
	}
}

// SubscriberCount returns the number of live subscriptions
func (b *InMemoryEventBus) SubscriberCount() int {
	return b.registry.count()
}

// Published returns the number of messages published so far
func (b *InMemoryEventBus) Published() uint64 {
	return b.published.Load()
}

// Start starts the event bus
func (b *InMemoryEventBus) Start(ctx context.Context) error {
	b.running.Store(true)
	b.logger.Info("event bus started", zap.Int("buffer_size", b.bufferSize))
	return nil
}

// Stop closes every subscription
func (b *InMemoryEventBus) Stop(ctx context.Context) error {
	b.running.Store(false)
	for _, sub := range b.registry.drain() {
		sub.close()
	}
	b.logger.Info("event bus stopped")
	return nil
}

// Ensure InMemoryEventBus implements EventBus
var _ shared.EventBus = (*InMemoryEventBus)(nil)
