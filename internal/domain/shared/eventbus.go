package shared

import "context"

// EventPublisher publishes real-time notifications.
// Publish never blocks on slow subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, eventType EventType, payload any)
}

// Subscription is a bounded stream of messages for one subscriber.
type Subscription interface {
	// C returns the receive side of the subscriber buffer. It is closed on Unsubscribe.
	C() <-chan Message
	// Dropped returns how many messages were discarded because the buffer was full.
	Dropped() uint64
}

// EventSubscriber hands out subscriptions.
type EventSubscriber interface {
	// Subscribe registers a subscription for the given types. No types means all types.
	Subscribe(eventTypes ...EventType) Subscription
	// Unsubscribe removes the subscription and closes its channel
	Unsubscribe(sub Subscription)
}

// EventBus combines publisher and subscriber capabilities
type EventBus interface {
	EventPublisher
	EventSubscriber
	// Start starts the event bus
	Start(ctx context.Context) error
	// Stop closes every subscription
	Stop(ctx context.Context) error
}

// NopPublisher discards every message.
type NopPublisher struct{}

// Publish implements EventPublisher
func (NopPublisher) Publish(context.Context, EventType, any) {}
