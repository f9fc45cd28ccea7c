package shared

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a real-time notification pushed to dashboard clients.
type EventType string

// The closed set of real-time event types.
const (
	EventSyncCompleted              EventType = "sync_completed"
	EventAlertCreated               EventType = "alert_created"
	EventQueueUpdated               EventType = "queue_updated"
	EventHealthChanged              EventType = "health_changed"
	EventWebhookReceived            EventType = "webhook_received"
	EventCircuitBreakerStateChanged EventType = "circuit_breaker_state_changed"
)

// AllEventTypes returns every real-time event type.
func AllEventTypes() []EventType {
	return []EventType{
		EventSyncCompleted,
		EventAlertCreated,
		EventQueueUpdated,
		EventHealthChanged,
		EventWebhookReceived,
		EventCircuitBreakerStateChanged,
	}
}

// IsValid checks if the event type is one of the known types
func (t EventType) IsValid() bool {
	switch t {
	case EventSyncCompleted, EventAlertCreated, EventQueueUpdated,
		EventHealthChanged, EventWebhookReceived, EventCircuitBreakerStateChanged:
		return true
	}
	return false
}

// String returns the string representation
func (t EventType) String() string {
	return string(t)
}

// Message is one published notification.
type Message struct {
	ID         uuid.UUID `json:"id"`
	Type       EventType `json:"type"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewMessage creates a message stamped with a fresh id and the current time.
func NewMessage(eventType EventType, payload any) Message {
	return Message{
		ID:         uuid.New(),
		Type:       eventType,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}
