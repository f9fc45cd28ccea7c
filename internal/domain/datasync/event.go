package datasync

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Operation is the change applied by a SyncEvent.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// IsValid checks if the operation is valid
func (o Operation) IsValid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// String returns the string representation
func (o Operation) String() string {
	return string(o)
}

// Direction says which side is the source of a SyncEvent.
type Direction string

const (
	// DirectionInbound pulls from Zoho and applies to the local store.
	DirectionInbound Direction = "inbound"
	// DirectionOutbound pushes the local record to Zoho.
	DirectionOutbound Direction = "outbound"
)

// IsValid checks if the direction is valid
func (d Direction) IsValid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// Priority orders events and dead-letter items.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// IsValid checks if the priority is valid
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// String returns the string representation
func (p Priority) String() string {
	return string(p)
}

// EventStatus is the processing state of a SyncEvent.
type EventStatus string

const (
	EventStatusQueued       EventStatus = "queued"
	EventStatusProcessing   EventStatus = "processing"
	EventStatusProcessed    EventStatus = "processed"
	EventStatusFailed       EventStatus = "failed"
	EventStatusDeadLettered EventStatus = "dead_lettered"
	EventStatusSkipped      EventStatus = "skipped"
)

// IsTerminal reports whether the event will not be attempted again.
func (s EventStatus) IsTerminal() bool {
	switch s {
	case EventStatusProcessed, EventStatusFailed, EventStatusDeadLettered, EventStatusSkipped:
		return true
	}
	return false
}

// SyncEvent is one entity-level unit of sync work owned by a Run.
type SyncEvent struct {
	ID           uuid.UUID
	RunID        uuid.UUID
	EntityType   EntityType
	EntityID     string
	Operation    Operation
	Direction    Direction
	Payload      json.RawMessage
	AttemptCount int
	Priority     Priority
	Sequence     int64
	Status       EventStatus
	NextRetryAt  *time.Time
	LastError    string
	// DeadLetterID links a requeued event back to the item it was requeued from.
	DeadLetterID *uuid.UUID
	ProcessedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewSyncEventInput carries the fields needed to enqueue an event.
type NewSyncEventInput struct {
	RunID      uuid.UUID
	EntityType EntityType
	EntityID   string
	Operation  Operation
	Direction  Direction
	Payload    json.RawMessage
	Priority   Priority
}

// NewSyncEvent creates a queued event.
func NewSyncEvent(in NewSyncEventInput) (*SyncEvent, error) {
	if !in.EntityType.IsValid() {
		return nil, ErrInvalidEntityType
	}
	if !in.Operation.IsValid() {
		return nil, ErrInvalidOperation
	}
	direction := in.Direction
	if direction == "" {
		direction = DirectionInbound
	}
	priority := in.Priority
	if !priority.IsValid() {
		priority = PriorityNormal
	}
	now := time.Now().UTC()
	return &SyncEvent{
		ID:         uuid.New(),
		RunID:      in.RunID,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Operation:  in.Operation,
		Direction:  direction,
		Payload:    in.Payload,
		Priority:   priority,
		Status:     EventStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Key is the ordering key: events sharing a key are applied in enqueue order.
func (e *SyncEvent) Key() string {
	return e.EntityType.String() + ":" + e.EntityID
}

// IdempotencyKey identifies the effect of the event on the target record.
func (e *SyncEvent) IdempotencyKey() string {
	return e.Key() + ":" + e.Operation.String()
}

// MarkProcessing records the start of an attempt.
func (e *SyncEvent) MarkProcessing() {
	e.Status = EventStatusProcessing
	e.UpdatedAt = time.Now().UTC()
}

// MarkProcessed records success.
func (e *SyncEvent) MarkProcessed() {
	now := time.Now().UTC()
	e.Status = EventStatusProcessed
	e.NextRetryAt = nil
	e.LastError = ""
	e.ProcessedAt = &now
	e.UpdatedAt = now
}

// ScheduleRetry records a counted failed attempt and stores the retry deadline.
func (e *SyncEvent) ScheduleRetry(at time.Time, reason string) {
	e.AttemptCount++
	e.scheduleAt(at, reason)
}

// Defer stores a retry deadline without counting an attempt (breaker short-circuit).
func (e *SyncEvent) Defer(at time.Time, reason string) {
	e.scheduleAt(at, reason)
}

func (e *SyncEvent) scheduleAt(at time.Time, reason string) {
	at = at.UTC()
	e.Status = EventStatusQueued
	e.NextRetryAt = &at
	e.LastError = reason
	e.UpdatedAt = time.Now().UTC()
}

// MarkDeadLettered records that the event exhausted retries or failed permanently.
func (e *SyncEvent) MarkDeadLettered(reason string) {
	e.Status = EventStatusDeadLettered
	e.NextRetryAt = nil
	e.LastError = reason
	e.UpdatedAt = time.Now().UTC()
}

// MarkSkipped records that the event was never attempted because its Run was cancelled.
func (e *SyncEvent) MarkSkipped() {
	e.Status = EventStatusSkipped
	e.NextRetryAt = nil
	e.UpdatedAt = time.Now().UTC()
}

// ResetForRequeue clears retry state so the event starts a fresh retry budget.
func (e *SyncEvent) ResetForRequeue() {
	e.AttemptCount = 0
	e.Status = EventStatusQueued
	e.NextRetryAt = nil
	e.LastError = ""
	e.ProcessedAt = nil
	e.UpdatedAt = time.Now().UTC()
}
