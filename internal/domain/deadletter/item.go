// Package deadletter holds sync events that exhausted their retry budget.
package deadletter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
)

// Dead-letter errors
var (
	ErrItemNotFound = shared.NewDomainError("NOT_FOUND", "Dead-letter item not found")
)

// Item is a dead-lettered SyncEvent held for inspection or manual action.
// EventID and RunID are weak references: the originating run may be archived independently.
type Item struct {
	ID             uuid.UUID
	EventID        uuid.UUID
	RunID          uuid.UUID
	EntityType     datasync.EntityType
	EntityID       string
	Operation      datasync.Operation
	Direction      datasync.Direction
	Payload        json.RawMessage
	AttemptCount   int
	Priority       datasync.Priority
	FailureReason  string
	FirstFailedAt  time.Time
	LastAttemptAt  time.Time
	RequeueCount   int
	FailedRequeues int
	Escalated      bool
	UpdatedAt      time.Time
}

// NewItem snapshots a failed event.
func NewItem(event *datasync.SyncEvent, reason string, priority datasync.Priority) *Item {
	if !priority.IsValid() {
		priority = datasync.PriorityNormal
	}
	now := time.Now().UTC()
	return &Item{
		ID:            uuid.New(),
		EventID:       event.ID,
		RunID:         event.RunID,
		EntityType:    event.EntityType,
		EntityID:      event.EntityID,
		Operation:     event.Operation,
		Direction:     event.Direction,
		Payload:       event.Payload,
		AttemptCount:  event.AttemptCount,
		Priority:      priority,
		FailureReason: reason,
		FirstFailedAt: now,
		LastAttemptAt: now,
		UpdatedAt:     now,
	}
}

// MarkRequeued records a requeue. The retry budget of the new event starts from zero.
func (i *Item) MarkRequeued() {
	i.RequeueCount++
	i.AttemptCount = 0
	i.UpdatedAt = time.Now().UTC()
}

// RecordRequeueFailure records that a requeued event dead-lettered again.
// It returns true exactly once, when the failure count first reaches threshold.
func (i *Item) RecordRequeueFailure(reason string, attempts, threshold int) bool {
	now := time.Now().UTC()
	i.FailedRequeues++
	i.FailureReason = reason
	i.AttemptCount = attempts
	i.LastAttemptAt = now
	i.UpdatedAt = now
	if threshold > 0 && i.FailedRequeues >= threshold && !i.Escalated {
		i.Escalated = true
		i.Priority = datasync.PriorityCritical
		return true
	}
	return false
}

// ToEvent builds the fresh SyncEvent submitted on requeue.
func (i *Item) ToEvent(runID uuid.UUID) (*datasync.SyncEvent, error) {
	ev, err := datasync.NewSyncEvent(datasync.NewSyncEventInput{
		RunID:      runID,
		EntityType: i.EntityType,
		EntityID:   i.EntityID,
		Operation:  i.Operation,
		Direction:  i.Direction,
		Payload:    i.Payload,
		Priority:   i.Priority,
	})
	if err != nil {
		return nil, err
	}
	id := i.ID
	ev.DeadLetterID = &id
	return ev, nil
}

// Filter defines filtering options for listing items
type Filter struct {
	Priority   *datasync.Priority
	EntityType *datasync.EntityType
	Page       int
	PageSize   int
}

// Repository persists dead-letter items
type Repository interface {
	// Upsert inserts the item, or updates the existing item for the same event id
	Upsert(ctx context.Context, item *Item) error

	// Update saves requeue and escalation state
	Update(ctx context.Context, item *Item) error

	// FindByID returns an item or ErrItemNotFound
	FindByID(ctx context.Context, id uuid.UUID) (*Item, error)

	// FindByEventID returns the item for an originating event, nil when none
	FindByEventID(ctx context.Context, eventID uuid.UUID) (*Item, error)

	// List returns a page of items ordered by priority then age, and the total count
	List(ctx context.Context, filter Filter) ([]Item, int64, error)

	// Delete removes an item
	Delete(ctx context.Context, id uuid.UUID) error

	// CountByPriority returns item counts keyed by priority
	CountByPriority(ctx context.Context) (map[datasync.Priority]int64, error)
}
