package models

import (
	"time"

	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/domain/deadletter"
	"github.com/google/uuid"
)

// DeadLetterItemModel is the persistence model for a dead-letter item.
// EventID and RunID carry no foreign keys so runs can be archived independently.
type DeadLetterItemModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key"`
	EventID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	RunID          uuid.UUID `gorm:"type:uuid;not null"`
	EntityType     string    `gorm:"type:varchar(32);not null;index"`
	EntityID       string    `gorm:"type:varchar(100);not null"`
	Operation      string    `gorm:"type:varchar(10);not null"`
	Direction      string    `gorm:"type:varchar(10);not null"`
	Payload        string    `gorm:"type:jsonb"`
	AttemptCount   int       `gorm:"not null;default:0"`
	Priority       string    `gorm:"type:varchar(10);not null;index"`
	PriorityRank   int       `gorm:"not null;default:0"`
	FailureReason  string    `gorm:"type:text"`
	FirstFailedAt  time.Time `gorm:"not null"`
	LastAttemptAt  time.Time `gorm:"not null"`
	RequeueCount   int       `gorm:"not null;default:0"`
	FailedRequeues int       `gorm:"not null;default:0"`
	Escalated      bool      `gorm:"not null;default:false"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DeadLetterItemModel) TableName() string {
	return "dead_letter_items"
}

// PriorityRank orders priorities for listing, highest first.
func PriorityRank(p datasync.Priority) int {
	switch p {
	case datasync.PriorityCritical:
		return 3
	case datasync.PriorityHigh:
		return 2
	case datasync.PriorityNormal:
		return 1
	}
	return 0
}

// ToDomain converts the model to a domain Item
func (m *DeadLetterItemModel) ToDomain() *deadletter.Item {
	return &deadletter.Item{
		ID:             m.ID,
		EventID:        m.EventID,
		RunID:          m.RunID,
		EntityType:     datasync.EntityType(m.EntityType),
		EntityID:       m.EntityID,
		Operation:      datasync.Operation(m.Operation),
		Direction:      datasync.Direction(m.Direction),
		Payload:        rawJSON(m.Payload),
		AttemptCount:   m.AttemptCount,
		Priority:       datasync.Priority(m.Priority),
		FailureReason:  m.FailureReason,
		FirstFailedAt:  m.FirstFailedAt,
		LastAttemptAt:  m.LastAttemptAt,
		RequeueCount:   m.RequeueCount,
		FailedRequeues: m.FailedRequeues,
		Escalated:      m.Escalated,
		UpdatedAt:      m.UpdatedAt,
	}
}

// FromDomain populates the model from a domain Item
func (m *DeadLetterItemModel) FromDomain(i *deadletter.Item) {
	m.ID = i.ID
	m.EventID = i.EventID
	m.RunID = i.RunID
	m.EntityType = i.EntityType.String()
	m.EntityID = i.EntityID
	m.Operation = i.Operation.String()
	m.Direction = string(i.Direction)
	m.Payload = jsonString(i.Payload)
	m.AttemptCount = i.AttemptCount
	m.Priority = i.Priority.String()
	m.PriorityRank = PriorityRank(i.Priority)
	m.FailureReason = i.FailureReason
	m.FirstFailedAt = i.FirstFailedAt
	m.LastAttemptAt = i.LastAttemptAt
	m.RequeueCount = i.RequeueCount
	m.FailedRequeues = i.FailedRequeues
	m.Escalated = i.Escalated
	m.UpdatedAt = i.UpdatedAt
}
