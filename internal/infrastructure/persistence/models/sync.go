package models

import (
	"encoding/json"
	"time"

	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/google/uuid"
)

// SyncRunModel is the persistence model for a SyncRun.
type SyncRunModel struct {
	BaseModel
	RunType         string     `gorm:"type:varchar(20);not null"`
	EntityType      *string    `gorm:"type:varchar(32)"`
	EntityKey       string     `gorm:"type:varchar(32);not null;index:idx_sync_runs_key_status"`
	WorkSet         string     `gorm:"type:varchar(16);not null;default:'full'"`
	Status          string     `gorm:"type:varchar(20);not null;index:idx_sync_runs_key_status"`
	TotalEvents     int64      `gorm:"not null;default:0;check:chk_sync_runs_counters,processed_events + failed_events + skipped_events <= total_events"`
	ProcessedEvents int64      `gorm:"not null;default:0"`
	FailedEvents    int64      `gorm:"not null;default:0"`
	SkippedEvents   int64      `gorm:"not null;default:0"`
	StartedAt       *time.Time ``
	CompletedAt     *time.Time `gorm:"index"`
	DurationMs      int64      `gorm:"not null;default:0"`
	WorkerID        string     `gorm:"type:varchar(100)"`
	ErrorSummary    string     `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (SyncRunModel) TableName() string {
	return "sync_runs"
}

// ToDomain converts the model to a domain SyncRun
func (m *SyncRunModel) ToDomain() *datasync.SyncRun {
	run := &datasync.SyncRun{
		ID:              m.ID,
		RunType:         datasync.RunType(m.RunType),
		WorkSet:         datasync.WorkSet(m.WorkSet),
		Status:          datasync.RunStatus(m.Status),
		TotalEvents:     m.TotalEvents,
		ProcessedEvents: m.ProcessedEvents,
		FailedEvents:    m.FailedEvents,
		SkippedEvents:   m.SkippedEvents,
		StartedAt:       m.StartedAt,
		CompletedAt:     m.CompletedAt,
		DurationMs:      m.DurationMs,
		WorkerID:        m.WorkerID,
		ErrorSummary:    m.ErrorSummary,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if m.EntityType != nil {
		t := datasync.EntityType(*m.EntityType)
		run.EntityType = &t
	}
	return run
}

// FromDomain populates the model from a domain SyncRun
func (m *SyncRunModel) FromDomain(r *datasync.SyncRun) {
	m.ID = r.ID
	m.CreatedAt = r.CreatedAt
	m.UpdatedAt = r.UpdatedAt
	m.RunType = string(r.RunType)
	m.EntityType = nil
	if r.EntityType != nil {
		t := r.EntityType.String()
		m.EntityType = &t
	}
	m.EntityKey = r.EntityKey()
	m.WorkSet = string(r.WorkSet)
	m.Status = string(r.Status)
	m.TotalEvents = r.TotalEvents
	m.ProcessedEvents = r.ProcessedEvents
	m.FailedEvents = r.FailedEvents
	m.SkippedEvents = r.SkippedEvents
	m.StartedAt = r.StartedAt
	m.CompletedAt = r.CompletedAt
	m.DurationMs = r.DurationMs
	m.WorkerID = r.WorkerID
	m.ErrorSummary = r.ErrorSummary
}

// SyncEventModel is the persistence model for a SyncEvent.
type SyncEventModel struct {
	BaseModel
	RunID        uuid.UUID  `gorm:"type:uuid;not null;index"`
	EntityType   string     `gorm:"type:varchar(32);not null"`
	EntityID     string     `gorm:"type:varchar(100);not null"`
	Operation    string     `gorm:"type:varchar(10);not null"`
	Direction    string     `gorm:"type:varchar(10);not null"`
	Payload      string     `gorm:"type:jsonb"`
	AttemptCount int        `gorm:"not null;default:0"`
	Priority     string     `gorm:"type:varchar(10);not null"`
	Sequence     int64      `gorm:"not null;index"`
	Status       string     `gorm:"type:varchar(20);not null;index"`
	NextRetryAt  *time.Time ``
	LastError    string     `gorm:"type:text"`
	DeadLetterID *uuid.UUID `gorm:"type:uuid"`
	ProcessedAt  *time.Time ``
}

// TableName returns the table name for GORM
func (SyncEventModel) TableName() string {
	return "sync_events"
}

// ToDomain converts the model to a domain SyncEvent
func (m *SyncEventModel) ToDomain() *datasync.SyncEvent {
	return &datasync.SyncEvent{
		ID:           m.ID,
		RunID:        m.RunID,
		EntityType:   datasync.EntityType(m.EntityType),
		EntityID:     m.EntityID,
		Operation:    datasync.Operation(m.Operation),
		Direction:    datasync.Direction(m.Direction),
		Payload:      rawJSON(m.Payload),
		AttemptCount: m.AttemptCount,
		Priority:     datasync.Priority(m.Priority),
		Sequence:     m.Sequence,
		Status:       datasync.EventStatus(m.Status),
		NextRetryAt:  m.NextRetryAt,
		LastError:    m.LastError,
		DeadLetterID: m.DeadLetterID,
		ProcessedAt:  m.ProcessedAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// FromDomain populates the model from a domain SyncEvent
func (m *SyncEventModel) FromDomain(e *datasync.SyncEvent) {
	m.ID = e.ID
	m.CreatedAt = e.CreatedAt
	m.UpdatedAt = e.UpdatedAt
	m.RunID = e.RunID
	m.EntityType = e.EntityType.String()
	m.EntityID = e.EntityID
	m.Operation = e.Operation.String()
	m.Direction = string(e.Direction)
	m.Payload = jsonString(e.Payload)
	m.AttemptCount = e.AttemptCount
	m.Priority = e.Priority.String()
	m.Sequence = e.Sequence
	m.Status = string(e.Status)
	m.NextRetryAt = e.NextRetryAt
	m.LastError = e.LastError
	m.DeadLetterID = e.DeadLetterID
	m.ProcessedAt = e.ProcessedAt
}

func rawJSON(s string) json.RawMessage {
	if s == "" || s == "null" {
		return nil
	}
	return json.RawMessage(s)
}

func jsonString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	return string(raw)
}
