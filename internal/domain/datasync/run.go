package datasync

import (
	"time"

	"github.com/google/uuid"
)

// RunType identifies the trigger that started a Run.
type RunType string

const (
	RunTypeManual    RunType = "manual"
	RunTypeScheduled RunType = "scheduled"
	RunTypeWebhook   RunType = "webhook"
)

// IsValid checks if the run type is valid
func (t RunType) IsValid() bool {
	switch t {
	case RunTypeManual, RunTypeScheduled, RunTypeWebhook:
		return true
	}
	return false
}

// String returns the string representation
func (t RunType) String() string {
	return string(t)
}

// RunStatus is the lifecycle state of a Run.
// Transitions: pending -> running -> completed | failed | cancelled.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsValid checks if the status is valid
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// String returns the string representation
func (s RunStatus) String() string {
	return string(s)
}

// WorkSet records how the events of a Run were chosen.
type WorkSet string

const (
	WorkSetFull        WorkSet = "full"
	WorkSetIncremental WorkSet = "incremental"
	// WorkSetExplicit runs cover a caller-supplied id list and never serve as an incremental baseline.
	WorkSetExplicit WorkSet = "explicit"
)

// SyncRun is one bounded batch of sync work.
type SyncRun struct {
	ID              uuid.UUID
	RunType         RunType
	EntityType      *EntityType
	WorkSet         WorkSet
	Status          RunStatus
	TotalEvents     int64
	ProcessedEvents int64
	FailedEvents    int64
	SkippedEvents   int64
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DurationMs      int64
	WorkerID        string
	ErrorSummary    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewSyncRun creates a pending run.
func NewSyncRun(runType RunType, entityType *EntityType, workerID string) (*SyncRun, error) {
	if !runType.IsValid() {
		return nil, ErrInvalidRunType
	}
	if entityType != nil && !entityType.IsValid() {
		return nil, ErrInvalidEntityType
	}
	now := time.Now().UTC()
	return &SyncRun{
		ID:         uuid.New(),
		RunType:    runType,
		EntityType: entityType,
		WorkSet:    WorkSetFull,
		Status:     RunStatusPending,
		WorkerID:   workerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// EntityKeyAll is the guard key of a run covering every entity type.
const EntityKeyAll = "all"

// EntityKey returns the entity type used for the one-running-run guard.
// A run without an entity type covers every type and is keyed "all".
func (r *SyncRun) EntityKey() string {
	if r.EntityType == nil {
		return EntityKeyAll
	}
	return r.EntityType.String()
}

// Start moves the run to running.
func (r *SyncRun) Start(totalEvents int64) error {
	if r.Status != RunStatusPending {
		return ErrRunTransition
	}
	now := time.Now().UTC()
	r.Status = RunStatusRunning
	r.TotalEvents = totalEvents
	r.StartedAt = &now
	r.UpdatedAt = now
	return nil
}

// Finish moves the run to a terminal status and stamps timing.
// Terminal runs are never reopened, so a second call is a no-op.
func (r *SyncRun) Finish(status RunStatus, errorSummary string) {
	if r.Status.IsTerminal() || !status.IsTerminal() {
		return
	}
	now := time.Now().UTC()
	r.Status = status
	r.CompletedAt = &now
	r.UpdatedAt = now
	if errorSummary != "" {
		r.ErrorSummary = errorSummary
	}
	if r.StartedAt != nil {
		r.DurationMs = now.Sub(*r.StartedAt).Milliseconds()
	}
}

// Fail marks the run failed with a summary.
func (r *SyncRun) Fail(errorSummary string) {
	if r.StartedAt == nil {
		now := time.Now().UTC()
		r.StartedAt = &now
	}
	r.Finish(RunStatusFailed, errorSummary)
}

// SettledEvents is the number of events that reached a terminal state.
func (r *SyncRun) SettledEvents() int64 {
	return r.ProcessedEvents + r.FailedEvents + r.SkippedEvents
}

// Duration returns the run duration, zero while running.
func (r *SyncRun) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}
