package datasync

import (
	"context"

	"github.com/google/uuid"
)

// RunFilter defines filtering options for listing runs
type RunFilter struct {
	Status     *RunStatus
	EntityType *EntityType
	RunType    *RunType
	SortBy     string
	SortOrder  string
	Page       int
	PageSize   int
}

// RunRepository persists SyncRuns. Runs are retained for audit and never deleted.
type RunRepository interface {
	// Create inserts a new run
	Create(ctx context.Context, run *SyncRun) error

	// Update saves status, counters and timing of a run
	Update(ctx context.Context, run *SyncRun) error

	// UpdateCounters writes the progress counters only
	UpdateCounters(ctx context.Context, id uuid.UUID, processed, failed, skipped int64) error

	// AddEvents grows the total of a running run by n, atomically
	AddEvents(ctx context.Context, id uuid.UUID, n int64) error

	// FindByID returns a run or ErrRunNotFound
	FindByID(ctx context.Context, id uuid.UUID) (*SyncRun, error)

	// List returns a page of runs, newest first, and the total count
	List(ctx context.Context, filter RunFilter) ([]SyncRun, int64, error)

	// FindRunning returns runs in pending or running status, optionally for one entity key
	FindRunning(ctx context.Context, entityKey string) ([]SyncRun, error)

	// FindLastCompleted returns the latest completed full or incremental run covering
	// the entity key, nil when none. Runs keyed "all" cover every entity key.
	FindLastCompleted(ctx context.Context, entityKey string) (*SyncRun, error)
}

// EventRepository persists SyncEvents owned by runs.
type EventRepository interface {
	// CreateBatch inserts events of a run
	CreateBatch(ctx context.Context, events []*SyncEvent) error

	// Update saves status, attempts and retry deadline
	Update(ctx context.Context, event *SyncEvent) error

	// FindByID returns an event or ErrEventNotFound
	FindByID(ctx context.Context, id uuid.UUID) (*SyncEvent, error)

	// ListByRun returns every event of a run in sequence order
	ListByRun(ctx context.Context, runID uuid.UUID) ([]SyncEvent, error)

	// ListUnfinishedByRun returns events of a run that are not terminal, in sequence order
	ListUnfinishedByRun(ctx context.Context, runID uuid.UUID) ([]SyncEvent, error)

	// MarkQueuedSkipped marks every queued event of a run as skipped and returns how many changed
	MarkQueuedSkipped(ctx context.Context, runID uuid.UUID) (int64, error)

	// MaxSequence returns the highest assigned sequence, 0 when empty
	MaxSequence(ctx context.Context) (int64, error)
}
