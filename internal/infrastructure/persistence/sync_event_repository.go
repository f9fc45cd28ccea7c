package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const eventBatchSize = 200

var terminalEventStatuses = []string{
	string(datasync.EventStatusProcessed),
	string(datasync.EventStatusFailed),
	string(datasync.EventStatusDeadLettered),
	string(datasync.EventStatusSkipped),
}

// GormEventRepository implements datasync.EventRepository using GORM
type GormEventRepository struct {
	db *gorm.DB
}

// NewGormEventRepository creates a new GormEventRepository
func NewGormEventRepository(db *gorm.DB) *GormEventRepository {
	return &GormEventRepository{db: db}
}

// CreateBatch inserts events of a run
func (r *GormEventRepository) CreateBatch(ctx context.Context, events []*datasync.SyncEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]models.SyncEventModel, len(events))
	for i, e := range events {
		rows[i].FromDomain(e)
	}
	if err := r.db.WithContext(ctx).CreateInBatches(rows, eventBatchSize).Error; err != nil {
		return datasync.NewStorageError("create events", err)
	}
	return nil
}

// Update saves status, attempts and retry deadline
func (r *GormEventRepository) Update(ctx context.Context, event *datasync.SyncEvent) error {
	err := r.db.WithContext(ctx).
		Model(&models.SyncEventModel{}).
		Where("id = ?", event.ID).
		Updates(map[string]any{
			"status":        string(event.Status),
			"attempt_count": event.AttemptCount,
			"next_retry_at": event.NextRetryAt,
			"last_error":    event.LastError,
			"processed_at":  event.ProcessedAt,
			"updated_at":    time.Now().UTC(),
		}).Error
	if err != nil {
		return datasync.NewStorageError("update event", err)
	}
	return nil
}

// FindByID returns an event or ErrEventNotFound
func (r *GormEventRepository) FindByID(ctx context.Context, id uuid.UUID) (*datasync.SyncEvent, error) {
	var m models.SyncEventModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, datasync.ErrEventNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// ListByRun returns every event of a run in sequence order
func (r *GormEventRepository) ListByRun(ctx context.Context, runID uuid.UUID) ([]datasync.SyncEvent, error) {
	return r.list(r.db.WithContext(ctx).Where("run_id = ?", runID))
}

// ListUnfinishedByRun returns events of a run that are not terminal, in sequence order
func (r *GormEventRepository) ListUnfinishedByRun(ctx context.Context, runID uuid.UUID) ([]datasync.SyncEvent, error) {
	return r.list(r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Where("status NOT IN ?", terminalEventStatuses))
}

func (r *GormEventRepository) list(query *gorm.DB) ([]datasync.SyncEvent, error) {
	var rows []models.SyncEventModel
	if err := query.Order("sequence ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	events := make([]datasync.SyncEvent, len(rows))
	for i := range rows {
		events[i] = *rows[i].ToDomain()
	}
	return events, nil
}

// MarkQueuedSkipped marks every queued event of a run as skipped
func (r *GormEventRepository) MarkQueuedSkipped(ctx context.Context, runID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SyncEventModel{}).
		Where("run_id = ? AND status = ?", runID, string(datasync.EventStatusQueued)).
		Updates(map[string]any{
			"status":        string(datasync.EventStatusSkipped),
			"next_retry_at": nil,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, datasync.NewStorageError("skip queued events", res.Error)
	}
	return res.RowsAffected, nil
}

// MaxSequence returns the highest assigned sequence, 0 when empty
func (r *GormEventRepository) MaxSequence(ctx context.Context) (int64, error) {
	var maxSeq int64
	err := r.db.WithContext(ctx).
		Model(&models.SyncEventModel{}).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&maxSeq).Error
	return maxSeq, err
}

var _ datasync.EventRepository = (*GormEventRepository)(nil)
