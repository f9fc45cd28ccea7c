package persistence

import (
	"context"
	"errors"

	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/domain/deadletter"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormDeadLetterRepository implements deadletter.Repository using GORM
type GormDeadLetterRepository struct {
	db *gorm.DB
}

// NewGormDeadLetterRepository creates a new GormDeadLetterRepository
func NewGormDeadLetterRepository(db *gorm.DB) *GormDeadLetterRepository {
	return &GormDeadLetterRepository{db: db}
}

// Upsert inserts the item, or refreshes the failure fields of the item already
// stored for the same event id. The item is reloaded from the stored row.
func (r *GormDeadLetterRepository) Upsert(ctx context.Context, item *deadletter.Item) error {
	var m models.DeadLetterItemModel
	m.FromDomain(item)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"failure_reason", "attempt_count", "last_attempt_at", "updated_at",
		}),
	}).Create(&m).Error
	if err != nil {
		return datasync.NewStorageError("upsert dead letter", err)
	}

	stored, err := r.FindByEventID(ctx, item.EventID)
	if err != nil {
		return err
	}
	if stored != nil {
		*item = *stored
	}
	return nil
}

// Update saves requeue and escalation state
func (r *GormDeadLetterRepository) Update(ctx context.Context, item *deadletter.Item) error {
	var m models.DeadLetterItemModel
	m.FromDomain(item)
	res := r.db.WithContext(ctx).
		Model(&models.DeadLetterItemModel{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			"attempt_count":   m.AttemptCount,
			"priority":        m.Priority,
			"priority_rank":   m.PriorityRank,
			"failure_reason":  m.FailureReason,
			"last_attempt_at": m.LastAttemptAt,
			"requeue_count":   m.RequeueCount,
			"failed_requeues": m.FailedRequeues,
			"escalated":       m.Escalated,
			"updated_at":      m.UpdatedAt,
		})
	if res.Error != nil {
		return datasync.NewStorageError("update dead letter", res.Error)
	}
	if res.RowsAffected == 0 {
		return deadletter.ErrItemNotFound
	}
	return nil
}

// FindByID returns an item or ErrItemNotFound
func (r *GormDeadLetterRepository) FindByID(ctx context.Context, id uuid.UUID) (*deadletter.Item, error) {
	var m models.DeadLetterItemModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, deadletter.ErrItemNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindByEventID returns the item for an originating event, nil when none
func (r *GormDeadLetterRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*deadletter.Item, error) {
	var m models.DeadLetterItemModel
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// List returns a page of items, highest priority first then oldest failure first
func (r *GormDeadLetterRepository) List(ctx context.Context, filter deadletter.Filter) ([]deadletter.Item, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.DeadLetterItemModel{})
	if filter.Priority != nil {
		query = query.Where("priority = ?", filter.Priority.String())
	}
	if filter.EntityType != nil {
		query = query.Where("entity_type = ?", filter.EntityType.String())
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := shared.NormalizePage(filter.Page, filter.PageSize)
	var rows []models.DeadLetterItemModel
	err := query.
		Order("priority_rank DESC").
		Order("first_failed_at ASC").
		Offset(shared.Offset(page, pageSize)).
		Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	items := make([]deadletter.Item, len(rows))
	for i := range rows {
		items[i] = *rows[i].ToDomain()
	}
	return items, total, nil
}

// Delete removes an item
func (r *GormDeadLetterRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.DeadLetterItemModel{})
	if res.Error != nil {
		return datasync.NewStorageError("delete dead letter", res.Error)
	}
	if res.RowsAffected == 0 {
		return deadletter.ErrItemNotFound
	}
	return nil
}

// CountByPriority returns item counts keyed by priority
func (r *GormDeadLetterRepository) CountByPriority(ctx context.Context) (map[datasync.Priority]int64, error) {
	var rows []struct {
		Priority string
		Count    int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.DeadLetterItemModel{}).
		Select("priority, COUNT(*) AS count").
		Group("priority").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[datasync.Priority]int64, len(rows))
	for _, row := range rows {
		counts[datasync.Priority(row.Priority)] = row.Count
	}
	return counts, nil
}

var _ deadletter.Repository = (*GormDeadLetterRepository)(nil)
