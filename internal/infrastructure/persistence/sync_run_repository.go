package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var activeRunStatuses = []string{
	string(datasync.RunStatusPending),
	string(datasync.RunStatusRunning),
}

// GormRunRepository implements datasync.RunRepository using GORM
type GormRunRepository struct {
	db *gorm.DB
}

// NewGormRunRepository creates a new GormRunRepository
func NewGormRunRepository(db *gorm.DB) *GormRunRepository {
	return &GormRunRepository{db: db}
}

// Create inserts a new run
func (r *GormRunRepository) Create(ctx context.Context, run *datasync.SyncRun) error {
	var m models.SyncRunModel
	m.FromDomain(run)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return datasync.NewStorageError("create run", err)
	}
	return nil
}

// Update saves status, counters and timing of a run
func (r *GormRunRepository) Update(ctx context.Context, run *datasync.SyncRun) error {
	var m models.SyncRunModel
	m.FromDomain(run)
	m.UpdatedAt = time.Now().UTC()
	if err := r.db.WithContext(ctx).Save(&m).Error; err != nil {
		return datasync.NewStorageError("update run", err)
	}
	return nil
}

// UpdateCounters writes the progress counters only
func (r *GormRunRepository) UpdateCounters(ctx context.Context, id uuid.UUID, processed, failed, skipped int64) error {
	err := r.db.WithContext(ctx).
		Model(&models.SyncRunModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_events": processed,
			"failed_events":    failed,
			"skipped_events":   skipped,
			"updated_at":       time.Now().UTC(),
		}).Error
	if err != nil {
		return datasync.NewStorageError("update run counters", err)
	}
	return nil
}

// AddEvents grows total_events in place, so concurrent additions never lose one
func (r *GormRunRepository) AddEvents(ctx context.Context, id uuid.UUID, n int64) error {
	res := r.db.WithContext(ctx).
		Model(&models.SyncRunModel{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"total_events": gorm.Expr("total_events + ?", n),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return datasync.NewStorageError("add run events", res.Error)
	}
	if res.RowsAffected == 0 {
		return datasync.ErrRunNotFound
	}
	return nil
}

// FindByID returns a run or ErrRunNotFound
func (r *GormRunRepository) FindByID(ctx context.Context, id uuid.UUID) (*datasync.SyncRun, error) {
	var m models.SyncRunModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, datasync.ErrRunNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// List returns a page of runs and the total count
func (r *GormRunRepository) List(ctx context.Context, filter datasync.RunFilter) ([]datasync.SyncRun, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.SyncRunModel{})
	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}
	if filter.EntityType != nil {
		query = query.Where("entity_type = ?", filter.EntityType.String())
	}
	if filter.RunType != nil {
		query = query.Where("run_type = ?", string(*filter.RunType))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := shared.NormalizePage(filter.Page, filter.PageSize)
	var rows []models.SyncRunModel
	err := query.
		Order(runSort.order(filter.SortBy, filter.SortOrder)).
		Offset(shared.Offset(page, pageSize)).
		Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	runs := make([]datasync.SyncRun, len(rows))
	for i := range rows {
		runs[i] = *rows[i].ToDomain()
	}
	return runs, total, nil
}

// FindRunning returns runs in pending or running status. An empty key returns every active run.
func (r *GormRunRepository) FindRunning(ctx context.Context, entityKey string) ([]datasync.SyncRun, error) {
	query := r.db.WithContext(ctx).Where("status IN ?", activeRunStatuses)
	if entityKey != "" {
		query = query.Where("entity_key = ?", entityKey)
	}
	var rows []models.SyncRunModel
	if err := query.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	runs := make([]datasync.SyncRun, len(rows))
	for i := range rows {
		runs[i] = *rows[i].ToDomain()
	}
	return runs, nil
}

// FindLastCompleted returns the latest completed scan covering entityKey, nil when none
func (r *GormRunRepository) FindLastCompleted(ctx context.Context, entityKey string) (*datasync.SyncRun, error) {
	var m models.SyncRunModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(datasync.RunStatusCompleted)).
		Where("work_set <> ?", string(datasync.WorkSetExplicit)).
		Where("entity_key IN ?", []string{entityKey, "all"}).
		Order("started_at DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

var _ datasync.RunRepository = (*GormRunRepository)(nil)
