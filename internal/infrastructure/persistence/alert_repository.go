package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/syncengine/internal/domain/alert"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormAlertRepository implements alert.Repository using GORM
type GormAlertRepository struct {
	db *gorm.DB
}

// NewGormAlertRepository creates a new GormAlertRepository
func NewGormAlertRepository(db *gorm.DB) *GormAlertRepository {
	return &GormAlertRepository{db: db}
}

// Create inserts a new alert
func (r *GormAlertRepository) Create(ctx context.Context, a *alert.Alert) error {
	var m models.AlertModel
	m.FromDomain(a)
	return r.db.WithContext(ctx).Create(&m).Error
}

// Acknowledge saves acknowledgment fields unless the row is already acknowledged
func (r *GormAlertRepository) Acknowledge(ctx context.Context, a *alert.Alert) error {
	res := r.db.WithContext(ctx).
		Model(&models.AlertModel{}).
		Where("id = ? AND acknowledged = ?", a.ID, false).
		Updates(map[string]any{
			"is_active":       a.IsActive,
			"acknowledged":    a.Acknowledged,
			"acknowledged_by": a.AcknowledgedBy,
			"acknowledged_at": a.AcknowledgedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, a.ID); err != nil {
			return err
		}
		return alert.ErrAlreadyAcknowledged
	}
	return nil
}

// FindByID returns an alert or ErrAlertNotFound
func (r *GormAlertRepository) FindByID(ctx context.Context, id uuid.UUID) (*alert.Alert, error) {
	var m models.AlertModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, alert.ErrAlertNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindActiveByDedupeKey returns the latest active, unacknowledged alert for key, nil when none
func (r *GormAlertRepository) FindActiveByDedupeKey(ctx context.Context, key string) (*alert.Alert, error) {
	var m models.AlertModel
	err := r.db.WithContext(ctx).
		Where("dedupe_key = ? AND is_active = ? AND acknowledged = ?", key, true, false).
		Order("last_seen_at DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// TouchOccurrence bumps occurrences and last_seen_at
func (r *GormAlertRepository) TouchOccurrence(ctx context.Context, id uuid.UUID, seenAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.AlertModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"occurrences":  gorm.Expr("occurrences + 1"),
			"last_seen_at": seenAt,
		}).Error
}

// List returns a page of alerts and the total count
func (r *GormAlertRepository) List(ctx context.Context, filter alert.Filter) ([]alert.Alert, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.AlertModel{})
	if filter.Severity != nil {
		query = query.Where("severity = ?", filter.Severity.String())
	}
	if filter.IsActive != nil {
		query = query.Where("is_active = ?", *filter.IsActive)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := shared.NormalizePage(filter.Page, filter.PageSize)
	var rows []models.AlertModel
	err := query.
		Order(alertSort.order(filter.SortBy, filter.SortOrder)).
		Offset(shared.Offset(page, pageSize)).
		Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	alerts := make([]alert.Alert, len(rows))
	for i := range rows {
		alerts[i] = *rows[i].ToDomain()
	}
	return alerts, total, nil
}

var _ alert.Repository = (*GormAlertRepository)(nil)
