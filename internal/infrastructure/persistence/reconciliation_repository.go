package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/domain/reconciliation"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormDiscrepancyRepository implements reconciliation.DiscrepancyRepository using GORM
type GormDiscrepancyRepository struct {
	db *gorm.DB
}

// NewGormDiscrepancyRepository creates a new GormDiscrepancyRepository
func NewGormDiscrepancyRepository(db *gorm.DB) *GormDiscrepancyRepository {
	return &GormDiscrepancyRepository{db: db}
}

// Upsert inserts or refreshes a discrepancy by (entity_type, entity_id, field).
// A resolved row that reappears is reopened with a fresh detection time and no correction.
func (r *GormDiscrepancyRepository) Upsert(ctx context.Context, d *reconciliation.Discrepancy) (*reconciliation.Discrepancy, error) {
	var stored models.DiscrepancyModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("entity_type = ? AND entity_id = ? AND field = ?",
			d.EntityType.String(), d.EntityID, d.Field).
			First(&stored).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			row := *d
			if row.ID == uuid.Nil {
				row.ID = uuid.New()
			}
			if row.FirstDetectedAt.IsZero() {
				row.FirstDetectedAt = row.LastDetectedAt
			}
			stored = models.DiscrepancyModel{}
			stored.FromDomain(&row)
			return tx.Create(&stored).Error
		}
		if err != nil {
			return err
		}

		if stored.ResolvedAt != nil {
			stored.ResolvedAt = nil
			stored.CorrectiveEventID = nil
			stored.FirstDetectedAt = d.LastDetectedAt
		}
		if stored.CorrectiveEventID == nil && d.CorrectiveEventID != nil {
			stored.CorrectiveEventID = d.CorrectiveEventID
		}
		stored.ZohoValue = d.ZohoValue
		stored.LocalValue = d.LocalValue
		stored.Severity = d.Severity.String()
		stored.Kind = string(d.Kind)
		stored.Resolution = string(d.Resolution)
		stored.LastDetectedAt = d.LastDetectedAt
		return tx.Save(&stored).Error
	})
	if err != nil {
		return nil, datasync.NewStorageError("upsert discrepancy", err)
	}
	return stored.ToDomain(), nil
}

// SetCorrectiveEvent links the enqueued correction
func (r *GormDiscrepancyRepository) SetCorrectiveEvent(ctx context.Context, id, eventID uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Model(&models.DiscrepancyModel{}).
		Where("id = ?", id).
		Update("corrective_event_id", eventID).Error
	if err != nil {
		return datasync.NewStorageError("set corrective event", err)
	}
	return nil
}

// ListOpen returns open discrepancies for an entity type
func (r *GormDiscrepancyRepository) ListOpen(ctx context.Context, entityType datasync.EntityType) ([]reconciliation.Discrepancy, error) {
	var rows []models.DiscrepancyModel
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND resolved_at IS NULL", entityType.String()).
		Order("entity_id ASC").
		Order("field ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]reconciliation.Discrepancy, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, nil
}

// ResolveMissing resolves open discrepancies of entityType whose key is not in seen
func (r *GormDiscrepancyRepository) ResolveMissing(ctx context.Context, entityType datasync.EntityType, seen map[string]struct{}, at time.Time) (int64, error) {
	open, err := r.ListOpen(ctx, entityType)
	if err != nil {
		return 0, err
	}
	var ids []uuid.UUID
	for _, d := range open {
		if _, ok := seen[d.Key()]; !ok {
			ids = append(ids, d.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.DiscrepancyModel{}).
		Where("id IN ?", ids).
		Update("resolved_at", at.UTC())
	if res.Error != nil {
		return 0, datasync.NewStorageError("resolve discrepancies", res.Error)
	}
	return res.RowsAffected, nil
}

// CountOpen returns the number of open discrepancies
func (r *GormDiscrepancyRepository) CountOpen(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.DiscrepancyModel{}).
		Where("resolved_at IS NULL").
		Count(&n).Error
	return n, err
}

// GormReportRepository implements reconciliation.ReportRepository using GORM
type GormReportRepository struct {
	db *gorm.DB
}

// NewGormReportRepository creates a new GormReportRepository
func NewGormReportRepository(db *gorm.DB) *GormReportRepository {
	return &GormReportRepository{db: db}
}

// Save stores a report snapshot
func (r *GormReportRepository) Save(ctx context.Context, report *reconciliation.Report) error {
	var m models.ReconciliationReportModel
	if err := m.FromDomain(report); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return datasync.NewStorageError("save report", err)
	}
	return nil
}

// Latest returns the newest report or ErrNoReport
func (r *GormReportRepository) Latest(ctx context.Context) (*reconciliation.Report, error) {
	var m models.ReconciliationReportModel
	if err := r.db.WithContext(ctx).Order("last_updated DESC").First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, reconciliation.ErrNoReport
		}
		return nil, err
	}
	return m.ToDomain()
}

var (
	_ reconciliation.DiscrepancyRepository = (*GormDiscrepancyRepository)(nil)
	_ reconciliation.ReportRepository      = (*GormReportRepository)(nil)
)
