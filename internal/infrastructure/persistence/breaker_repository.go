package persistence

import (
	"context"

	"github.com/erp/syncengine/internal/domain/breaker"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormBreakerRepository implements breaker.Repository using GORM
type GormBreakerRepository struct {
	db *gorm.DB
}

// NewGormBreakerRepository creates a new GormBreakerRepository
func NewGormBreakerRepository(db *gorm.DB) *GormBreakerRepository {
	return &GormBreakerRepository{db: db}
}

// Save upserts the status keyed by name
func (r *GormBreakerRepository) Save(ctx context.Context, status breaker.Status) error {
	var m models.CircuitBreakerModel
	m.FromDomain(status)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

// FindAll returns every stored status
func (r *GormBreakerRepository) FindAll(ctx context.Context) ([]breaker.Status, error) {
	var rows []models.CircuitBreakerModel
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	statuses := make([]breaker.Status, len(rows))
	for i := range rows {
		statuses[i] = rows[i].ToDomain()
	}
	return statuses, nil
}

var _ breaker.Repository = (*GormBreakerRepository)(nil)
