package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	recordKeyColumns = []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}}

	appliedColumns = []string{
		"name", "status", "price", "quantity", "attributes", "modified_at",
		"source_sequence", "last_synced_at", "deleted", "updated_at",
	}
	tombstoneColumns = []string{"source_sequence", "last_synced_at", "deleted", "updated_at"}
	localEditColumns = []string{
		"name", "status", "price", "quantity", "attributes", "modified_at", "deleted", "updated_at",
	}

	// Last writer wins by sequence; an equal sequence is a replay and rewrites the same values.
	sequenceGuard = clause.Where{Exprs: []clause.Expression{
		clause.Expr{SQL: "local_records.source_sequence <= excluded.source_sequence"},
	}}
)

// GormLocalStore implements datasync.LocalStore over the local_records table
type GormLocalStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormLocalStore creates a new GormLocalStore
func NewGormLocalStore(db *gorm.DB) *GormLocalStore {
	return &GormLocalStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// ListRecords returns live records of the type, or only those updated after since
func (s *GormLocalStore) ListRecords(ctx context.Context, entityType datasync.EntityType, since *time.Time) ([]datasync.LocalRecord, error) {
	query := s.db.WithContext(ctx).Where("entity_type = ? AND deleted = ?", entityType.String(), false)
	if since != nil {
		query = query.Where("updated_at > ?", *since)
	}
	return s.find(query)
}

// ListDirty returns records with unpushed local changes: never synced and
// live, or edited (deleted included) after their last sync
func (s *GormLocalStore) ListDirty(ctx context.Context, entityType datasync.EntityType) ([]datasync.LocalRecord, error) {
	return s.find(s.db.WithContext(ctx).
		Where("entity_type = ?", entityType.String()).
		Where("((last_synced_at IS NULL AND deleted = ?) OR updated_at > last_synced_at)", false))
}

func (s *GormLocalStore) find(query *gorm.DB) ([]datasync.LocalRecord, error) {
	var rows []models.LocalRecordModel
	if err := query.Order("entity_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]datasync.LocalRecord, len(rows))
	for i := range rows {
		records[i] = *rows[i].ToDomain()
	}
	return records, nil
}

// GetRecord returns one record, deleted or not; ErrRecordNotFound when absent
func (s *GormLocalStore) GetRecord(ctx context.Context, entityType datasync.EntityType, entityID string) (*datasync.LocalRecord, error) {
	var m models.LocalRecordModel
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType.String(), entityID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, datasync.ErrRecordNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// ApplyRecord upserts a synced record unless the stored row carries a newer sequence.
// Deletes are tombstones: only the bookkeeping columns change.
func (s *GormLocalStore) ApplyRecord(ctx context.Context, in datasync.ApplyInput) (bool, error) {
	syncedAt := in.SyncedAt.UTC()
	if syncedAt.IsZero() {
		syncedAt = s.now()
	}

	var m models.LocalRecordModel
	m.FromRecord(in.Record)
	m.SourceSequence = in.Sequence
	m.LastSyncedAt = &syncedAt
	m.Deleted = in.Deleted
	m.UpdatedAt = syncedAt

	columns := appliedColumns
	if in.Deleted {
		columns = tombstoneColumns
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   recordKeyColumns,
		DoUpdates: clause.AssignmentColumns(columns),
		Where:     sequenceGuard,
	}).Create(&m)
	if res.Error != nil {
		return false, datasync.NewStorageError("apply record", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkSynced stamps the record as in step with the platform
func (s *GormLocalStore) MarkSynced(ctx context.Context, entityType datasync.EntityType, entityID string, at time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&models.LocalRecordModel{}).
		Where("entity_type = ? AND entity_id = ?", entityType.String(), entityID).
		UpdateColumn("last_synced_at", at.UTC()).Error
	if err != nil {
		return datasync.NewStorageError("mark synced", err)
	}
	return nil
}

// MarkCreated moves a locally created row to the id the platform assigned and
// stamps it synced. An empty or unchanged remote id only stamps it.
func (s *GormLocalStore) MarkCreated(ctx context.Context, entityType datasync.EntityType, localID, remoteID string, at time.Time) error {
	if remoteID == "" || remoteID == localID {
		return s.MarkSynced(ctx, entityType, localID, at)
	}
	res := s.db.WithContext(ctx).
		Model(&models.LocalRecordModel{}).
		Where("entity_type = ? AND entity_id = ?", entityType.String(), localID).
		UpdateColumns(map[string]any{"entity_id": remoteID, "last_synced_at": at.UTC()})
	if res.Error != nil {
		return datasync.NewStorageError("mark created", res.Error)
	}
	if res.RowsAffected == 0 {
		return datasync.ErrRecordNotFound
	}
	return nil
}

// DeleteLocal records a delete made by the local system. The row stays as a
// tombstone and is pushed as a delete when it was synced before.
func (s *GormLocalStore) DeleteLocal(ctx context.Context, entityType datasync.EntityType, entityID string) error {
	res := s.db.WithContext(ctx).
		Model(&models.LocalRecordModel{}).
		Where("entity_type = ? AND entity_id = ? AND deleted = ?", entityType.String(), entityID, false).
		UpdateColumns(map[string]any{"deleted": true, "updated_at": s.now()})
	if res.Error != nil {
		return datasync.NewStorageError("delete local record", res.Error)
	}
	if res.RowsAffected == 0 {
		return datasync.ErrRecordNotFound
	}
	return nil
}

// SaveLocal records an edit made by the local system. The row becomes dirty
// until the next outbound sync marks it synced.
func (s *GormLocalStore) SaveLocal(ctx context.Context, record datasync.Record) error {
	var m models.LocalRecordModel
	m.FromRecord(record)
	m.UpdatedAt = s.now()
	if m.ModifiedAt.IsZero() {
		m.ModifiedAt = m.UpdatedAt
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   recordKeyColumns,
		DoUpdates: clause.AssignmentColumns(localEditColumns),
	}).Create(&m).Error
	if err != nil {
		return datasync.NewStorageError("save local record", err)
	}
	return nil
}

var _ datasync.LocalStore = (*GormLocalStore)(nil)
