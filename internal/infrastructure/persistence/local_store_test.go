package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func productRecord(id, name string, price string) datasync.Record {
	return datasync.Record{
		EntityType: datasync.EntityTypeProduct,
		EntityID:   id,
		Name:       name,
		Status:     "active",
		Price:      decimal.RequireFromString(price),
		Quantity:   decimal.NewFromInt(4),
		Attributes: map[string]any{"sku": "SKU-" + id},
	}
}

func TestGormLocalStore_LastWriterWinsBySequence(t *testing.T) {
	ctx := context.Background()
	store := NewGormLocalStore(newTestDB(t))
	at := time.Now().UTC()

	changed, err := store.ApplyRecord(ctx, datasync.ApplyInput{Record: productRecord("p1", "Widget v2", "12.50"), Sequence: 2, SyncedAt: at})
	require.NoError(t, err)
	assert.True(t, changed)

	// An older event arriving late is ignored.
	changed, err = store.ApplyRecord(ctx, datasync.ApplyInput{Record: productRecord("p1", "Widget v1", "10"), Sequence: 1, SyncedAt: at})
	require.NoError(t, err)
	assert.False(t, changed)

	// A replay of the same event leaves the same state.
	_, err = store.ApplyRecord(ctx, datasync.ApplyInput{Record: productRecord("p1", "Widget v2", "12.50"), Sequence: 2, SyncedAt: at})
	require.NoError(t, err)

	got, err := store.GetRecord(ctx, datasync.EntityTypeProduct, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Widget v2", got.Name)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, int64(2), got.SourceSequence)
	assert.Equal(t, "SKU-p1", got.Attributes["sku"])
	assert.False(t, got.ChangedSinceSync())
}

func TestGormLocalStore_TombstoneKeepsValues(t *testing.T) {
	ctx := context.Background()
	store := NewGormLocalStore(newTestDB(t))
	at := time.Now().UTC()

	_, err := store.ApplyRecord(ctx, datasync.ApplyInput{Record: productRecord("p1", "Widget", "3"), Sequence: 1, SyncedAt: at})
	require.NoError(t, err)
	changed, err := store.ApplyRecord(ctx, datasync.ApplyInput{
		Record:   datasync.Record{EntityType: datasync.EntityTypeProduct, EntityID: "p1"},
		Sequence: 2, Deleted: true, SyncedAt: at,
	})
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := store.GetRecord(ctx, datasync.EntityTypeProduct, "p1")
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Equal(t, "Widget", got.Name)

	live, err := store.ListRecords(ctx, datasync.EntityTypeProduct, nil)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestGormLocalStore_DirtyTracking(t *testing.T) {
	ctx := context.Background()
	store := NewGormLocalStore(newTestDB(t))
	base := time.Now().UTC().Add(-time.Hour)

	_, err := store.ApplyRecord(ctx, datasync.ApplyInput{Record: productRecord("synced", "A", "1"), Sequence: 1, SyncedAt: base})
	require.NoError(t, err)
	require.NoError(t, store.SaveLocal(ctx, productRecord("edited", "B", "2")))

	dirty, err := store.ListDirty(ctx, datasync.EntityTypeProduct)
	require.NoError(t, err)
	require.Len(t, dirty, 1)
	assert.Equal(t, "edited", dirty[0].EntityID)

	require.NoError(t, store.MarkSynced(ctx, datasync.EntityTypeProduct, "edited", time.Now().UTC().Add(time.Second)))
	dirty, err = store.ListDirty(ctx, datasync.EntityTypeProduct)
	require.NoError(t, err)
	assert.Empty(t, dirty)

	since := base.Add(time.Minute)
	recent, err := store.ListRecords(ctx, datasync.EntityTypeProduct, &since)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "edited", recent[0].EntityID)

	_, err = store.GetRecord(ctx, datasync.EntityTypeCustomer, "nope")
	assert.ErrorIs(t, err, datasync.ErrRecordNotFound)
}

func TestGormLocalStore_MarkCreatedMovesToRemoteID(t *testing.T) {
	ctx := context.Background()
	store := NewGormLocalStore(newTestDB(t))

	require.NoError(t, store.SaveLocal(ctx, productRecord("local-1", "New", "5")))
	require.NoError(t, store.MarkCreated(ctx, datasync.EntityTypeProduct, "local-1", "zoho-77", time.Now().UTC().Add(time.Second)))

	_, err := store.GetRecord(ctx, datasync.EntityTypeProduct, "local-1")
	assert.ErrorIs(t, err, datasync.ErrRecordNotFound)
	got, err := store.GetRecord(ctx, datasync.EntityTypeProduct, "zoho-77")
	require.NoError(t, err)
	assert.Equal(t, "New", got.Name)
	assert.False(t, got.NeedsPush())

	dirty, err := store.ListDirty(ctx, datasync.EntityTypeProduct)
	require.NoError(t, err)
	assert.Empty(t, dirty)

	err = store.MarkCreated(ctx, datasync.EntityTypeProduct, "local-1", "zoho-78", time.Now().UTC())
	assert.ErrorIs(t, err, datasync.ErrRecordNotFound)
}

func TestGormLocalStore_LocalDeleteIsDirtyOnlyWhenSynced(t *testing.T) {
	ctx := context.Background()
	store := NewGormLocalStore(newTestDB(t))
	base := time.Now().UTC().Add(-time.Hour)

	_, err := store.ApplyRecord(ctx, datasync.ApplyInput{Record: productRecord("synced", "A", "1"), Sequence: 1, SyncedAt: base})
	require.NoError(t, err)
	require.NoError(t, store.SaveLocal(ctx, productRecord("unsynced", "B", "2")))

	require.NoError(t, store.DeleteLocal(ctx, datasync.EntityTypeProduct, "synced"))
	require.NoError(t, store.DeleteLocal(ctx, datasync.EntityTypeProduct, "unsynced"))
	assert.ErrorIs(t, store.DeleteLocal(ctx, datasync.EntityTypeProduct, "synced"), datasync.ErrRecordNotFound)

	dirty, err := store.ListDirty(ctx, datasync.EntityTypeProduct)
	require.NoError(t, err)
	require.Len(t, dirty, 1)
	assert.Equal(t, "synced", dirty[0].EntityID)
	assert.True(t, dirty[0].Deleted)
	assert.Equal(t, datasync.OperationDelete, dirty[0].OutboundOperation())

	require.NoError(t, store.MarkSynced(ctx, datasync.EntityTypeProduct, "synced", time.Now().UTC().Add(time.Second)))
	dirty, err = store.ListDirty(ctx, datasync.EntityTypeProduct)
	require.NoError(t, err)
	assert.Empty(t, dirty)

	// Saving again brings the record back.
	require.NoError(t, store.SaveLocal(ctx, productRecord("unsynced", "B", "2")))
	got, err := store.GetRecord(ctx, datasync.EntityTypeProduct, "unsynced")
	require.NoError(t, err)
	assert.False(t, got.Deleted)
	assert.Equal(t, datasync.OperationCreate, got.OutboundOperation())
}

func TestGormLocalStore_ApplySQLShape(t *testing.T) {
	db, mock, mockDB := newMockDB(t)
	defer mockDB.Close()
	store := NewGormLocalStore(db)

	mock.ExpectExec(`INSERT INTO "local_records" .* ON CONFLICT \("entity_type","entity_id"\) DO UPDATE SET .* WHERE local_records\.source_sequence <= excluded\.source_sequence`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := store.ApplyRecord(context.Background(), datasync.ApplyInput{
		Record: productRecord("p1", "Widget", "1"), Sequence: 7, SyncedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormLocalStore_WriteFailureIsStorageError(t *testing.T) {
	db, mock, mockDB := newMockDB(t)
	defer mockDB.Close()
	store := NewGormLocalStore(db)

	mock.ExpectExec(`INSERT INTO "local_records"`).WillReturnError(assert.AnError)

	_, err := store.ApplyRecord(context.Background(), datasync.ApplyInput{Record: productRecord("p1", "W", "1"), Sequence: 1})
	require.Error(t, err)
	assert.True(t, datasync.IsTransient(err))
}
