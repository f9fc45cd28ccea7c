package datasync

import (
	"context"
	"time"
)

// ZohoGateway is the port to the external platform.
// Implementations return *TransientExternalError or *PermanentExternalError on failure.
type ZohoGateway interface {
	// ListRecords returns every record of the type, or only those modified after since.
	ListRecords(ctx context.Context, entityType EntityType, since *time.Time) ([]Record, error)
	// FetchRecord returns one record by id.
	FetchRecord(ctx context.Context, entityType EntityType, entityID string) (*Record, error)
	// PushRecord creates or updates the record on the platform and returns it as
	// stored there. Creates return the id the platform assigned.
	PushRecord(ctx context.Context, op Operation, record Record) (*Record, error)
	// DeleteRecord removes the record on the platform.
	DeleteRecord(ctx context.Context, entityType EntityType, entityID string) error
	// Ping checks reachability.
	Ping(ctx context.Context) error
}

// LocalStore is the port to the local system of record.
// Write failures are returned as *StorageError.
type LocalStore interface {
	// ListRecords returns every live record of the type, or only those updated after since.
	ListRecords(ctx context.Context, entityType EntityType, since *time.Time) ([]LocalRecord, error)
	// ListDirty returns records whose local changes the platform has not seen,
	// including local deletes of records that were synced before.
	ListDirty(ctx context.Context, entityType EntityType) ([]LocalRecord, error)
	// GetRecord returns one record; ErrRecordNotFound when absent.
	GetRecord(ctx context.Context, entityType EntityType, entityID string) (*LocalRecord, error)
	// ApplyRecord upserts keyed by entity type and id. A sequence lower than the stored one is a no-op.
	// It reports whether the write changed the stored row.
	ApplyRecord(ctx context.Context, in ApplyInput) (bool, error)
	// MarkSynced stamps the record as in step with the platform.
	MarkSynced(ctx context.Context, entityType EntityType, entityID string, at time.Time) error
	// MarkCreated re-keys a locally created record under the id the platform
	// assigned and stamps it synced.
	MarkCreated(ctx context.Context, entityType EntityType, localID, remoteID string, at time.Time) error
}
