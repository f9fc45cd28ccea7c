package datasync

import (
	"time"

	"github.com/shopspring/decimal"
)

// Compared fields shared by both systems.
const (
	FieldName     = "name"
	FieldStatus   = "status"
	FieldPrice    = "price"
	FieldQuantity = "quantity"
)

// ComparedFields returns the fields checked by reconciliation, in report order.
func ComparedFields() []string {
	return []string{FieldName, FieldStatus, FieldPrice, FieldQuantity}
}

// Record is the comparable projection of an entity on either side.
type Record struct {
	EntityType EntityType
	EntityID   string
	Name       string
	Status     string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Attributes map[string]any
	ModifiedAt time.Time
}

// FieldValue renders a compared field for discrepancy reports.
func (r Record) FieldValue(field string) string {
	switch field {
	case FieldName:
		return r.Name
	case FieldStatus:
		return r.Status
	case FieldPrice:
		return r.Price.String()
	case FieldQuantity:
		return r.Quantity.String()
	}
	return ""
}

// FieldEqual compares one field of two records. Decimal fields compare by value.
func (r Record) FieldEqual(other Record, field string) bool {
	switch field {
	case FieldName:
		return r.Name == other.Name
	case FieldStatus:
		return r.Status == other.Status
	case FieldPrice:
		return r.Price.Equal(other.Price)
	case FieldQuantity:
		return r.Quantity.Equal(other.Quantity)
	}
	return true
}

// DiffFields returns the compared fields whose values differ.
func (r Record) DiffFields(other Record) []string {
	var diff []string
	for _, f := range ComparedFields() {
		if !r.FieldEqual(other, f) {
			diff = append(diff, f)
		}
	}
	return diff
}

// LocalRecord is a Record held by the local system of record plus sync bookkeeping.
type LocalRecord struct {
	Record
	// SourceSequence is the sequence of the last applied SyncEvent. Older events are ignored.
	SourceSequence int64
	LastSyncedAt   *time.Time
	Deleted        bool
	UpdatedAt      time.Time
}

// ChangedSinceSync reports whether the local side was edited after the last sync.
func (r LocalRecord) ChangedSinceSync() bool {
	if r.LastSyncedAt == nil {
		return true
	}
	return r.UpdatedAt.After(*r.LastSyncedAt)
}

// NeedsPush reports whether the record has local changes the platform has not
// seen. A record deleted before it was ever synced has nothing to push.
func (r LocalRecord) NeedsPush() bool {
	if r.LastSyncedAt == nil {
		return !r.Deleted
	}
	return r.UpdatedAt.After(*r.LastSyncedAt)
}

// OutboundOperation is the change that brings the platform in step with the record.
func (r LocalRecord) OutboundOperation() Operation {
	switch {
	case r.Deleted:
		return OperationDelete
	case r.LastSyncedAt == nil:
		return OperationCreate
	default:
		return OperationUpdate
	}
}

// ApplyInput is an idempotent write into the local store.
type ApplyInput struct {
	Record   Record
	Sequence int64
	Deleted  bool
	SyncedAt time.Time
}
