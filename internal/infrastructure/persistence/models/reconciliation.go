package models

import (
	"encoding/json"
	"time"

	"github.com/erp/syncengine/internal/domain/alert"
	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/domain/reconciliation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LocalRecordModel is a row of the local system of record kept in step with Zoho.
type LocalRecordModel struct {
	EntityType     string          `gorm:"type:varchar(32);primaryKey"`
	EntityID       string          `gorm:"type:varchar(100);primaryKey"`
	Name           string          `gorm:"type:varchar(255)"`
	Status         string          `gorm:"type:varchar(50)"`
	Price          decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Quantity       decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Attributes     string          `gorm:"type:jsonb"`
	ModifiedAt     time.Time       ``
	SourceSequence int64           `gorm:"not null;default:0"`
	LastSyncedAt   *time.Time      ``
	Deleted        bool            `gorm:"not null;default:false"`
	UpdatedAt      time.Time       `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (LocalRecordModel) TableName() string {
	return "local_records"
}

// ToDomain converts the model to a domain LocalRecord
func (m *LocalRecordModel) ToDomain() *datasync.LocalRecord {
	rec := &datasync.LocalRecord{
		Record: datasync.Record{
			EntityType: datasync.EntityType(m.EntityType),
			EntityID:   m.EntityID,
			Name:       m.Name,
			Status:     m.Status,
			Price:      m.Price,
			Quantity:   m.Quantity,
			ModifiedAt: m.ModifiedAt,
		},
		SourceSequence: m.SourceSequence,
		LastSyncedAt:   m.LastSyncedAt,
		Deleted:        m.Deleted,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.Attributes != "" && m.Attributes != "null" {
		_ = json.Unmarshal([]byte(m.Attributes), &rec.Attributes)
	}
	return rec
}

// FromRecord populates the model from a domain Record
func (m *LocalRecordModel) FromRecord(r datasync.Record) {
	m.EntityType = r.EntityType.String()
	m.EntityID = r.EntityID
	m.Name = r.Name
	m.Status = r.Status
	m.Price = r.Price
	m.Quantity = r.Quantity
	m.ModifiedAt = r.ModifiedAt
	m.Attributes = "null"
	if len(r.Attributes) > 0 {
		if b, err := json.Marshal(r.Attributes); err == nil {
			m.Attributes = string(b)
		}
	}
}

// DiscrepancyModel is the persistence model for a Discrepancy.
type DiscrepancyModel struct {
	ID                uuid.UUID  `gorm:"type:uuid;primary_key"`
	EntityType        string     `gorm:"type:varchar(32);not null;uniqueIndex:idx_discrepancy_key"`
	EntityID          string     `gorm:"type:varchar(100);not null;uniqueIndex:idx_discrepancy_key"`
	Field             string     `gorm:"type:varchar(50);not null;uniqueIndex:idx_discrepancy_key"`
	ZohoValue         string     `gorm:"type:text"`
	LocalValue        string     `gorm:"type:text"`
	Severity          string     `gorm:"type:varchar(10);not null"`
	Kind              string     `gorm:"type:varchar(20);not null"`
	Resolution        string     `gorm:"type:varchar(20);not null"`
	CorrectiveEventID *uuid.UUID `gorm:"type:uuid"`
	FirstDetectedAt   time.Time  `gorm:"not null"`
	LastDetectedAt    time.Time  `gorm:"not null"`
	ResolvedAt        *time.Time `gorm:"index"`
}

// TableName returns the table name for GORM
func (DiscrepancyModel) TableName() string {
	return "discrepancies"
}

// ToDomain converts the model to a domain Discrepancy
func (m *DiscrepancyModel) ToDomain() *reconciliation.Discrepancy {
	return &reconciliation.Discrepancy{
		ID:                m.ID,
		EntityType:        datasync.EntityType(m.EntityType),
		EntityID:          m.EntityID,
		Field:             m.Field,
		ZohoValue:         m.ZohoValue,
		LocalValue:        m.LocalValue,
		Severity:          alert.Severity(m.Severity),
		Kind:              reconciliation.Kind(m.Kind),
		Resolution:        reconciliation.Resolution(m.Resolution),
		CorrectiveEventID: m.CorrectiveEventID,
		FirstDetectedAt:   m.FirstDetectedAt,
		LastDetectedAt:    m.LastDetectedAt,
		ResolvedAt:        m.ResolvedAt,
	}
}

// FromDomain populates the model from a domain Discrepancy
func (m *DiscrepancyModel) FromDomain(d *reconciliation.Discrepancy) {
	m.ID = d.ID
	m.EntityType = d.EntityType.String()
	m.EntityID = d.EntityID
	m.Field = d.Field
	m.ZohoValue = d.ZohoValue
	m.LocalValue = d.LocalValue
	m.Severity = d.Severity.String()
	m.Kind = string(d.Kind)
	m.Resolution = string(d.Resolution)
	m.CorrectiveEventID = d.CorrectiveEventID
	m.FirstDetectedAt = d.FirstDetectedAt
	m.LastDetectedAt = d.LastDetectedAt
	m.ResolvedAt = d.ResolvedAt
}

// ReconciliationReportModel stores one pass as a JSON snapshot.
type ReconciliationReportModel struct {
	ID               uuid.UUID `gorm:"type:uuid;primary_key"`
	DataQualityScore float64   `gorm:"not null"`
	Snapshot         string    `gorm:"type:jsonb;not null"`
	StartedAt        time.Time `gorm:"not null"`
	LastUpdated      time.Time `gorm:"not null;index"`
	DurationMs       int64     `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ReconciliationReportModel) TableName() string {
	return "reconciliation_reports"
}

// ToDomain decodes the stored snapshot
func (m *ReconciliationReportModel) ToDomain() (*reconciliation.Report, error) {
	var r reconciliation.Report
	if err := json.Unmarshal([]byte(m.Snapshot), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// FromDomain encodes the report into the model
func (m *ReconciliationReportModel) FromDomain(r *reconciliation.Report) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	m.ID = r.ID
	m.DataQualityScore = r.DataQualityScore
	m.Snapshot = string(b)
	m.StartedAt = r.StartedAt
	m.LastUpdated = r.LastUpdated
	m.DurationMs = r.DurationMs
	return nil
}
