// Package reconciliation models the comparison of Zoho against the local store:
// per-type statistics, discrepancies and the report of a reconciliation pass.
package reconciliation

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/erp/syncengine/internal/domain/alert"
	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
)

var (
	ErrReconciliationInProgress = shared.NewDomainError("RECONCILIATION_IN_PROGRESS", "A reconciliation pass is already running")
	ErrNoReport                 = shared.NewDomainError("NOT_FOUND", "No reconciliation report available")
	ErrInvalidKind              = errors.New("reconciliation: invalid discrepancy kind")
)

// Kind classifies a discrepancy.
type Kind string

const (
	KindFieldMismatch  Kind = "field_mismatch"
	KindMissingInLocal Kind = "missing_in_local"
	KindMissingInZoho  Kind = "missing_in_zoho"
	KindConflict       Kind = "conflict"
)

// IsValid checks if the kind is valid
func (k Kind) IsValid() bool {
	switch k {
	case KindFieldMismatch, KindMissingInLocal, KindMissingInZoho, KindConflict:
		return true
	}
	return false
}

// Resolution is what the engine did about a discrepancy.
type Resolution string

const (
	ResolutionAutoCorrected Resolution = "auto_corrected"
	ResolutionAlertOnly     Resolution = "alert_only"
	ResolutionReported      Resolution = "reported"
)

// Field used for discrepancies that concern the whole record.
const FieldRecord = "*"

// ComparisonStats summarises one entity type.
type ComparisonStats struct {
	EntityType      datasync.EntityType `json:"entity_type"`
	ZohoTotal       int                 `json:"zoho_total"`
	LocalTotal      int                 `json:"local_total"`
	Matching        int                 `json:"matching"`
	MissingInLocal  int                 `json:"missing_in_local"`
	MissingInZoho   int                 `json:"missing_in_zoho"`
	Mismatched      int                 `json:"mismatched"`
	MatchPercentage float64             `json:"match_percentage"`
}

// ComputeMatchPercentage sets MatchPercentage from the counters.
// An empty type on both sides is a full match.
func (s *ComparisonStats) ComputeMatchPercentage() {
	denom := s.ZohoTotal
	if s.LocalTotal > denom {
		denom = s.LocalTotal
	}
	if denom == 0 {
		s.MatchPercentage = 100
		return
	}
	s.MatchPercentage = round2(float64(s.Matching) * 100 / float64(denom))
}

// DataQualityScore is the weighted mean of the per-type match percentages.
func DataQualityScore(stats []ComparisonStats) float64 {
	var weighted, weights float64
	for _, s := range stats {
		w := s.EntityType.QualityWeight()
		weighted += w * s.MatchPercentage
		weights += w
	}
	if weights == 0 {
		return 100
	}
	return round2(weighted / weights)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Discrepancy is one observed difference, upserted by (entity_type, entity_id, field).
type Discrepancy struct {
	ID                uuid.UUID           `json:"id"`
	EntityType        datasync.EntityType `json:"entity_type"`
	EntityID          string              `json:"entity_id"`
	Field             string              `json:"field"`
	ZohoValue         string              `json:"zoho_value"`
	LocalValue        string              `json:"local_value"`
	Severity          alert.Severity      `json:"severity"`
	Kind              Kind                `json:"kind"`
	Resolution        Resolution          `json:"resolution"`
	CorrectiveEventID *uuid.UUID          `json:"corrective_event_id,omitempty"`
	FirstDetectedAt   time.Time           `json:"first_detected_at"`
	LastDetectedAt    time.Time           `json:"last_detected_at"`
	ResolvedAt        *time.Time          `json:"resolved_at,omitempty"`
}

// Key identifies the discrepancy across passes.
func (d Discrepancy) Key() string {
	return string(d.EntityType) + ":" + d.EntityID + ":" + d.Field
}

// IsOpen reports whether the discrepancy has not been resolved.
func (d Discrepancy) IsOpen() bool {
	return d.ResolvedAt == nil
}

// HasCorrection reports whether a corrective event was already enqueued.
func (d Discrepancy) HasCorrection() bool {
	return d.CorrectiveEventID != nil
}

// SeverityFor derives the severity recorded for a discrepancy.
func SeverityFor(kind Kind, entityType datasync.EntityType, field string) alert.Severity {
	switch kind {
	case KindConflict:
		return alert.SeverityError
	case KindMissingInLocal, KindMissingInZoho:
		return alert.SeverityWarning
	}
	if field == datasync.FieldPrice || entityType.QualityWeight() >= 3 {
		return alert.SeverityWarning
	}
	return alert.SeverityInfo
}

// Report is the snapshot of one pass.
type Report struct {
	ID               uuid.UUID         `json:"id"`
	Stats            []ComparisonStats `json:"stats"`
	Discrepancies    []Discrepancy     `json:"discrepancies"`
	DataQualityScore float64           `json:"data_quality_score"`
	AutoCorrected    int               `json:"auto_corrected"`
	AlertOnly        int               `json:"alert_only"`
	Reported         int               `json:"reported"`
	Deferred         int               `json:"deferred"`
	StartedAt        time.Time         `json:"started_at"`
	LastUpdated      time.Time         `json:"last_updated"`
	DurationMs       int64             `json:"duration_ms"`
}

// StatsFor returns the stats row of an entity type.
func (r *Report) StatsFor(t datasync.EntityType) (ComparisonStats, bool) {
	for _, s := range r.Stats {
		if s.EntityType == t {
			return s, true
		}
	}
	return ComparisonStats{}, false
}

// AutoHealingStats aggregates passes since startup.
type AutoHealingStats struct {
	Passes             int64      `json:"passes"`
	FailedPasses       int64      `json:"failed_passes"`
	LastPassAt         *time.Time `json:"last_pass_at,omitempty"`
	DiscrepanciesFound int64      `json:"discrepancies_found"`
	AutoCorrected      int64      `json:"auto_corrected"`
	AlertOnly          int64      `json:"alert_only"`
	LastScore          float64    `json:"last_score"`
	OpenDiscrepancies  int64      `json:"open_discrepancies"`
}

// DiscrepancyRepository persists discrepancies
type DiscrepancyRepository interface {
	// Upsert inserts or refreshes by (entity_type, entity_id, field), returning the stored row.
	// The first detection time and an existing corrective event id are preserved.
	Upsert(ctx context.Context, d *Discrepancy) (*Discrepancy, error)

	// SetCorrectiveEvent links the enqueued correction
	SetCorrectiveEvent(ctx context.Context, id, eventID uuid.UUID) error

	// ListOpen returns open discrepancies for an entity type
	ListOpen(ctx context.Context, entityType datasync.EntityType) ([]Discrepancy, error)

	// ResolveMissing resolves open discrepancies of entityType whose key is not in seen
	ResolveMissing(ctx context.Context, entityType datasync.EntityType, seen map[string]struct{}, at time.Time) (int64, error)

	// CountOpen returns the number of open discrepancies
	CountOpen(ctx context.Context) (int64, error)
}

// ReportRepository persists report snapshots
type ReportRepository interface {
	Save(ctx context.Context, report *Report) error
	Latest(ctx context.Context) (*Report, error)
}
