// Package alert contains operator-facing alerts raised by the sync engine.
package alert

import (
	"context"
	"errors"
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
)

// Severity is the alert severity
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// String returns the string representation
func (s Severity) String() string {
	return string(s)
}

// Alert errors
var (
	ErrAlertNotFound       = shared.NewDomainError("NOT_FOUND", "Alert not found")
	ErrAlreadyAcknowledged = shared.NewDomainError("INVALID_STATE", "Alert is already acknowledged")
	ErrInvalidSeverity     = errors.New("alert: invalid severity")
	ErrTitleRequired       = errors.New("alert: title is required")
	ErrAcknowledgerMissing = errors.New("alert: acknowledged_by is required")
)

// Alert is an operator-facing notification.
// Acknowledgment is one-way; a recurrence after acknowledgment is a new Alert.
type Alert struct {
	ID             uuid.UUID
	Severity       Severity
	Title          string
	Message        string
	DedupeKey      *string
	Source         string
	TriggeredAt    time.Time
	LastSeenAt     time.Time
	Occurrences    int
	IsActive       bool
	Acknowledged   bool
	AcknowledgedBy string
	AcknowledgedAt *time.Time
}

// NewAlert creates an active alert.
func NewAlert(severity Severity, title, message string, dedupeKey *string, source string) (*Alert, error) {
	if !severity.IsValid() {
		return nil, ErrInvalidSeverity
	}
	if title == "" {
		return nil, ErrTitleRequired
	}
	if dedupeKey != nil && *dedupeKey == "" {
		dedupeKey = nil
	}
	now := time.Now().UTC()
	return &Alert{
		ID:          uuid.New(),
		Severity:    severity,
		Title:       title,
		Message:     message,
		DedupeKey:   dedupeKey,
		Source:      source,
		TriggeredAt: now,
		LastSeenAt:  now,
		Occurrences: 1,
		IsActive:    true,
	}, nil
}

// Acknowledge marks the alert handled.
func (a *Alert) Acknowledge(by string) error {
	if a.Acknowledged {
		return ErrAlreadyAcknowledged
	}
	if by == "" {
		return ErrAcknowledgerMissing
	}
	now := time.Now().UTC()
	a.Acknowledged = true
	a.AcknowledgedBy = by
	a.AcknowledgedAt = &now
	a.IsActive = false
	return nil
}

// Filter defines filtering options for listing alerts
type Filter struct {
	Severity  *Severity
	IsActive  *bool
	Source    string
	SortBy    string
	SortOrder string
	Page      int
	PageSize  int
}

// Repository persists alerts
type Repository interface {
	// Create inserts a new alert
	Create(ctx context.Context, a *Alert) error

	// Acknowledge saves the acknowledgment fields of an alert nobody has
	// acknowledged yet. It returns ErrAlreadyAcknowledged when one has.
	Acknowledge(ctx context.Context, a *Alert) error

	// FindByID returns an alert or ErrAlertNotFound
	FindByID(ctx context.Context, id uuid.UUID) (*Alert, error)

	// FindActiveByDedupeKey returns the active, unacknowledged alert for key, nil when none
	FindActiveByDedupeKey(ctx context.Context, key string) (*Alert, error)

	// TouchOccurrence bumps occurrences and last_seen_at for a deduplicated recurrence
	TouchOccurrence(ctx context.Context, id uuid.UUID, seenAt time.Time) error

	// List returns a page of alerts, newest first, and the total count
	List(ctx context.Context, filter Filter) ([]Alert, int64, error)
}

// RaiseInput carries the fields of a raised alert.
type RaiseInput struct {
	Severity  Severity
	Title     string
	Message   string
	DedupeKey string
	Source    string
}

// Raiser is the port other components use to raise alerts.
type Raiser interface {
	Raise(ctx context.Context, in RaiseInput) (*Alert, error)
}
