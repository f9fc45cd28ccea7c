package models

import (
	"time"

	"github.com/erp/syncengine/internal/domain/alert"
	"github.com/erp/syncengine/internal/domain/breaker"
	"github.com/google/uuid"
)

// AlertModel is the persistence model for an Alert.
type AlertModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primary_key"`
	Severity       string     `gorm:"type:varchar(10);not null;index"`
	Title          string     `gorm:"type:varchar(200);not null"`
	Message        string     `gorm:"type:text"`
	DedupeKey      *string    `gorm:"type:varchar(200);index"`
	Source         string     `gorm:"type:varchar(50);not null"`
	TriggeredAt    time.Time  `gorm:"not null;index"`
	LastSeenAt     time.Time  `gorm:"not null"`
	Occurrences    int        `gorm:"not null;default:1"`
	IsActive       bool       `gorm:"not null;default:true;index"`
	Acknowledged   bool       `gorm:"not null;default:false"`
	AcknowledgedBy string     `gorm:"type:varchar(100)"`
	AcknowledgedAt *time.Time ``
}

// TableName returns the table name for GORM
func (AlertModel) TableName() string {
	return "alerts"
}

// ToDomain converts the model to a domain Alert
func (m *AlertModel) ToDomain() *alert.Alert {
	return &alert.Alert{
		ID:             m.ID,
		Severity:       alert.Severity(m.Severity),
		Title:          m.Title,
		Message:        m.Message,
		DedupeKey:      m.DedupeKey,
		Source:         m.Source,
		TriggeredAt:    m.TriggeredAt,
		LastSeenAt:     m.LastSeenAt,
		Occurrences:    m.Occurrences,
		IsActive:       m.IsActive,
		Acknowledged:   m.Acknowledged,
		AcknowledgedBy: m.AcknowledgedBy,
		AcknowledgedAt: m.AcknowledgedAt,
	}
}

// FromDomain populates the model from a domain Alert
func (m *AlertModel) FromDomain(a *alert.Alert) {
	m.ID = a.ID
	m.Severity = a.Severity.String()
	m.Title = a.Title
	m.Message = a.Message
	m.DedupeKey = a.DedupeKey
	m.Source = a.Source
	m.TriggeredAt = a.TriggeredAt
	m.LastSeenAt = a.LastSeenAt
	m.Occurrences = a.Occurrences
	m.IsActive = a.IsActive
	m.Acknowledged = a.Acknowledged
	m.AcknowledgedBy = a.AcknowledgedBy
	m.AcknowledgedAt = a.AcknowledgedAt
}

// CircuitBreakerModel is the persisted status of one named breaker.
type CircuitBreakerModel struct {
	Name             string     `gorm:"type:varchar(64);primary_key"`
	State            string     `gorm:"type:varchar(16);not null"`
	FailureCount     int        `gorm:"not null;default:0"`
	FailureThreshold int        `gorm:"not null"`
	ConsecutiveTrips int        `gorm:"not null;default:0"`
	LastStateChange  time.Time  `gorm:"not null"`
	NextRetryAt      *time.Time ``
	LastError        string     `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (CircuitBreakerModel) TableName() string {
	return "circuit_breakers"
}

// ToDomain converts the model to a breaker Status
func (m *CircuitBreakerModel) ToDomain() breaker.Status {
	return breaker.Status{
		Name:             m.Name,
		State:            breaker.State(m.State),
		FailureCount:     m.FailureCount,
		FailureThreshold: m.FailureThreshold,
		ConsecutiveTrips: m.ConsecutiveTrips,
		LastStateChange:  m.LastStateChange,
		NextRetryAt:      m.NextRetryAt,
		LastError:        m.LastError,
	}
}

// FromDomain populates the model from a breaker Status
func (m *CircuitBreakerModel) FromDomain(s breaker.Status) {
	m.Name = s.Name
	m.State = s.State.String()
	m.FailureCount = s.FailureCount
	m.FailureThreshold = s.FailureThreshold
	m.ConsecutiveTrips = s.ConsecutiveTrips
	m.LastStateChange = s.LastStateChange
	m.NextRetryAt = s.NextRetryAt
	m.LastError = s.LastError
}
