// Package alert raises, deduplicates and acknowledges operator alerts.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/erp/syncengine/internal/domain/alert"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultDedupeWindow is how long a recurrence folds into an existing alert.
const DefaultDedupeWindow = 15 * time.Minute

// Created is the payload of alert_created notifications
type Created struct {
	ID          string         `json:"id"`
	Severity    alert.Severity `json:"severity"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	DedupeKey   string         `json:"dedupe_key,omitempty"`
	Source      string         `json:"source"`
	TriggeredAt time.Time      `json:"triggered_at"`
}

// Manager implements alert.Raiser on top of the alert repository.
type Manager struct {
	repo      alert.Repository
	publisher shared.EventPublisher
	window    time.Duration
	logger    *zap.Logger
	now       func() time.Time

	// mu serializes the find-then-create of deduplicated alerts
	mu sync.Mutex
}

var _ alert.Raiser = (*Manager)(nil)

// NewManager creates an alert manager
func NewManager(repo alert.Repository, publisher shared.EventPublisher, window time.Duration, logger *zap.Logger) *Manager {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	return &Manager{
		repo:      repo,
		publisher: publisher,
		window:    window,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Raise creates an alert, or folds it into the active alert with the same
// dedupe key when that alert was last seen within the dedupe window.
func (m *Manager) Raise(ctx context.Context, in alert.RaiseInput) (*alert.Alert, error) {
	log := logger.WithLogger(ctx, m.logger)

	if in.DedupeKey != "" {
		m.mu.Lock()
		defer m.mu.Unlock()

		existing, err := m.repo.FindActiveByDedupeKey(ctx, in.DedupeKey)
		if err != nil {
			return nil, err
		}
		now := m.now()
		if existing != nil && now.Sub(existing.LastSeenAt) <= m.window {
			if err := m.repo.TouchOccurrence(ctx, existing.ID, now); err != nil {
				return nil, err
			}
			existing.Occurrences++
			existing.LastSeenAt = now
			log.Debug("Alert deduplicated",
				zap.String("alert_id", existing.ID.String()),
				zap.String("dedupe_key", in.DedupeKey),
				zap.Int("occurrences", existing.Occurrences),
			)
			return existing, nil
		}
	}

	var key *string
	if in.DedupeKey != "" {
		k := in.DedupeKey
		key = &k
	}
	a, err := alert.NewAlert(in.Severity, in.Title, in.Message, key, in.Source)
	if err != nil {
		return nil, err
	}
	if err := m.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	log.Warn("Alert raised",
		zap.String("alert_id", a.ID.String()),
		zap.String("severity", a.Severity.String()),
		zap.String("title", a.Title),
		zap.String("source", a.Source),
	)
	m.publisher.Publish(ctx, shared.EventAlertCreated, Created{
		ID:          a.ID.String(),
		Severity:    a.Severity,
		Title:       a.Title,
		Message:     a.Message,
		DedupeKey:   in.DedupeKey,
		Source:      a.Source,
		TriggeredAt: a.TriggeredAt,
	})
	return a, nil
}

// Acknowledge marks an alert handled by the given operator
func (m *Manager) Acknowledge(ctx context.Context, id uuid.UUID, by string) (*alert.Alert, error) {
	a, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := a.Acknowledge(by); err != nil {
		return nil, err
	}
	if err := m.repo.Acknowledge(ctx, a); err != nil {
		return nil, err
	}
	logger.WithLogger(ctx, m.logger).Info("Alert acknowledged",
		zap.String("alert_id", id.String()),
		zap.String("acknowledged_by", by),
	)
	return a, nil
}

// Get returns one alert
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*alert.Alert, error) {
	return m.repo.FindByID(ctx, id)
}

// List returns a page of alerts, newest first
func (m *Manager) List(ctx context.Context, filter alert.Filter) (shared.Paginated[alert.Alert], error) {
	filter.Page, filter.PageSize = shared.NormalizePage(filter.Page, filter.PageSize)
	alerts, total, err := m.repo.List(ctx, filter)
	if err != nil {
		return shared.Paginated[alert.Alert]{}, err
	}
	return shared.NewPaginated(alerts, total, filter.Page, filter.PageSize), nil
}
