// Package deadletter manages sync events that exhausted their retries:
// inspection, requeue through the orchestrator, purge and escalation.
package deadletter

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/syncengine/internal/domain/alert"
	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/domain/deadletter"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultEscalationThreshold is the number of failed requeues that makes an item critical.
const DefaultEscalationThreshold = 3

// requeueAllPageSize bounds each page read by RequeueAll
const requeueAllPageSize = 100

// ErrRequeueUnavailable is returned when no resubmitter is wired.
var ErrRequeueUnavailable = errors.New("deadletter: requeue is not available")

// Resubmitter submits fresh events for processing.
type Resubmitter interface {
	Resubmit(ctx context.Context, events ...*datasync.SyncEvent) (uuid.UUID, error)
}

// Config tunes the dead-letter service
type Config struct {
	EscalationThreshold int
}

// RequeueResult identifies the run a requeued item was submitted in
type RequeueResult struct {
	ItemID  uuid.UUID `json:"item_id"`
	EventID uuid.UUID `json:"event_id"`
	RunID   uuid.UUID `json:"run_id"`
}

// RequeueAllResult summarizes a bulk requeue
type RequeueAllResult struct {
	Requeued int       `json:"requeued"`
	RunID    uuid.UUID `json:"run_id,omitempty"`
}

// Stats counts items by priority
type Stats struct {
	Total      int64                       `json:"total"`
	ByPriority map[datasync.Priority]int64 `json:"by_priority"`
}

// Service is the dead-letter store. It also acts as the processor's sink.
type Service struct {
	cfg         Config
	repo        deadletter.Repository
	alerts      alert.Raiser
	resubmitter Resubmitter
	publisher   shared.EventPublisher
	logger      *zap.Logger
}

// NewService creates a dead-letter service
func NewService(cfg Config, repo deadletter.Repository, alerts alert.Raiser, publisher shared.EventPublisher, logger *zap.Logger) *Service {
	if cfg.EscalationThreshold <= 0 {
		cfg.EscalationThreshold = DefaultEscalationThreshold
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	return &Service{
		cfg:       cfg,
		repo:      repo,
		alerts:    alerts,
		publisher: publisher,
		logger:    logger,
	}
}

// SetResubmitter wires the orchestrator used by Requeue
func (s *Service) SetResubmitter(r Resubmitter) {
	s.resubmitter = r
}

// Enqueue stores a dead-lettered event. It is idempotent per originating event.
// An event that came from a requeue updates its item instead of adding one.
func (s *Service) Enqueue(ctx context.Context, event *datasync.SyncEvent, reason string, priority datasync.Priority) error {
	log := logger.WithLogger(ctx, s.logger).With(
		zap.String("event_id", event.ID.String()),
		zap.String("entity", event.Key()),
	)

	if event.DeadLetterID != nil {
		item, err := s.repo.FindByID(ctx, *event.DeadLetterID)
		switch {
		case err == nil:
			return s.recordRequeueFailure(ctx, item, event, reason)
		case !errors.Is(err, deadletter.ErrItemNotFound):
			return fmt.Errorf("find dead-letter item: %w", err)
		}
		// The item was purged while its requeue was in flight.
	}

	item := deadletter.NewItem(event, reason, priority)
	if err := s.repo.Upsert(ctx, item); err != nil {
		log.Error("Failed to store dead-letter item", zap.Error(err))
		return err
	}
	log.Warn("Event dead-lettered",
		zap.String("item_id", item.ID.String()),
		zap.String("reason", reason),
		zap.Int("attempt_count", event.AttemptCount),
	)
	return nil
}

func (s *Service) recordRequeueFailure(ctx context.Context, item *deadletter.Item, event *datasync.SyncEvent, reason string) error {
	escalated := item.RecordRequeueFailure(reason, event.AttemptCount, s.cfg.EscalationThreshold)
	if err := s.repo.Update(ctx, item); err != nil {
		return err
	}
	s.logger.Warn("Requeued event failed again",
		zap.String("item_id", item.ID.String()),
		zap.Int("failed_requeues", item.FailedRequeues),
		zap.Bool("escalated", escalated),
	)
	if !escalated || s.alerts == nil {
		return nil
	}

	_, err := s.alerts.Raise(ctx, alert.RaiseInput{
		Severity: alert.SeverityCritical,
		Title:    fmt.Sprintf("Dead-letter item escalated: %s", event.Key()),
		Message: fmt.Sprintf("%s %s failed %d requeues: %s",
			item.Operation, event.Key(), item.FailedRequeues, reason),
		DedupeKey: "deadletter:" + item.ID.String(),
		Source:    "dead_letter",
	})
	if err != nil {
		s.logger.Error("Failed to raise escalation alert", zap.String("item_id", item.ID.String()), zap.Error(err))
	}
	return nil
}

// Resolve deletes the item once its requeued event succeeded
func (s *Service) Resolve(ctx context.Context, itemID uuid.UUID) error {
	err := s.repo.Delete(ctx, itemID)
	if errors.Is(err, deadletter.ErrItemNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("Dead-letter item deleted by successful reprocessing", zap.String("item_id", itemID.String()))
	s.publishChange(ctx, itemID, "resolved")
	return nil
}

// Get returns one item
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*deadletter.Item, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns a page of items, highest priority first
func (s *Service) List(ctx context.Context, filter deadletter.Filter) (shared.Paginated[deadletter.Item], error) {
	filter.Page, filter.PageSize = shared.NormalizePage(filter.Page, filter.PageSize)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return shared.Paginated[deadletter.Item]{}, err
	}
	return shared.NewPaginated(items, total, filter.Page, filter.PageSize), nil
}

// Requeue submits a fresh event for the item. The item stays until the event succeeds.
func (s *Service) Requeue(ctx context.Context, id uuid.UUID) (*RequeueResult, error) {
	if s.resubmitter == nil {
		return nil, ErrRequeueUnavailable
	}
	item, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	event, err := item.ToEvent(uuid.Nil)
	if err != nil {
		return nil, err
	}

	runID, err := s.resubmitter.Resubmit(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("resubmit dead-letter item: %w", err)
	}
	s.recordRequeue(ctx, item)

	logger.WithLogger(ctx, s.logger).Info("Dead-letter item requeued",
		zap.String("item_id", item.ID.String()),
		zap.String("run_id", runID.String()),
		zap.Int("requeue_count", item.RequeueCount),
	)
	s.publishChange(ctx, item.ID, "requeued")
	return &RequeueResult{ItemID: item.ID, EventID: event.ID, RunID: runID}, nil
}

// RequeueAll requeues every item, optionally only those of one priority, in a single run
func (s *Service) RequeueAll(ctx context.Context, priority *datasync.Priority) (*RequeueAllResult, error) {
	if s.resubmitter == nil {
		return nil, ErrRequeueUnavailable
	}

	var items []deadletter.Item
	for page := 1; ; page++ {
		batch, total, err := s.repo.List(ctx, deadletter.Filter{Priority: priority, Page: page, PageSize: requeueAllPageSize})
		if err != nil {
			return nil, err
		}
		items = append(items, batch...)
		if len(batch) == 0 || int64(len(items)) >= total {
			break
		}
	}
	if len(items) == 0 {
		return &RequeueAllResult{}, nil
	}

	events := make([]*datasync.SyncEvent, 0, len(items))
	for i := range items {
		item := &items[i]
		event, err := item.ToEvent(uuid.Nil)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	runID, err := s.resubmitter.Resubmit(ctx, events...)
	if err != nil {
		return nil, fmt.Errorf("resubmit dead-letter items: %w", err)
	}
	for i := range items {
		s.recordRequeue(ctx, &items[i])
	}

	s.logger.Info("Dead-letter items requeued",
		zap.Int("count", len(events)),
		zap.String("run_id", runID.String()),
	)
	return &RequeueAllResult{Requeued: len(events), RunID: runID}, nil
}

// recordRequeue stamps an item whose event was accepted for reprocessing. The
// event is already queued, so a failed write is logged rather than returned.
// A missing item was resolved by the event in the meantime.
func (s *Service) recordRequeue(ctx context.Context, item *deadletter.Item) {
	item.MarkRequeued()
	err := s.repo.Update(ctx, item)
	if err == nil || errors.Is(err, deadletter.ErrItemNotFound) {
		return
	}
	logger.WithLogger(ctx, s.logger).Warn("Failed to record dead-letter requeue",
		zap.String("item_id", item.ID.String()),
		zap.Error(err),
	)
}

// Purge deletes an item without reprocessing it
func (s *Service) Purge(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Dead-letter item purged", zap.String("item_id", id.String()))
	s.publishChange(ctx, id, "purged")
	return nil
}

// Stats returns item counts by priority
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.repo.CountByPriority(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{ByPriority: make(map[datasync.Priority]int64, 4)}
	for _, p := range []datasync.Priority{datasync.PriorityLow, datasync.PriorityNormal, datasync.PriorityHigh, datasync.PriorityCritical} {
		stats.ByPriority[p] = counts[p]
		stats.Total += counts[p]
	}
	return stats, nil
}

// ItemChange is the queue_updated payload for dead-letter actions
type ItemChange struct {
	ItemID string `json:"dead_letter_id"`
	Action string `json:"action"`
}

func (s *Service) publishChange(ctx context.Context, id uuid.UUID, action string) {
	s.publisher.Publish(ctx, shared.EventQueueUpdated, ItemChange{ItemID: id.String(), Action: action})
}
