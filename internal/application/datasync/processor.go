package datasync

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	domainbreaker "github.com/erp/syncengine/internal/domain/breaker"
	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/erp/syncengine/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Processor defaults
const (
	DefaultMaxAttempts    = 5
	DefaultRetryBase      = time.Second
	DefaultRetryCap       = 5 * time.Minute
	DefaultRetryJitter    = 0.2
	DefaultRequestTimeout = 30 * time.Second
)

// OutcomeKind is the result class of one processing attempt.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeRetry is a counted failed attempt retried at RetryAt.
	OutcomeRetry OutcomeKind = "retry"
	// OutcomeDeferred is an uncounted postponement, e.g. an open breaker.
	OutcomeDeferred   OutcomeKind = "deferred"
	OutcomeDeadLetter OutcomeKind = "dead_letter"
)

// Outcome is what Process decided for an event.
type Outcome struct {
	Kind    OutcomeKind
	RetryAt time.Time
	Reason  string
}

// IsTerminal reports whether the event will not be attempted again in this run.
func (o Outcome) IsTerminal() bool {
	return o.Kind == OutcomeSuccess || o.Kind == OutcomeDeadLetter
}

// CallGuard runs a call through a named circuit breaker.
type CallGuard interface {
	Execute(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// DeadLetterSink receives events that cannot be processed.
type DeadLetterSink interface {
	// Enqueue stores the failed event. It is idempotent per originating event.
	Enqueue(ctx context.Context, event *datasync.SyncEvent, reason string, priority datasync.Priority) error
	// Resolve removes the item a requeued event came from once it succeeded.
	Resolve(ctx context.Context, itemID uuid.UUID) error
}

// ProcessorConfig tunes retries and Zoho call timeouts.
type ProcessorConfig struct {
	MaxAttempts    int
	RetryBase      time.Duration
	RetryCap       time.Duration
	RetryJitter    float64
	RequestTimeout time.Duration
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.RetryCap <= 0 {
		c.RetryCap = DefaultRetryCap
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		c.RetryJitter = DefaultRetryJitter
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// Processor applies one SyncEvent against Zoho and the local store.
type Processor struct {
	cfg         ProcessorConfig
	gateway     datasync.ZohoGateway
	store       datasync.LocalStore
	events      datasync.EventRepository
	guard       CallGuard
	deadLetters DeadLetterSink
	publisher   shared.EventPublisher
	metrics     *telemetry.SyncMetrics
	logger      *zap.Logger
	now         func() time.Time
	jitter      func() float64
}

// NewProcessor creates a processor.
func NewProcessor(
	cfg ProcessorConfig,
	gateway datasync.ZohoGateway,
	store datasync.LocalStore,
	events datasync.EventRepository,
	guard CallGuard,
	deadLetters DeadLetterSink,
	publisher shared.EventPublisher,
	logger *zap.Logger,
) *Processor {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	return &Processor{
		cfg:         cfg.withDefaults(),
		gateway:     gateway,
		store:       store,
		events:      events,
		guard:       guard,
		deadLetters: deadLetters,
		publisher:   publisher,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		jitter:      rand.Float64,
	}
}

// SetSyncMetrics sets the metrics recorder
func (p *Processor) SetSyncMetrics(m *telemetry.SyncMetrics) {
	p.metrics = m
}

// RetryDelay returns base * 2^attempt capped, plus up to RetryJitter of jitter.
// attempt is the number of failed attempts before this one.
func (p *Processor) RetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.cfg.RetryCap
	if attempt < 32 {
		if d := p.cfg.RetryBase << uint(attempt); d > 0 && d < p.cfg.RetryCap {
			delay = d
		}
	}
	if p.cfg.RetryJitter > 0 {
		delay += time.Duration(float64(delay) * p.cfg.RetryJitter * p.jitter())
	}
	return delay
}

// Process makes one attempt at the event and persists the resulting event state.
func (p *Processor) Process(ctx context.Context, event *datasync.SyncEvent) Outcome {
	ctx, span := telemetry.StartSpan(ctx, "sync.process",
		telemetry.WithAttribute(telemetry.SpanAttrRunID, event.RunID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrEventID, event.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrEntityType, event.EntityType.String()),
		telemetry.WithAttribute(telemetry.SpanAttrEntityID, event.EntityID),
		telemetry.WithAttribute(telemetry.SpanAttrOperation, event.Operation.String()),
		telemetry.WithAttribute(telemetry.SpanAttrDirection, string(event.Direction)),
		telemetry.WithAttribute(telemetry.SpanAttrAttempt, event.AttemptCount+1),
	)
	defer span.End()

	started := time.Now()
	event.MarkProcessing()
	p.save(ctx, event)

	err := p.apply(ctx, event)
	outcome := p.decide(ctx, event, err)

	telemetry.SetAttributes(span, telemetry.SpanAttrOutcome, string(outcome.Kind))
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.SetOK(span)
	}
	p.metrics.EventAttempt(ctx, event.EntityType.String(), string(outcome.Kind), time.Since(started))
	return outcome
}

func (p *Processor) decide(ctx context.Context, event *datasync.SyncEvent, err error) Outcome {
	log := logger.WithLogger(ctx, p.logger).With(
		zap.String("event_id", event.ID.String()),
		zap.String("entity", event.Key()),
		zap.Int("attempt_count", event.AttemptCount),
	)

	if err == nil {
		event.MarkProcessed()
		p.save(ctx, event)
		if event.DeadLetterID != nil && p.deadLetters != nil {
			if rerr := p.deadLetters.Resolve(ctx, *event.DeadLetterID); rerr != nil {
				log.Warn("failed to resolve dead-letter item", zap.Error(rerr))
			}
		}
		p.publishQueue(ctx, event)
		return Outcome{Kind: OutcomeSuccess}
	}

	if be, ok := datasync.IsBreakerOpen(err); ok {
		event.Defer(be.RetryAt, err.Error())
		p.save(ctx, event)
		log.Debug("event deferred by open breaker", zap.String("breaker", be.Name), zap.Time("retry_at", be.RetryAt))
		return Outcome{Kind: OutcomeDeferred, RetryAt: be.RetryAt, Reason: err.Error()}
	}

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		retryAt := p.now()
		event.Defer(retryAt, "interrupted")
		p.save(context.WithoutCancel(ctx), event)
		return Outcome{Kind: OutcomeDeferred, RetryAt: retryAt, Reason: "interrupted"}
	}

	if permanent(err) {
		log.Warn("event failed permanently", zap.Error(err))
		return p.deadLetter(ctx, event, err.Error())
	}

	// Transient: timeouts, 5xx, rate limits and local storage errors.
	if event.AttemptCount+1 >= p.cfg.MaxAttempts {
		event.AttemptCount++
		reason := fmt.Sprintf("max attempts (%d) exceeded: %v", p.cfg.MaxAttempts, err)
		log.Warn("event exhausted retries", zap.Error(err))
		return p.deadLetter(ctx, event, reason)
	}
	retryAt := p.now().Add(p.RetryDelay(event.AttemptCount))
	event.ScheduleRetry(retryAt, err.Error())
	p.save(ctx, event)
	log.Info("event scheduled for retry", zap.Error(err), zap.Time("retry_at", retryAt))
	return Outcome{Kind: OutcomeRetry, RetryAt: retryAt, Reason: err.Error()}
}

func permanent(err error) bool {
	return datasync.IsPermanent(err) ||
		errors.Is(err, datasync.ErrRecordNotFound) ||
		errors.Is(err, datasync.ErrInvalidEntityType) ||
		errors.Is(err, datasync.ErrInvalidOperation)
}

func (p *Processor) deadLetter(ctx context.Context, event *datasync.SyncEvent, reason string) Outcome {
	event.MarkDeadLettered(reason)
	p.save(ctx, event)
	if p.deadLetters != nil {
		if err := p.deadLetters.Enqueue(ctx, event, reason, event.Priority); err != nil {
			p.logger.Error("failed to enqueue dead-letter item",
				zap.String("event_id", event.ID.String()),
				zap.Error(err),
			)
		}
	}
	p.metrics.DeadLettered(ctx, event.EntityType.String())
	p.publishQueue(ctx, event)
	return Outcome{Kind: OutcomeDeadLetter, Reason: reason}
}

// apply performs the side effects of the event.
// Zoho calls run under the breaker; local writes run outside it so storage
// failures never count against Zoho.
func (p *Processor) apply(ctx context.Context, event *datasync.SyncEvent) error {
	if !event.EntityType.IsValid() {
		return datasync.ErrInvalidEntityType
	}
	if !event.Operation.IsValid() {
		return datasync.ErrInvalidOperation
	}
	switch event.Direction {
	case datasync.DirectionOutbound:
		return p.applyOutbound(ctx, event)
	default:
		return p.applyInbound(ctx, event)
	}
}

func (p *Processor) applyInbound(ctx context.Context, event *datasync.SyncEvent) error {
	now := p.now()
	if event.Operation == datasync.OperationDelete {
		_, err := p.store.ApplyRecord(ctx, datasync.ApplyInput{
			Record:   datasync.Record{EntityType: event.EntityType, EntityID: event.EntityID, ModifiedAt: now},
			Sequence: event.Sequence,
			Deleted:  true,
			SyncedAt: now,
		})
		return asStorageError("apply delete", err)
	}

	var remote *datasync.Record
	err := p.guard.Execute(ctx, domainbreaker.NameZohoAPI, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
		rec, err := p.gateway.FetchRecord(callCtx, event.EntityType, event.EntityID)
		if err != nil {
			return err
		}
		remote = rec
		return nil
	})
	if err != nil {
		return timeoutAsTransient("fetch "+event.Key(), err)
	}

	changed, err := p.store.ApplyRecord(ctx, datasync.ApplyInput{
		Record:   *remote,
		Sequence: event.Sequence,
		SyncedAt: now,
	})
	if err != nil {
		return asStorageError("apply record", err)
	}
	if !changed {
		p.logger.Debug("stale or replayed event ignored",
			zap.String("event_id", event.ID.String()),
			zap.Int64("sequence", event.Sequence),
		)
	}
	return nil
}

func (p *Processor) applyOutbound(ctx context.Context, event *datasync.SyncEvent) error {
	name := domainbreaker.NameZohoAPI
	if event.EntityType == datasync.EntityTypeStockAdjustment {
		name = domainbreaker.NameZohoInventoryPush
	}

	var local *datasync.LocalRecord
	if event.Operation != datasync.OperationDelete {
		rec, err := p.store.GetRecord(ctx, event.EntityType, event.EntityID)
		switch {
		case errors.Is(err, datasync.ErrRecordNotFound) && event.Operation == datasync.OperationCreate:
			// Already created and moved to the platform id by an earlier attempt.
			p.logger.Debug("create of re-keyed record ignored", zap.String("event_id", event.ID.String()))
			return nil
		case errors.Is(err, datasync.ErrRecordNotFound):
			return err
		case err != nil:
			return asStorageError("load local record", err)
		}
		local = rec
	}

	var pushed *datasync.Record
	err := p.guard.Execute(ctx, name, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
		if event.Operation == datasync.OperationDelete {
			err := p.gateway.DeleteRecord(callCtx, event.EntityType, event.EntityID)
			if isNotFound(err) {
				return nil
			}
			return err
		}
		rec, err := p.gateway.PushRecord(callCtx, event.Operation, local.Record)
		pushed = rec
		return err
	})
	if err != nil {
		return timeoutAsTransient("push "+event.Key(), err)
	}

	now := p.now()
	if event.Operation == datasync.OperationCreate {
		remoteID := ""
		if pushed != nil {
			remoteID = pushed.EntityID
		}
		return asStorageError("mark created", p.store.MarkCreated(ctx, event.EntityType, event.EntityID, remoteID, now))
	}
	return asStorageError("mark synced", p.store.MarkSynced(ctx, event.EntityType, event.EntityID, now))
}

// isNotFound reports a 404 from the platform. A delete of a missing record is done.
func isNotFound(err error) bool {
	var pe *datasync.PermanentExternalError
	return errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound
}

// timeoutAsTransient classifies a bare deadline from the call timeout as transient.
func timeoutAsTransient(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !datasync.IsTransient(err) {
		return &datasync.TransientExternalError{Op: op, Err: err}
	}
	return err
}

func asStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *datasync.StorageError
	if errors.As(err, &se) {
		return err
	}
	return datasync.NewStorageError(op, err)
}

func (p *Processor) save(ctx context.Context, event *datasync.SyncEvent) {
	if err := p.events.Update(ctx, event); err != nil {
		p.logger.Error("failed to persist event state",
			zap.String("event_id", event.ID.String()),
			zap.String("status", string(event.Status)),
			zap.Error(err),
		)
	}
}

// QueueUpdate is the payload of queue_updated notifications.
type QueueUpdate struct {
	EventID    string               `json:"event_id"`
	RunID      string               `json:"run_id"`
	EntityType datasync.EntityType  `json:"entity_type"`
	EntityID   string               `json:"entity_id"`
	Status     datasync.EventStatus `json:"status"`
	Attempts   int                  `json:"attempt_count"`
}

func (p *Processor) publishQueue(ctx context.Context, event *datasync.SyncEvent) {
	p.publisher.Publish(ctx, shared.EventQueueUpdated, QueueUpdate{
		EventID:    event.ID.String(),
		RunID:      event.RunID.String(),
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Status:     event.Status,
		Attempts:   event.AttemptCount,
	})
}
