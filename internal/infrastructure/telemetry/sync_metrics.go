package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when no meter is supplied.
var ErrMeterNil = errors.New("NewSyncMetrics: meter cannot be nil")

// Metric attribute keys.
var (
	AttrRunType    = attribute.Key("run_type")
	AttrEntityType = attribute.Key("entity_type")
	AttrStatus     = attribute.Key("status")
	AttrOutcome    = attribute.Key("outcome")
	AttrBreaker    = attribute.Key("breaker")
	AttrFromState  = attribute.Key("from")
	AttrToState    = attribute.Key("to")

	AttrHTTPMethod     = attribute.Key("http.method")
	AttrHTTPRoute      = attribute.Key("http.route")
	AttrHTTPStatusCode = attribute.Key("http.status_code")
)

// SyncMetrics records sync engine counters and histograms.
// Every method is safe on a nil receiver so components may run without metrics.
type SyncMetrics struct {
	runsStarted        metric.Int64Counter
	runsFinished       metric.Int64Counter
	runDuration        metric.Float64Histogram
	eventsTotal        metric.Int64Counter
	eventDuration      metric.Float64Histogram
	deadLetters        metric.Int64Counter
	breakerTransitions metric.Int64Counter
	dataQuality        metric.Float64Gauge
	discrepancies      metric.Int64Counter
	webhooks           metric.Int64Counter
}

// NewSyncMetrics creates the instruments on meter.
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	m := &SyncMetrics{}
	var err error

	if m.runsStarted, err = meter.Int64Counter("sync_runs_started_total",
		metric.WithDescription("Sync runs started"), metric.WithUnit("{runs}")); err != nil {
		return nil, err
	}
	if m.runsFinished, err = meter.Int64Counter("sync_runs_finished_total",
		metric.WithDescription("Sync runs that reached a terminal status"), metric.WithUnit("{runs}")); err != nil {
		return nil, err
	}
	if m.runDuration, err = meter.Float64Histogram("sync_run_duration_seconds",
		metric.WithDescription("Wall time of finished runs"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(RunDurationBuckets...)); err != nil {
		return nil, err
	}
	if m.eventsTotal, err = meter.Int64Counter("sync_events_total",
		metric.WithDescription("Processed event attempts by outcome"), metric.WithUnit("{events}")); err != nil {
		return nil, err
	}
	if m.eventDuration, err = meter.Float64Histogram("sync_event_duration_seconds",
		metric.WithDescription("Duration of one event attempt"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(EventDurationBuckets...)); err != nil {
		return nil, err
	}
	if m.deadLetters, err = meter.Int64Counter("sync_dead_letters_total",
		metric.WithDescription("Events moved to the dead-letter store"), metric.WithUnit("{events}")); err != nil {
		return nil, err
	}
	if m.breakerTransitions, err = meter.Int64Counter("sync_breaker_transitions_total",
		metric.WithDescription("Circuit breaker state changes"), metric.WithUnit("{transitions}")); err != nil {
		return nil, err
	}
	if m.dataQuality, err = meter.Float64Gauge("sync_data_quality_score",
		metric.WithDescription("Weighted match percentage of the last reconciliation pass"), metric.WithUnit("%")); err != nil {
		return nil, err
	}
	if m.discrepancies, err = meter.Int64Counter("sync_discrepancies_total",
		metric.WithDescription("Discrepancies observed by reconciliation, by resolution"), metric.WithUnit("{discrepancies}")); err != nil {
		return nil, err
	}
	if m.webhooks, err = meter.Int64Counter("sync_webhooks_total",
		metric.WithDescription("Webhook deliveries by outcome"), metric.WithUnit("{deliveries}")); err != nil {
		return nil, err
	}
	return m, nil
}

// RunStarted counts a new run.
func (m *SyncMetrics) RunStarted(ctx context.Context, runType, entityKey string) {
	if m == nil {
		return
	}
	m.runsStarted.Add(ctx, 1, metric.WithAttributes(AttrRunType.String(runType), AttrEntityType.String(entityKey)))
}

// RunFinished counts a terminal run and records its duration.
func (m *SyncMetrics) RunFinished(ctx context.Context, status, entityKey string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrStatus.String(status), AttrEntityType.String(entityKey))
	m.runsFinished.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, d.Seconds(), attrs)
}

// EventAttempt records one processor attempt. Outcome is success, retry, deferred or dead_letter.
func (m *SyncMetrics) EventAttempt(ctx context.Context, entityType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrEntityType.String(entityType), AttrOutcome.String(outcome))
	m.eventsTotal.Add(ctx, 1, attrs)
	m.eventDuration.Record(ctx, d.Seconds(), attrs)
}

// DeadLettered counts an event moved to the dead-letter store.
func (m *SyncMetrics) DeadLettered(ctx context.Context, entityType string) {
	if m == nil {
		return
	}
	m.deadLetters.Add(ctx, 1, metric.WithAttributes(AttrEntityType.String(entityType)))
}

// BreakerTransition counts one breaker state change.
func (m *SyncMetrics) BreakerTransition(ctx context.Context, name, from, to string) {
	if m == nil {
		return
	}
	m.breakerTransitions.Add(ctx, 1, metric.WithAttributes(
		AttrBreaker.String(name), AttrFromState.String(from), AttrToState.String(to),
	))
}

// DataQuality records the score of a reconciliation pass.
func (m *SyncMetrics) DataQuality(ctx context.Context, score float64) {
	if m == nil {
		return
	}
	m.dataQuality.Record(ctx, score)
}

// Discrepancies counts discrepancies of one entity type by resolution.
func (m *SyncMetrics) Discrepancies(ctx context.Context, entityType, resolution string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.discrepancies.Add(ctx, int64(n), metric.WithAttributes(
		AttrEntityType.String(entityType), AttrOutcome.String(resolution),
	))
}

// Webhook counts one webhook delivery. Outcome is accepted, duplicate, rejected, invalid or failed.
func (m *SyncMetrics) Webhook(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
}
