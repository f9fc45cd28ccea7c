package datasync

import (
	"context"
	"errors"
	"testing"
	"time"

	domainbreaker "github.com/erp/syncengine/internal/domain/breaker"
	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/infrastructure/breaker"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type processorFixture struct {
	gateway *fakeGateway
	store   *memStore
	events  *memEventRepo
	sink    *memSink
	proc    *Processor
}

func newProcessorFixture(t *testing.T, cfg ProcessorConfig, guard CallGuard) *processorFixture {
	t.Helper()
	f := &processorFixture{
		gateway: newFakeGateway(),
		store:   newMemStore(),
		events:  newMemEventRepo(),
		sink:    newMemSink(),
	}
	if guard == nil {
		guard = passGuard{}
	}
	f.proc = NewProcessor(cfg, f.gateway, f.store, f.events, guard, f.sink, nil, zap.NewNop())
	f.proc.jitter = func() float64 { return 0 }
	return f
}

func inboundEvent(t *testing.T, et datasync.EntityType, id string, seq int64) *datasync.SyncEvent {
	t.Helper()
	ev, err := datasync.NewSyncEvent(datasync.NewSyncEventInput{
		RunID:      uuid.New(),
		EntityType: et,
		EntityID:   id,
		Operation:  datasync.OperationUpdate,
		Direction:  datasync.DirectionInbound,
	})
	require.NoError(t, err)
	ev.Sequence = seq
	return ev
}

func product(id, name string) datasync.Record {
	return datasync.Record{
		EntityType: datasync.EntityTypeProduct,
		EntityID:   id,
		Name:       name,
		Status:     "active",
		Price:      decimal.RequireFromString("9.99"),
		Quantity:   decimal.NewFromInt(3),
		ModifiedAt: time.Now().UTC(),
	}
}

func transientErr() error {
	return &datasync.TransientExternalError{Op: "fetch", StatusCode: 503, Err: errors.New("unavailable")}
}

func TestProcessor_RetryDelay(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{RetryBase: time.Second, RetryCap: 10 * time.Second, RetryJitter: 0.2}, nil)

	assert.Equal(t, time.Second, f.proc.RetryDelay(0))
	assert.Equal(t, 2*time.Second, f.proc.RetryDelay(1))
	assert.Equal(t, 8*time.Second, f.proc.RetryDelay(3))
	assert.Equal(t, 10*time.Second, f.proc.RetryDelay(4), "capped")
	assert.Equal(t, 10*time.Second, f.proc.RetryDelay(200), "large attempts do not overflow")

	f.proc.jitter = func() float64 { return 1 }
	assert.Equal(t, 1200*time.Millisecond, f.proc.RetryDelay(0))
}

func TestProcessor_InboundSuccess(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{}, nil)
	f.gateway.add(product("p1", "Widget"))
	ev := inboundEvent(t, datasync.EntityTypeProduct, "p1", 1)

	out := f.proc.Process(context.Background(), ev)

	assert.Equal(t, OutcomeSuccess, out.Kind)
	assert.True(t, out.IsTerminal())
	assert.Equal(t, datasync.EventStatusProcessed, ev.Status)
	rec, ok := f.store.get(datasync.EntityTypeProduct, "p1")
	require.True(t, ok)
	assert.Equal(t, "Widget", rec.Name)
	assert.Equal(t, int64(1), rec.SourceSequence)

	stored, err := f.events.FindByID(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, datasync.EventStatusProcessed, stored.Status)
}

func TestProcessor_TransientSchedulesRetry(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{MaxAttempts: 3, RetryBase: time.Second}, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.proc.now = func() time.Time { return now }
	f.gateway.fail(datasync.EntityTypeProduct, "p1", transientErr())
	ev := inboundEvent(t, datasync.EntityTypeProduct, "p1", 1)

	out := f.proc.Process(context.Background(), ev)
	assert.Equal(t, OutcomeRetry, out.Kind)
	assert.Equal(t, now.Add(time.Second), out.RetryAt)
	assert.Equal(t, 1, ev.AttemptCount)
	assert.Equal(t, datasync.EventStatusQueued, ev.Status)
	require.NotNil(t, ev.NextRetryAt)

	out = f.proc.Process(context.Background(), ev)
	assert.Equal(t, OutcomeRetry, out.Kind)
	assert.Equal(t, now.Add(2*time.Second), out.RetryAt)
	assert.Equal(t, 2, ev.AttemptCount)
}

func TestProcessor_MaxAttemptsDeadLetters(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{MaxAttempts: 3}, nil)
	f.gateway.fail(datasync.EntityTypeProduct, "p1", transientErr())
	ev := inboundEvent(t, datasync.EntityTypeProduct, "p1", 1)

	var out Outcome
	for i := 0; i < 3; i++ {
		out = f.proc.Process(context.Background(), ev)
	}

	assert.Equal(t, OutcomeDeadLetter, out.Kind)
	assert.Equal(t, 3, ev.AttemptCount)
	assert.Equal(t, datasync.EventStatusDeadLettered, ev.Status)
	assert.Contains(t, out.Reason, "max attempts (3) exceeded")
	assert.Equal(t, 1, f.sink.count())
	assert.Equal(t, 3, f.gateway.callCount())
}

func TestProcessor_PermanentGoesStraightToDeadLetter(t *testing.T) {
	reg := breaker.NewRegistry(breaker.Config{FailureThreshold: 1}, nil, nil, zap.NewNop(), nil)
	f := newProcessorFixture(t, ProcessorConfig{}, reg)
	ev := inboundEvent(t, datasync.EntityTypeProduct, "missing", 1)

	out := f.proc.Process(context.Background(), ev)

	assert.Equal(t, OutcomeDeadLetter, out.Kind)
	assert.Equal(t, 0, ev.AttemptCount)
	assert.Equal(t, 1, f.sink.count())

	st, err := reg.Status(domainbreaker.NameZohoAPI)
	require.NoError(t, err)
	assert.Equal(t, domainbreaker.StateClosed, st.State, "permanent errors do not trip the breaker")
}

func TestProcessor_StorageErrorRetriesWithoutTrippingBreaker(t *testing.T) {
	reg := breaker.NewRegistry(breaker.Config{FailureThreshold: 1}, nil, nil, zap.NewNop(), nil)
	f := newProcessorFixture(t, ProcessorConfig{}, reg)
	f.gateway.add(product("p1", "Widget"))
	f.store.applyErr = errors.New("disk full")
	ev := inboundEvent(t, datasync.EntityTypeProduct, "p1", 1)

	out := f.proc.Process(context.Background(), ev)

	assert.Equal(t, OutcomeRetry, out.Kind)
	assert.Contains(t, ev.LastError, "storage error")
	st, err := reg.Status(domainbreaker.NameZohoAPI)
	require.NoError(t, err)
	assert.Equal(t, domainbreaker.StateClosed, st.State)
}

func TestProcessor_BreakerOpensAndDefersWithoutCalling(t *testing.T) {
	reg := breaker.NewRegistry(breaker.Config{FailureThreshold: 5, Window: time.Minute, Cooldown: time.Minute},
		nil, nil, zap.NewNop(), []string{domainbreaker.NameZohoAPI})
	f := newProcessorFixture(t, ProcessorConfig{MaxAttempts: 10}, reg)

	events := make([]*datasync.SyncEvent, 6)
	for i := range events {
		id := uuid.NewString()
		f.gateway.fail(datasync.EntityTypeProduct, id, transientErr())
		events[i] = inboundEvent(t, datasync.EntityTypeProduct, id, int64(i+1))
	}

	for i := 0; i < 5; i++ {
		out := f.proc.Process(context.Background(), events[i])
		assert.Equal(t, OutcomeRetry, out.Kind, "event %d", i)
	}
	st, err := reg.Status(domainbreaker.NameZohoAPI)
	require.NoError(t, err)
	assert.Equal(t, domainbreaker.StateOpen, st.State)

	out := f.proc.Process(context.Background(), events[5])
	assert.Equal(t, OutcomeDeferred, out.Kind)
	assert.False(t, out.IsTerminal())
	assert.Equal(t, 0, events[5].AttemptCount, "deferral is not a counted attempt")
	assert.Equal(t, datasync.EventStatusQueued, events[5].Status)
	require.NotNil(t, st.NextRetryAt)
	assert.Equal(t, *st.NextRetryAt, out.RetryAt)
	assert.Equal(t, 5, f.gateway.callCount(), "short-circuited call never reaches Zoho")
}

func TestProcessor_StaleSequenceIsNoop(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{}, nil)
	f.gateway.add(product("p1", "Newer"))
	require.Equal(t, OutcomeSuccess, f.proc.Process(context.Background(), inboundEvent(t, datasync.EntityTypeProduct, "p1", 10)).Kind)

	f.gateway.add(product("p1", "Older"))
	out := f.proc.Process(context.Background(), inboundEvent(t, datasync.EntityTypeProduct, "p1", 5))

	assert.Equal(t, OutcomeSuccess, out.Kind)
	rec, _ := f.store.get(datasync.EntityTypeProduct, "p1")
	assert.Equal(t, "Newer", rec.Name)
	assert.Equal(t, int64(10), rec.SourceSequence)
}

func TestProcessor_ReplayIsIdempotent(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{}, nil)
	f.gateway.add(product("p1", "Widget"))
	ev := inboundEvent(t, datasync.EntityTypeProduct, "p1", 7)

	require.Equal(t, OutcomeSuccess, f.proc.Process(context.Background(), ev).Kind)
	first, _ := f.store.get(datasync.EntityTypeProduct, "p1")

	replay := *ev
	replay.Status = datasync.EventStatusQueued
	require.Equal(t, OutcomeSuccess, f.proc.Process(context.Background(), &replay).Kind)
	second, _ := f.store.get(datasync.EntityTypeProduct, "p1")

	assert.Empty(t, first.Record.DiffFields(second.Record))
	assert.Equal(t, first.SourceSequence, second.SourceSequence)
}

func TestProcessor_InboundDeleteTombstones(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{}, nil)
	ev := inboundEvent(t, datasync.EntityTypeCustomer, "c1", 3)
	ev.Operation = datasync.OperationDelete

	out := f.proc.Process(context.Background(), ev)

	assert.Equal(t, OutcomeSuccess, out.Kind)
	rec, ok := f.store.get(datasync.EntityTypeCustomer, "c1")
	require.True(t, ok)
	assert.True(t, rec.Deleted)
	assert.Equal(t, 0, f.gateway.callCount())
}

func outboundEvent(t *testing.T, id string, op datasync.Operation) *datasync.SyncEvent {
	t.Helper()
	ev := inboundEvent(t, datasync.EntityTypeProduct, id, 1)
	ev.Direction = datasync.DirectionOutbound
	ev.Operation = op
	return ev
}

func TestProcessor_OutboundPushMarksSynced(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{}, nil)
	synced := time.Now().UTC().Add(-time.Hour)
	f.gateway.add(product("p9", "Remote"))
	f.store.saveSynced(product("p9", "Remote"), synced)
	f.store.saveLocal(product("p9", "Local edit"), synced.Add(time.Minute))

	out := f.proc.Process(context.Background(), outboundEvent(t, "p9", datasync.OperationUpdate))

	assert.Equal(t, OutcomeSuccess, out.Kind)
	require.Len(t, f.gateway.pushed, 1)
	assert.Equal(t, "Local edit", f.gateway.pushed[0].Name)
	assert.Equal(t, []datasync.Operation{datasync.OperationUpdate}, f.gateway.operations())
	rec, _ := f.store.get(datasync.EntityTypeProduct, "p9")
	assert.False(t, rec.NeedsPush())
}

func TestProcessor_OutboundCreateStoresAssignedID(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{}, nil)
	f.store.saveLocal(product("local-7", "Brand new"), time.Now().UTC().Add(-time.Minute))
	ev := outboundEvent(t, "local-7", datasync.OperationCreate)

	out := f.proc.Process(context.Background(), ev)

	assert.Equal(t, OutcomeSuccess, out.Kind)
	assert.Equal(t, []datasync.Operation{datasync.OperationCreate}, f.gateway.operations())
	_, ok := f.store.get(datasync.EntityTypeProduct, "local-7")
	assert.False(t, ok)
	rec, ok := f.store.get(datasync.EntityTypeProduct, "zoho-1")
	require.True(t, ok)
	assert.Equal(t, "Brand new", rec.Name)
	require.NotNil(t, rec.LastSyncedAt)
	assert.False(t, rec.NeedsPush())

	// A replay after the record moved to its new id pushes nothing.
	ev.Status = datasync.EventStatusQueued
	out = f.proc.Process(context.Background(), ev)
	assert.Equal(t, OutcomeSuccess, out.Kind)
	assert.Len(t, f.gateway.operations(), 1)
}

func TestProcessor_OutboundUpdateOfMissingRemoteDeadLetters(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{}, nil)
	f.store.saveLocal(product("p9", "Orphan"), time.Now().UTC())

	out := f.proc.Process(context.Background(), outboundEvent(t, "p9", datasync.OperationUpdate))

	assert.Equal(t, OutcomeDeadLetter, out.Kind)
	assert.Equal(t, 1, f.sink.count())
}

func TestProcessor_OutboundDelete(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{}, nil)
	synced := time.Now().UTC().Add(-time.Hour)
	f.gateway.add(product("p9", "Doomed"))
	f.store.saveSynced(product("p9", "Doomed"), synced)
	f.store.deleteLocal(datasync.EntityTypeProduct, "p9", synced.Add(time.Minute))

	out := f.proc.Process(context.Background(), outboundEvent(t, "p9", datasync.OperationDelete))

	assert.Equal(t, OutcomeSuccess, out.Kind)
	assert.False(t, f.gateway.has(datasync.EntityTypeProduct, "p9"))
	rec, _ := f.store.get(datasync.EntityTypeProduct, "p9")
	assert.True(t, rec.Deleted)
	assert.False(t, rec.NeedsPush())
}

func TestProcessor_OutboundDeleteOfMissingRemoteSucceeds(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{}, nil)
	synced := time.Now().UTC().Add(-time.Hour)
	f.store.saveSynced(product("p9", "Gone"), synced)
	f.store.deleteLocal(datasync.EntityTypeProduct, "p9", synced.Add(time.Minute))

	out := f.proc.Process(context.Background(), outboundEvent(t, "p9", datasync.OperationDelete))

	assert.Equal(t, OutcomeSuccess, out.Kind)
	assert.Equal(t, []datasync.Operation{datasync.OperationDelete}, f.gateway.operations())
	assert.Zero(t, f.sink.count())
}

func TestProcessor_OutboundMissingLocalIsPermanent(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{}, nil)
	ev := inboundEvent(t, datasync.EntityTypeProduct, "ghost", 1)
	ev.Direction = datasync.DirectionOutbound

	out := f.proc.Process(context.Background(), ev)

	assert.Equal(t, OutcomeDeadLetter, out.Kind)
	assert.Equal(t, 0, f.gateway.callCount())
}

func TestProcessor_RequeuedSuccessResolvesDeadLetter(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{}, nil)
	f.gateway.add(product("p1", "Widget"))
	ev := inboundEvent(t, datasync.EntityTypeProduct, "p1", 1)
	itemID := uuid.New()
	ev.DeadLetterID = &itemID

	require.Equal(t, OutcomeSuccess, f.proc.Process(context.Background(), ev).Kind)
	assert.Equal(t, []uuid.UUID{itemID}, f.sink.resolved)
}

func TestProcessor_CancelledContextDefers(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{}, nil)
	block := make(chan struct{})
	defer close(block)
	f.gateway.block[datasync.EntityTypeProduct] = block
	ev := inboundEvent(t, datasync.EntityTypeProduct, "p1", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := f.proc.Process(ctx, ev)

	assert.Equal(t, OutcomeDeferred, out.Kind)
	assert.Equal(t, 0, ev.AttemptCount)
	assert.Equal(t, 0, f.sink.count())
}
