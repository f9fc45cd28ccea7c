// Package datasync runs sync work: the orchestrator plans Runs and feeds their
// events to a sharded worker pool, the processor applies each event.
package datasync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	domainbreaker "github.com/erp/syncengine/internal/domain/breaker"
	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/erp/syncengine/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Orchestrator errors
var (
	ErrOrchestratorNotRunning = errors.New("orchestrator is not running")
	ErrExplicitIDsNeedType    = shared.NewDomainError("INVALID_INPUT", "Explicit ids require an entity type")
	ErrNothingToResubmit      = shared.NewDomainError("INVALID_INPUT", "No events to resubmit")
)

// OrchestratorConfig sizes the worker pool.
type OrchestratorConfig struct {
	Workers   int
	QueueSize int
	WorkerID  string
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.WorkerID == "" {
		c.WorkerID = "sync-engine"
	}
	return c
}

// WorkItem is one preset unit of work, used for corrections and webhook deliveries.
type WorkItem struct {
	EntityType datasync.EntityType
	EntityID   string
	Operation  datasync.Operation
	Direction  datasync.Direction
	Payload    json.RawMessage
	Priority   datasync.Priority
}

// StartRunInput describes a Run to start.
// Work set precedence: Items, then ExplicitIDs, then incremental since the last
// completed Run of the type, then a full scan.
type StartRunInput struct {
	Trigger     datasync.RunType
	EntityType  *datasync.EntityType
	ExplicitIDs []string
	Items       []WorkItem
}

// StartRunResult identifies the started Run. EventIDs is filled, in input
// order, for Runs with preset work.
type StartRunResult struct {
	RunID    uuid.UUID
	EventIDs []uuid.UUID
}

// RunSummary is the payload of sync_completed notifications.
type RunSummary struct {
	RunID           string             `json:"run_id"`
	RunType         datasync.RunType   `json:"run_type"`
	EntityType      string             `json:"entity_type"`
	Status          datasync.RunStatus `json:"status"`
	TotalEvents     int64              `json:"total_events"`
	ProcessedEvents int64              `json:"processed_events"`
	FailedEvents    int64              `json:"failed_events"`
	SkippedEvents   int64              `json:"skipped_events"`
	DurationMs      int64              `json:"duration_ms"`
	ErrorSummary    string             `json:"error_summary,omitempty"`
}

// NewRunSummary builds the notification payload of a run.
func NewRunSummary(run *datasync.SyncRun) RunSummary {
	return RunSummary{
		RunID:           run.ID.String(),
		RunType:         run.RunType,
		EntityType:      run.EntityKey(),
		Status:          run.Status,
		TotalEvents:     run.TotalEvents,
		ProcessedEvents: run.ProcessedEvents,
		FailedEvents:    run.FailedEvents,
		SkippedEvents:   run.SkippedEvents,
		DurationMs:      run.DurationMs,
		ErrorSummary:    run.ErrorSummary,
	}
}

// runState tracks an executing Run.
type runState struct {
	key    string
	ctx    context.Context
	cancel context.CancelFunc

	mu  sync.Mutex
	run *datasync.SyncRun
	// accepting is set once the total is fixed and persisted; resubmitted
	// events may join the run from then until it finishes.
	accepting bool

	total      atomic.Int64
	processed  atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64
	dispatched atomic.Bool
	cancelled  atomic.Bool
	finished   atomic.Bool
}

func (s *runState) settled() int64 {
	return s.processed.Load() + s.failed.Load() + s.skipped.Load()
}

// attach grows the total by n if the run still takes new work.
func (s *runState) attach(n int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accepting || s.cancelled.Load() || s.finished.Load() {
		return false
	}
	s.total.Add(n)
	s.run.TotalEvents += n
	return true
}

func (s *runState) detach(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total.Add(-n)
	s.run.TotalEvents -= n
}

func (s *runState) open() {
	s.mu.Lock()
	s.accepting = true
	s.mu.Unlock()
}

// snapshot copies the run with live counters.
func (s *runState) snapshot() datasync.SyncRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := *s.run
	if !run.Status.IsTerminal() {
		run.ProcessedEvents = s.processed.Load()
		run.FailedEvents = s.failed.Load()
		run.SkippedEvents = s.skipped.Load()
	}
	return run
}

type task struct {
	event *datasync.SyncEvent
	state *runState
}

// Orchestrator creates Runs and executes their events on a fixed worker pool.
// Events are sharded by entity key, so one key is always handled by the same
// worker in enqueue order.
type Orchestrator struct {
	cfg       OrchestratorConfig
	runs      datasync.RunRepository
	events    datasync.EventRepository
	gateway   datasync.ZohoGateway
	store     datasync.LocalStore
	guard     CallGuard
	processor *Processor
	publisher shared.EventPublisher
	metrics   *telemetry.SyncMetrics
	logger    *zap.Logger

	queues []chan task
	seq    atomic.Int64

	mu        sync.Mutex
	active    map[string]uuid.UUID
	states    map[uuid.UUID]*runState
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
}

// NewOrchestrator creates an orchestrator. Call Start before submitting Runs.
func NewOrchestrator(
	cfg OrchestratorConfig,
	runs datasync.RunRepository,
	events datasync.EventRepository,
	gateway datasync.ZohoGateway,
	store datasync.LocalStore,
	guard CallGuard,
	processor *Processor,
	publisher shared.EventPublisher,
	logger *zap.Logger,
) *Orchestrator {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		runs:      runs,
		events:    events,
		gateway:   gateway,
		store:     store,
		guard:     guard,
		processor: processor,
		publisher: publisher,
		logger:    logger,
		active:    make(map[string]uuid.UUID),
		states:    make(map[uuid.UUID]*runState),
	}
}

// SetSyncMetrics sets the metrics recorder
func (o *Orchestrator) SetSyncMetrics(m *telemetry.SyncMetrics) {
	o.metrics = m
}

// Start loads the sequence counter and starts the worker pool.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.isRunning {
		return nil
	}

	maxSeq, err := o.events.MaxSequence(ctx)
	if err != nil {
		return fmt.Errorf("load event sequence: %w", err)
	}
	o.seq.Store(maxSeq)

	o.ctx, o.cancel = context.WithCancel(context.WithoutCancel(ctx))
	o.queues = make([]chan task, o.cfg.Workers)
	for i := range o.queues {
		o.queues[i] = make(chan task, o.cfg.QueueSize)
		o.wg.Add(1)
		go o.worker(i, o.queues[i])
	}
	o.isRunning = true

	o.logger.Info("Sync orchestrator started",
		zap.Int("workers", o.cfg.Workers),
		zap.Int("queue_size", o.cfg.QueueSize),
		zap.Int64("sequence", maxSeq),
	)
	return nil
}

// Stop stops the workers. Events still queued stay queued in storage and are
// picked up by Recover on the next start.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.isRunning {
		o.mu.Unlock()
		return nil
	}
	o.isRunning = false
	o.cancel()
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("Sync orchestrator stopped gracefully")
		return nil
	case <-ctx.Done():
		o.logger.Warn("Sync orchestrator stop timed out")
		return ctx.Err()
	}
}

// StartRun creates a Run and executes it in the background.
func (o *Orchestrator) StartRun(ctx context.Context, in StartRunInput) (*StartRunResult, error) {
	if !o.running() {
		return nil, ErrOrchestratorNotRunning
	}
	if len(in.ExplicitIDs) > 0 && in.EntityType == nil {
		return nil, ErrExplicitIDsNeedType
	}
	run, err := datasync.NewSyncRun(in.Trigger, in.EntityType, o.cfg.WorkerID)
	if err != nil {
		return nil, err
	}
	preset := len(in.Items) > 0 || len(in.ExplicitIDs) > 0
	var events []*datasync.SyncEvent
	if preset {
		run.WorkSet = datasync.WorkSetExplicit
		if events, err = o.presetEvents(run, in); err != nil {
			return nil, err
		}
	}

	key := run.EntityKey()
	if err := o.reserve(ctx, key, run.ID); err != nil {
		return nil, err
	}
	if err := o.runs.Create(ctx, run); err != nil {
		o.releaseKey(key, run.ID)
		return nil, fmt.Errorf("create run: %w", err)
	}

	state := o.track(run, key)
	result := &StartRunResult{RunID: run.ID}

	if preset {
		if err := o.events.CreateBatch(ctx, events); err != nil {
			o.failRun(state, err)
			return nil, fmt.Errorf("create events: %w", err)
		}
		for _, ev := range events {
			result.EventIDs = append(result.EventIDs, ev.ID)
		}
	}

	o.metrics.RunStarted(ctx, run.RunType.String(), key)
	logger.WithLogger(ctx, o.logger).Info("Sync run started",
		zap.String("run_id", run.ID.String()),
		zap.String("run_type", run.RunType.String()),
		zap.String("entity_type", key),
		zap.String("work_set", string(run.WorkSet)),
	)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(state, events, preset)
	}()
	return result, nil
}

// Resubmit executes already built events. They join the executing Run whose
// entity key covers them when there is one; otherwise they get a new manual
// Run, which holds the entity key like any other.
func (o *Orchestrator) Resubmit(ctx context.Context, events ...*datasync.SyncEvent) (uuid.UUID, error) {
	if !o.running() {
		return uuid.Nil, ErrOrchestratorNotRunning
	}
	if len(events) == 0 {
		return uuid.Nil, ErrNothingToResubmit
	}

	var entityType *datasync.EntityType
	first := events[0].EntityType
	entityType = &first
	for _, ev := range events[1:] {
		if ev.EntityType != first {
			entityType = nil
			break
		}
	}
	key := datasync.EntityKeyAll
	if entityType != nil {
		key = entityType.String()
	}

	for _, state := range o.covering(key) {
		if state.attach(int64(len(events))) {
			if err := o.join(ctx, state, events); err != nil {
				return uuid.Nil, err
			}
			return state.run.ID, nil
		}
	}

	run, err := datasync.NewSyncRun(datasync.RunTypeManual, entityType, o.cfg.WorkerID)
	if err != nil {
		return uuid.Nil, err
	}
	run.WorkSet = datasync.WorkSetExplicit
	if err := o.reserve(ctx, key, run.ID); err != nil {
		return uuid.Nil, err
	}
	if err := o.runs.Create(ctx, run); err != nil {
		o.releaseKey(key, run.ID)
		return uuid.Nil, fmt.Errorf("create run: %w", err)
	}
	for _, ev := range events {
		ev.RunID = run.ID
		ev.Sequence = o.seq.Add(1)
	}
	state := o.track(run, key)
	if err := o.events.CreateBatch(ctx, events); err != nil {
		o.failRun(state, err)
		return uuid.Nil, fmt.Errorf("create events: %w", err)
	}

	o.metrics.RunStarted(ctx, run.RunType.String(), key)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(state, events, true)
	}()
	return run.ID, nil
}

// covering returns the runs executing here whose entity key includes key.
func (o *Orchestrator) covering(key string) []*runState {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*runState
	for _, state := range o.states {
		if state.key == key || state.key == datasync.EntityKeyAll {
			out = append(out, state)
		}
	}
	return out
}

// join stores events already counted into state's total and dispatches them.
func (o *Orchestrator) join(ctx context.Context, state *runState, events []*datasync.SyncEvent) error {
	runID := state.run.ID
	n := int64(len(events))
	fail := func(err error) error {
		state.detach(n)
		o.checkDone(state)
		return err
	}
	if err := o.runs.AddEvents(ctx, runID, n); err != nil {
		return fail(fmt.Errorf("grow run: %w", err))
	}
	for _, ev := range events {
		ev.RunID = runID
		ev.Sequence = o.seq.Add(1)
	}
	if err := o.events.CreateBatch(ctx, events); err != nil {
		if rerr := o.runs.AddEvents(context.WithoutCancel(ctx), runID, -n); rerr != nil {
			o.logger.Error("failed to shrink run after event insert failed", zap.String("run_id", runID.String()), zap.Error(rerr))
		}
		return fail(fmt.Errorf("create events: %w", err))
	}

	logger.WithLogger(ctx, o.logger).Info("Events joined running sync run",
		zap.String("run_id", runID.String()),
		zap.Int64("events", n),
	)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.dispatchAll(state, events)
	}()
	return nil
}

// GetRun returns a run with live counters when it is executing here.
func (o *Orchestrator) GetRun(ctx context.Context, id uuid.UUID) (*datasync.SyncRun, error) {
	if state := o.state(id); state != nil {
		run := state.snapshot()
		return &run, nil
	}
	return o.runs.FindByID(ctx, id)
}

// ListRuns returns a page of runs, newest first.
func (o *Orchestrator) ListRuns(ctx context.Context, filter datasync.RunFilter) (shared.Paginated[datasync.SyncRun], error) {
	filter.Page, filter.PageSize = shared.NormalizePage(filter.Page, filter.PageSize)
	runs, total, err := o.runs.List(ctx, filter)
	if err != nil {
		return shared.Paginated[datasync.SyncRun]{}, err
	}
	for i := range runs {
		if state := o.state(runs[i].ID); state != nil {
			runs[i] = state.snapshot()
		}
	}
	return shared.NewPaginated(runs, total, filter.Page, filter.PageSize), nil
}

// CancelRun stops a Run cooperatively: in-flight events finish, queued events are skipped.
func (o *Orchestrator) CancelRun(ctx context.Context, id uuid.UUID) (*datasync.SyncRun, error) {
	if state := o.state(id); state != nil {
		if state.finished.Load() {
			return nil, datasync.ErrRunNotCancellable
		}
		state.cancelled.Store(true)
		state.cancel()
		o.logger.Info("Sync run cancellation requested", zap.String("run_id", id.String()))
		o.checkDone(state)
		run := state.snapshot()
		return &run, nil
	}

	// A run left active by another instance or a crash.
	run, err := o.runs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, datasync.ErrRunNotCancellable
	}
	if _, err := o.events.MarkQueuedSkipped(ctx, id); err != nil {
		return nil, fmt.Errorf("skip queued events: %w", err)
	}
	all, err := o.events.ListByRun(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	c := countEvents(all)
	run.TotalEvents = int64(len(all))
	run.ProcessedEvents, run.FailedEvents, run.SkippedEvents = c.processed, c.failed, c.skipped
	if run.StartedAt == nil {
		now := time.Now().UTC()
		run.StartedAt = &now
	}
	run.Finish(datasync.RunStatusCancelled, "cancelled by operator")
	if err := o.runs.Update(ctx, run); err != nil {
		return nil, err
	}
	o.publisher.Publish(ctx, shared.EventSyncCompleted, NewRunSummary(run))
	return run, nil
}

// Recover resumes Runs left active in storage, e.g. after a restart.
// Counters are rebuilt from the stored event states; the saved ones may lag.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	if !o.running() {
		return 0, ErrOrchestratorNotRunning
	}
	active, err := o.runs.FindRunning(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("find active runs: %w", err)
	}

	resumed := 0
	for i := range active {
		run := active[i]
		if o.state(run.ID) != nil {
			continue
		}
		key := run.EntityKey()
		o.mu.Lock()
		o.active[key] = run.ID
		o.mu.Unlock()
		run.ProcessedEvents, run.FailedEvents, run.SkippedEvents = 0, 0, 0
		state := o.track(&run, key)

		if run.Status == datasync.RunStatusPending {
			o.failRun(state, errors.New("interrupted before work was planned"))
			continue
		}

		all, err := o.events.ListByRun(ctx, run.ID)
		if err != nil {
			o.failRun(state, fmt.Errorf("list run events: %w", err))
			continue
		}
		c := countEvents(all)
		state.mu.Lock()
		state.processed.Store(c.processed)
		state.failed.Store(c.failed)
		state.skipped.Store(c.skipped)
		state.total.Store(int64(len(all)))
		state.run.TotalEvents = int64(len(all))
		state.run.ProcessedEvents, state.run.FailedEvents, state.run.SkippedEvents = c.processed, c.failed, c.skipped
		snapshot := *state.run
		state.mu.Unlock()
		if err := o.runs.Update(ctx, &snapshot); err != nil {
			o.failRun(state, fmt.Errorf("persist recovered counters: %w", err))
			continue
		}
		state.open()

		o.logger.Info("Resuming sync run",
			zap.String("run_id", run.ID.String()),
			zap.Int("pending_events", len(c.pending)),
		)
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.dispatchAll(state, c.pending)
		}()
		resumed++
	}
	return resumed, nil
}

type eventCounts struct {
	processed, failed, skipped int64
	pending                    []*datasync.SyncEvent
}

func countEvents(all []datasync.SyncEvent) eventCounts {
	var c eventCounts
	for j := range all {
		ev := all[j]
		switch ev.Status {
		case datasync.EventStatusProcessed:
			c.processed++
		case datasync.EventStatusFailed, datasync.EventStatusDeadLettered:
			c.failed++
		case datasync.EventStatusSkipped:
			c.skipped++
		default:
			c.pending = append(c.pending, &ev)
		}
	}
	return c
}

func (o *Orchestrator) running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isRunning
}

func (o *Orchestrator) state(id uuid.UUID) *runState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.states[id]
}

func keysOverlap(a, b string) bool {
	return a == b || a == datasync.EntityKeyAll || b == datasync.EntityKeyAll
}

// reserve claims the entity key for a run, checking this process first and
// then runs recorded in storage by other instances.
func (o *Orchestrator) reserve(ctx context.Context, key string, runID uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k := range o.active {
		if keysOverlap(k, key) {
			return datasync.ErrRunAlreadyInProgress
		}
	}
	running, err := o.runs.FindRunning(ctx, "")
	if err != nil {
		return fmt.Errorf("check running runs: %w", err)
	}
	for _, r := range running {
		if _, local := o.states[r.ID]; local {
			continue
		}
		if keysOverlap(r.EntityKey(), key) {
			return datasync.ErrRunAlreadyInProgress
		}
	}
	o.active[key] = runID
	return nil
}

func (o *Orchestrator) releaseKey(key string, runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[key] == runID {
		delete(o.active, key)
	}
}

// track registers an executing run. Its counters start at zero.
func (o *Orchestrator) track(run *datasync.SyncRun, key string) *runState {
	ctx, cancel := context.WithCancel(o.ctx)
	state := &runState{key: key, ctx: ctx, cancel: cancel, run: run}
	o.mu.Lock()
	o.states[run.ID] = state
	o.mu.Unlock()
	return state
}

func (o *Orchestrator) untrack(state *runState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := state.run.ID
	delete(o.states, id)
	if o.active[state.key] == id {
		delete(o.active, state.key)
	}
}

func (o *Orchestrator) presetEvents(run *datasync.SyncRun, in StartRunInput) ([]*datasync.SyncEvent, error) {
	items := in.Items
	if len(items) == 0 {
		for _, id := range in.ExplicitIDs {
			items = append(items, WorkItem{
				EntityType: *in.EntityType,
				EntityID:   id,
				Operation:  datasync.OperationUpdate,
				Direction:  datasync.DirectionInbound,
			})
		}
	}
	events := make([]*datasync.SyncEvent, 0, len(items))
	for _, item := range items {
		if item.Operation == "" {
			item.Operation = datasync.OperationUpdate
		}
		ev, err := o.newEvent(run.ID, item)
		if err != nil {
			return nil, fmt.Errorf("build event %s:%s: %w", item.EntityType, item.EntityID, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func (o *Orchestrator) newEvent(runID uuid.UUID, item WorkItem) (*datasync.SyncEvent, error) {
	ev, err := datasync.NewSyncEvent(datasync.NewSyncEventInput{
		RunID:      runID,
		EntityType: item.EntityType,
		EntityID:   item.EntityID,
		Operation:  item.Operation,
		Direction:  item.Direction,
		Payload:    item.Payload,
		Priority:   item.Priority,
	})
	if err != nil {
		return nil, err
	}
	ev.Sequence = o.seq.Add(1)
	return ev, nil
}

// plan enumerates the work set of a run without preset work.
func (o *Orchestrator) plan(ctx context.Context, run *datasync.SyncRun) ([]*datasync.SyncEvent, datasync.WorkSet, error) {
	types := datasync.AllEntityTypes()
	if run.EntityType != nil {
		types = []datasync.EntityType{*run.EntityType}
	}

	workSet := datasync.WorkSetIncremental
	var events []*datasync.SyncEvent
	for _, et := range types {
		var since *time.Time
		last, err := o.runs.FindLastCompleted(ctx, et.String())
		if err != nil {
			return nil, "", fmt.Errorf("find last completed %s run: %w", et, err)
		}
		if last != nil && last.StartedAt != nil {
			s := *last.StartedAt
			since = &s
		} else {
			workSet = datasync.WorkSetFull
		}

		var remote []datasync.Record
		err = o.guard.Execute(ctx, domainbreaker.NameZohoAPI, func(ctx context.Context) error {
			recs, err := o.gateway.ListRecords(ctx, et, since)
			remote = recs
			return err
		})
		if err != nil {
			return nil, "", fmt.Errorf("list %s from zoho: %w", et, err)
		}
		dirty, err := o.store.ListDirty(ctx, et)
		if err != nil {
			return nil, "", fmt.Errorf("list dirty %s: %w", et, err)
		}

		seen := make(map[string]struct{}, len(remote))
		for _, rec := range remote {
			seen[rec.EntityID] = struct{}{}
			ev, err := o.newEvent(run.ID, WorkItem{
				EntityType: et,
				EntityID:   rec.EntityID,
				Operation:  datasync.OperationUpdate,
				Direction:  datasync.DirectionInbound,
			})
			if err != nil {
				return nil, "", err
			}
			events = append(events, ev)
		}
		// Records changed on both sides are left to reconciliation.
		for _, rec := range dirty {
			if _, both := seen[rec.EntityID]; both {
				continue
			}
			ev, err := o.newEvent(run.ID, WorkItem{
				EntityType: et,
				EntityID:   rec.EntityID,
				Operation:  rec.OutboundOperation(),
				Direction:  datasync.DirectionOutbound,
			})
			if err != nil {
				return nil, "", err
			}
			events = append(events, ev)
		}
	}
	return events, workSet, nil
}

// execute plans (unless preset), starts and dispatches a run.
func (o *Orchestrator) execute(state *runState, events []*datasync.SyncEvent, preset bool) {
	runID := state.run.ID
	ctx := logger.WithRunID(state.ctx, runID.String())
	ctx, span := telemetry.StartSpan(ctx, "sync.run.dispatch",
		telemetry.WithAttribute(telemetry.SpanAttrRunID, runID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrEntityType, state.key),
	)
	defer span.End()

	if !preset {
		planned, workSet, err := o.plan(ctx, state.run)
		if err != nil && state.cancelled.Load() {
			state.dispatched.Store(true)
			o.finish(state, false)
			return
		}
		if err != nil {
			telemetry.RecordError(span, err)
			o.failRun(state, err)
			return
		}
		state.mu.Lock()
		state.run.WorkSet = workSet
		state.mu.Unlock()
		if len(planned) > 0 {
			if err := o.events.CreateBatch(ctx, planned); err != nil {
				telemetry.RecordError(span, err)
				o.failRun(state, fmt.Errorf("create events: %w", err))
				return
			}
		}
		events = planned
	}

	state.mu.Lock()
	err := state.run.Start(int64(len(events)))
	if err == nil {
		state.total.Store(int64(len(events)))
	}
	snapshot := *state.run
	state.mu.Unlock()
	if err != nil {
		o.failRun(state, err)
		return
	}
	if err := o.runs.Update(context.WithoutCancel(ctx), &snapshot); err != nil {
		o.logger.Error("failed to persist run start", zap.String("run_id", runID.String()), zap.Error(err))
	} else {
		state.open()
	}
	telemetry.SetAttributes(span, "sync.total_events", len(events))
	o.dispatchAll(state, events)
}

func (o *Orchestrator) dispatchAll(state *runState, events []*datasync.SyncEvent) {
	for _, ev := range events {
		q := o.queues[o.shard(ev.Key())]
		select {
		case q <- task{event: ev, state: state}:
		case <-o.ctx.Done():
			return
		}
	}
	state.dispatched.Store(true)
	o.checkDone(state)
}

func (o *Orchestrator) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(o.queues)))
}

func (o *Orchestrator) worker(id int, queue <-chan task) {
	defer o.wg.Done()
	o.logger.Debug("Sync worker started", zap.Int("worker_id", id))
	for {
		select {
		case <-o.ctx.Done():
			o.logger.Debug("Sync worker stopping", zap.Int("worker_id", id))
			return
		case t := <-queue:
			o.handle(t)
		}
	}
}

// handle drives one event to a terminal state, sleeping until each stored retry deadline.
func (o *Orchestrator) handle(t task) {
	state := t.state
	ctx := logger.WithRunID(o.ctx, state.run.ID.String())
	for {
		if state.cancelled.Load() {
			o.skip(state, t.event)
			return
		}
		outcome := o.processor.Process(ctx, t.event)
		switch outcome.Kind {
		case OutcomeSuccess:
			state.processed.Add(1)
			o.settle(state)
			return
		case OutcomeDeadLetter:
			state.failed.Add(1)
			o.settle(state)
			return
		}
		if !sleepUntil(state.ctx, outcome.RetryAt) {
			if state.cancelled.Load() {
				o.skip(state, t.event)
			}
			// Otherwise shutting down: the event stays queued for Recover.
			return
		}
	}
}

func sleepUntil(ctx context.Context, at time.Time) bool {
	d := time.Until(at)
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (o *Orchestrator) skip(state *runState, event *datasync.SyncEvent) {
	event.MarkSkipped()
	if err := o.events.Update(context.WithoutCancel(o.ctx), event); err != nil {
		o.logger.Error("failed to persist skipped event", zap.String("event_id", event.ID.String()), zap.Error(err))
	}
	state.skipped.Add(1)
	o.settle(state)
}

func (o *Orchestrator) settle(state *runState) {
	id := state.run.ID
	if err := o.runs.UpdateCounters(context.WithoutCancel(o.ctx), id,
		state.processed.Load(), state.failed.Load(), state.skipped.Load()); err != nil {
		o.logger.Warn("failed to persist run counters", zap.String("run_id", id.String()), zap.Error(err))
	}
	o.checkDone(state)
}

func (o *Orchestrator) checkDone(state *runState) {
	if state.dispatched.Load() && state.settled() >= state.total.Load() {
		o.finish(state, true)
	}
}

// finish closes the run. With whenSettled it backs off if events joined
// after the caller looked.
func (o *Orchestrator) finish(state *runState, whenSettled bool) {
	state.mu.Lock()
	if whenSettled && state.settled() < state.total.Load() {
		state.mu.Unlock()
		return
	}
	if !state.finished.CompareAndSwap(false, true) {
		state.mu.Unlock()
		return
	}
	status := datasync.RunStatusCompleted
	summary := ""
	if state.cancelled.Load() {
		status = datasync.RunStatusCancelled
		summary = "cancelled by operator"
	} else if f := state.failed.Load(); f > 0 {
		summary = fmt.Sprintf("%d events dead-lettered", f)
	}

	state.run.ProcessedEvents = state.processed.Load()
	state.run.FailedEvents = state.failed.Load()
	state.run.SkippedEvents = state.skipped.Load()
	state.run.Finish(status, summary)
	run := *state.run
	state.mu.Unlock()

	o.complete(state, &run)
}

func (o *Orchestrator) failRun(state *runState, cause error) {
	state.mu.Lock()
	if !state.finished.CompareAndSwap(false, true) {
		state.mu.Unlock()
		return
	}
	state.run.Fail(cause.Error())
	run := *state.run
	state.mu.Unlock()

	o.logger.Error("Sync run failed", zap.String("run_id", run.ID.String()), zap.Error(cause))
	o.complete(state, &run)
}

func (o *Orchestrator) complete(state *runState, run *datasync.SyncRun) {
	ctx := context.WithoutCancel(o.ctx)
	if err := o.runs.Update(ctx, run); err != nil {
		o.logger.Error("failed to persist finished run", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
	o.metrics.RunFinished(ctx, run.Status.String(), run.EntityKey(), run.Duration())
	o.publisher.Publish(ctx, shared.EventSyncCompleted, NewRunSummary(run))
	o.logger.Info("Sync run finished",
		zap.String("run_id", run.ID.String()),
		zap.String("status", run.Status.String()),
		zap.Int64("total", run.TotalEvents),
		zap.Int64("processed", run.ProcessedEvents),
		zap.Int64("failed", run.FailedEvents),
		zap.Int64("skipped", run.SkippedEvents),
		zap.Duration("duration", run.Duration()),
	)

	o.untrack(state)
	state.cancel()
}
