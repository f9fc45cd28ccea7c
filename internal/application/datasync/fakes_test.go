package datasync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// In-memory repositories
// ---------------------------------------------------------------------------

type memRunRepo struct {
	mu   sync.Mutex
	runs map[uuid.UUID]datasync.SyncRun
}

func newMemRunRepo() *memRunRepo {
	return &memRunRepo{runs: make(map[uuid.UUID]datasync.SyncRun)}
}

func (r *memRunRepo) Create(_ context.Context, run *datasync.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = *run
	return nil
}

// errCountersCheck mirrors the chk_sync_runs_counters constraint.
var errCountersCheck = errors.New("violates check constraint chk_sync_runs_counters")

func checkCounters(run datasync.SyncRun) error {
	if run.ProcessedEvents+run.FailedEvents+run.SkippedEvents > run.TotalEvents {
		return datasync.NewStorageError("save run", errCountersCheck)
	}
	return nil
}

func (r *memRunRepo) Update(_ context.Context, run *datasync.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; !ok {
		return datasync.ErrRunNotFound
	}
	if err := checkCounters(*run); err != nil {
		return err
	}
	r.runs[run.ID] = *run
	return nil
}

func (r *memRunRepo) UpdateCounters(_ context.Context, id uuid.UUID, processed, failed, skipped int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return datasync.ErrRunNotFound
	}
	run.ProcessedEvents, run.FailedEvents, run.SkippedEvents = processed, failed, skipped
	if err := checkCounters(run); err != nil {
		return err
	}
	r.runs[id] = run
	return nil
}

func (r *memRunRepo) AddEvents(_ context.Context, id uuid.UUID, n int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return datasync.ErrRunNotFound
	}
	run.TotalEvents += n
	r.runs[id] = run
	return nil
}

func (r *memRunRepo) FindByID(_ context.Context, id uuid.UUID) (*datasync.SyncRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, datasync.ErrRunNotFound
	}
	return &run, nil
}

func (r *memRunRepo) List(_ context.Context, filter datasync.RunFilter) ([]datasync.SyncRun, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []datasync.SyncRun
	for _, run := range r.runs {
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		if filter.EntityType != nil && run.EntityKey() != filter.EntityType.String() {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := int64(len(out))
	start := (filter.Page - 1) * filter.PageSize
	if start > len(out) {
		start = len(out)
	}
	end := start + filter.PageSize
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (r *memRunRepo) FindRunning(_ context.Context, entityKey string) ([]datasync.SyncRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []datasync.SyncRun
	for _, run := range r.runs {
		if run.Status.IsTerminal() {
			continue
		}
		if entityKey != "" && run.EntityKey() != entityKey {
			continue
		}
		out = append(out, run)
	}
	return out, nil
}

func (r *memRunRepo) FindLastCompleted(_ context.Context, entityKey string) (*datasync.SyncRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *datasync.SyncRun
	for _, run := range r.runs {
		if run.Status != datasync.RunStatusCompleted || run.WorkSet == datasync.WorkSetExplicit || run.StartedAt == nil {
			continue
		}
		if k := run.EntityKey(); k != entityKey && k != "all" {
			continue
		}
		if best == nil || run.StartedAt.After(*best.StartedAt) {
			c := run
			best = &c
		}
	}
	return best, nil
}

func (r *memRunRepo) put(run datasync.SyncRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run
}

type memEventRepo struct {
	mu     sync.Mutex
	events map[uuid.UUID]datasync.SyncEvent
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{events: make(map[uuid.UUID]datasync.SyncEvent)}
}

func (r *memEventRepo) CreateBatch(_ context.Context, events []*datasync.SyncEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range events {
		r.events[ev.ID] = *ev
	}
	return nil
}

func (r *memEventRepo) Update(_ context.Context, event *datasync.SyncEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.ID] = *event
	return nil
}

func (r *memEventRepo) FindByID(_ context.Context, id uuid.UUID) (*datasync.SyncEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok {
		return nil, datasync.ErrEventNotFound
	}
	return &ev, nil
}

func (r *memEventRepo) ListByRun(_ context.Context, runID uuid.UUID) ([]datasync.SyncEvent, error) {
	return r.filter(runID, func(datasync.SyncEvent) bool { return true }), nil
}

func (r *memEventRepo) ListUnfinishedByRun(_ context.Context, runID uuid.UUID) ([]datasync.SyncEvent, error) {
	return r.filter(runID, func(ev datasync.SyncEvent) bool { return !ev.Status.IsTerminal() }), nil
}

func (r *memEventRepo) filter(runID uuid.UUID, keep func(datasync.SyncEvent) bool) []datasync.SyncEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []datasync.SyncEvent
	for _, ev := range r.events {
		if ev.RunID == runID && keep(ev) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (r *memEventRepo) MarkQueuedSkipped(_ context.Context, runID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, ev := range r.events {
		if ev.RunID == runID && ev.Status == datasync.EventStatusQueued {
			ev.Status = datasync.EventStatusSkipped
			r.events[id] = ev
			n++
		}
	}
	return n, nil
}

func (r *memEventRepo) MaxSequence(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var max int64
	for _, ev := range r.events {
		if ev.Sequence > max {
			max = ev.Sequence
		}
	}
	return max, nil
}

func (r *memEventRepo) byStatus(status datasync.EventStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Status == status {
			n++
		}
	}
	return n
}

// memStore is a LocalStore honoring the sequence guard.
type memStore struct {
	mu       sync.Mutex
	records  map[string]datasync.LocalRecord
	applyErr error
	applies  int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]datasync.LocalRecord)}
}

func storeKey(t datasync.EntityType, id string) string { return string(t) + ":" + id }

func (s *memStore) ListRecords(_ context.Context, t datasync.EntityType, since *time.Time) ([]datasync.LocalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []datasync.LocalRecord
	for _, r := range s.records {
		if r.EntityType != t || r.Deleted {
			continue
		}
		if since != nil && !r.UpdatedAt.After(*since) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) ListDirty(_ context.Context, t datasync.EntityType) ([]datasync.LocalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []datasync.LocalRecord
	for _, r := range s.records {
		if r.EntityType == t && r.NeedsPush() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) GetRecord(_ context.Context, t datasync.EntityType, id string) (*datasync.LocalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[storeKey(t, id)]
	if !ok {
		return nil, datasync.ErrRecordNotFound
	}
	return &r, nil
}

func (s *memStore) ApplyRecord(_ context.Context, in datasync.ApplyInput) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return false, datasync.NewStorageError("apply record", s.applyErr)
	}
	key := storeKey(in.Record.EntityType, in.Record.EntityID)
	if existing, ok := s.records[key]; ok && existing.SourceSequence > in.Sequence {
		return false, nil
	}
	synced := in.SyncedAt
	s.records[key] = datasync.LocalRecord{
		Record:         in.Record,
		SourceSequence: in.Sequence,
		LastSyncedAt:   &synced,
		Deleted:        in.Deleted,
		UpdatedAt:      synced,
	}
	s.applies++
	return true, nil
}

func (s *memStore) MarkSynced(_ context.Context, t datasync.EntityType, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(t, id)
	r, ok := s.records[key]
	if !ok {
		return nil
	}
	r.LastSyncedAt = &at
	s.records[key] = r
	return nil
}

func (s *memStore) MarkCreated(_ context.Context, t datasync.EntityType, localID, remoteID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(t, localID)
	r, ok := s.records[key]
	if !ok {
		return datasync.ErrRecordNotFound
	}
	r.LastSyncedAt = &at
	if remoteID != "" && remoteID != localID {
		delete(s.records, key)
		r.EntityID = remoteID
		key = storeKey(t, remoteID)
	}
	s.records[key] = r
	return nil
}

// saveLocal stores a local edit. A record synced before keeps its sync stamp.
func (s *memStore) saveLocal(rec datasync.Record, edited time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(rec.EntityType, rec.EntityID)
	prev := s.records[key]
	s.records[key] = datasync.LocalRecord{Record: rec, UpdatedAt: edited, LastSyncedAt: prev.LastSyncedAt, SourceSequence: prev.SourceSequence}
}

// saveSynced stores a record as last synced at the given time.
func (s *memStore) saveSynced(rec datasync.Record, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[storeKey(rec.EntityType, rec.EntityID)] = datasync.LocalRecord{Record: rec, UpdatedAt: at, LastSyncedAt: &at}
}

func (s *memStore) deleteLocal(t datasync.EntityType, id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(t, id)
	r := s.records[key]
	r.Deleted = true
	r.UpdatedAt = at
	s.records[key] = r
}

func (s *memStore) get(t datasync.EntityType, id string) (datasync.LocalRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[storeKey(t, id)]
	return r, ok
}

// ---------------------------------------------------------------------------
// Zoho gateway fake
// ---------------------------------------------------------------------------

type fakeGateway struct {
	mu       sync.Mutex
	records  map[string]datasync.Record
	failures map[string]error
	// block holds FetchRecord for an entity type until the channel is closed
	block   map[datasync.EntityType]chan struct{}
	calls   int
	created int
	pushed  []datasync.Record
	ops     []datasync.Operation
	listErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		records:  make(map[string]datasync.Record),
		failures: make(map[string]error),
		block:    make(map[datasync.EntityType]chan struct{}),
	}
}

func (g *fakeGateway) add(rec datasync.Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[storeKey(rec.EntityType, rec.EntityID)] = rec
}

func (g *fakeGateway) fail(t datasync.EntityType, id string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[storeKey(t, id)] = err
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *fakeGateway) ListRecords(_ context.Context, t datasync.EntityType, since *time.Time) ([]datasync.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.listErr != nil {
		return nil, g.listErr
	}
	var out []datasync.Record
	for _, r := range g.records {
		if r.EntityType != t {
			continue
		}
		if since != nil && !r.ModifiedAt.After(*since) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

func (g *fakeGateway) FetchRecord(ctx context.Context, t datasync.EntityType, id string) (*datasync.Record, error) {
	g.mu.Lock()
	block := g.block[t]
	g.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if err, ok := g.failures[storeKey(t, id)]; ok {
		return nil, err
	}
	rec, ok := g.records[storeKey(t, id)]
	if !ok {
		return nil, &datasync.PermanentExternalError{Op: "fetch", StatusCode: 404, Err: errors.New("not found")}
	}
	return &rec, nil
}

func notFound(op string) error {
	return &datasync.PermanentExternalError{Op: op, StatusCode: 404, Err: datasync.ErrRecordNotFound}
}

// PushRecord creates under a new zoho-N id or updates an existing record.
func (g *fakeGateway) PushRecord(_ context.Context, op datasync.Operation, rec datasync.Record) (*datasync.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if err, ok := g.failures[storeKey(rec.EntityType, rec.EntityID)]; ok {
		return nil, err
	}
	g.pushed = append(g.pushed, rec)
	g.ops = append(g.ops, op)
	stored := rec
	switch op {
	case datasync.OperationCreate:
		g.created++
		stored.EntityID = fmt.Sprintf("zoho-%d", g.created)
	case datasync.OperationUpdate:
		if _, ok := g.records[storeKey(rec.EntityType, rec.EntityID)]; !ok {
			return nil, notFound("update")
		}
	default:
		return nil, &datasync.PermanentExternalError{Op: "push", StatusCode: 400, Err: fmt.Errorf("unsupported operation %q", op)}
	}
	g.records[storeKey(stored.EntityType, stored.EntityID)] = stored
	return &stored, nil
}

func (g *fakeGateway) DeleteRecord(_ context.Context, t datasync.EntityType, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	key := storeKey(t, id)
	if err, ok := g.failures[key]; ok {
		return err
	}
	g.ops = append(g.ops, datasync.OperationDelete)
	if _, ok := g.records[key]; !ok {
		return notFound("delete")
	}
	delete(g.records, key)
	return nil
}

func (g *fakeGateway) has(t datasync.EntityType, id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.records[storeKey(t, id)]
	return ok
}

func (g *fakeGateway) operations() []datasync.Operation {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]datasync.Operation(nil), g.ops...)
}

func (g *fakeGateway) Ping(context.Context) error { return nil }

// ---------------------------------------------------------------------------
// Dead-letter sink
// ---------------------------------------------------------------------------

type memSink struct {
	mu       sync.Mutex
	items    map[uuid.UUID]datasync.SyncEvent
	reasons  map[uuid.UUID]string
	resolved []uuid.UUID
}

func newMemSink() *memSink {
	return &memSink{items: make(map[uuid.UUID]datasync.SyncEvent), reasons: make(map[uuid.UUID]string)}
}

func (s *memSink) Enqueue(_ context.Context, event *datasync.SyncEvent, reason string, _ datasync.Priority) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[event.ID] = *event
	s.reasons[event.ID] = reason
	return nil
}

func (s *memSink) Resolve(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = append(s.resolved, id)
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// passGuard calls fn without a breaker.
type passGuard struct{}

func (passGuard) Execute(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
