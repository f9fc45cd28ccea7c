// Package reconciliation compares Zoho against the local store, records
// discrepancies and submits corrective sync work.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	appsync "github.com/erp/syncengine/internal/application/datasync"
	"github.com/erp/syncengine/internal/domain/alert"
	domainbreaker "github.com/erp/syncengine/internal/domain/breaker"
	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/domain/reconciliation"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/erp/syncengine/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine defaults
const (
	DefaultLeaseTTL = 10 * time.Minute
	LeaseKey        = "syncengine:reconciliation"
)

// RunStarter submits corrective runs
type RunStarter interface {
	StartRun(ctx context.Context, in appsync.StartRunInput) (*appsync.StartRunResult, error)
}

// EventLookup reads the state of submitted corrective events
type EventLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*datasync.SyncEvent, error)
}

// ErrLeaseLost aborts a pass whose lease could not be refreshed.
var ErrLeaseLost = errors.New("reconciliation lease lost")

// ReportArchiver keeps a copy of each report outside the database
type ReportArchiver interface {
	Archive(ctx context.Context, report *reconciliation.Report) (string, error)
}

// Config tunes the engine
type Config struct {
	LeaseTTL time.Duration
	// LeaseRefresh is how often a running pass extends its lease. Defaults to a third of LeaseTTL.
	LeaseRefresh time.Duration
	// Types limits the compared entity types; empty means all of them.
	Types []datasync.EntityType
}

// Engine runs reconciliation passes. A pass holds a lease so only one runs at a time.
type Engine struct {
	cfg           Config
	gateway       datasync.ZohoGateway
	store         datasync.LocalStore
	guard         appsync.CallGuard
	discrepancies reconciliation.DiscrepancyRepository
	reports       reconciliation.ReportRepository
	runs          RunStarter
	events        EventLookup
	locker        shared.Locker
	alerts        alert.Raiser
	archive       ReportArchiver
	metrics       *telemetry.SyncMetrics
	logger        *zap.Logger
	now           func() time.Time

	mu    sync.Mutex
	stats reconciliation.AutoHealingStats
}

// NewEngine creates a reconciliation engine
func NewEngine(
	cfg Config,
	gateway datasync.ZohoGateway,
	store datasync.LocalStore,
	guard appsync.CallGuard,
	discrepancies reconciliation.DiscrepancyRepository,
	reports reconciliation.ReportRepository,
	runs RunStarter,
	locker shared.Locker,
	alerts alert.Raiser,
	logger *zap.Logger,
) *Engine {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.LeaseRefresh <= 0 || cfg.LeaseRefresh >= cfg.LeaseTTL {
		cfg.LeaseRefresh = cfg.LeaseTTL / 3
	}
	if len(cfg.Types) == 0 {
		cfg.Types = datasync.AllEntityTypes()
	}
	return &Engine{
		cfg:           cfg,
		gateway:       gateway,
		store:         store,
		guard:         guard,
		discrepancies: discrepancies,
		reports:       reports,
		runs:          runs,
		locker:        locker,
		alerts:        alerts,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetArchive enables report archiving
func (e *Engine) SetArchive(a ReportArchiver) {
	e.archive = a
}

// SetEventLookup lets a pass re-submit corrections whose event already
// finished. Without it a linked correction is never repeated.
func (e *Engine) SetEventLookup(l EventLookup) {
	e.events = l
}

// SetSyncMetrics sets the metrics recorder
func (e *Engine) SetSyncMetrics(m *telemetry.SyncMetrics) {
	e.metrics = m
}

// snapshot of both sides of one entity type
type snapshot struct {
	entityType datasync.EntityType
	remote     []datasync.Record
	local      []datasync.LocalRecord
}

// correction is the single corrective event planned for one record
type correction struct {
	item          appsync.WorkItem
	discrepancies []uuid.UUID
}

// TriggerAutoHealing runs one pass now. It returns ErrReconciliationInProgress
// when another pass holds the lease.
func (e *Engine) TriggerAutoHealing(ctx context.Context) (*reconciliation.Report, error) {
	lock, err := e.locker.Obtain(ctx, LeaseKey, e.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, shared.ErrLockNotObtained) {
			return nil, reconciliation.ErrReconciliationInProgress
		}
		return nil, fmt.Errorf("obtain reconciliation lease: %w", err)
	}
	defer func() {
		if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil {
			e.logger.Warn("failed to release reconciliation lease", zap.Error(rerr))
		}
	}()

	passCtx, cancel := context.WithCancelCause(ctx)
	stop := e.keepLease(passCtx, lock, cancel)
	report, err := e.pass(passCtx)
	stop()
	if err != nil && errors.Is(context.Cause(passCtx), ErrLeaseLost) {
		err = context.Cause(passCtx)
	}
	cancel(nil)
	e.mu.Lock()
	if err != nil {
		e.stats.FailedPasses++
	} else {
		e.stats.Passes++
		at := report.LastUpdated
		e.stats.LastPassAt = &at
		e.stats.DiscrepanciesFound += int64(len(report.Discrepancies))
		e.stats.AutoCorrected += int64(report.AutoCorrected)
		e.stats.AlertOnly += int64(report.AlertOnly)
		e.stats.LastScore = report.DataQualityScore
	}
	e.mu.Unlock()
	return report, err
}

// keepLease refreshes lock until stop is called. A failed refresh cancels ctx
// with ErrLeaseLost so the pass stops before another instance starts one.
func (e *Engine) keepLease(ctx context.Context, lock shared.Lock, lost context.CancelCauseFunc) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.cfg.LeaseRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lock.Refresh(ctx, e.cfg.LeaseTTL); err != nil {
					if ctx.Err() != nil {
						return
					}
					e.logger.Error("Reconciliation lease refresh failed", zap.Error(err))
					lost(fmt.Errorf("%w: %w", ErrLeaseLost, err))
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (e *Engine) pass(ctx context.Context) (*reconciliation.Report, error) {
	ctx, span := telemetry.StartSpan(ctx, "reconciliation.pass")
	defer span.End()
	log := logger.WithLogger(ctx, e.logger)

	started := e.now()
	snapshots, err := e.fetch(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		log.Error("Reconciliation fetch failed", zap.Error(err))
		return nil, err
	}

	report := &reconciliation.Report{ID: uuid.New(), StartedAt: started}
	for _, snap := range snapshots {
		stats, found, corrections, err := e.compare(ctx, snap, started)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		report.Stats = append(report.Stats, stats)
		report.Discrepancies = append(report.Discrepancies, found...)

		counts := map[reconciliation.Resolution]int{}
		for _, d := range found {
			counts[d.Resolution]++
		}
		report.AutoCorrected += counts[reconciliation.ResolutionAutoCorrected]
		report.AlertOnly += counts[reconciliation.ResolutionAlertOnly]
		report.Reported += counts[reconciliation.ResolutionReported]
		for res, n := range counts {
			e.metrics.Discrepancies(ctx, snap.entityType.String(), string(res), n)
		}

		report.Deferred += e.submit(ctx, snap.entityType, corrections)
	}

	report.DataQualityScore = reconciliation.DataQualityScore(report.Stats)
	report.LastUpdated = e.now()
	report.DurationMs = report.LastUpdated.Sub(started).Milliseconds()

	if err := e.reports.Save(ctx, report); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("save reconciliation report: %w", err)
	}
	if e.archive != nil {
		if key, err := e.archive.Archive(ctx, report); err != nil {
			log.Warn("failed to archive reconciliation report", zap.Error(err))
		} else {
			log.Debug("Reconciliation report archived", zap.String("key", key))
		}
	}
	e.metrics.DataQuality(ctx, report.DataQualityScore)
	telemetry.SetAttributes(span, "reconciliation.score", report.DataQualityScore)
	telemetry.SetOK(span)

	log.Info("Reconciliation pass finished",
		zap.Float64("data_quality_score", report.DataQualityScore),
		zap.Int("discrepancies", len(report.Discrepancies)),
		zap.Int("auto_corrected", report.AutoCorrected),
		zap.Int("alert_only", report.AlertOnly),
		zap.Int("deferred", report.Deferred),
		zap.Int64("duration_ms", report.DurationMs),
	)
	return report, nil
}

// fetch reads both sides of every entity type in parallel.
func (e *Engine) fetch(ctx context.Context) ([]snapshot, error) {
	snapshots := make([]snapshot, len(e.cfg.Types))
	g, gctx := errgroup.WithContext(ctx)
	for i, et := range e.cfg.Types {
		snapshots[i].entityType = et
		g.Go(func() error {
			return e.guard.Execute(gctx, domainbreaker.NameZohoAPI, func(ctx context.Context) error {
				recs, err := e.gateway.ListRecords(ctx, et, nil)
				if err != nil {
					return fmt.Errorf("list %s from zoho: %w", et, err)
				}
				snapshots[i].remote = recs
				return nil
			})
		})
		g.Go(func() error {
			recs, err := e.store.ListRecords(gctx, et, nil)
			if err != nil {
				return fmt.Errorf("list local %s: %w", et, err)
			}
			snapshots[i].local = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snapshots, nil
}

// verdict is the classification of one differing field
type verdict struct {
	field      string
	kind       reconciliation.Kind
	resolution reconciliation.Resolution
	direction  datasync.Direction
}

// classify decides how a differing field is handled.
// Price is owned locally and order status by Zoho; other fields follow the
// side that changed since the last sync.
func classify(et datasync.EntityType, field string, remote datasync.Record, local datasync.LocalRecord) verdict {
	v := verdict{field: field, kind: reconciliation.KindFieldMismatch}
	switch {
	case field == datasync.FieldPrice:
		v.resolution, v.direction = reconciliation.ResolutionAutoCorrected, datasync.DirectionOutbound
		return v
	case field == datasync.FieldStatus && et == datasync.EntityTypeOrder:
		v.resolution, v.direction = reconciliation.ResolutionAutoCorrected, datasync.DirectionInbound
		return v
	}

	localChanged := local.ChangedSinceSync()
	remoteChanged := local.LastSyncedAt == nil || remote.ModifiedAt.After(*local.LastSyncedAt)
	switch {
	case localChanged && remoteChanged:
		v.kind, v.resolution = reconciliation.KindConflict, reconciliation.ResolutionAlertOnly
	case localChanged:
		v.resolution, v.direction = reconciliation.ResolutionAutoCorrected, datasync.DirectionOutbound
	case remoteChanged:
		v.resolution, v.direction = reconciliation.ResolutionAutoCorrected, datasync.DirectionInbound
	default:
		v.resolution = reconciliation.ResolutionReported
	}
	return v
}

// compare records the discrepancies of one entity type and plans corrections.
func (e *Engine) compare(ctx context.Context, snap snapshot, at time.Time) (reconciliation.ComparisonStats, []reconciliation.Discrepancy, []correction, error) {
	et := snap.entityType
	stats := reconciliation.ComparisonStats{EntityType: et, ZohoTotal: len(snap.remote), LocalTotal: len(snap.local)}

	remote := make(map[string]datasync.Record, len(snap.remote))
	for _, r := range snap.remote {
		remote[r.EntityID] = r
	}
	local := make(map[string]datasync.LocalRecord, len(snap.local))
	for _, l := range snap.local {
		local[l.EntityID] = l
	}
	ids := make([]string, 0, len(remote)+len(local))
	for id := range remote {
		ids = append(ids, id)
	}
	for id := range local {
		if _, ok := remote[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var (
		found       []reconciliation.Discrepancy
		corrections []correction
		seen        = make(map[string]struct{})
	)
	record := func(d reconciliation.Discrepancy) (*reconciliation.Discrepancy, error) {
		d.Severity = reconciliation.SeverityFor(d.Kind, et, d.Field)
		d.LastDetectedAt = at
		stored, err := e.discrepancies.Upsert(ctx, &d)
		if err != nil {
			return nil, err
		}
		seen[stored.Key()] = struct{}{}
		found = append(found, *stored)
		return stored, nil
	}

	for _, id := range ids {
		r, inRemote := remote[id]
		l, inLocal := local[id]
		switch {
		case !inLocal:
			stats.MissingInLocal++
			if _, err := record(reconciliation.Discrepancy{
				EntityType: et, EntityID: id, Field: reconciliation.FieldRecord,
				ZohoValue: r.Name, Kind: reconciliation.KindMissingInLocal, Resolution: reconciliation.ResolutionReported,
			}); err != nil {
				return stats, nil, nil, err
			}
			continue
		case !inRemote:
			stats.MissingInZoho++
			if _, err := record(reconciliation.Discrepancy{
				EntityType: et, EntityID: id, Field: reconciliation.FieldRecord,
				LocalValue: l.Name, Kind: reconciliation.KindMissingInZoho, Resolution: reconciliation.ResolutionReported,
			}); err != nil {
				return stats, nil, nil, err
			}
			continue
		}

		diff := r.DiffFields(l.Record)
		if len(diff) == 0 {
			stats.Matching++
			continue
		}
		stats.Mismatched++

		verdicts := make([]verdict, len(diff))
		directions := map[datasync.Direction]struct{}{}
		for i, f := range diff {
			verdicts[i] = classify(et, f, r, l)
			if verdicts[i].direction != "" {
				directions[verdicts[i].direction] = struct{}{}
			}
		}
		// One record gets at most one corrective event. Fields pulling in
		// opposite directions are treated as a conflict.
		if len(directions) > 1 {
			for i := range verdicts {
				if verdicts[i].direction != "" {
					verdicts[i].kind = reconciliation.KindConflict
					verdicts[i].resolution = reconciliation.ResolutionAlertOnly
					verdicts[i].direction = ""
				}
			}
		}

		var (
			fix       *correction
			conflicts []string
		)
		for _, v := range verdicts {
			stored, err := record(reconciliation.Discrepancy{
				EntityType: et, EntityID: id, Field: v.field,
				ZohoValue: r.FieldValue(v.field), LocalValue: l.FieldValue(v.field),
				Kind: v.kind, Resolution: v.resolution,
			})
			if err != nil {
				return stats, nil, nil, err
			}
			switch {
			case v.kind == reconciliation.KindConflict:
				conflicts = append(conflicts, v.field)
			case v.direction != "" && !e.correctionPending(ctx, stored):
				if fix == nil {
					fix = &correction{item: appsync.WorkItem{
						EntityType: et,
						EntityID:   id,
						Operation:  datasync.OperationUpdate,
						Direction:  v.direction,
						Priority:   datasync.PriorityHigh,
					}}
				}
				fix.discrepancies = append(fix.discrepancies, stored.ID)
			}
		}
		if fix != nil {
			corrections = append(corrections, *fix)
		}
		if len(conflicts) > 0 {
			e.raiseConflict(ctx, et, id, conflicts)
		}
	}

	if _, err := e.discrepancies.ResolveMissing(ctx, et, seen, at); err != nil {
		return stats, nil, nil, fmt.Errorf("resolve %s discrepancies: %w", et, err)
	}
	stats.ComputeMatchPercentage()
	return stats, found, corrections, nil
}

// correctionPending reports whether d's corrective event is still queued or
// running. A finished event, or one that is gone, leaves the record to be
// corrected again.
func (e *Engine) correctionPending(ctx context.Context, d *reconciliation.Discrepancy) bool {
	if !d.HasCorrection() {
		return false
	}
	if e.events == nil {
		return true
	}
	ev, err := e.events.FindByID(ctx, *d.CorrectiveEventID)
	switch {
	case errors.Is(err, datasync.ErrEventNotFound):
		return false
	case err != nil:
		e.logger.Warn("failed to load corrective event",
			zap.String("discrepancy_id", d.ID.String()),
			zap.Error(err),
		)
		return true
	}
	return !ev.Status.IsTerminal()
}

func (e *Engine) raiseConflict(ctx context.Context, et datasync.EntityType, id string, fields []string) {
	if e.alerts == nil {
		return
	}
	_, err := e.alerts.Raise(ctx, alert.RaiseInput{
		Severity:  reconciliation.SeverityFor(reconciliation.KindConflict, et, ""),
		Title:     fmt.Sprintf("Sync conflict on %s %s", et, id),
		Message:   fmt.Sprintf("Both Zoho and the local store changed %v since the last sync", fields),
		DedupeKey: fmt.Sprintf("conflict:%s:%s", et, id),
		Source:    "reconciliation",
	})
	if err != nil {
		e.logger.Error("failed to raise conflict alert", zap.String("entity", string(et)+":"+id), zap.Error(err))
	}
}

// submit starts one corrective run for the entity type and returns the
// number of corrections deferred to the next pass.
func (e *Engine) submit(ctx context.Context, et datasync.EntityType, corrections []correction) int {
	if len(corrections) == 0 || e.runs == nil {
		return len(corrections)
	}
	items := make([]appsync.WorkItem, len(corrections))
	for i, c := range corrections {
		items[i] = c.item
	}

	entityType := et
	res, err := e.runs.StartRun(ctx, appsync.StartRunInput{
		Trigger:    datasync.RunTypeScheduled,
		EntityType: &entityType,
		Items:      items,
	})
	if err != nil {
		if errors.Is(err, datasync.ErrRunAlreadyInProgress) {
			e.logger.Info("Corrections deferred, a run is in progress",
				zap.String("entity_type", et.String()),
				zap.Int("corrections", len(corrections)),
			)
		} else {
			e.logger.Error("failed to submit corrections", zap.String("entity_type", et.String()), zap.Error(err))
		}
		return len(corrections)
	}

	for i, c := range corrections {
		if i >= len(res.EventIDs) {
			break
		}
		for _, did := range c.discrepancies {
			if err := e.discrepancies.SetCorrectiveEvent(ctx, did, res.EventIDs[i]); err != nil {
				e.logger.Warn("failed to link corrective event", zap.String("discrepancy_id", did.String()), zap.Error(err))
			}
		}
	}
	e.logger.Info("Corrective run submitted",
		zap.String("entity_type", et.String()),
		zap.String("run_id", res.RunID.String()),
		zap.Int("corrections", len(corrections)),
	)
	return 0
}

// Stats returns auto-healing statistics since startup
func (e *Engine) Stats(ctx context.Context) (reconciliation.AutoHealingStats, error) {
	e.mu.Lock()
	stats := e.stats
	e.mu.Unlock()
	open, err := e.discrepancies.CountOpen(ctx)
	if err != nil {
		return stats, err
	}
	stats.OpenDiscrepancies = open
	return stats, nil
}

// LatestReport returns the newest report or ErrNoReport
func (e *Engine) LatestReport(ctx context.Context) (*reconciliation.Report, error) {
	return e.reports.Latest(ctx)
}
