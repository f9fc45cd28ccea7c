package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	appsync "github.com/erp/syncengine/internal/application/datasync"
	"github.com/erp/syncengine/internal/domain/datasync"
	"go.uber.org/zap"
)

// RunStarter starts sync runs
type RunStarter interface {
	StartRun(ctx context.Context, in appsync.StartRunInput) (*appsync.StartRunResult, error)
}

// SyncSchedulerConfig holds configuration for the scheduled sync loops
type SyncSchedulerConfig struct {
	// Enabled determines if the scheduler is active
	Enabled bool

	// Interval between two scheduled runs of one entity type
	Interval time.Duration

	// Types limits the scheduled entity types; empty means all of them
	Types []datasync.EntityType
}

// DefaultSyncSchedulerConfig returns default configuration
func DefaultSyncSchedulerConfig() SyncSchedulerConfig {
	return SyncSchedulerConfig{
		Enabled:  true,
		Interval: 10 * time.Minute,
	}
}

// SyncScheduler starts one scheduled incremental run per entity type each interval.
// Loop start times are staggered across the interval.
type SyncScheduler struct {
	runs   RunStarter
	logger *zap.Logger
	config SyncSchedulerConfig

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewSyncScheduler creates a new sync scheduler
func NewSyncScheduler(runs RunStarter, logger *zap.Logger, config SyncSchedulerConfig) *SyncScheduler {
	if len(config.Types) == 0 {
		config.Types = datasync.AllEntityTypes()
	}
	return &SyncScheduler{
		runs:   runs,
		logger: logger,
		config: config,
	}
}

// Start starts one loop per entity type
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Sync scheduler is disabled")
		return nil
	}
	if s.config.Interval <= 0 {
		s.mu.Unlock()
		return ErrInvalidConfig
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	stagger := s.config.Interval / time.Duration(len(s.config.Types))
	for i, et := range s.config.Types {
		s.wg.Add(1)
		go s.loop(ctx, et, time.Duration(i)*stagger)
	}

	s.logger.Info("Sync scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Int("entity_types", len(s.config.Types)),
	)
	return nil
}

// Stop gracefully stops the scheduler
func (s *SyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	return waitGroup(ctx, &s.wg, s.logger, "Sync scheduler")
}

func (s *SyncScheduler) loop(ctx context.Context, et datasync.EntityType, offset time.Duration) {
	defer s.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-time.After(offset):
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		s.trigger(ctx, et)
		select {
		case <-ctx.Done():
			s.logger.Debug("Sync schedule loop stopping", zap.String("entity_type", et.String()))
			return
		case <-ticker.C:
		}
	}
}

func (s *SyncScheduler) trigger(ctx context.Context, et datasync.EntityType) {
	entityType := et
	res, err := s.runs.StartRun(ctx, appsync.StartRunInput{
		Trigger:    datasync.RunTypeScheduled,
		EntityType: &entityType,
	})
	switch {
	case err == nil:
		s.logger.Info("Scheduled sync run started",
			zap.String("entity_type", et.String()),
			zap.String("run_id", res.RunID.String()),
		)
	case errors.Is(err, datasync.ErrRunAlreadyInProgress):
		s.logger.Debug("Scheduled sync skipped, a run is in progress", zap.String("entity_type", et.String()))
	case ctx.Err() != nil:
	default:
		s.logger.Error("Scheduled sync run failed to start",
			zap.String("entity_type", et.String()),
			zap.Error(err),
		)
	}
}

// waitGroup waits for wg or gives up when ctx ends.
func waitGroup(ctx context.Context, wg *sync.WaitGroup, logger *zap.Logger, name string) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info(name + " stopped gracefully")
		return nil
	case <-ctx.Done():
		logger.Warn(name + " stop timed out")
		return ctx.Err()
	}
}
