package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/erp/syncengine/internal/domain/reconciliation"
	"go.uber.org/zap"
)

// Healer runs one reconciliation pass
type Healer interface {
	TriggerAutoHealing(ctx context.Context) (*reconciliation.Report, error)
}

// ReconciliationSchedulerConfig holds configuration for the auto-healing schedule
type ReconciliationSchedulerConfig struct {
	Enabled bool

	// Interval between passes
	Interval time.Duration

	// PassTimeout bounds a single pass
	PassTimeout time.Duration
}

// DefaultReconciliationSchedulerConfig returns default configuration
func DefaultReconciliationSchedulerConfig() ReconciliationSchedulerConfig {
	return ReconciliationSchedulerConfig{
		Enabled:     true,
		Interval:    15 * time.Minute,
		PassTimeout: 10 * time.Minute,
	}
}

// ReconciliationScheduler runs reconciliation passes on a ticker
type ReconciliationScheduler struct {
	healer Healer
	logger *zap.Logger
	config ReconciliationSchedulerConfig

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewReconciliationScheduler creates a new reconciliation scheduler
func NewReconciliationScheduler(healer Healer, logger *zap.Logger, config ReconciliationSchedulerConfig) *ReconciliationScheduler {
	if config.PassTimeout <= 0 {
		config.PassTimeout = DefaultReconciliationSchedulerConfig().PassTimeout
	}
	return &ReconciliationScheduler{
		healer: healer,
		logger: logger,
		config: config,
	}
}

// Start starts the pass loop. The first pass runs after one interval.
func (s *ReconciliationScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Reconciliation scheduler is disabled")
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

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("Reconciliation scheduler started", zap.Duration("interval", s.config.Interval))
	return nil
}

// Stop gracefully stops the scheduler
func (s *ReconciliationScheduler) Stop(ctx context.Context) error {
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
	return waitGroup(ctx, &s.wg, s.logger, "Reconciliation scheduler")
}

func (s *ReconciliationScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Reconciliation loop stopping")
			return
		case <-ticker.C:
			s.execute(ctx)
		}
	}
}

func (s *ReconciliationScheduler) execute(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, s.config.PassTimeout)
	defer cancel()

	startTime := time.Now()
	report, err := s.healer.TriggerAutoHealing(passCtx)
	duration := time.Since(startTime)

	switch {
	case err == nil:
		s.logger.Info("Scheduled reconciliation completed",
			zap.Duration("duration", duration),
			zap.Float64("data_quality_score", report.DataQualityScore),
		)
	case errors.Is(err, reconciliation.ErrReconciliationInProgress):
		s.logger.Info("Scheduled reconciliation skipped, a pass is in progress")
	default:
		s.logger.Error("Scheduled reconciliation failed",
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	}
}
