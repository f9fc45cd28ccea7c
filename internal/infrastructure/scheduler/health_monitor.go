package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
	"go.uber.org/zap"
)

// CheckFunc checks one dependency
type CheckFunc func(ctx context.Context) error

// ComponentHealth is the last observed state of one dependency
type ComponentHealth struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthReport is a snapshot of every dependency
type HealthReport struct {
	Healthy    bool              `json:"healthy"`
	Components []ComponentHealth `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// HealthChanged is the payload of health_changed notifications
type HealthChanged struct {
	Component string `json:"component"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
}

// HealthMonitorConfig holds configuration for the health monitor
type HealthMonitorConfig struct {
	Interval     time.Duration
	CheckTimeout time.Duration
}

// HealthMonitor polls dependency checks and publishes transitions.
type HealthMonitor struct {
	checks    map[string]CheckFunc
	publisher shared.EventPublisher
	logger    *zap.Logger
	config    HealthMonitorConfig

	stateMu sync.RWMutex
	state   map[string]ComponentHealth

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewHealthMonitor creates a health monitor over the named checks
func NewHealthMonitor(checks map[string]CheckFunc, publisher shared.EventPublisher, logger *zap.Logger, config HealthMonitorConfig) *HealthMonitor {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = 5 * time.Second
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	return &HealthMonitor{
		checks:    checks,
		publisher: publisher,
		logger:    logger,
		config:    config,
		state:     make(map[string]ComponentHealth, len(checks)),
	}
}

// Start runs a first round of checks and then polls on the interval
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = true
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.CheckNow(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckNow(ctx)
			}
		}
	}()

	m.logger.Info("Health monitor started",
		zap.Duration("interval", m.config.Interval),
		zap.Int("checks", len(m.checks)),
	)
	return nil
}

// Stop stops polling
func (m *HealthMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	return waitGroup(ctx, &m.wg, m.logger, "Health monitor")
}

// CheckNow runs every check once and publishes health_changed for each
// component whose health differs from the previous observation.
func (m *HealthMonitor) CheckNow(ctx context.Context) HealthReport {
	for name, check := range m.checks {
		checkCtx, cancel := context.WithTimeout(ctx, m.config.CheckTimeout)
		err := check(checkCtx)
		cancel()

		current := ComponentHealth{Name: name, Healthy: err == nil, CheckedAt: time.Now().UTC()}
		if err != nil {
			current.Error = err.Error()
		}

		m.stateMu.Lock()
		prev, seen := m.state[name]
		m.state[name] = current
		m.stateMu.Unlock()

		if seen && prev.Healthy == current.Healthy {
			continue
		}
		// The first observation only counts as a change when unhealthy.
		if !seen && current.Healthy {
			continue
		}
		if current.Healthy {
			m.logger.Info("Component recovered", zap.String("component", name))
		} else {
			m.logger.Warn("Component unhealthy", zap.String("component", name), zap.Error(err))
		}
		m.publisher.Publish(ctx, shared.EventHealthChanged, HealthChanged{
			Component: name,
			Healthy:   current.Healthy,
			Error:     current.Error,
		})
	}
	return m.Report()
}

// Report returns the last observed state without running checks
func (m *HealthMonitor) Report() HealthReport {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	report := HealthReport{Healthy: true, Components: make([]ComponentHealth, 0, len(m.state))}
	for _, c := range m.state {
		report.Components = append(report.Components, c)
		if !c.Healthy {
			report.Healthy = false
		}
		if c.CheckedAt.After(report.CheckedAt) {
			report.CheckedAt = c.CheckedAt
		}
	}
	sort.Slice(report.Components, func(i, j int) bool {
		return report.Components[i].Name < report.Components[j].Name
	})
	return report
}
