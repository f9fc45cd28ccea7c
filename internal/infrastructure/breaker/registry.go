package breaker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/erp/syncengine/internal/domain/alert"
	domain "github.com/erp/syncengine/internal/domain/breaker"
	"github.com/erp/syncengine/internal/domain/shared"
	"go.uber.org/zap"
)

// Well-known breaker names.
const (
	NameZohoAPI           = domain.NameZohoAPI
	NameZohoInventoryPush = domain.NameZohoInventoryPush
)

// ErrBreakerNotFound is returned for names never registered
var ErrBreakerNotFound = shared.NewDomainError("NOT_FOUND", "Circuit breaker not found")

// TransitionObserver is notified of every state change, e.g. for metrics.
type TransitionObserver func(ctx context.Context, t domain.Transition)

// Option configures a Registry
type Option func(*Registry)

// WithAlertRaiser raises a critical alert whenever a breaker opens
func WithAlertRaiser(r alert.Raiser) Option {
	return func(reg *Registry) { reg.alerts = r }
}

// WithObserver registers a transition observer
func WithObserver(o TransitionObserver) Option {
	return func(reg *Registry) { reg.observers = append(reg.observers, o) }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(reg *Registry) { reg.now = now }
}

// Registry owns independent breakers keyed by name.
type Registry struct {
	cfg       Config
	repo      domain.Repository
	publisher shared.EventPublisher
	alerts    alert.Raiser
	observers []TransitionObserver
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry and pre-registers the given names.
func NewRegistry(cfg Config, repo domain.Repository, publisher shared.EventPublisher, logger *zap.Logger, names []string, opts ...Option) *Registry {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	r := &Registry{
		cfg:       cfg.withDefaults(),
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		breakers:  make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, n := range names {
		r.Get(n)
	}
	return r
}

// Get returns the named breaker, creating it closed on first use
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[name]; ok {
		return b
	}
	b = newBreaker(name, r.cfg, r.now)
	r.breakers[name] = b
	return b
}

func (r *Registry) lookup(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Execute runs fn through the named breaker. An open breaker returns
// *datasync.BreakerOpenError without calling fn.
// A panicking fn counts as a failure and releases the half-open trial.
func (r *Registry) Execute(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	b := r.Get(name)
	t, err := b.acquire()
	if t != nil {
		r.flush(ctx, b)
	}
	if err != nil {
		return err
	}

	callErr := errCallPanicked
	defer func() {
		if t := b.record(callErr); t != nil {
			r.flush(ctx, b)
		}
	}()
	callErr = fn(ctx)
	return callErr
}

// flush hands b's queued transitions to handleTransition in the order they happened.
func (r *Registry) flush(ctx context.Context, b *Breaker) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()
	for {
		t, ok := b.nextPending()
		if !ok {
			return
		}
		r.handleTransition(ctx, b, t)
	}
}

// Reset forces a breaker closed
func (r *Registry) Reset(ctx context.Context, name string) (domain.Status, error) {
	b, ok := r.lookup(name)
	if !ok {
		return domain.Status{}, ErrBreakerNotFound
	}
	if t := b.reset(); t != nil {
		r.flush(ctx, b)
	} else {
		r.persist(ctx, b.Status())
	}
	r.logger.Info("circuit breaker reset", zap.String("breaker", name))
	return b.Status(), nil
}

// Status returns the snapshot of one breaker
func (r *Registry) Status(name string) (domain.Status, error) {
	b, ok := r.lookup(name)
	if !ok {
		return domain.Status{}, ErrBreakerNotFound
	}
	return b.Status(), nil
}

// Statuses returns all breaker snapshots ordered by name
func (r *Registry) Statuses() []domain.Status {
	r.mu.RLock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.RUnlock()

	out := make([]domain.Status, 0, len(list))
	for _, b := range list {
		out = append(out, b.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Load restores persisted breaker state
func (r *Registry) Load(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	statuses, err := r.repo.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("load breaker status: %w", err)
	}
	for _, s := range statuses {
		r.Get(s.Name).restore(s)
		r.logger.Info("circuit breaker restored",
			zap.String("breaker", s.Name),
			zap.String("state", string(s.State)),
		)
	}
	return nil
}

func (r *Registry) handleTransition(ctx context.Context, b *Breaker, t domain.Transition) {
	status := b.Status()
	r.persist(ctx, status)

	r.logger.Warn("circuit breaker state changed",
		zap.String("breaker", t.Name),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.Int("failure_count", t.FailureCount),
		zap.String("reason", t.Reason),
	)
	r.publisher.Publish(ctx, shared.EventCircuitBreakerStateChanged, t)
	for _, o := range r.observers {
		o(ctx, t)
	}

	if t.To == domain.StateOpen && r.alerts != nil {
		msg := fmt.Sprintf("Circuit breaker %s opened after %d failures", t.Name, t.FailureCount)
		if status.NextRetryAt != nil {
			msg += fmt.Sprintf("; next trial at %s", status.NextRetryAt.Format(time.RFC3339))
		}
		if status.LastError != "" {
			msg += ": " + status.LastError
		}
		if _, err := r.alerts.Raise(ctx, alert.RaiseInput{
			Severity:  alert.SeverityCritical,
			Title:     "Circuit breaker open: " + t.Name,
			Message:   msg,
			DedupeKey: "breaker:" + t.Name,
			Source:    "circuit_breaker",
		}); err != nil {
			r.logger.Error("failed to raise breaker alert", zap.String("breaker", t.Name), zap.Error(err))
		}
	}
}

func (r *Registry) persist(ctx context.Context, s domain.Status) {
	if r.repo == nil {
		return
	}
	if err := r.repo.Save(ctx, s); err != nil {
		r.logger.Error("failed to persist breaker status", zap.String("breaker", s.Name), zap.Error(err))
	}
}
