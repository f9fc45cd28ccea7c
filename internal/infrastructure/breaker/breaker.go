// Package breaker implements named circuit breakers guarding calls to Zoho.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/erp/syncengine/internal/domain/breaker"
	"github.com/erp/syncengine/internal/domain/datasync"
)

// Defaults applied when a Config field is zero.
const (
	DefaultWindow              = 60 * time.Second
	DefaultFailureThreshold    = 5
	DefaultCooldown            = 30 * time.Second
	DefaultMaxCooldownMultiple = 10
	halfOpenBusyRetry          = time.Second
)

// Config tunes every breaker of a registry.
type Config struct {
	Window              time.Duration
	FailureThreshold    int
	Cooldown            time.Duration
	MaxCooldownMultiple int
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.MaxCooldownMultiple <= 0 {
		c.MaxCooldownMultiple = DefaultMaxCooldownMultiple
	}
	return c
}

// errCallPanicked stands in for the result of a guarded call that panicked.
var errCallPanicked = errors.New("guarded call panicked")

// outcome of a guarded call as seen by the breaker
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeNeutral
)

func classify(err error) outcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case datasync.IsExternalFailure(err), errors.Is(err, context.DeadlineExceeded), errors.Is(err, errCallPanicked):
		return outcomeFailure
	case errors.Is(err, context.Canceled):
		return outcomeNeutral
	}
	// Permanent errors mean Zoho answered.
	return outcomeSuccess
}

// Breaker is one named circuit breaker. All state is guarded by mu.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu               sync.Mutex
	state            domain.State
	failures         []time.Time
	consecutiveTrips int
	lastChange       time.Time
	nextRetryAt      *time.Time
	trialInFlight    bool
	lastError        string
	// pending holds transitions not yet handed to the registry, oldest first
	pending []domain.Transition

	// emitMu serializes draining of pending
	emitMu sync.Mutex
}

func newBreaker(name string, cfg Config, now func() time.Time) *Breaker {
	return &Breaker{
		name:       name,
		cfg:        cfg,
		now:        now,
		state:      domain.StateClosed,
		lastChange: now(),
	}
}

// Name returns the breaker name
func (b *Breaker) Name() string { return b.name }

// acquire admits a call or returns a BreakerOpenError.
// The returned transition is non-nil when admitting moved the breaker to half_open.
func (b *Breaker) acquire() (*domain.Transition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case domain.StateClosed:
		return nil, nil
	case domain.StateOpen:
		if b.nextRetryAt != nil && now.Before(*b.nextRetryAt) {
			return nil, &datasync.BreakerOpenError{Name: b.name, RetryAt: *b.nextRetryAt}
		}
		t := b.transitionLocked(domain.StateHalfOpen, "cool-down elapsed", now)
		b.trialInFlight = true
		return t, nil
	default:
		if b.trialInFlight {
			return nil, &datasync.BreakerOpenError{Name: b.name, RetryAt: now.Add(halfOpenBusyRetry)}
		}
		b.trialInFlight = true
		return nil, nil
	}
}

// record applies the result of an admitted call.
func (b *Breaker) record(err error) *domain.Transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	res := classify(err)
	if err != nil && res == outcomeFailure {
		b.lastError = err.Error()
	}

	if b.state == domain.StateHalfOpen {
		b.trialInFlight = false
		switch res {
		case outcomeSuccess:
			b.failures = nil
			b.consecutiveTrips = 0
			b.nextRetryAt = nil
			return b.transitionLocked(domain.StateClosed, "trial call succeeded", now)
		case outcomeFailure:
			return b.tripLocked("trial call failed", now)
		}
		return nil
	}

	if b.state != domain.StateClosed || res != outcomeFailure {
		return nil
	}
	b.failures = append(b.pruneLocked(now), now)
	if len(b.failures) >= b.cfg.FailureThreshold {
		return b.tripLocked("failure threshold reached", now)
	}
	return nil
}

// pruneLocked drops failures older than the rolling window.
func (b *Breaker) pruneLocked(now time.Time) []time.Time {
	cutoff := now.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, f := range b.failures {
		if f.After(cutoff) {
			kept = append(kept, f)
		}
	}
	return kept
}

func (b *Breaker) tripLocked(reason string, now time.Time) *domain.Transition {
	b.consecutiveTrips++
	retryAt := now.Add(b.cooldownLocked())
	b.nextRetryAt = &retryAt
	return b.transitionLocked(domain.StateOpen, reason, now)
}

// cooldownLocked doubles per consecutive trip, capped at MaxCooldownMultiple times the base.
func (b *Breaker) cooldownLocked() time.Duration {
	maxCooldown := b.cfg.Cooldown * time.Duration(b.cfg.MaxCooldownMultiple)
	d := b.cfg.Cooldown
	for i := 1; i < b.consecutiveTrips; i++ {
		d *= 2
		if d >= maxCooldown {
			return maxCooldown
		}
	}
	return d
}

func (b *Breaker) transitionLocked(to domain.State, reason string, now time.Time) *domain.Transition {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	b.lastChange = now
	t := domain.Transition{
		Name:         b.name,
		From:         from,
		To:           to,
		FailureCount: len(b.failures),
		Reason:       reason,
		At:           now,
	}
	b.pending = append(b.pending, t)
	return &t
}

// nextPending pops the oldest unhandled transition.
func (b *Breaker) nextPending() (domain.Transition, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return domain.Transition{}, false
	}
	t := b.pending[0]
	b.pending = b.pending[1:]
	return t, true
}

// reset forces the breaker closed.
func (b *Breaker) reset() *domain.Transition {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = nil
	b.consecutiveTrips = 0
	b.nextRetryAt = nil
	b.trialInFlight = false
	b.lastError = ""
	return b.transitionLocked(domain.StateClosed, "manual reset", b.now())
}

// restore loads persisted state. A stored half_open breaker becomes open and
// admits its trial immediately.
func (b *Breaker) restore(s domain.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s.State
	b.consecutiveTrips = s.ConsecutiveTrips
	b.lastChange = s.LastStateChange
	b.lastError = s.LastError
	b.nextRetryAt = s.NextRetryAt
	if s.State == domain.StateHalfOpen {
		now := b.now()
		b.state = domain.StateOpen
		b.nextRetryAt = &now
	}
	if b.state == domain.StateOpen && b.nextRetryAt == nil {
		retryAt := b.now().Add(b.cooldownLocked())
		b.nextRetryAt = &retryAt
	}
}

// Status returns a snapshot of the breaker.
func (b *Breaker) Status() domain.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = b.pruneLocked(b.now())
	s := domain.Status{
		Name:             b.name,
		State:            b.state,
		FailureCount:     len(b.failures),
		FailureThreshold: b.cfg.FailureThreshold,
		ConsecutiveTrips: b.consecutiveTrips,
		LastStateChange:  b.lastChange,
		LastError:        b.lastError,
	}
	if b.nextRetryAt != nil {
		t := *b.nextRetryAt
		s.NextRetryAt = &t
	}
	return s
}
