package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erp/syncengine/internal/domain/alert"
	domainbreaker "github.com/erp/syncengine/internal/domain/breaker"
	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/breaker"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockRepository is a mock implementation of alert.Repository
type MockRepository struct {
	mock.Mock
}

var _ alert.Repository = (*MockRepository)(nil)

func (m *MockRepository) Create(ctx context.Context, a *alert.Alert) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockRepository) Acknowledge(ctx context.Context, a *alert.Alert) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockRepository) FindByID(ctx context.Context, id uuid.UUID) (*alert.Alert, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*alert.Alert), args.Error(1)
}

func (m *MockRepository) FindActiveByDedupeKey(ctx context.Context, key string) (*alert.Alert, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*alert.Alert), args.Error(1)
}

func (m *MockRepository) TouchOccurrence(ctx context.Context, id uuid.UUID, seenAt time.Time) error {
	args := m.Called(ctx, id, seenAt)
	return args.Error(0)
}

func (m *MockRepository) List(ctx context.Context, filter alert.Filter) ([]alert.Alert, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]alert.Alert), args.Get(1).(int64), args.Error(2)
}

// MockPublisher is a mock implementation of shared.EventPublisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, t shared.EventType, payload any) {
	m.Called(ctx, t, payload)
}

func TestManager_Raise_CreatesAndPublishes(t *testing.T) {
	repo := new(MockRepository)
	pub := new(MockPublisher)
	mgr := NewManager(repo, pub, time.Minute, zap.NewNop())
	ctx := context.Background()

	repo.On("FindActiveByDedupeKey", ctx, "breaker:zoho_api").Return(nil, nil)
	repo.On("Create", ctx, mock.AnythingOfType("*alert.Alert")).Return(nil)
	pub.On("Publish", ctx, shared.EventAlertCreated, mock.MatchedBy(func(c Created) bool {
		return c.DedupeKey == "breaker:zoho_api" && c.Severity == alert.SeverityCritical
	})).Return()

	a, err := mgr.Raise(ctx, alert.RaiseInput{
		Severity:  alert.SeverityCritical,
		Title:     "Circuit breaker open: zoho_api",
		DedupeKey: "breaker:zoho_api",
		Source:    "circuit_breaker",
	})

	require.NoError(t, err)
	assert.True(t, a.IsActive)
	assert.Equal(t, 1, a.Occurrences)
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestManager_Raise_DedupesWithinWindow(t *testing.T) {
	repo := new(MockRepository)
	pub := new(MockPublisher)
	mgr := NewManager(repo, pub, 15*time.Minute, zap.NewNop())
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return now }
	ctx := context.Background()

	key := "breaker:zoho_api"
	existing, err := alert.NewAlert(alert.SeverityCritical, "open", "", &key, "circuit_breaker")
	require.NoError(t, err)
	existing.LastSeenAt = now.Add(-5 * time.Minute)

	repo.On("FindActiveByDedupeKey", ctx, key).Return(existing, nil)
	repo.On("TouchOccurrence", ctx, existing.ID, now).Return(nil)

	a, err := mgr.Raise(ctx, alert.RaiseInput{Severity: alert.SeverityCritical, Title: "open", DedupeKey: key})

	require.NoError(t, err)
	assert.Equal(t, existing.ID, a.ID)
	assert.Equal(t, 2, a.Occurrences)
	assert.Equal(t, now, a.LastSeenAt)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestManager_Raise_OutsideWindowCreatesNew(t *testing.T) {
	repo := new(MockRepository)
	pub := new(MockPublisher)
	mgr := NewManager(repo, pub, 15*time.Minute, zap.NewNop())
	now := time.Now().UTC()
	mgr.now = func() time.Time { return now }
	ctx := context.Background()

	key := "deadletter:x"
	stale, err := alert.NewAlert(alert.SeverityCritical, "old", "", &key, "dead_letter")
	require.NoError(t, err)
	stale.LastSeenAt = now.Add(-time.Hour)

	repo.On("FindActiveByDedupeKey", ctx, key).Return(stale, nil)
	repo.On("Create", ctx, mock.AnythingOfType("*alert.Alert")).Return(nil)
	pub.On("Publish", ctx, shared.EventAlertCreated, mock.Anything).Return()

	a, err := mgr.Raise(ctx, alert.RaiseInput{Severity: alert.SeverityCritical, Title: "again", DedupeKey: key})

	require.NoError(t, err)
	assert.NotEqual(t, stale.ID, a.ID)
	repo.AssertNotCalled(t, "TouchOccurrence", mock.Anything, mock.Anything, mock.Anything)
}

func TestManager_Raise_InvalidInput(t *testing.T) {
	repo := new(MockRepository)
	mgr := NewManager(repo, nil, 0, zap.NewNop())

	_, err := mgr.Raise(context.Background(), alert.RaiseInput{Severity: "loud", Title: "x"})
	assert.ErrorIs(t, err, alert.ErrInvalidSeverity)

	_, err = mgr.Raise(context.Background(), alert.RaiseInput{Severity: alert.SeverityInfo})
	assert.ErrorIs(t, err, alert.ErrTitleRequired)
}

func TestManager_Acknowledge(t *testing.T) {
	repo := new(MockRepository)
	mgr := NewManager(repo, nil, 0, zap.NewNop())
	ctx := context.Background()

	a, err := alert.NewAlert(alert.SeverityWarning, "conflict", "", nil, "reconciliation")
	require.NoError(t, err)
	repo.On("FindByID", ctx, a.ID).Return(a, nil)
	repo.On("Acknowledge", ctx, a).Return(nil).Once()

	acked, err := mgr.Acknowledge(ctx, a.ID, "ops@example.com")
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
	assert.False(t, acked.IsActive)
	assert.Equal(t, "ops@example.com", acked.AcknowledgedBy)
	require.NotNil(t, acked.AcknowledgedAt)

	_, err = mgr.Acknowledge(ctx, a.ID, "someone-else")
	assert.ErrorIs(t, err, alert.ErrAlreadyAcknowledged)
	repo.AssertNumberOfCalls(t, "Acknowledge", 1)
}

func TestManager_Acknowledge_LostRace(t *testing.T) {
	repo := new(MockRepository)
	mgr := NewManager(repo, nil, 0, zap.NewNop())
	ctx := context.Background()

	a, err := alert.NewAlert(alert.SeverityWarning, "conflict", "", nil, "reconciliation")
	require.NoError(t, err)
	repo.On("FindByID", ctx, a.ID).Return(a, nil)
	repo.On("Acknowledge", ctx, a).Return(alert.ErrAlreadyAcknowledged)

	_, err = mgr.Acknowledge(ctx, a.ID, "second-operator")
	assert.ErrorIs(t, err, alert.ErrAlreadyAcknowledged)
}

func TestManager_Acknowledge_NotFound(t *testing.T) {
	repo := new(MockRepository)
	mgr := NewManager(repo, nil, 0, zap.NewNop())
	ctx := context.Background()
	id := uuid.New()

	repo.On("FindByID", ctx, id).Return(nil, alert.ErrAlertNotFound)

	_, err := mgr.Acknowledge(ctx, id, "ops")
	assert.ErrorIs(t, err, alert.ErrAlertNotFound)
}

// memRepo keeps alerts in memory for end-to-end dedupe checks.
type memRepo struct {
	mu     sync.Mutex
	alerts map[uuid.UUID]*alert.Alert
}

func (r *memRepo) Create(_ context.Context, a *alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *a
	r.alerts[a.ID] = &c
	return nil
}

func (r *memRepo) Acknowledge(_ context.Context, a *alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.alerts[a.ID]
	if !ok {
		return alert.ErrAlertNotFound
	}
	if stored.Acknowledged {
		return alert.ErrAlreadyAcknowledged
	}
	c := *a
	r.alerts[a.ID] = &c
	return nil
}

func (r *memRepo) FindByID(_ context.Context, id uuid.UUID) (*alert.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, alert.ErrAlertNotFound
	}
	c := *a
	return &c, nil
}

func (r *memRepo) FindActiveByDedupeKey(_ context.Context, key string) (*alert.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.IsActive && !a.Acknowledged && a.DedupeKey != nil && *a.DedupeKey == key {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memRepo) TouchOccurrence(_ context.Context, id uuid.UUID, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return alert.ErrAlertNotFound
	}
	a.Occurrences++
	a.LastSeenAt = seenAt
	return nil
}

func (r *memRepo) List(context.Context, alert.Filter) ([]alert.Alert, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]alert.Alert, 0, len(r.alerts))
	for _, a := range r.alerts {
		out = append(out, *a)
	}
	return out, int64(len(out)), nil
}

func TestManager_BreakerTripsDedupeIntoOneAlert(t *testing.T) {
	repo := &memRepo{alerts: make(map[uuid.UUID]*alert.Alert)}
	mgr := NewManager(repo, nil, 15*time.Minute, zap.NewNop())

	clock := time.Now().UTC()
	var clockMu sync.Mutex
	now := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return clock
	}
	advance := func(d time.Duration) {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock = clock.Add(d)
	}

	reg := breaker.NewRegistry(breaker.Config{FailureThreshold: 2, Cooldown: time.Second}, nil, nil, zap.NewNop(),
		[]string{domainbreaker.NameZohoAPI}, breaker.WithAlertRaiser(mgr), breaker.WithClock(now))
	fail := func(context.Context) error {
		return &datasync.TransientExternalError{Op: "list", Err: errors.New("503")}
	}
	ctx := context.Background()

	// First trip.
	_ = reg.Execute(ctx, domainbreaker.NameZohoAPI, fail)
	_ = reg.Execute(ctx, domainbreaker.NameZohoAPI, fail)
	// Cool-down elapses, the trial fails and the breaker reopens.
	advance(2 * time.Second)
	_ = reg.Execute(ctx, domainbreaker.NameZohoAPI, fail)

	page, err := mgr.List(ctx, alert.Filter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "breaker:zoho_api", *page.Items[0].DedupeKey)
	assert.Equal(t, 2, page.Items[0].Occurrences)
}
