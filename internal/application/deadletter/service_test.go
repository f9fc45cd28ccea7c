package deadletter

import (
	"context"
	"errors"
	"testing"

	"github.com/erp/syncengine/internal/domain/alert"
	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/domain/deadletter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockRepository is a mock implementation of deadletter.Repository
type MockRepository struct {
	mock.Mock
}

var _ deadletter.Repository = (*MockRepository)(nil)

func (m *MockRepository) Upsert(ctx context.Context, item *deadletter.Item) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockRepository) Update(ctx context.Context, item *deadletter.Item) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockRepository) FindByID(ctx context.Context, id uuid.UUID) (*deadletter.Item, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*deadletter.Item), args.Error(1)
}

func (m *MockRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*deadletter.Item, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*deadletter.Item), args.Error(1)
}

func (m *MockRepository) List(ctx context.Context, filter deadletter.Filter) ([]deadletter.Item, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]deadletter.Item), args.Get(1).(int64), args.Error(2)
}

func (m *MockRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) CountByPriority(ctx context.Context) (map[datasync.Priority]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[datasync.Priority]int64), args.Error(1)
}

// MockRaiser is a mock implementation of alert.Raiser
type MockRaiser struct {
	mock.Mock
}

var _ alert.Raiser = (*MockRaiser)(nil)

func (m *MockRaiser) Raise(ctx context.Context, in alert.RaiseInput) (*alert.Alert, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*alert.Alert), args.Error(1)
}

// MockResubmitter is a mock implementation of Resubmitter
type MockResubmitter struct {
	mock.Mock
}

var _ Resubmitter = (*MockResubmitter)(nil)

func (m *MockResubmitter) Resubmit(ctx context.Context, events ...*datasync.SyncEvent) (uuid.UUID, error) {
	args := m.Called(ctx, events)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func newFailedEvent(t *testing.T) *datasync.SyncEvent {
	t.Helper()
	ev, err := datasync.NewSyncEvent(datasync.NewSyncEventInput{
		RunID:      uuid.New(),
		EntityType: datasync.EntityTypeOrder,
		EntityID:   "SO-17",
		Operation:  datasync.OperationUpdate,
	})
	require.NoError(t, err)
	ev.AttemptCount = 5
	return ev
}

func newTestService(repo *MockRepository, raiser *MockRaiser) *Service {
	return NewService(Config{EscalationThreshold: 3}, repo, raiser, nil, zap.NewNop())
}

func TestService_Enqueue_NewItem(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockRaiser))
	ctx := context.Background()
	ev := newFailedEvent(t)

	repo.On("Upsert", ctx, mock.MatchedBy(func(item *deadletter.Item) bool {
		return item.EventID == ev.ID && item.Priority == datasync.PriorityHigh && item.FailureReason == "boom"
	})).Return(nil)

	err := svc.Enqueue(ctx, ev, "boom", datasync.PriorityHigh)

	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestService_Enqueue_StorageFailure(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockRaiser))
	ctx := context.Background()
	storageErr := datasync.NewStorageError("upsert dead letter", errors.New("db down"))

	repo.On("Upsert", ctx, mock.Anything).Return(storageErr)

	err := svc.Enqueue(ctx, newFailedEvent(t), "boom", datasync.PriorityNormal)
	assert.ErrorIs(t, err, storageErr)
}

func TestService_RequeueFailuresEscalateOnce(t *testing.T) {
	repo := new(MockRepository)
	raiser := new(MockRaiser)
	svc := newTestService(repo, raiser)
	ctx := context.Background()

	item := deadletter.NewItem(newFailedEvent(t), "boom", datasync.PriorityNormal)
	repo.On("FindByID", ctx, item.ID).Return(item, nil)
	repo.On("Update", ctx, item).Return(nil)
	raiser.On("Raise", ctx, mock.MatchedBy(func(in alert.RaiseInput) bool {
		return in.Severity == alert.SeverityCritical && in.DedupeKey == "deadletter:"+item.ID.String()
	})).Return(&alert.Alert{}, nil).Once()

	for i := 0; i < 5; i++ {
		ev, err := item.ToEvent(uuid.New())
		require.NoError(t, err)
		ev.AttemptCount = 5
		require.NoError(t, svc.Enqueue(ctx, ev, "still failing", datasync.PriorityNormal))
	}

	assert.Equal(t, 5, item.FailedRequeues)
	assert.True(t, item.Escalated)
	assert.Equal(t, datasync.PriorityCritical, item.Priority)
	raiser.AssertNumberOfCalls(t, "Raise", 1)
	repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestService_Enqueue_PurgedItemCreatesNew(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockRaiser))
	ctx := context.Background()

	ev := newFailedEvent(t)
	gone := uuid.New()
	ev.DeadLetterID = &gone
	repo.On("FindByID", ctx, gone).Return(nil, deadletter.ErrItemNotFound)
	repo.On("Upsert", ctx, mock.AnythingOfType("*deadletter.Item")).Return(nil)

	require.NoError(t, svc.Enqueue(ctx, ev, "boom", datasync.PriorityNormal))
	repo.AssertExpectations(t)
}

func TestService_Requeue(t *testing.T) {
	repo := new(MockRepository)
	resub := new(MockResubmitter)
	svc := newTestService(repo, new(MockRaiser))
	svc.SetResubmitter(resub)
	ctx := context.Background()

	item := deadletter.NewItem(newFailedEvent(t), "boom", datasync.PriorityHigh)
	runID := uuid.New()
	repo.On("FindByID", ctx, item.ID).Return(item, nil)
	repo.On("Update", ctx, item).Return(nil)
	resub.On("Resubmit", ctx, mock.MatchedBy(func(evs []*datasync.SyncEvent) bool {
		return len(evs) == 1 && evs[0].DeadLetterID != nil && *evs[0].DeadLetterID == item.ID &&
			evs[0].AttemptCount == 0 && evs[0].EntityID == "SO-17"
	})).Return(runID, nil)

	res, err := svc.Requeue(ctx, item.ID)

	require.NoError(t, err)
	assert.Equal(t, runID, res.RunID)
	assert.Equal(t, item.ID, res.ItemID)
	assert.Equal(t, 1, item.RequeueCount)
	assert.Equal(t, 0, item.AttemptCount)
	resub.AssertExpectations(t)
}

func TestService_Requeue_NotFound(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockRaiser))
	svc.SetResubmitter(new(MockResubmitter))
	ctx := context.Background()
	id := uuid.New()

	repo.On("FindByID", ctx, id).Return(nil, deadletter.ErrItemNotFound)

	_, err := svc.Requeue(ctx, id)
	assert.ErrorIs(t, err, deadletter.ErrItemNotFound)
}

func TestService_Requeue_WithoutResubmitter(t *testing.T) {
	svc := newTestService(new(MockRepository), new(MockRaiser))
	_, err := svc.Requeue(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrRequeueUnavailable)
}

func TestService_RequeueAll(t *testing.T) {
	repo := new(MockRepository)
	resub := new(MockResubmitter)
	svc := newTestService(repo, new(MockRaiser))
	svc.SetResubmitter(resub)
	ctx := context.Background()

	critical := datasync.PriorityCritical
	items := []deadletter.Item{
		*deadletter.NewItem(newFailedEvent(t), "a", critical),
		*deadletter.NewItem(newFailedEvent(t), "b", critical),
	}
	repo.On("List", ctx, deadletter.Filter{Priority: &critical, Page: 1, PageSize: requeueAllPageSize}).Return(items, int64(2), nil)
	repo.On("Update", ctx, mock.AnythingOfType("*deadletter.Item")).Return(nil).Twice()
	runID := uuid.New()
	resub.On("Resubmit", ctx, mock.MatchedBy(func(evs []*datasync.SyncEvent) bool { return len(evs) == 2 })).Return(runID, nil)

	res, err := svc.RequeueAll(ctx, &critical)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Requeued)
	assert.Equal(t, runID, res.RunID)
	repo.AssertExpectations(t)
}

func TestService_Requeue_ResubmitFailureLeavesItem(t *testing.T) {
	repo := new(MockRepository)
	resub := new(MockResubmitter)
	svc := newTestService(repo, new(MockRaiser))
	svc.SetResubmitter(resub)
	ctx := context.Background()

	item := deadletter.NewItem(newFailedEvent(t), "boom", datasync.PriorityHigh)
	repo.On("FindByID", ctx, item.ID).Return(item, nil)
	resub.On("Resubmit", ctx, mock.Anything).Return(uuid.Nil, datasync.ErrRunAlreadyInProgress)

	_, err := svc.Requeue(ctx, item.ID)

	assert.ErrorIs(t, err, datasync.ErrRunAlreadyInProgress)
	assert.Equal(t, 0, item.RequeueCount)
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestService_Requeue_ItemResolvedBeforeStamp(t *testing.T) {
	repo := new(MockRepository)
	resub := new(MockResubmitter)
	svc := newTestService(repo, new(MockRaiser))
	svc.SetResubmitter(resub)
	ctx := context.Background()

	item := deadletter.NewItem(newFailedEvent(t), "boom", datasync.PriorityHigh)
	runID := uuid.New()
	repo.On("FindByID", ctx, item.ID).Return(item, nil)
	resub.On("Resubmit", ctx, mock.Anything).Return(runID, nil)
	repo.On("Update", ctx, item).Return(deadletter.ErrItemNotFound)

	res, err := svc.Requeue(ctx, item.ID)

	require.NoError(t, err)
	assert.Equal(t, runID, res.RunID)
	repo.AssertExpectations(t)
}

func TestService_RequeueAll_ResubmitFailureLeavesItems(t *testing.T) {
	repo := new(MockRepository)
	resub := new(MockResubmitter)
	svc := newTestService(repo, new(MockRaiser))
	svc.SetResubmitter(resub)
	ctx := context.Background()

	items := []deadletter.Item{
		*deadletter.NewItem(newFailedEvent(t), "a", datasync.PriorityNormal),
		*deadletter.NewItem(newFailedEvent(t), "b", datasync.PriorityNormal),
	}
	repo.On("List", ctx, mock.Anything).Return(items, int64(2), nil)
	resub.On("Resubmit", ctx, mock.Anything).Return(uuid.Nil, errors.New("orchestrator stopped"))

	_, err := svc.RequeueAll(ctx, nil)

	require.Error(t, err)
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestService_RequeueAll_Empty(t *testing.T) {
	repo := new(MockRepository)
	resub := new(MockResubmitter)
	svc := newTestService(repo, new(MockRaiser))
	svc.SetResubmitter(resub)
	ctx := context.Background()

	repo.On("List", ctx, mock.Anything).Return([]deadletter.Item{}, int64(0), nil)

	res, err := svc.RequeueAll(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Requeued)
	resub.AssertNotCalled(t, "Resubmit", mock.Anything, mock.Anything)
}

func TestService_ResolveIgnoresMissing(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockRaiser))
	ctx := context.Background()
	id := uuid.New()

	repo.On("Delete", ctx, id).Return(deadletter.ErrItemNotFound)

	assert.NoError(t, svc.Resolve(ctx, id))
}

func TestService_Purge(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockRaiser))
	ctx := context.Background()
	id := uuid.New()

	repo.On("Delete", ctx, id).Return(nil).Once()
	assert.NoError(t, svc.Purge(ctx, id))

	missing := uuid.New()
	repo.On("Delete", ctx, missing).Return(deadletter.ErrItemNotFound)
	assert.ErrorIs(t, svc.Purge(ctx, missing), deadletter.ErrItemNotFound)
}

func TestService_Stats(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockRaiser))
	ctx := context.Background()

	repo.On("CountByPriority", ctx).Return(map[datasync.Priority]int64{
		datasync.PriorityNormal:   4,
		datasync.PriorityCritical: 1,
	}, nil)

	stats, err := svc.Stats(ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Total)
	assert.Equal(t, int64(0), stats.ByPriority[datasync.PriorityLow])
	assert.Equal(t, int64(1), stats.ByPriority[datasync.PriorityCritical])
}

func TestService_List(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockRaiser))
	ctx := context.Background()

	items := []deadletter.Item{*deadletter.NewItem(newFailedEvent(t), "a", datasync.PriorityLow)}
	repo.On("List", ctx, deadletter.Filter{Page: 1, PageSize: 20}).Return(items, int64(1), nil)

	page, err := svc.List(ctx, deadletter.Filter{})

	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, 1, page.TotalPages)
}
