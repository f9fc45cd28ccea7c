package webhook

import (
	"context"
	"errors"
	"testing"

	appsync "github.com/erp/syncengine/internal/application/datasync"
	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/cache"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "webhook-test-secret"

// MockSubmitter is a mock implementation of Submitter
type MockSubmitter struct {
	mock.Mock
}

var _ Submitter = (*MockSubmitter)(nil)

func (m *MockSubmitter) StartRun(ctx context.Context, in appsync.StartRunInput) (*appsync.StartRunResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appsync.StartRunResult), args.Error(1)
}

func (m *MockSubmitter) Resubmit(ctx context.Context, events ...*datasync.SyncEvent) (uuid.UUID, error) {
	args := m.Called(ctx, events)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

// MockPublisher is a mock implementation of shared.EventPublisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, t shared.EventType, payload any) {
	m.Called(ctx, t, payload)
}

func newTestService(t *testing.T, runs Submitter, pub shared.EventPublisher) *Service {
	t.Helper()
	store := cache.NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = store.Close() })
	svc, err := NewService(Config{Secret: testSecret}, runs, store, pub, zap.NewNop())
	require.NoError(t, err)
	return svc
}

var productDelivery = []byte(`{"delivery_id":"d-1","entity_type":"product","entity_ids":["p1","p2","p1"]}`)

func TestVerify(t *testing.T) {
	svc := newTestService(t, new(MockSubmitter), nil)
	sig := Sign(testSecret, productDelivery)

	assert.True(t, svc.Verify(productDelivery, sig))
	assert.True(t, svc.Verify(productDelivery, "sha256="+sig))
	assert.False(t, svc.Verify(productDelivery, Sign("other", productDelivery)))
	assert.False(t, svc.Verify(productDelivery, ""))
	assert.False(t, svc.Verify([]byte(`{"tampered":true}`), sig))
}

func TestParse(t *testing.T) {
	svc := newTestService(t, new(MockSubmitter), nil)

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"delivery_id":"d","entity_type":"invoice","operation":"delete","entity_ids":["i1"]}`, false},
		{"unknown entity type", `{"delivery_id":"d","entity_type":"vendor","entity_ids":["x"]}`, true},
		{"empty ids", `{"delivery_id":"d","entity_type":"order","entity_ids":[]}`, true},
		{"missing delivery id", `{"entity_type":"order","entity_ids":["o1"]}`, true},
		{"bad operation", `{"delivery_id":"d","entity_type":"order","operation":"merge","entity_ids":["o1"]}`, true},
		{"bad timestamp", `{"delivery_id":"d","entity_type":"order","entity_ids":["o1"],"occurred_at":"yesterday"}`, true},
		{"not json", `delivery`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := svc.Parse([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, datasync.OperationDelete, d.Operation)
		})
	}
}

func TestReceive_StartsWebhookRun(t *testing.T) {
	runs := new(MockSubmitter)
	pub := new(MockPublisher)
	svc := newTestService(t, runs, pub)
	ctx := context.Background()
	runID := uuid.New()

	runs.On("StartRun", ctx, mock.MatchedBy(func(in appsync.StartRunInput) bool {
		return in.Trigger == datasync.RunTypeWebhook &&
			*in.EntityType == datasync.EntityTypeProduct &&
			assert.ObjectsAreEqual([]string{"p1", "p2"}, in.ExplicitIDs)
	})).Return(&appsync.StartRunResult{RunID: runID}, nil).Once()
	pub.On("Publish", ctx, shared.EventWebhookReceived, mock.MatchedBy(func(r Received) bool {
		return r.DeliveryID == "d-1" && r.Count == 2 && r.RunID == runID.String()
	})).Return().Once()

	res, err := svc.Receive(ctx, productDelivery, Sign(testSecret, productDelivery))
	require.NoError(t, err)
	assert.Equal(t, runID, res.RunID)
	assert.False(t, res.Duplicate)

	// Redelivery of the same id is acknowledged without new work.
	res, err = svc.Receive(ctx, productDelivery, Sign(testSecret, productDelivery))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	runs.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestReceive_DeleteUsesPresetItems(t *testing.T) {
	runs := new(MockSubmitter)
	svc := newTestService(t, runs, nil)
	ctx := context.Background()
	body := []byte(`{"delivery_id":"d-2","entity_type":"customer","operation":"delete","entity_ids":["c1"]}`)

	runs.On("StartRun", ctx, mock.MatchedBy(func(in appsync.StartRunInput) bool {
		return len(in.ExplicitIDs) == 0 && len(in.Items) == 1 &&
			in.Items[0].Operation == datasync.OperationDelete &&
			in.Items[0].Direction == datasync.DirectionInbound
	})).Return(&appsync.StartRunResult{RunID: uuid.New()}, nil)

	_, err := svc.Receive(ctx, body, Sign(testSecret, body))
	require.NoError(t, err)
	runs.AssertExpectations(t)
}

func TestReceive_RunInProgressResubmits(t *testing.T) {
	runs := new(MockSubmitter)
	svc := newTestService(t, runs, nil)
	ctx := context.Background()
	runID := uuid.New()

	runs.On("StartRun", ctx, mock.Anything).Return(nil, datasync.ErrRunAlreadyInProgress)
	runs.On("Resubmit", ctx, mock.MatchedBy(func(events []*datasync.SyncEvent) bool {
		return len(events) == 2 && events[0].EntityID == "p1" && events[1].EntityID == "p2"
	})).Return(runID, nil)

	res, err := svc.Receive(ctx, productDelivery, Sign(testSecret, productDelivery))
	require.NoError(t, err)
	assert.Equal(t, runID, res.RunID)
}

func TestReceive_SubmitFailureIsRetryable(t *testing.T) {
	runs := new(MockSubmitter)
	svc := newTestService(t, runs, nil)
	ctx := context.Background()

	runs.On("StartRun", ctx, mock.Anything).Return(nil, errors.New("database unavailable")).Once()
	_, err := svc.Receive(ctx, productDelivery, Sign(testSecret, productDelivery))
	require.Error(t, err)

	// The failed delivery is not remembered, so the redelivery is processed.
	runs.On("StartRun", ctx, mock.Anything).Return(&appsync.StartRunResult{RunID: uuid.New()}, nil).Once()
	res, err := svc.Receive(ctx, productDelivery, Sign(testSecret, productDelivery))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}

func TestReceive_Rejections(t *testing.T) {
	runs := new(MockSubmitter)
	svc := newTestService(t, runs, nil)
	ctx := context.Background()

	_, err := svc.Receive(ctx, productDelivery, "deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	bad := []byte(`{"delivery_id":"d-3","entity_type":"vendor","entity_ids":["v1"]}`)
	_, err = svc.Receive(ctx, bad, Sign(testSecret, bad))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	runs.AssertNotCalled(t, "StartRun", mock.Anything, mock.Anything)
}

func TestReceive_NoSecretRejectsEverything(t *testing.T) {
	svc, err := NewService(Config{}, new(MockSubmitter), nil, nil, zap.NewNop())
	require.NoError(t, err)

	_, err = svc.Receive(context.Background(), productDelivery, Sign("", productDelivery))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
