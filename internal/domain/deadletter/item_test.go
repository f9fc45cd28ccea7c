package deadletter

import (
	"testing"

	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFailedEvent(t *testing.T) *datasync.SyncEvent {
	t.Helper()
	ev, err := datasync.NewSyncEvent(datasync.NewSyncEventInput{
		RunID:      uuid.New(),
		EntityType: datasync.EntityTypeInvoice,
		EntityID:   "INV-9",
		Operation:  datasync.OperationCreate,
		Payload:    []byte(`{"total":"12.00"}`),
	})
	require.NoError(t, err)
	ev.AttemptCount = 5
	return ev
}

func TestNewItem_SnapshotsEvent(t *testing.T) {
	ev := newFailedEvent(t)
	item := NewItem(ev, "max attempts exceeded", "")
	assert.Equal(t, ev.ID, item.EventID)
	assert.Equal(t, ev.RunID, item.RunID)
	assert.Equal(t, 5, item.AttemptCount)
	assert.Equal(t, datasync.PriorityNormal, item.Priority)
	assert.JSONEq(t, `{"total":"12.00"}`, string(item.Payload))
}

func TestItem_RequeueEscalatesOnce(t *testing.T) {
	item := NewItem(newFailedEvent(t), "boom", datasync.PriorityLow)

	item.MarkRequeued()
	assert.Equal(t, 1, item.RequeueCount)
	assert.Equal(t, 0, item.AttemptCount)

	assert.False(t, item.RecordRequeueFailure("boom", 5, 3))
	assert.False(t, item.RecordRequeueFailure("boom", 5, 3))
	assert.True(t, item.RecordRequeueFailure("boom", 5, 3))
	assert.Equal(t, datasync.PriorityCritical, item.Priority)
	assert.True(t, item.Escalated)

	assert.False(t, item.RecordRequeueFailure("boom", 5, 3), "escalation fires only once")
	assert.Equal(t, 4, item.FailedRequeues)
}

func TestItem_ToEvent(t *testing.T) {
	item := NewItem(newFailedEvent(t), "boom", datasync.PriorityHigh)
	runID := uuid.New()
	ev, err := item.ToEvent(runID)
	require.NoError(t, err)
	assert.NotEqual(t, item.EventID, ev.ID)
	assert.Equal(t, runID, ev.RunID)
	assert.Equal(t, 0, ev.AttemptCount)
	assert.Equal(t, datasync.PriorityHigh, ev.Priority)
	require.NotNil(t, ev.DeadLetterID)
	assert.Equal(t, item.ID, *ev.DeadLetterID)
}
