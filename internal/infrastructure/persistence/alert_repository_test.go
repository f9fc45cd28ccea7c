package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/erp/syncengine/internal/domain/alert"
	"github.com/erp/syncengine/internal/domain/breaker"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormAlertRepository_DedupeLookupAndTouch(t *testing.T) {
	ctx := context.Background()
	repo := NewGormAlertRepository(newTestDB(t))

	key := "breaker:zoho_api"
	a, err := alert.NewAlert(alert.SeverityCritical, "Circuit breaker open", "zoho_api tripped", &key, "circuit_breaker")
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, a))

	found, err := repo.FindActiveByDedupeKey(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, a.ID, found.ID)

	seen := time.Now().UTC().Add(time.Minute)
	require.NoError(t, repo.TouchOccurrence(ctx, a.ID, seen))
	got, err := repo.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Occurrences)
	assert.WithinDuration(t, seen, got.LastSeenAt, time.Second)

	require.NoError(t, got.Acknowledge("ops@example.com"))
	require.NoError(t, repo.Acknowledge(ctx, got))

	found, err = repo.FindActiveByDedupeKey(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, found, "acknowledged alerts are not dedupe targets")

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, alert.ErrAlertNotFound)
}

func TestGormAlertRepository_AcknowledgeOnlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewGormAlertRepository(newTestDB(t))

	a, err := alert.NewAlert(alert.SeverityWarning, "Conflict", "price differs", nil, "reconciliation")
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, a))

	// Two operators load the alert before either saves.
	first, err := repo.FindByID(ctx, a.ID)
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, a.ID)
	require.NoError(t, err)

	require.NoError(t, first.Acknowledge("alice@example.com"))
	require.NoError(t, repo.Acknowledge(ctx, first))
	require.NoError(t, second.Acknowledge("bob@example.com"))
	assert.ErrorIs(t, repo.Acknowledge(ctx, second), alert.ErrAlreadyAcknowledged)

	got, err := repo.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.AcknowledgedBy)

	missing, err := alert.NewAlert(alert.SeverityInfo, "Gone", "", nil, "test")
	require.NoError(t, err)
	require.NoError(t, missing.Acknowledge("alice@example.com"))
	assert.ErrorIs(t, repo.Acknowledge(ctx, missing), alert.ErrAlertNotFound)
}

func TestGormAlertRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewGormAlertRepository(newTestDB(t))

	for _, sev := range []alert.Severity{alert.SeverityInfo, alert.SeverityWarning, alert.SeverityWarning} {
		a, err := alert.NewAlert(sev, "t", "m", nil, "reconciliation")
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, a))
	}

	warning := alert.SeverityWarning
	active := true
	alerts, total, err := repo.List(ctx, alert.Filter{Severity: &warning, IsActive: &active})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, alerts, 2)

	inactive := false
	_, total, err = repo.List(ctx, alert.Filter{IsActive: &inactive})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestGormBreakerRepository_SaveUpserts(t *testing.T) {
	ctx := context.Background()
	repo := NewGormBreakerRepository(newTestDB(t))

	now := time.Now().UTC()
	retry := now.Add(30 * time.Second)
	require.NoError(t, repo.Save(ctx, breaker.Status{
		Name: "zoho_api", State: breaker.StateOpen, FailureCount: 5, FailureThreshold: 5,
		ConsecutiveTrips: 1, LastStateChange: now, NextRetryAt: &retry,
	}))
	require.NoError(t, repo.Save(ctx, breaker.Status{
		Name: "zoho_api", State: breaker.StateClosed, FailureThreshold: 5, LastStateChange: now,
	}))
	require.NoError(t, repo.Save(ctx, breaker.Status{
		Name: "zoho_inventory_push", State: breaker.StateClosed, FailureThreshold: 5, LastStateChange: now,
	}))

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "zoho_api", all[0].Name)
	assert.Equal(t, breaker.StateClosed, all[0].State)
	assert.Nil(t, all[0].NextRetryAt)
}
