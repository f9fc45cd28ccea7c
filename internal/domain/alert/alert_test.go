package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAlert(t *testing.T) {
	key := "breaker:zoho_api"
	a, err := NewAlert(SeverityCritical, "Breaker open", "zoho_api tripped", &key, "breaker")
	require.NoError(t, err)
	assert.True(t, a.IsActive)
	assert.False(t, a.Acknowledged)
	assert.Equal(t, 1, a.Occurrences)
	assert.Equal(t, key, *a.DedupeKey)

	empty := ""
	a, err = NewAlert(SeverityInfo, "t", "", &empty, "")
	require.NoError(t, err)
	assert.Nil(t, a.DedupeKey)

	_, err = NewAlert("fatal", "t", "", nil, "")
	assert.ErrorIs(t, err, ErrInvalidSeverity)
	_, err = NewAlert(SeverityInfo, "", "", nil, "")
	assert.ErrorIs(t, err, ErrTitleRequired)
}

func TestAlert_AcknowledgeIsOneWay(t *testing.T) {
	a, err := NewAlert(SeverityError, "t", "m", nil, "")
	require.NoError(t, err)

	assert.ErrorIs(t, a.Acknowledge(""), ErrAcknowledgerMissing)
	require.NoError(t, a.Acknowledge("ops@example.com"))
	assert.False(t, a.IsActive)
	assert.True(t, a.Acknowledged)
	assert.NotNil(t, a.AcknowledgedAt)

	assert.ErrorIs(t, a.Acknowledge("someone-else"), ErrAlreadyAcknowledged)
	assert.Equal(t, "ops@example.com", a.AcknowledgedBy)
}
