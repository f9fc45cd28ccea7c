package handler

import (
	"net/http"
	"testing"

	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/infrastructure/auth"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/erp/syncengine/tests/testutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSyncHandler_RunCases(t *testing.T) {
	runs := newFakeRuns()
	running := runs.add(datasync.RunStatusRunning, nil)
	done := runs.add(datasync.RunStatusCompleted, nil)
	h := NewSyncHandler(runs)

	id := func(u uuid.UUID) gin.Params { return gin.Params{{Key: "id", Value: u.String()}} }

	t.Run("get", func(t *testing.T) {
		testutil.RunHandlerCases(t, h.GetRun, []testutil.HandlerCase{
			{
				Name:       "known run",
				Params:     id(done.ID),
				WantStatus: http.StatusOK,
				Check: func(t *testing.T, tc *testutil.TestContext) {
					run := testutil.DataAs[dto.RunResponse](t, tc)
					assert.Equal(t, done.ID.String(), run.ID)
					assert.Equal(t, string(datasync.RunStatusCompleted), run.Status)
				},
			},
			{Name: "unknown run", Params: id(uuid.New()), WantStatus: http.StatusNotFound, WantError: dto.ErrCodeNotFound},
			{Name: "malformed id", Params: gin.Params{{Key: "id", Value: "run-1"}}, WantStatus: http.StatusBadRequest, WantError: dto.ErrCodeBadRequest},
		})
	})

	t.Run("cancel", func(t *testing.T) {
		testutil.RunHandlerCases(t, h.CancelRun, []testutil.HandlerCase{
			{
				Name:       "finished run",
				Method:     http.MethodPost,
				Params:     id(done.ID),
				Subject:    "ops@example.com",
				Role:       auth.RoleOperator,
				WantStatus: http.StatusUnprocessableEntity,
				WantError:  dto.ErrCodeInvalidState,
			},
			{
				Name:       "running run",
				Method:     http.MethodPost,
				Params:     id(running.ID),
				Subject:    "ops@example.com",
				Role:       auth.RoleOperator,
				WantStatus: http.StatusOK,
				Check: func(t *testing.T, tc *testutil.TestContext) {
					assert.Equal(t, string(datasync.RunStatusCancelled), testutil.DataAs[dto.RunResponse](t, tc).Status)
				},
			},
		})
	})
}
