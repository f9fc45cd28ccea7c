package handler

import (
	"context"
	"net/http"
	"strings"

	appsync "github.com/erp/syncengine/internal/application/datasync"
	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RunService is the part of the orchestrator the API drives
type RunService interface {
	StartRun(ctx context.Context, in appsync.StartRunInput) (*appsync.StartRunResult, error)
	GetRun(ctx context.Context, id uuid.UUID) (*datasync.SyncRun, error)
	ListRuns(ctx context.Context, filter datasync.RunFilter) (shared.Paginated[datasync.SyncRun], error)
	CancelRun(ctx context.Context, id uuid.UUID) (*datasync.SyncRun, error)
}

// SyncHandler triggers and inspects sync runs
type SyncHandler struct {
	BaseHandler
	runs RunService
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(runs RunService) *SyncHandler {
	return &SyncHandler{runs: runs}
}

// TriggerSync godoc
// @ID           triggerSync
// @Summary      Start a manual sync run
// @Description  Starts a run for one entity type, or every type when entity_type is "all".
// @Description  item_ids restricts the run to those records and needs a concrete entity type.
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        entity_type path string true "Entity type or all"
// @Param        request body dto.TriggerSyncRequest false "Explicit ids"
// @Success      202 {object} APIResponse[dto.TriggerSyncResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      503 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /sync/{entity_type} [post]
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	in := appsync.StartRunInput{Trigger: datasync.RunTypeManual}

	param := c.Param("entity_type")
	if !strings.EqualFold(param, dto.AllEntityTypesParam) {
		et, err := datasync.ParseEntityType(param)
		if err != nil {
			h.BadRequest(c, "Unknown entity type: "+param)
			return
		}
		in.EntityType = &et
	}

	var req dto.TriggerSyncRequest
	if !h.BindJSON(c, &req) {
		return
	}
	in.ExplicitIDs = req.ItemIDs

	res, err := h.runs.StartRun(c.Request.Context(), in)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, dto.TriggerSyncResponse{RunID: res.RunID.String()})
}

// ListRuns godoc
// @ID           listRuns
// @Summary      List sync runs
// @Tags         sync
// @Produce      json
// @Param        page query int false "Page"
// @Param        page_size query int false "Page size"
// @Param        status query string false "Run status"
// @Param        entity_type query string false "Entity type"
// @Param        run_type query string false "manual, scheduled or webhook"
// @Success      200 {object} PagedResponse[dto.RunResponse]
// @Security     BearerAuth
// @Router       /runs [get]
func (h *SyncHandler) ListRuns(c *gin.Context) {
	var req dto.RunListRequest
	if !h.BindQuery(c, &req) {
		return
	}
	page, err := h.runs.ListRuns(c.Request.Context(), req.Filter())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewPageResponse(page, dto.NewRunResponse))
}

// GetRun godoc
// @ID           getRun
// @Summary      Get a sync run
// @Tags         sync
// @Produce      json
// @Param        id path string true "Run ID"
// @Success      200 {object} APIResponse[dto.RunResponse]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /runs/{id} [get]
func (h *SyncHandler) GetRun(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	run, err := h.runs.GetRun(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewRunResponse(*run))
}

// CancelRun godoc
// @ID           cancelRun
// @Summary      Cancel a running sync run
// @Description  Queued events of the run are marked skipped.
// @Tags         sync
// @Produce      json
// @Param        id path string true "Run ID"
// @Success      200 {object} APIResponse[dto.RunResponse]
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /runs/{id}/cancel [post]
func (h *SyncHandler) CancelRun(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	run, err := h.runs.CancelRun(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewRunResponse(*run))
}
