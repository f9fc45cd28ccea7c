package handler

import (
	"context"
	"net/http"

	appdl "github.com/erp/syncengine/internal/application/deadletter"
	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/domain/deadletter"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DeadLetterService is the dead-letter store as seen by operators
type DeadLetterService interface {
	List(ctx context.Context, filter deadletter.Filter) (shared.Paginated[deadletter.Item], error)
	Get(ctx context.Context, id uuid.UUID) (*deadletter.Item, error)
	Requeue(ctx context.Context, id uuid.UUID) (*appdl.RequeueResult, error)
	RequeueAll(ctx context.Context, priority *datasync.Priority) (*appdl.RequeueAllResult, error)
	Purge(ctx context.Context, id uuid.UUID) error
	Stats(ctx context.Context) (*appdl.Stats, error)
}

// DeadLetterHandler serves the dead-letter endpoints
type DeadLetterHandler struct {
	BaseHandler
	items DeadLetterService
}

// NewDeadLetterHandler creates a new DeadLetterHandler
func NewDeadLetterHandler(items DeadLetterService) *DeadLetterHandler {
	return &DeadLetterHandler{items: items}
}

// ListItems godoc
// @ID           listDeadLetterItems
// @Summary      List dead-letter items
// @Tags         dead-letter
// @Produce      json
// @Param        priority query string false "low, normal, high or critical"
// @Param        entity_type query string false "Entity type"
// @Param        page query int false "Page"
// @Param        page_size query int false "Page size"
// @Success      200 {object} PagedResponse[dto.DeadLetterItemResponse]
// @Security     BearerAuth
// @Router       /dead-letter [get]
func (h *DeadLetterHandler) ListItems(c *gin.Context) {
	var req dto.DeadLetterListRequest
	if !h.BindQuery(c, &req) {
		return
	}
	page, err := h.items.List(c.Request.Context(), req.Filter())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewPageResponse(page, dto.NewDeadLetterItemResponse))
}

// GetItem godoc
// @ID           getDeadLetterItem
// @Summary      Get a dead-letter item
// @Tags         dead-letter
// @Produce      json
// @Param        id path string true "Item ID"
// @Success      200 {object} APIResponse[dto.DeadLetterItemResponse]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /dead-letter/{id} [get]
func (h *DeadLetterHandler) GetItem(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	item, err := h.items.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewDeadLetterItemResponse(*item))
}

// RequeueItem godoc
// @ID           requeueDeadLetterItem
// @Summary      Requeue a dead-letter item
// @Description  Resets attempts and resubmits the event in a new run.
// @Tags         dead-letter
// @Produce      json
// @Param        id path string true "Item ID"
// @Success      202 {object} APIResponse[deadletter.RequeueResult]
// @Failure      404 {object} ErrorResponse
// @Failure      503 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /dead-letter/{id}/requeue [post]
func (h *DeadLetterHandler) RequeueItem(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	res, err := h.items.Requeue(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, res)
}

// RequeueAll godoc
// @ID           requeueAllDeadLetterItems
// @Summary      Requeue every dead-letter item
// @Tags         dead-letter
// @Accept       json
// @Produce      json
// @Param        request body dto.RequeueAllRequest false "Priority filter"
// @Success      202 {object} APIResponse[deadletter.RequeueAllResult]
// @Failure      503 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /dead-letter/requeue-all [post]
func (h *DeadLetterHandler) RequeueAll(c *gin.Context) {
	var req dto.RequeueAllRequest
	if !h.BindJSON(c, &req) {
		return
	}
	var priority *datasync.Priority
	if req.Priority != "" {
		p := datasync.Priority(req.Priority)
		priority = &p
	}
	res, err := h.items.RequeueAll(c.Request.Context(), priority)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, res)
}

// PurgeItem godoc
// @ID           purgeDeadLetterItem
// @Summary      Delete a dead-letter item
// @Tags         dead-letter
// @Param        id path string true "Item ID"
// @Success      204
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /dead-letter/{id} [delete]
func (h *DeadLetterHandler) PurgeItem(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	if err := h.items.Purge(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// GetStats godoc
// @ID           getDeadLetterStats
// @Summary      Count dead-letter items by priority
// @Tags         dead-letter
// @Produce      json
// @Success      200 {object} APIResponse[deadletter.Stats]
// @Security     BearerAuth
// @Router       /dead-letter/stats [get]
func (h *DeadLetterHandler) GetStats(c *gin.Context) {
	stats, err := h.items.Stats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}
