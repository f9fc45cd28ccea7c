package handler

import (
	"context"
	"net/http"

	"github.com/erp/syncengine/internal/domain/alert"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/erp/syncengine/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AlertService lists and acknowledges alerts
type AlertService interface {
	List(ctx context.Context, filter alert.Filter) (shared.Paginated[alert.Alert], error)
	Acknowledge(ctx context.Context, id uuid.UUID, by string) (*alert.Alert, error)
}

// AlertHandler serves the alert endpoints
type AlertHandler struct {
	BaseHandler
	alerts AlertService
}

// NewAlertHandler creates a new AlertHandler
func NewAlertHandler(alerts AlertService) *AlertHandler {
	return &AlertHandler{alerts: alerts}
}

// ListAlerts godoc
// @ID           listAlerts
// @Summary      List alerts
// @Tags         alerts
// @Produce      json
// @Param        severity query string false "info, warning, error or critical"
// @Param        is_active query bool false "Only active or only cleared alerts"
// @Param        source query string false "Raising component"
// @Param        page query int false "Page"
// @Param        page_size query int false "Page size"
// @Success      200 {object} PagedResponse[dto.AlertResponse]
// @Security     BearerAuth
// @Router       /alerts [get]
func (h *AlertHandler) ListAlerts(c *gin.Context) {
	var req dto.AlertListRequest
	if !h.BindQuery(c, &req) {
		return
	}
	page, err := h.alerts.List(c.Request.Context(), req.Filter())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewPageResponse(page, dto.NewAlertResponse))
}

// AcknowledgeAlert godoc
// @ID           acknowledgeAlert
// @Summary      Acknowledge an alert
// @Description  The token subject is recorded as the acknowledger.
// @Tags         alerts
// @Produce      json
// @Param        id path string true "Alert ID"
// @Success      200 {object} APIResponse[dto.AlertResponse]
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /alerts/{id}/acknowledge [post]
func (h *AlertHandler) AcknowledgeAlert(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	by := middleware.GetJWTSubject(c)
	if by == "" {
		h.Unauthorized(c, "Token subject is required to acknowledge")
		return
	}
	a, err := h.alerts.Acknowledge(c.Request.Context(), id, by)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewAlertResponse(*a))
}
