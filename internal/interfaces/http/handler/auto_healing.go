package handler

import (
	"context"

	"github.com/erp/syncengine/internal/domain/reconciliation"
	"github.com/gin-gonic/gin"
)

// HealingService runs and reports reconciliation passes
type HealingService interface {
	TriggerAutoHealing(ctx context.Context) (*reconciliation.Report, error)
	Stats(ctx context.Context) (reconciliation.AutoHealingStats, error)
	LatestReport(ctx context.Context) (*reconciliation.Report, error)
}

// AutoHealingHandler serves reconciliation stats and manual passes
type AutoHealingHandler struct {
	BaseHandler
	engine HealingService
}

// NewAutoHealingHandler creates a new AutoHealingHandler
func NewAutoHealingHandler(engine HealingService) *AutoHealingHandler {
	return &AutoHealingHandler{engine: engine}
}

// CombinedStats godoc
// @ID           getCombinedStats
// @Summary      Latest reconciliation report
// @Description  Per-type comparison stats, open discrepancies and the data quality score of the newest pass.
// @Tags         stats
// @Produce      json
// @Success      200 {object} APIResponse[reconciliation.Report]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /stats/combined [get]
func (h *AutoHealingHandler) CombinedStats(c *gin.Context) {
	report, err := h.engine.LatestReport(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

// GetStats godoc
// @ID           getAutoHealingStats
// @Summary      Auto-healing counters
// @Tags         auto-healing
// @Produce      json
// @Success      200 {object} APIResponse[reconciliation.AutoHealingStats]
// @Security     BearerAuth
// @Router       /auto-healing/stats [get]
func (h *AutoHealingHandler) GetStats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}

// RunPass godoc
// @ID           runAutoHealing
// @Summary      Run a reconciliation pass now
// @Tags         auto-healing
// @Produce      json
// @Success      200 {object} APIResponse[reconciliation.Report]
// @Failure      409 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /auto-healing/run [post]
func (h *AutoHealingHandler) RunPass(c *gin.Context) {
	report, err := h.engine.TriggerAutoHealing(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}
