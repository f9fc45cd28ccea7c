package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/erp/syncengine/internal/infrastructure/scheduler"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// HealthReporter reports dependency health
type HealthReporter interface {
	Report() scheduler.HealthReport
	CheckNow(ctx context.Context) scheduler.HealthReport
}

// SystemHandler serves health and build information
type SystemHandler struct {
	BaseHandler
	health    HealthReporter
	name      string
	version   string
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(health HealthReporter, name, version string) *SystemHandler {
	return &SystemHandler{
		health:    health,
		name:      name,
		version:   version,
		startTime: time.Now(),
	}
}

// HealthResponse is the /health body
type HealthResponse struct {
	Status     string                      `json:"status" example:"healthy"`
	Components []scheduler.ComponentHealth `json:"components"`
	CheckedAt  time.Time                   `json:"checked_at"`
	Uptime     string                      `json:"uptime" example:"1h30m45s"`
}

// Health godoc
// @ID           getHealth
// @Summary      Dependency health
// @Description  Last observed database and Zoho health. refresh=true checks every dependency first.
// @Tags         system
// @Produce      json
// @Param        refresh query bool false "Run the checks now"
// @Success      200 {object} HealthResponse
// @Failure      503 {object} HealthResponse
// @Router       /health [get]
func (h *SystemHandler) Health(c *gin.Context) {
	report := h.health.Report()
	if len(report.Components) == 0 || c.Query("refresh") == "true" {
		report = h.health.CheckNow(c.Request.Context())
	}

	resp := HealthResponse{
		Status:     "healthy",
		Components: report.Components,
		CheckedAt:  report.CheckedAt,
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
	}
	status := http.StatusOK
	if !report.Healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Name      string `json:"name" example:"zoho-sync-engine"`
	Version   string `json:"version" example:"1.0.0"`
	GoVersion string `json:"go_version" example:"go1.25.5"`
	Uptime    string `json:"uptime" example:"1h30m45s"`
}

// GetSystemInfo godoc
// @ID           getSystemSystemInfo
// @Summary      Get system information
// @Tags         system
// @Produce      json
// @Success      200 {object} APIResponse[SystemInfoResponse]
// @Security     BearerAuth
// @Router       /system/info [get]
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(SystemInfoResponse{
		Name:      h.name,
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}))
}
