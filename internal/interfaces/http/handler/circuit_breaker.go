package handler

import (
	"context"

	domain "github.com/erp/syncengine/internal/domain/breaker"
	"github.com/gin-gonic/gin"
)

// BreakerService exposes breaker state
type BreakerService interface {
	Statuses() []domain.Status
	Reset(ctx context.Context, name string) (domain.Status, error)
}

// CircuitBreakerHandler serves the circuit breaker endpoints
type CircuitBreakerHandler struct {
	BaseHandler
	breakers BreakerService
}

// NewCircuitBreakerHandler creates a new CircuitBreakerHandler
func NewCircuitBreakerHandler(breakers BreakerService) *CircuitBreakerHandler {
	return &CircuitBreakerHandler{breakers: breakers}
}

// ListBreakers godoc
// @ID           listCircuitBreakers
// @Summary      List circuit breakers
// @Tags         circuit-breakers
// @Produce      json
// @Success      200 {object} APIResponse[[]breaker.Status]
// @Security     BearerAuth
// @Router       /circuit-breakers [get]
func (h *CircuitBreakerHandler) ListBreakers(c *gin.Context) {
	h.Success(c, h.breakers.Statuses())
}

// ResetBreaker godoc
// @ID           resetCircuitBreaker
// @Summary      Force a circuit breaker closed
// @Tags         circuit-breakers
// @Produce      json
// @Param        name path string true "Breaker name"
// @Success      200 {object} APIResponse[breaker.Status]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /circuit-breakers/{name}/reset [post]
func (h *CircuitBreakerHandler) ResetBreaker(c *gin.Context) {
	status, err := h.breakers.Reset(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, status)
}
