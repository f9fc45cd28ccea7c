package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/erp/syncengine/internal/application/webhook"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// WebhookReceiver handles signed Zoho deliveries
type WebhookReceiver interface {
	Receive(ctx context.Context, body []byte, signature string) (*webhook.Result, error)
}

// WebhookHandler is the unauthenticated Zoho intake; the signature header
// replaces the bearer token.
type WebhookHandler struct {
	BaseHandler
	receiver WebhookReceiver
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(receiver WebhookReceiver) *WebhookHandler {
	return &WebhookHandler{receiver: receiver}
}

// ReceiveZoho godoc
// @ID           receiveZohoWebhook
// @Summary      Receive a Zoho change notification
// @Description  Verifies the HMAC-SHA256 signature, validates the body and starts a webhook run.
// @Description  A redelivered delivery_id returns 200 with duplicate=true.
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        X-Zoho-Webhook-Signature header string true "Hex HMAC-SHA256 of the body"
// @Success      200 {object} APIResponse[webhook.Result]
// @Success      202 {object} APIResponse[webhook.Result]
// @Failure      400 {object} ErrorResponse
// @Failure      401 {object} ErrorResponse
// @Failure      413 {object} ErrorResponse
// @Router       /webhooks/zoho [post]
func (h *WebhookHandler) ReceiveZoho(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeBodyTooLarge, "Request body too large")
			return
		}
		h.BadRequest(c, "Failed to read request body")
		return
	}

	res, err := h.receiver.Receive(c.Request.Context(), body, c.GetHeader(webhook.SignatureHeader))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if res.Duplicate {
		h.Success(c, res)
		return
	}
	h.Accepted(c, res)
}
