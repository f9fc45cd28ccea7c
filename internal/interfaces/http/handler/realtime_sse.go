package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stream godoc
// @ID           realtimeSSE
// @Summary      Subscribe to sync notifications via SSE
// @Description  Server-Sent Events fallback for clients without websockets.
// @Tags         realtime
// @Produce      text/event-stream
// @Param        types query string false "Comma separated event types"
// @Success      200 {string} string "SSE stream"
// @Failure      401 {object} ErrorResponse
// @Failure      503 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /realtime/sse [get]
func (h *RealtimeHub) Stream(c *gin.Context) {
	cl, ok := h.admit(c, "sse")
	if !ok {
		return
	}
	defer h.leave(cl)

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if err := writeSSE(c.Writer, connectedFrame(cl)); err != nil {
		return
	}
	c.Writer.Flush()

	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	reqCtx := c.Request.Context()
	for {
		var msg shared.Message
		select {
		case <-reqCtx.Done():
			return
		case <-h.closed:
			return
		case m, ok := <-cl.sub.C():
			if !ok {
				return
			}
			msg = m
		case <-ticker.C:
			msg = heartbeatFrame()
		}
		if err := writeSSE(c.Writer, msg); err != nil {
			h.logger.Debug("SSE write failed", zap.String("client_id", cl.id), zap.Error(err))
			return
		}
		c.Writer.Flush()
	}
}

// writeSSE writes one event. The event name is the message type.
func writeSSE(w io.Writer, msg shared.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", msg.Type); err != nil {
		return err
	}
	if msg.ID != uuid.Nil {
		if _, err := fmt.Fprintf(w, "id: %s\n", msg.ID); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
