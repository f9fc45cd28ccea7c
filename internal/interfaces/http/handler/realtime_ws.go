package handler

import (
	"context"
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const wsWriteTimeout = 10 * time.Second

// WebSocket godoc
// @ID           realtimeWebSocket
// @Summary      Subscribe to sync notifications over a websocket
// @Description  Every bus message is sent as a JSON text frame. Heartbeat frames keep idle connections open.
// @Description  Browsers pass the bearer token in the token query parameter.
// @Tags         realtime
// @Param        token query string false "Bearer token"
// @Param        types query string false "Comma separated event types"
// @Success      101
// @Failure      401 {object} ErrorResponse
// @Failure      503 {object} ErrorResponse
// @Router       /realtime/ws [get]
func (h *RealtimeHub) WebSocket(c *gin.Context) {
	cl, ok := h.admit(c, "websocket")
	if !ok {
		return
	}
	defer h.leave(cl)

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.String("client_id", cl.id), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead answers pings and cancels ctx on close.
	ctx := conn.CloseRead(c.Request.Context())

	if err := writeFrame(ctx, conn, connectedFrame(cl)); err != nil {
		return
	}

	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.closed:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case msg, ok := <-cl.sub.C():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "subscription closed")
				return
			}
			if err := writeFrame(ctx, conn, msg); err != nil {
				h.logger.Debug("Websocket write failed", zap.String("client_id", cl.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := writeFrame(ctx, conn, heartbeatFrame()); err != nil {
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, msg shared.Message) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
