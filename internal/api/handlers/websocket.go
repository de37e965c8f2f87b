package handlers

import (
	"net/http"

	"signaling-service/internal/api/middleware"
	"signaling-service/internal/websocket"
	"signaling-service/pkg/response"

	"github.com/gin-gonic/gin"
)

type WSHandler struct {
	hub *websocket.Hub
}

func NewWSHandler(hub *websocket.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// HandleWebSocket godoc
// @Summary Signaling connection
// @Description Upgrade to a WebSocket carrying {"event","data"} JSON frames. Inbound events: join-room, leave-room, signal, send-message, call-started. Outbound events: user-connected, users-in-room, user-disconnected, signal, receive-message, error.
// @Tags signaling
// @Param token query string false "JWT credential (or Authorization: Bearer header)"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} response.ErrorResponse "Missing or invalid credential"
// @Failure 403 "Origin not allowed"
// @Failure 429 {object} response.ErrorResponse "Too many handshakes"
// @Router /api/v1/ws [get]
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Abort(c, http.StatusUnauthorized, response.AuthFailed, "missing credential")
		return
	}

	h.hub.ServeWS(c.Writer, c.Request, userID)
}
