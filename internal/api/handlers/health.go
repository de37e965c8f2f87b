package handlers

import (
	"net/http"

	"signaling-service/internal/websocket"

	"github.com/gin-gonic/gin"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type StatsHandler struct {
	hub *websocket.Hub
}

func NewStatsHandler(hub *websocket.Hub) *StatsHandler {
	return &StatsHandler{hub: hub}
}

// Health godoc
// @Summary Liveness probe
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /healthz [get]
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// GetStats godoc
// @Summary Relay statistics
// @Description Number of registered users and member count per active room.
// @Tags signaling
// @Produce json
// @Security BearerAuth
// @Success 200 {object} websocket.Stats
// @Failure 401 {object} response.ErrorResponse
// @Router /api/v1/stats [get]
func (h *StatsHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Stats())
}
