package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentstream/realtime/internal/ws"
)

// HealthHandler reports liveness of the hub's control loop, independent of
// the socket protocol.
type HealthHandler struct {
	hub *ws.Hub
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(hub *ws.Hub) *HealthHandler {
	return &HealthHandler{hub: hub}
}

// Health handles GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	if !h.hub.Running() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stopped"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": h.hub.SessionCount(),
	})
}

// RegisterRoutes registers the health route on a Gin router.
func (h *HealthHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.Health)
}
