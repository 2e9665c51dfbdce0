// Package handlers provides HTTP API request handlers.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/agentstream/realtime/internal/ws"
)

// WebSocketHandler exposes the realtime channel's upgrade endpoint.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{wsHandler: wsHandler}
}

// Connect handles GET /ws - admits and upgrades a realtime connection.
// Admission failures are answered by the underlying handler before any
// session exists.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	if err := h.wsHandler.HandleConnection(c.Writer, c.Request); err != nil {
		// Response already written by the admission/upgrade path.
		c.Abort()
	}
}

// RegisterRoutes registers the websocket route on a Gin router.
func (h *WebSocketHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws", h.Connect)
}
