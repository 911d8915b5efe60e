package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/sse"
)

type RealtimeHandler struct {
	log *logger.Logger
	hub *sse.Hub
}

func NewRealtimeHandler(log *logger.Logger, hub *sse.Hub) *RealtimeHandler {
	return &RealtimeHandler{log: log, hub: hub}
}

// GET /v1/stream?session_id=...
//
// Without a session_id the client gets the dashboard firehose; with one
// it gets only that session's events.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	client := h.hub.NewClient()
	if sessionID := c.Query("session_id"); sessionID != "" {
		h.hub.AddChannel(client, sessionID)
	} else {
		h.hub.AddChannel(client, sse.ChannelDashboard)
	}
	h.log.Info("SSE stream open", "client_id", client.ID)

	h.hub.ServeHTTP(c.Writer, c.Request, client)

	h.hub.RemoveClient(client)
	h.log.Info("SSE stream closed", "client_id", client.ID)
}
