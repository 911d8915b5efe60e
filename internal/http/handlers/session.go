package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/luminaux/lumina-backend/internal/domain"
	"github.com/luminaux/lumina-backend/internal/http/response"
	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/pipeline"
)

type SessionHandler struct {
	log      *logger.Logger
	pipeline *pipeline.Orchestrator
}

func NewSessionHandler(log *logger.Logger, o *pipeline.Orchestrator) *SessionHandler {
	return &SessionHandler{log: log, pipeline: o}
}

// POST /v1/sessions/:sessionId/chunks
func (h *SessionHandler) IngestChunk(c *gin.Context) {
	var chunk domain.AudioChunk
	if err := c.ShouldBindJSON(&chunk); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_chunk", err)
		return
	}
	chunk.SessionID = c.Param("sessionId")

	if err := h.pipeline.SubmitChunk(chunk); err != nil {
		switch {
		case errors.Is(err, pipeline.ErrSessionClosed):
			response.RespondError(c, http.StatusConflict, "session_closed", err)
		case errors.Is(err, pipeline.ErrQueueFull):
			response.RespondError(c, http.StatusServiceUnavailable, "queue_full", err)
		default:
			response.RespondError(c, http.StatusBadRequest, "submit_chunk_failed", err)
		}
		return
	}
	response.RespondAccepted(c, gin.H{
		"session_id":  chunk.SessionID,
		"chunk_index": chunk.ChunkIndex,
	})
}

// POST /v1/sessions/:sessionId/complete
func (h *SessionHandler) Complete(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if err := h.pipeline.CompleteSession(sessionID); err != nil {
		response.RespondError(c, http.StatusBadRequest, "complete_session_failed", err)
		return
	}
	status, _ := h.pipeline.Status(sessionID)
	response.RespondOK(c, gin.H{"status": status})
}

// DELETE /v1/sessions/:sessionId
func (h *SessionHandler) Cancel(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if err := h.pipeline.CancelSession(sessionID); err != nil {
		if errors.Is(err, pipeline.ErrUnknownSession) {
			response.RespondError(c, http.StatusNotFound, "session_not_found", err)
			return
		}
		response.RespondError(c, http.StatusBadRequest, "cancel_session_failed", err)
		return
	}
	status, _ := h.pipeline.Status(sessionID)
	response.RespondOK(c, gin.H{"status": status})
}

// GET /v1/sessions/:sessionId/status
func (h *SessionHandler) Status(c *gin.Context) {
	sessionID := c.Param("sessionId")
	status, ok := h.pipeline.Status(sessionID)
	if !ok {
		response.RespondError(c, http.StatusNotFound, "session_not_found",
			errors.New("session "+sessionID+" not found"))
		return
	}
	response.RespondOK(c, gin.H{"status": status})
}
