package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/luminaux/lumina-backend/internal/http/response"
	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/memory"
)

type MemoryHandler struct {
	log      *logger.Logger
	memories memory.Store
}

func NewMemoryHandler(log *logger.Logger, store memory.Store) *MemoryHandler {
	return &MemoryHandler{log: log, memories: store}
}

// GET /v1/memories
func (h *MemoryHandler) ListMemories(c *gin.Context) {
	list, err := h.memories.ListAll(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_memories_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"memories": list})
}
