package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/luminaux/lumina-backend/internal/data/repos/cards"
	"github.com/luminaux/lumina-backend/internal/http/response"
	"github.com/luminaux/lumina-backend/internal/logger"
)

type CardHandler struct {
	log   *logger.Logger
	cards cards.CardRepo
}

func NewCardHandler(log *logger.Logger, repo cards.CardRepo) *CardHandler {
	return &CardHandler{log: log, cards: repo}
}

// GET /v1/cards?session_id=...
func (h *CardHandler) ListCards(c *gin.Context) {
	if sessionID := c.Query("session_id"); sessionID != "" {
		list, err := h.cards.ListBySession(c.Request.Context(), sessionID)
		if err != nil {
			response.RespondError(c, http.StatusInternalServerError, "list_cards_failed", err)
			return
		}
		response.RespondOK(c, gin.H{"cards": list})
		return
	}
	list, err := h.cards.ListAll(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_cards_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"cards": list})
}

// GET /v1/cards/:eventId
func (h *CardHandler) GetCard(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_event_id", err)
		return
	}
	card, err := h.cards.GetByEventID(c.Request.Context(), eventID)
	if err != nil {
		response.RespondError(c, http.StatusNotFound, "card_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"card": card})
}
