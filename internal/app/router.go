package app

import (
	"github.com/gin-gonic/gin"

	luminahttp "github.com/luminaux/lumina-backend/internal/http"
	"github.com/luminaux/lumina-backend/internal/logger"
)

func wireRouter(log *logger.Logger, handlers Handlers) *gin.Engine {
	return luminahttp.NewRouter(luminahttp.RouterConfig{
		Log:             log,
		SessionHandler:  handlers.Session,
		CardHandler:     handlers.Card,
		MemoryHandler:   handlers.Memory,
		RealtimeHandler: handlers.Realtime,
		HealthHandler:   handlers.Health,
	})
}
