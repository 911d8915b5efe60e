package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/luminaux/lumina-backend/internal/http/handlers"
	httpMW "github.com/luminaux/lumina-backend/internal/http/middleware"
	"github.com/luminaux/lumina-backend/internal/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	SessionHandler  *httpH.SessionHandler
	CardHandler     *httpH.CardHandler
	MemoryHandler   *httpH.MemoryHandler
	RealtimeHandler *httpH.RealtimeHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	v1 := r.Group("/v1")
	{
		if cfg.SessionHandler != nil {
			v1.POST("/sessions/:sessionId/chunks", cfg.SessionHandler.IngestChunk)
			v1.POST("/sessions/:sessionId/complete", cfg.SessionHandler.Complete)
			v1.DELETE("/sessions/:sessionId", cfg.SessionHandler.Cancel)
			v1.GET("/sessions/:sessionId/status", cfg.SessionHandler.Status)
		}

		if cfg.CardHandler != nil {
			v1.GET("/cards", cfg.CardHandler.ListCards)
			v1.GET("/cards/:eventId", cfg.CardHandler.GetCard)
		}

		if cfg.MemoryHandler != nil {
			v1.GET("/memories", cfg.MemoryHandler.ListMemories)
		}

		if cfg.RealtimeHandler != nil {
			v1.GET("/stream", cfg.RealtimeHandler.Stream)
		}
	}

	return r
}
