package app

import (
	httpH "github.com/luminaux/lumina-backend/internal/http/handlers"
	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/sse"
)

type Handlers struct {
	Session  *httpH.SessionHandler
	Card     *httpH.CardHandler
	Memory   *httpH.MemoryHandler
	Realtime *httpH.RealtimeHandler
	Health   *httpH.HealthHandler
}

func wireHandlers(log *logger.Logger, repos Repos, services Services, hub *sse.Hub) Handlers {
	return Handlers{
		Session:  httpH.NewSessionHandler(log, services.Orchestrator),
		Card:     httpH.NewCardHandler(log, repos.Cards),
		Memory:   httpH.NewMemoryHandler(log, services.Memories),
		Realtime: httpH.NewRealtimeHandler(log, hub),
		Health:   httpH.NewHealthHandler(),
	}
}
