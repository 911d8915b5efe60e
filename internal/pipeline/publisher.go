package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/luminaux/lumina-backend/internal/clients/redisbus"
	"github.com/luminaux/lumina-backend/internal/domain"
	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/sse"
)

// Publisher is the one-way push surface toward the dashboard.
type Publisher interface {
	CardPublished(card domain.Card)
	CardPatched(eventID uuid.UUID, field string, value any)
	StatusUpdate(status domain.PipelineStatus)
}

type cardPatch struct {
	FrictionEventID uuid.UUID `json:"friction_event_id"`
	Field           string    `json:"field"`
	Value           any       `json:"value"`
}

// dashboardPublisher pushes through the local SSE hub, or through the
// redis bus when one is configured. The bus forwarder delivers to the
// local hub along with every other instance, so publishing to both
// would hand local clients each event twice.
type dashboardPublisher struct {
	log *logger.Logger
	hub *sse.Hub
	bus redisbus.Bus // nil when single-instance
}

func NewDashboardPublisher(log *logger.Logger, hub *sse.Hub, bus redisbus.Bus) Publisher {
	return &dashboardPublisher{
		log: log.With("component", "DashboardPublisher"),
		hub: hub,
		bus: bus,
	}
}

func (p *dashboardPublisher) CardPublished(card domain.Card) {
	p.emit(sse.Message{
		Channel: card.SessionID,
		Event:   sse.EventCardPublished,
		Data:    card,
	})
}

func (p *dashboardPublisher) CardPatched(eventID uuid.UUID, field string, value any) {
	p.emit(sse.Message{
		Channel: sse.ChannelDashboard,
		Event:   sse.EventCardPatched,
		Data:    cardPatch{FrictionEventID: eventID, Field: field, Value: value},
	})
}

func (p *dashboardPublisher) StatusUpdate(status domain.PipelineStatus) {
	p.emit(sse.Message{
		Channel: status.SessionID,
		Event:   sse.EventPipelineStatusUpdate,
		Data:    status,
	})
}

func (p *dashboardPublisher) emit(msg sse.Message) {
	if p.bus == nil {
		p.hub.Broadcast(msg)
		return
	}
	if err := p.bus.Publish(context.Background(), msg); err != nil {
		p.log.Warn("Bus publish failed, falling back to local hub",
			"event", msg.Event, "error", err)
		p.hub.Broadcast(msg)
	}
}
