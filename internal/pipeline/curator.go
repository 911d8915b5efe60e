package pipeline

import (
	"context"
	"fmt"

	"github.com/luminaux/lumina-backend/internal/data/repos/cards"
	"github.com/luminaux/lumina-backend/internal/domain"
	"github.com/luminaux/lumina-backend/internal/logger"
)

// Curator turns a completed diagnosis into the card designers see. The
// publish is on the critical path; nothing downstream of it blocks.
type Curator struct {
	log       *logger.Logger
	cards     cards.CardRepo
	publisher Publisher
}

func NewCurator(log *logger.Logger, repo cards.CardRepo, publisher Publisher) *Curator {
	return &Curator{
		log:       log.With("component", "Curator"),
		cards:     repo,
		publisher: publisher,
	}
}

// Publish builds and persists the card in its initial state: diagnosis
// set, no benchmark, mockup PENDING. Exactly once per event.
func (c *Curator) Publish(ctx context.Context, event *domain.FrictionEvent, vc *domain.VisualContext, diag *domain.Diagnosis) (*domain.Card, error) {
	card := &domain.Card{
		FrictionEventID:    event.ID,
		SessionID:          event.SessionID,
		Category:           diag.Category,
		Severity:           diag.Severity,
		SeverityLabel:      domain.SeverityLabel(diag.Severity),
		RootCause:          diag.RootCause,
		FixSuggestion:      diag.FixSuggestion,
		ReferencePatternID: diag.ReferencePatternID,
		Evidence:           makeEvidence(event, vc),
		MockupStatus:       domain.MockupPending,
	}
	if vc != nil {
		card.Page = vc.Page
		card.Element = vc.Element
	}

	if err := c.cards.Publish(ctx, card); err != nil {
		return nil, err
	}
	c.publisher.CardPublished(*card)
	c.log.Info("Card published",
		"event_id", event.ID,
		"session_id", event.SessionID,
		"category", card.Category,
		"severity", card.Severity,
	)
	return card, nil
}

// makeEvidence renders the human-readable evidence line shown on the
// card.
func makeEvidence(event *domain.FrictionEvent, vc *domain.VisualContext) string {
	page := "unknown page"
	if vc != nil && vc.Page != "" {
		page = vc.Page + " page"
	}
	return fmt.Sprintf("[%.1fs] %s (score: %.2f, signal: %s) on %s, %q",
		event.Timestamp, event.Score.Sentiment, event.Score.FusedScore,
		event.Score.WinningSignal, page, event.Excerpt)
}
