// Package cards persists published friction cards. A card is inserted
// once at publish; enrichment patches touch disjoint column sets so
// concurrent patches never clobber each other.
package cards

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/luminaux/lumina-backend/internal/domain"
	"github.com/luminaux/lumina-backend/internal/logger"
)

type CardRepo interface {
	Publish(ctx context.Context, card *domain.Card) error
	GetByEventID(ctx context.Context, eventID uuid.UUID) (*domain.Card, error)
	ListBySession(ctx context.Context, sessionID string) ([]domain.Card, error)
	ListAll(ctx context.Context) ([]domain.Card, error)
	PatchBenchmark(ctx context.Context, eventID uuid.UUID, b domain.Benchmark) error
	SetMockupStatus(ctx context.Context, eventID uuid.UUID, status string) error
	PatchMockup(ctx context.Context, eventID uuid.UUID, status, imageRef string) error
}

type cardRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCardRepo(db *gorm.DB, baseLog *logger.Logger) CardRepo {
	return &cardRepo{
		db:  db,
		log: baseLog.With("repo", "CardRepo"),
	}
}

func (r *cardRepo) Publish(ctx context.Context, card *domain.Card) error {
	now := time.Now().UTC()
	if card.PublishedAt.IsZero() {
		card.PublishedAt = now
	}
	card.UpdatedAt = now
	// Replays of the same publish are no-ops.
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(card).Error
}

func (r *cardRepo) GetByEventID(ctx context.Context, eventID uuid.UUID) (*domain.Card, error) {
	var out domain.Card
	if err := r.db.WithContext(ctx).
		Where("friction_event_id = ?", eventID).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *cardRepo) ListBySession(ctx context.Context, sessionID string) ([]domain.Card, error) {
	var out []domain.Card
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("published_at asc").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *cardRepo) ListAll(ctx context.Context) ([]domain.Card, error) {
	var out []domain.Card
	if err := r.db.WithContext(ctx).
		Order("published_at asc").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *cardRepo) PatchBenchmark(ctx context.Context, eventID uuid.UUID, b domain.Benchmark) error {
	examples, err := json.Marshal(b.Examples)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Model(&domain.Card{}).
		Where("friction_event_id = ?", eventID).
		Updates(map[string]interface{}{
			"benchmark_source":   b.Source,
			"benchmark_text":     b.Recommendation,
			"benchmark_examples": datatypes.JSON(examples),
			"updated_at":         time.Now().UTC(),
		}).Error
}

func (r *cardRepo) SetMockupStatus(ctx context.Context, eventID uuid.UUID, status string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Card{}).
		Where("friction_event_id = ?", eventID).
		Updates(map[string]interface{}{
			"mockup_status": status,
			"updated_at":    time.Now().UTC(),
		}).Error
}

func (r *cardRepo) PatchMockup(ctx context.Context, eventID uuid.UUID, status, imageRef string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Card{}).
		Where("friction_event_id = ?", eventID).
		Updates(map[string]interface{}{
			"mockup_status":    status,
			"mockup_image_ref": imageRef,
			"updated_at":       time.Now().UTC(),
		}).Error
}
