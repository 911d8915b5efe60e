// Package memories persists the append-only memory journal. Rows are
// inserted and read, never updated or deleted.
package memories

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/luminaux/lumina-backend/internal/domain"
	"github.com/luminaux/lumina-backend/internal/logger"
)

type MemoryRepo interface {
	Append(ctx context.Context, m *domain.Memory) error
	ListAll(ctx context.Context) ([]domain.Memory, error)
	ListBySession(ctx context.Context, sessionID string) ([]domain.Memory, error)
}

type memoryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMemoryRepo(db *gorm.DB, baseLog *logger.Logger) MemoryRepo {
	return &memoryRepo{
		db:  db,
		log: baseLog.With("repo", "MemoryRepo"),
	}
}

func (r *memoryRepo) Append(ctx context.Context, m *domain.Memory) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	// Idempotent on replay: the same memory id is inserted once.
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(m).Error
}

func (r *memoryRepo) ListAll(ctx context.Context) ([]domain.Memory, error) {
	var out []domain.Memory
	if err := r.db.WithContext(ctx).
		Order("created_at asc").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *memoryRepo) ListBySession(ctx context.Context, sessionID string) ([]domain.Memory, error) {
	var out []domain.Memory
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at asc").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
