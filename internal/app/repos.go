package app

import (
	"gorm.io/gorm"

	"github.com/luminaux/lumina-backend/internal/data/repos/cards"
	"github.com/luminaux/lumina-backend/internal/data/repos/memories"
	"github.com/luminaux/lumina-backend/internal/logger"
)

type Repos struct {
	Cards    cards.CardRepo
	Memories memories.MemoryRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Cards:    cards.NewCardRepo(db, log),
		Memories: memories.NewMemoryRepo(db, log),
	}
}
