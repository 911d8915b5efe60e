// Package data owns the sqlite handle and its migrations. Cards and
// memories are the only persisted tables; everything else in the
// pipeline is in-flight state.
package data

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/luminaux/lumina-backend/internal/domain"
	"github.com/luminaux/lumina-backend/internal/logger"
)

type SQLiteService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSQLiteService(log *logger.Logger, path string) (*SQLiteService, error) {
	serviceLog := log.With("service", "SQLiteService")

	serviceLog.Info("Opening sqlite database...", "path", path)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		serviceLog.Error("Failed to open sqlite database", "error", err)
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	return &SQLiteService{db: db, log: serviceLog}, nil
}

func (s *SQLiteService) AutoMigrateAll() error {
	s.log.Info("Auto migrating sqlite tables...")
	err := s.db.AutoMigrate(
		&domain.Card{},
		&domain.Memory{},
	)
	if err != nil {
		s.log.Error("Failed to auto migrate sqlite tables", "error", err)
		return fmt.Errorf("sqlite automigrate: %w", err)
	}
	return nil
}

func (s *SQLiteService) DB() *gorm.DB {
	return s.db
}
