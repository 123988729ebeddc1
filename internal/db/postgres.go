package db

import (
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the postgres database and applies pending migrations.
func Connect(dsn string, log zerolog.Logger) (*gorm.DB, error) {
	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	if err := runMigrations(gormDB); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	log.Info().Msg("database connected and migrated")
	return gormDB, nil
}
