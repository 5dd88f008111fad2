package database

import (
	"fmt"

	"github.com/zjoart/go-cleaner-wallet/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Connect opens the ledger database. The returned handle is passed explicitly
// to every repository; there is no package-level connection.
func Connect(dbUrl string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dbUrl), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("Connected to database")
	return db, nil
}

// Migrate creates or updates the given models' tables.
func Migrate(db *gorm.DB, models ...interface{}) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
