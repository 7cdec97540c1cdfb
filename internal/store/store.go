// Package store owns the GORM connection, dialector selection, and schema
// migration for gemkeyproxy. Every other component (KeyRegistry, Rotator,
// Settings, AuditLog, admin, stats) is handed the resulting *gorm.DB and
// layers its own queries on top of it.
package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"gemkeyproxy/internal/config"
	"gemkeyproxy/internal/model"
)

// ErrNotFound is returned (wrapped with context) whenever a lookup by ID or
// unique key finds no row, mirroring the sentinel-error style the rest of
// this codebase uses instead of raw gorm.ErrRecordNotFound checks.
var ErrNotFound = errors.New("not found")

// Open connects to the configured database, runs migrations, and seeds the
// singleton AppSettings row if it doesn't exist yet. Migrations are
// additive and idempotent: re-running Open against an existing database
// never drops or renames a column.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&model.ApiKey{}, &model.RequestLog{}, &model.AppSettings{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	if err := seedSettings(db); err != nil {
		return nil, fmt.Errorf("failed to seed settings row: %w", err)
	}

	return db, nil
}

func seedSettings(db *gorm.DB) error {
	var existing model.AppSettings
	err := db.First(&existing, model.SettingsID).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := model.NewJSONTime(time.Now().UTC())
	row := model.AppSettings{
		ID:         model.SettingsID,
		RetryCount: model.DefaultRetryCount,
		ProxyType:  model.ProxyTypeHTTP,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return db.Create(&row).Error
}
