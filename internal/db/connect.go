// Package db opens and migrates the Switchboard audit database.
package db

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zulandar/switchboard/internal/models"
)

// Connect opens a GORM connection for the configured driver. For sqlite
// the DSN is a file path (or ":memory:"); for mysql it is a full DSN.
func Connect(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	var (
		conn *gorm.DB
		err  error
	)
	switch driver {
	case "sqlite":
		conn, err = gorm.Open(sqlite.Open(dsn), cfg)
	case "mysql":
		conn, err = gorm.Open(mysql.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("db: connect %s: %w", driver, err)
	}
	return conn, nil
}

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Delivery{},
		&models.RuleFire{},
	}
}

// AutoMigrate creates or updates all audit tables.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
