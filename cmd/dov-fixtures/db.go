package main

import (
	"fmt"

	dov_fixtures "github.com/Michael-F-Bryan/dov-fixtures"
	"github.com/adrg/xdg"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func initDb() (*gorm.DB, error) {
	connectionString := cfg.DB

	if connectionString == "" {
		path, err := xdg.DataFile("dov-fixtures/history.sqlite3")
		if err != nil {
			return nil, err
		}
		connectionString = path
	}

	db, err := gorm.Open(sqlite.Open(connectionString))
	if err != nil {
		return nil, fmt.Errorf("unable to open %q: %w", connectionString, err)
	}
	zap.L().Debug("Opened database", zap.String("path", connectionString))

	if err := dov_fixtures.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("unable to apply migrations: %w", err)
	}

	return db, nil
}
