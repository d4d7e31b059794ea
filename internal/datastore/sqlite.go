package datastore

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cribwatch/cribwatch/internal/conf"
	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/logger"
)

// SQLiteStore implements Interface for SQLite.
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open creates the database file if needed, migrates the schema and seeds
// the default configuration.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Output.SQLite.Path
	if path == "" {
		return errors.Newf("sqlite path is empty").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return errors.New(err).
					Component("datastore").
					Category(errors.CategoryFileIO).
					Context("path", path).
					Build()
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path), newGormConfig())
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open_sqlite").
			Context("path", path).
			Build()
	}

	// SQLite allows one writer, and every pooled connection to :memory: is
	// a separate database
	sqlDB, err := db.DB()
	if err != nil {
		return dbError(err, "open_sqlite")
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		GetLogger().Warn("failed to enable WAL journal", logger.Error(err))
	}
	if err := db.Exec("PRAGMA busy_timeout=5000").Error; err != nil {
		GetLogger().Warn("failed to set busy timeout", logger.Error(err))
	}

	store.DB = db
	return performAutoMigration(db, &store.DataStore, "SQLite", path)
}
