package datastore

import (
	"context"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/cribwatch/cribwatch/internal/conf"
	"github.com/cribwatch/cribwatch/internal/logger"
	"github.com/cribwatch/cribwatch/internal/vision"
)

// Config keys seeded on first open.
const (
	KeyVisionPrompt = vision.PromptConfigKey
	KeyAICameraID   = "ai_camera_id"
)

// DefaultSlowQueryThreshold is the duration after which a query is logged
// as slow.
const DefaultSlowQueryThreshold = 1 * time.Second

// DefaultConfig returns the config entries seeded into a new database.
func DefaultConfig(settings *conf.Settings) map[string]string {
	prompt := vision.DefaultPrompt
	if settings.Vision.Prompt != "" {
		prompt = settings.Vision.Prompt
	}
	return map[string]string{
		KeyVisionPrompt: prompt,
		KeyAICameraID:   strconv.Itoa(settings.AICameraID()),
	}
}

// performAutoMigration migrates every model and seeds missing config keys.
func performAutoMigration(db *gorm.DB, ds *DataStore, dbType, connectionInfo string) error {
	log := GetLogger().With(logger.String("db_type", dbType))
	if err := db.AutoMigrate(allModels()...); err != nil {
		log.Error("failed to auto-migrate database",
			logger.String("connection", logger.RedactSensitiveData(connectionInfo)),
			logger.Error(err))
		return dbError(err, "auto_migrate")
	}

	ctx := context.Background()
	for key, value := range ds.Defaults {
		_, ok, err := ds.GetConfig(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if err := ds.SetConfig(ctx, key, value); err != nil {
			return err
		}
		log.Debug("seeded config default", logger.String("key", key))
	}

	log.Info("database initialized", logger.String("connection", logger.RedactSensitiveData(connectionInfo)))
	return nil
}
