// Package datastore persists pipeline observations, delivery records and
// runtime configuration through GORM on SQLite or MySQL.
package datastore

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cribwatch/cribwatch/internal/conf"
	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/logger"
	"github.com/cribwatch/cribwatch/internal/notification"
	"github.com/cribwatch/cribwatch/internal/status"
)

// Query limits.
const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 1000
)

// Interface abstracts the underlying database implementation.
type Interface interface {
	Open() error
	Close() error

	status.Recorder
	SaveNotification(ctx context.Context, rec *notification.Record) error

	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value string) error
	AllConfig(ctx context.Context) (map[string]string, error)

	RecentEvents(ctx context.Context, limit int, eventType string) ([]Event, error)
	RecentNotifications(ctx context.Context, limit int, channel string) ([]NotificationRecord, error)
	RecentVision(ctx context.Context, limit int) ([]VisionLog, error)
	RecentMotion(ctx context.Context, limit int) ([]MotionLog, error)
	RecentAudio(ctx context.Context, limit int) ([]AudioLog, error)
	Stats(ctx context.Context) (*Stats, error)
}

// DataStore implements Interface on a GORM handle.
type DataStore struct {
	DB       *gorm.DB
	// Defaults are written to the config table when their key is missing.
	Defaults map[string]string
	clock    func() time.Time
}

// New returns the store selected by settings. It is not opened.
func New(settings *conf.Settings) (Interface, error) {
	defaults := DefaultConfig(settings)
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			DataStore: DataStore{Defaults: defaults},
			Settings:  settings,
		}, nil
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			DataStore: DataStore{Defaults: defaults},
			Settings:  settings,
		}, nil
	default:
		return nil, errors.Newf("no datastore enabled").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func (ds *DataStore) now() time.Time {
	if ds.clock != nil {
		return ds.clock()
	}
	return time.Now()
}

func (ds *DataStore) db(ctx context.Context) (*gorm.DB, error) {
	if ds.DB == nil {
		return nil, errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return ds.DB.WithContext(ctx), nil
}

func (ds *DataStore) create(ctx context.Context, op string, value any) error {
	db, err := ds.db(ctx)
	if err != nil {
		return err
	}
	if err := db.Create(value).Error; err != nil {
		return dbError(err, op)
	}
	return nil
}

// stamp stores times in UTC so text-encoded timestamps sort correctly.
func (ds *DataStore) stamp(t time.Time) time.Time {
	if t.IsZero() {
		t = ds.now()
	}
	return t.UTC()
}

// RecordVision implements status.Recorder.
func (ds *DataStore) RecordVision(ctx context.Context, baby status.BabyStatus) error {
	return ds.create(ctx, "record_vision", &VisionLog{
		Timestamp:       ds.stamp(baby.Timestamp),
		FaceCovered:     baby.FaceCovered,
		Position:        string(baby.Position),
		InCrib:          baby.InCrib,
		LooseObjects:    baby.LooseObjects,
		BlanketNearFace: baby.BlanketNearFace,
		RiskLevel:       string(baby.RiskLevel),
		Description:     baby.Description,
	})
}

// RecordMotion implements status.Recorder.
func (ds *DataStore) RecordMotion(ctx context.Context, m status.MotionStatus) error {
	return ds.create(ctx, "record_motion", &MotionLog{
		Timestamp:   ds.stamp(time.Time{}),
		HasMotion:   m.HasMotion,
		Magnitude:   m.Magnitude,
		Description: m.Description,
	})
}

// RecordAudio implements status.Recorder.
func (ds *DataStore) RecordAudio(ctx context.Context, a status.AudioStatus) error {
	return ds.create(ctx, "record_audio", &AudioLog{
		Timestamp:         ds.stamp(a.Timestamp),
		IsCrying:          a.IsCrying,
		CryType:           a.CryType,
		CryConfidence:     a.CryConfidence,
		BreathingDetected: a.BreathingDetected,
		BreathingRate:     a.BreathingRate,
		RMSLevel:          a.RMSLevel,
		Description:       a.Description,
	})
}

// RecordEvent implements status.Recorder.
func (ds *DataStore) RecordEvent(ctx context.Context, ev status.Event) error {
	row := &Event{
		Timestamp: ds.stamp(ev.Timestamp),
		EventType: ev.Type,
		Severity:  ev.Severity,
	}
	if row.Severity == "" {
		row.Severity = status.SeverityInfo
	}
	if len(ev.Data) > 0 {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return errors.New(err).
				Component("datastore").
				Category(errors.CategoryValidation).
				Context("event_type", ev.Type).
				Build()
		}
		row.Data = string(data)
	}
	return ds.create(ctx, "record_event", row)
}

// SaveNotification implements notification.MessageLog.
func (ds *DataStore) SaveNotification(ctx context.Context, rec *notification.Record) error {
	return ds.create(ctx, "save_notification", &NotificationRecord{
		Timestamp:   ds.stamp(rec.Timestamp),
		MessageID:   rec.MessageID,
		Channel:     rec.Channel,
		Provider:    rec.Provider,
		Title:       rec.Title,
		Description: rec.Description,
		RiskLevel:   rec.RiskLevel,
		HasImage:    rec.HasImage,
		Success:     rec.Success,
		Error:       rec.Error,
	})
}

// GetConfig returns the value stored for key and whether it exists.
func (ds *DataStore) GetConfig(ctx context.Context, key string) (string, bool, error) {
	db, err := ds.db(ctx)
	if err != nil {
		return "", false, err
	}
	var entry ConfigEntry
	err = db.Where("config_key = ?", key).Limit(1).Find(&entry).Error
	if err != nil {
		return "", false, dbError(err, "get_config")
	}
	if entry.Key == "" {
		return "", false, nil
	}
	return entry.Value, true, nil
}

// SetConfig stores value under key, replacing any previous value.
func (ds *DataStore) SetConfig(ctx context.Context, key, value string) error {
	db, err := ds.db(ctx)
	if err != nil {
		return err
	}
	entry := ConfigEntry{Key: key, Value: value, UpdatedAt: ds.stamp(time.Time{})}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "config_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return dbError(err, "set_config")
	}
	return nil
}

// AllConfig returns every stored key/value pair.
func (ds *DataStore) AllConfig(ctx context.Context) (map[string]string, error) {
	db, err := ds.db(ctx)
	if err != nil {
		return nil, err
	}
	var entries []ConfigEntry
	if err := db.Find(&entries).Error; err != nil {
		return nil, dbError(err, "all_config")
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out, nil
}

// RecentEvents returns the newest events first, optionally of one type.
func (ds *DataStore) RecentEvents(ctx context.Context, limit int, eventType string) ([]Event, error) {
	db, err := ds.db(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Order("timestamp DESC, id DESC").Limit(clampLimit(limit))
	if eventType != "" {
		q = q.Where("event_type = ?", eventType)
	}
	var rows []Event
	if err := q.Find(&rows).Error; err != nil {
		return nil, dbError(err, "recent_events")
	}
	return rows, nil
}

// RecentNotifications returns the newest delivery records first, optionally
// for one channel.
func (ds *DataStore) RecentNotifications(ctx context.Context, limit int, channel string) ([]NotificationRecord, error) {
	db, err := ds.db(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Order("timestamp DESC, id DESC").Limit(clampLimit(limit))
	if channel != "" {
		q = q.Where("channel = ?", channel)
	}
	var rows []NotificationRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, dbError(err, "recent_notifications")
	}
	return rows, nil
}

// RecentVision returns the newest vision logs first.
func (ds *DataStore) RecentVision(ctx context.Context, limit int) ([]VisionLog, error) {
	var rows []VisionLog
	return rows, ds.recent(ctx, "recent_vision", limit, &rows)
}

// RecentMotion returns the newest motion logs first.
func (ds *DataStore) RecentMotion(ctx context.Context, limit int) ([]MotionLog, error) {
	var rows []MotionLog
	return rows, ds.recent(ctx, "recent_motion", limit, &rows)
}

// RecentAudio returns the newest audio logs first.
func (ds *DataStore) RecentAudio(ctx context.Context, limit int) ([]AudioLog, error) {
	var rows []AudioLog
	return rows, ds.recent(ctx, "recent_audio", limit, &rows)
}

func (ds *DataStore) recent(ctx context.Context, op string, limit int, dest any) error {
	db, err := ds.db(ctx)
	if err != nil {
		return err
	}
	if err := db.Order("timestamp DESC, id DESC").Limit(clampLimit(limit)).Find(dest).Error; err != nil {
		return dbError(err, op)
	}
	return nil
}

// Stats counts stored rows and summarizes alerts, cries and vision errors.
func (ds *DataStore) Stats(ctx context.Context) (*Stats, error) {
	db, err := ds.db(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{}
	counts := []struct {
		model any
		dest  *int64
	}{
		{&Event{}, &st.Events},
		{&NotificationRecord{}, &st.Notifications},
		{&VisionLog{}, &st.VisionLogs},
		{&MotionLog{}, &st.MotionLogs},
		{&AudioLog{}, &st.AudioLogs},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Count(c.dest).Error; err != nil {
			return nil, dbError(err, "stats")
		}
	}

	if err := db.Model(&VisionLog{}).
		Where("risk_level IN ?", []string{string(status.RiskDanger), string(status.RiskWarning)}).
		Count(&st.AlertsCount).Error; err != nil {
		return nil, dbError(err, "stats")
	}
	if err := db.Model(&AudioLog{}).Where("is_crying = ?", true).Count(&st.CryCount).Error; err != nil {
		return nil, dbError(err, "stats")
	}
	if err := db.Model(&Event{}).Where("event_type = ?", status.EventVisionError).Count(&st.VisionErrors).Error; err != nil {
		return nil, dbError(err, "stats")
	}

	if st.VisionErrors > 0 {
		var last Event
		err := db.Where("event_type = ?", status.EventVisionError).
			Order("timestamp DESC, id DESC").
			Limit(1).
			Find(&last).Error
		if err != nil {
			return nil, dbError(err, "stats")
		}
		if last.ID != 0 {
			st.LastVisionError = last.Data
			at := last.Timestamp
			st.LastVisionErrorAt = &at
		}
	}
	return st, nil
}

// Close releases the underlying connection pool.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "close")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close")
	}
	GetLogger().Debug("database connection closed")
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	return min(limit, MaxQueryLimit)
}

func dbError(err error, op string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}

// newGormConfig routes GORM logging through the module logger.
func newGormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), DefaultSlowQueryThreshold),
	}
}

var (
	_ status.Recorder         = (*DataStore)(nil)
	_ notification.MessageLog = (*DataStore)(nil)
)
