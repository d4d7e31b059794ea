package datastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cribwatch/cribwatch/internal/conf"
	"github.com/cribwatch/cribwatch/internal/notification"
	"github.com/cribwatch/cribwatch/internal/status"
	"github.com/cribwatch/cribwatch/internal/vision"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	settings := conf.DefaultSettings()
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "nested", "test.db")

	store, err := New(settings)
	require.NoError(t, err)
	sq, ok := store.(*SQLiteStore)
	require.True(t, ok)
	require.NoError(t, sq.Open())
	t.Cleanup(func() { _ = sq.Close() })
	return sq
}

func TestNewSelectsBackend(t *testing.T) {
	t.Parallel()
	s := conf.DefaultSettings()
	store, err := New(s)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, store)

	s.Output.SQLite.Enabled = false
	s.Output.MySQL.Enabled = true
	store, err = New(s)
	require.NoError(t, err)
	assert.IsType(t, &MySQLStore{}, store)

	s.Output.MySQL.Enabled = false
	_, err = New(s)
	require.Error(t, err)
}

func TestOpenSeedsDefaults(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()

	prompt, ok, err := store.GetConfig(ctx, KeyVisionPrompt)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vision.DefaultPrompt, prompt)

	cam, ok, err := store.GetConfig(ctx, KeyAICameraID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0", cam)
}

func TestSeedingKeepsExistingValues(t *testing.T) {
	t.Parallel()
	settings := conf.DefaultSettings()
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	first, err := New(settings)
	require.NoError(t, err)
	require.NoError(t, first.Open())
	require.NoError(t, first.SetConfig(ctx, KeyVisionPrompt, "custom prompt"))
	require.NoError(t, first.Close())

	second, err := New(settings)
	require.NoError(t, err)
	require.NoError(t, second.Open())
	t.Cleanup(func() { _ = second.Close() })

	got, ok, err := second.GetConfig(ctx, KeyVisionPrompt)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "custom prompt", got)
}

func TestConfigRoundTrip(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()

	_, ok, err := store.GetConfig(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetConfig(ctx, "theme", "dark"))
	require.NoError(t, store.SetConfig(ctx, "theme", "light"))
	got, ok, err := store.GetConfig(ctx, "theme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "light", got)

	all, err := store.AllConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "light", all["theme"])
	assert.Contains(t, all, KeyVisionPrompt)
	assert.Contains(t, all, KeyAICameraID)
}

func TestRecordersAndRecentQueries(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)

	for i, risk := range []status.RiskLevel{status.RiskSafe, status.RiskWarning, status.RiskDanger} {
		b := status.DefaultBabyStatus()
		b.RiskLevel = risk
		b.Position = status.PositionProne
		b.Description = string(risk)
		b.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.RecordVision(ctx, b))
	}
	require.NoError(t, store.RecordMotion(ctx, status.MotionStatus{HasMotion: true, Magnitude: 6.5, Description: "Moderate movement"}))
	require.NoError(t, store.RecordAudio(ctx, status.AudioStatus{IsCrying: true, CryType: "sustained", Description: "Crying detected (RMS=0.200)"}))
	require.NoError(t, store.RecordAudio(ctx, status.AudioStatus{Description: "Quiet / no audio"}))

	visionRows, err := store.RecentVision(ctx, 2)
	require.NoError(t, err)
	require.Len(t, visionRows, 2)
	assert.Equal(t, "danger", visionRows[0].RiskLevel)
	assert.Equal(t, "warning", visionRows[1].RiskLevel)
	assert.Equal(t, "prone", visionRows[0].Position)
	assert.True(t, visionRows[0].InCrib)

	motion, err := store.RecentMotion(ctx, 0)
	require.NoError(t, err)
	require.Len(t, motion, 1)
	assert.InDelta(t, 6.5, motion[0].Magnitude, 1e-9)

	audio, err := store.RecentAudio(ctx, 10)
	require.NoError(t, err)
	require.Len(t, audio, 2)
}

func TestEventsAndStats(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordEvent(ctx, status.Event{
		Type: status.EventAlert, Severity: status.SeverityDanger,
		Data: map[string]any{"title": "DANGER"}, Timestamp: base,
	}))
	require.NoError(t, store.RecordEvent(ctx, status.Event{
		Type: status.EventVisionError, Severity: status.SeverityWarning,
		Data: map[string]any{"error": "timeout"}, Timestamp: base.Add(time.Minute),
	}))
	require.NoError(t, store.RecordEvent(ctx, status.Event{
		Type: status.EventVisionError, Severity: status.SeverityWarning,
		Data: map[string]any{"error": "connection refused"}, Timestamp: base.Add(2 * time.Minute),
	}))
	require.NoError(t, store.RecordEvent(ctx, status.Event{Type: status.EventCameraSwitch}))

	b := status.DefaultBabyStatus()
	b.RiskLevel = status.RiskDanger
	require.NoError(t, store.RecordVision(ctx, b))
	require.NoError(t, store.RecordVision(ctx, status.DefaultBabyStatus()))
	require.NoError(t, store.RecordAudio(ctx, status.AudioStatus{IsCrying: true}))

	events, err := store.RecentEvents(ctx, 10, status.EventVisionError)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.JSONEq(t, `{"error":"connection refused"}`, events[0].Data)

	all, err := store.RecentEvents(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, all, 4)

	var camSwitch Event
	for _, e := range all {
		if e.EventType == status.EventCameraSwitch {
			camSwitch = e
		}
	}
	assert.Equal(t, status.SeverityInfo, camSwitch.Severity)
	assert.Empty(t, camSwitch.Data)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.Events)
	assert.Equal(t, int64(2), st.VisionLogs)
	assert.Equal(t, int64(1), st.AudioLogs)
	assert.Equal(t, int64(1), st.AlertsCount)
	assert.Equal(t, int64(1), st.CryCount)
	assert.Equal(t, int64(2), st.VisionErrors)
	assert.JSONEq(t, `{"error":"connection refused"}`, st.LastVisionError)
	require.NotNil(t, st.LastVisionErrorAt)
	assert.True(t, st.LastVisionErrorAt.Equal(base.Add(2*time.Minute)))
}

func TestSaveNotification(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveNotification(ctx, &notification.Record{
		MessageID: "a", Channel: "warning", Provider: "discord",
		Title: "Warning: Check Baby", RiskLevel: "warning", HasImage: true, Success: true,
	}))
	require.NoError(t, store.SaveNotification(ctx, &notification.Record{
		MessageID: "b", Channel: "status", Provider: "discord",
		Title: "📊 Baby Status Report", Success: false, Error: "status 500",
	}))

	rows, err := store.RecentNotifications(ctx, 10, "warning")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Warning: Check Baby", rows[0].Title)
	assert.True(t, rows[0].HasImage)
	assert.False(t, rows[0].Timestamp.IsZero())

	rows, err = store.RecentNotifications(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Notifications)
}

func TestUnopenedStoreFails(t *testing.T) {
	t.Parallel()
	var ds DataStore
	require.Error(t, ds.RecordMotion(context.Background(), status.MotionStatus{}))
	_, err := ds.Stats(context.Background())
	require.Error(t, err)
	assert.NoError(t, ds.Close())
}

func TestClampLimit(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultQueryLimit, clampLimit(0))
	assert.Equal(t, DefaultQueryLimit, clampLimit(-3))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, MaxQueryLimit, clampLimit(5000))
}

func TestMySQLDSN(t *testing.T) {
	t.Parallel()
	dsn := mysqlDSN(&conf.MySQLSettings{Username: "u", Password: "p", Host: "db", Port: "3306", Database: "cw"})
	assert.Equal(t, "u:p@tcp(db:3306)/cw?charset=utf8mb4&parseTime=True&loc=Local", dsn)
}
