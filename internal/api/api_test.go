package api

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cribwatch/cribwatch/internal/audio"
	"github.com/cribwatch/cribwatch/internal/camera"
	"github.com/cribwatch/cribwatch/internal/conf"
	"github.com/cribwatch/cribwatch/internal/datastore"
	"github.com/cribwatch/cribwatch/internal/notification"
	"github.com/cribwatch/cribwatch/internal/observability"
	"github.com/cribwatch/cribwatch/internal/status"
	"github.com/cribwatch/cribwatch/internal/vision"
)

type fakeMonitor struct {
	mu         sync.Mutex
	status     status.CombinedStatus
	frame      camera.Frame
	hasFrame   bool
	cameraID   int
	aiCameraID int
	aiOK       bool
	switchOK   bool
	switches   []int
	reports    int
	visionErrs uint64
}

func newFakeMonitor() *fakeMonitor {
	img := image.NewGray(image.Rect(0, 0, 32, 24))
	for y := range 24 {
		for x := range 32 {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 8)})
		}
	}
	st := status.CombinedStatus{Baby: status.DefaultBabyStatus(), Timestamp: time.Now()}
	st.Baby.Description = "Sleeping on back"
	return &fakeMonitor{
		status:   st,
		frame:    camera.FromImage(img, time.Now()),
		hasFrame: true,
		aiOK:     true,
		switchOK: true,
	}
}

func (m *fakeMonitor) Status() status.CombinedStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *fakeMonitor) StreamFrame() (camera.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame, m.hasFrame
}

func (m *fakeMonitor) CameraID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cameraID
}

func (m *fakeMonitor) AICameraID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aiCameraID
}

func (m *fakeMonitor) SwitchCamera(_ context.Context, id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.switches = append(m.switches, id)
	if m.switchOK {
		m.cameraID = id
	}
	return m.switchOK
}

func (m *fakeMonitor) SetAICamera(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.aiOK {
		m.aiCameraID = id
	}
	return m.aiOK
}

func (m *fakeMonitor) ForceReport(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports++
	return true
}

func (m *fakeMonitor) VisionStats() (vision.GuardStats, bool) {
	return vision.GuardStats{Successes: 3, Errors: m.visionErrs}, true
}

type sentAlert struct {
	title, description string
	level              status.RiskLevel
	image              []byte
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []sentAlert
}

func (n *fakeNotifier) SendAlert(_ context.Context, title, description string, level status.RiskLevel, image []byte) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, sentAlert{title, description, level, image})
	return true
}

func (n *fakeNotifier) SendStatusReport(context.Context, string, []byte) bool { return true }

func (n *fakeNotifier) Providers() []notification.ProviderStatus {
	return []notification.ProviderStatus{{Name: "discord", Channels: []string{"warning"}, CircuitState: "closed"}}
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.VideoFPS = 50
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func openStore(t *testing.T) datastore.Interface {
	t.Helper()
	settings := conf.DefaultSettings()
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "api.db")
	store, err := datastore.New(settings)
	require.NoError(t, err)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, http.NoBody)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestIndex(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `src="/video_feed"`)
}

func TestStatus(t *testing.T) {
	t.Parallel()

	t.Run("without pipeline", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t)
		rec := do(t, s, http.MethodGet, "/api/status", "")
		require.Equal(t, http.StatusOK, rec.Code)
		st := decode[status.CombinedStatus](t, rec)
		assert.Equal(t, status.RiskSafe, st.Baby.RiskLevel)
	})

	t.Run("snapshot", func(t *testing.T) {
		t.Parallel()
		m := newFakeMonitor()
		s := newTestServer(t, WithMonitor(m))
		rec := do(t, s, http.MethodGet, "/api/status", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"vlm_in_progress":false`)
		st := decode[status.CombinedStatus](t, rec)
		assert.Equal(t, "Sleeping on back", st.Baby.Description)
	})
}

func TestDeviceListsAreCached(t *testing.T) {
	t.Parallel()
	var camCalls, micCalls int
	m := newFakeMonitor()
	s := newTestServer(t,
		WithMonitor(m),
		WithCameraLister(func() ([]camera.DeviceInfo, error) {
			camCalls++
			return []camera.DeviceInfo{{ID: 0, Name: "Camera 0", Resolution: "unknown"}}, nil
		}),
		WithMicrophoneLister(func() ([]audio.DeviceInfo, error) {
			micCalls++
			return []audio.DeviceInfo{{Index: 0, Name: "USB Mic", IsDefault: true}}, nil
		}),
	)

	for range 3 {
		rec := do(t, s, http.MethodGet, "/api/cameras", "")
		require.Equal(t, http.StatusOK, rec.Code)
		cams := decode[[]camera.DeviceInfo](t, rec)
		require.Len(t, cams, 1)
		assert.Equal(t, "Camera 0", cams[0].Name)

		rec = do(t, s, http.MethodGet, "/api/microphones", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"name":"USB Mic"`)
	}
	assert.Equal(t, 1, camCalls)
	assert.Equal(t, 1, micCalls)

	// a switch invalidates the camera list only
	rec := do(t, s, http.MethodPost, "/api/switch_camera", `{"camera_id": 1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	do(t, s, http.MethodGet, "/api/cameras", "")
	do(t, s, http.MethodGet, "/api/microphones", "")
	assert.Equal(t, 2, camCalls)
	assert.Equal(t, 1, micCalls)
}

func TestMicrophonesWithoutListerIsEmpty(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/microphones", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSwitchCamera(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantID   int
	}{
		{"number", `{"camera_id": 2}`, http.StatusOK, 2},
		{"string", `{"camera_id": "3"}`, http.StatusOK, 3},
		{"missing defaults to zero", `{}`, http.StatusOK, 0},
		{"not a number", `{"camera_id": "front"}`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := newFakeMonitor()
			m.cameraID = 9
			s := newTestServer(t, WithMonitor(m))

			rec := do(t, s, http.MethodPost, "/api/switch_camera", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode != http.StatusOK {
				resp := decode[ErrorResponse](t, rec)
				assert.Equal(t, "invalid camera_id", resp.Message)
				assert.Len(t, resp.CorrelationID, 8)
				assert.Empty(t, m.switches)
				return
			}
			resp := decode[CameraResponse](t, rec)
			assert.True(t, resp.Success)
			assert.Equal(t, tt.wantID, resp.CameraID)
			assert.Equal(t, []int{tt.wantID}, m.switches)
		})
	}
}

func TestSwitchCameraWithoutPipeline(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/switch_camera", `{"camera_id": 1}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAICameraIsPersisted(t *testing.T) {
	t.Parallel()
	m := newFakeMonitor()
	store := openStore(t)
	s := newTestServer(t, WithMonitor(m), WithDataStore(store))

	rec := do(t, s, http.MethodPost, "/api/ai_camera", `{"camera_id": 1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CameraResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.AICameraID)

	v, ok, err := store.GetConfig(context.Background(), datastore.KeyAICameraID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", v)

	// a failed switch leaves the stored value alone
	m.aiOK = false
	rec = do(t, s, http.MethodPost, "/api/ai_camera", `{"camera_id": 4}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[CameraResponse](t, rec).Success)
	v, _, err = store.GetConfig(context.Background(), datastore.KeyAICameraID)
	require.NoError(t, err)
	assert.Equal(t, "1", v)
}

func TestSwitchMicrophone(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/switch_microphone", `{"microphone_id": 1}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var got []string
	s = newTestServer(t, WithMicrophoneSwitcher(func(_ context.Context, device string) error {
		got = append(got, device)
		return nil
	}))
	rec = do(t, s, http.MethodPost, "/api/switch_microphone", `{"microphone_id": 2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, http.MethodPost, "/api/switch_microphone", `{"microphone_id": "USB Audio"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success": true}`, rec.Body.String())
	assert.Equal(t, []string{"2", "USB Audio"}, got)
}

func TestTestAlert(t *testing.T) {
	t.Parallel()
	n := &fakeNotifier{}
	s := newTestServer(t, WithMonitor(newFakeMonitor()), WithNotifier(n))

	rec := do(t, s, http.MethodPost, "/api/test_alert", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success": true}`, rec.Body.String())

	require.Len(t, n.alerts, 1)
	got := n.alerts[0]
	assert.Equal(t, "Test Alert", got.title)
	assert.Equal(t, "This is a test alert from Baby Monitor.", got.description)
	assert.Equal(t, status.RiskWarning, got.level)
	_, err := jpeg.Decode(strings.NewReader(string(got.image)))
	require.NoError(t, err)
}

func TestTestAlertWithoutFrame(t *testing.T) {
	t.Parallel()
	m := newFakeMonitor()
	m.hasFrame = false
	n := &fakeNotifier{}
	s := newTestServer(t, WithMonitor(m), WithNotifier(n))

	rec := do(t, s, http.MethodPost, "/api/test_alert", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, n.alerts, 1)
	assert.Empty(t, n.alerts[0].image)
}

func TestForceReport(t *testing.T) {
	t.Parallel()
	m := newFakeMonitor()
	s := newTestServer(t, WithMonitor(m))

	rec := do(t, s, http.MethodPost, "/api/force_report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success": true}`, rec.Body.String())
	assert.Equal(t, 1, m.reports)
}

func TestHistoryQueries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openStore(t)
	now := time.Now()
	require.NoError(t, store.RecordEvent(ctx, status.Event{
		Type: status.EventAlert, Severity: status.SeverityDanger, Timestamp: now,
		Data: map[string]any{"title": "Danger"},
	}))
	require.NoError(t, store.RecordEvent(ctx, status.Event{
		Type: status.EventCry, Severity: status.SeverityWarning, Timestamp: now.Add(time.Second),
	}))
	danger := status.DefaultBabyStatus()
	danger.RiskLevel = status.RiskDanger
	danger.Timestamp = now
	require.NoError(t, store.RecordVision(ctx, danger))
	require.NoError(t, store.RecordAudio(ctx, status.AudioStatus{IsCrying: true, Timestamp: now}))
	require.NoError(t, store.SaveNotification(ctx, &notification.Record{
		MessageID: "m1", Channel: "warning", Provider: "discord", Title: "Danger",
		Success: true, Timestamp: now,
	}))
	s := newTestServer(t, WithDataStore(store), WithNotifier(&fakeNotifier{}))

	rec := do(t, s, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]datastore.Event](t, rec), 2)

	rec = do(t, s, http.MethodGet, "/api/events?type=alert&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]datastore.Event](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, status.EventAlert, events[0].EventType)

	rec = do(t, s, http.MethodGet, "/api/events?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/notifications?channel=warning", "")
	require.Equal(t, http.StatusOK, rec.Code)
	records := decode[[]datastore.NotificationRecord](t, rec)
	require.Len(t, records, 1)
	assert.Equal(t, "discord", records[0].Provider)

	rec = do(t, s, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsResponse](t, rec)
	require.NotNil(t, stats.Database)
	assert.Equal(t, int64(2), stats.Database.Events)
	assert.Equal(t, int64(1), stats.Database.AlertsCount)
	assert.Equal(t, int64(1), stats.Database.CryCount)
	require.Len(t, stats.Notifications, 1)
	assert.Equal(t, "closed", stats.Notifications[0].CircuitState)
}

func TestHistoryWithoutDataStore(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	for _, path := range []string{"/api/events", "/api/notifications"} {
		rec := do(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
	rec := do(t, s, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[StatsResponse](t, rec).Database)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	m := newFakeMonitor()
	m.cameraID, m.aiCameraID, m.visionErrs = 0, 1, 2
	s := newTestServer(t, WithMonitor(m))

	rec := do(t, s, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	h := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", h.Status)
	assert.GreaterOrEqual(t, h.UptimeSeconds, 0.0)
	require.NotNil(t, h.Pipeline)
	assert.Equal(t, 1, h.Pipeline.AICameraID)
	assert.Equal(t, uint64(2), h.Pipeline.VisionErrors)
	assert.NotNil(t, h.Host)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	m, err := observability.NewMetrics()
	require.NoError(t, err)
	m.Pipeline.IncVisionErrors()
	s := newTestServer(t, WithMetrics(m))

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cribwatch_")
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	s = newTestServer(t)
	rec = do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVideoFeedStreamsJPEGParts(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, WithMonitor(newFakeMonitor()))
	srv := httptest.NewServer(s.Echo())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/video_feed", http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	mr := multipart.NewReader(resp.Body, MJPEGBoundary)
	for range 2 {
		part, err := mr.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
		img, err := jpeg.Decode(part)
		require.NoError(t, err)
		assert.Equal(t, 32, img.Bounds().Dx())
	}
}

func TestVideoFeedLimitsClients(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.VideoFPS = 50
	cfg.MaxStreams = 1
	s, err := New(cfg, WithMonitor(newFakeMonitor()))
	require.NoError(t, err)
	srv := httptest.NewServer(s.Echo())
	t.Cleanup(func() {
		_ = s.Shutdown()
		srv.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/video_feed", http.NoBody)
	require.NoError(t, err)
	first, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer first.Body.Close()
	_, err = multipart.NewReader(first.Body, MJPEGBoundary).NextPart()
	require.NoError(t, err)

	second, err := http.Get(srv.URL + "/video_feed")
	require.NoError(t, err)
	defer second.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, second.StatusCode)
}

func TestVideoFeedWithoutPipeline(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/video_feed", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
