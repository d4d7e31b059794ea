package notification

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cribwatch/cribwatch/internal/conf"
	"github.com/cribwatch/cribwatch/internal/httpclient"
	"github.com/cribwatch/cribwatch/internal/observability/metrics"
	"github.com/cribwatch/cribwatch/internal/status"
)

type fakeProvider struct {
	name     string
	channels map[Channel]bool
	err      error

	mu   sync.Mutex
	sent []*Message
}

func newFakeProvider(name string, channels ...Channel) *fakeProvider {
	p := &fakeProvider{name: name, channels: map[Channel]bool{}}
	for _, ch := range channels {
		p.channels[ch] = true
	}
	return p
}

func (p *fakeProvider) Name() string             { return p.name }
func (p *fakeProvider) Supports(ch Channel) bool { return p.channels[ch] }
func (p *fakeProvider) Send(_ context.Context, m *Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, m)
	return p.err
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type memoryLog struct {
	mu      sync.Mutex
	records []Record
}

func (l *memoryLog) SaveNotification(_ context.Context, rec *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, *rec)
	return nil
}

func (l *memoryLog) all() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record(nil), l.records...)
}

func unlimited() Option {
	return WithRateLimiter(nil)
}

func TestServiceSendAlertRoutesToSupportingProviders(t *testing.T) {
	t.Parallel()
	warn := newFakeProvider("warn-only", ChannelWarning)
	stat := newFakeProvider("status-only", ChannelStatus)
	ml := &memoryLog{}
	svc := NewService([]Provider{warn, stat}, WithMessageLog(ml), unlimited())

	ok := svc.SendAlert(context.Background(), "Warning: Check Baby", "Prone", status.RiskWarning, []byte{1})
	require.True(t, ok)
	assert.Equal(t, 1, warn.count())
	assert.Equal(t, 0, stat.count())

	recs := ml.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "warning", recs[0].Channel)
	assert.Equal(t, "warn-only", recs[0].Provider)
	assert.Equal(t, "Warning: Check Baby", recs[0].Title)
	assert.Equal(t, "warning", recs[0].RiskLevel)
	assert.True(t, recs[0].HasImage)
	assert.True(t, recs[0].Success)
	assert.NotEmpty(t, recs[0].MessageID)
}

func TestServiceStatusReport(t *testing.T) {
	t.Parallel()
	stat := newFakeProvider("status", ChannelStatus)
	svc := NewService([]Provider{stat}, unlimited())

	require.True(t, svc.SendStatusReport(context.Background(), "summary", nil))
	require.Equal(t, 1, stat.count())
	msg := stat.sent[0]
	assert.Equal(t, ChannelStatus, msg.Channel)
	assert.Equal(t, StatusReportTitle, msg.Title)
	assert.Equal(t, "summary", msg.Description)
	assert.Empty(t, msg.Level)
}

func TestServiceWithoutProvidersReportsFailure(t *testing.T) {
	t.Parallel()
	svc := NewService(nil)
	assert.False(t, svc.HasProviders())
	assert.False(t, svc.SendAlert(context.Background(), "t", "d", status.RiskDanger, nil))
	assert.False(t, svc.SendStatusReport(context.Background(), "s", nil))
}

func TestServiceAnyProviderSuccessCounts(t *testing.T) {
	t.Parallel()
	bad := newFakeProvider("bad", ChannelWarning)
	bad.err = assert.AnError
	good := newFakeProvider("good", ChannelWarning)
	ml := &memoryLog{}
	svc := NewService([]Provider{bad, good}, WithMessageLog(ml), unlimited())

	assert.True(t, svc.SendAlert(context.Background(), "t", "d", status.RiskDanger, nil))
	recs := ml.all()
	require.Len(t, recs, 2)
	assert.False(t, recs[0].Success)
	assert.Equal(t, assert.AnError.Error(), recs[0].Error)
	assert.True(t, recs[1].Success)
}

func TestServiceCircuitBreakerStopsCallingFailingProvider(t *testing.T) {
	t.Parallel()
	bad := newFakeProvider("bad", ChannelWarning)
	bad.err = assert.AnError
	reg := prometheus.NewRegistry()
	m, err := metrics.NewNotificationMetrics(reg)
	require.NoError(t, err)

	svc := NewService([]Provider{bad},
		unlimited(),
		WithMetrics(m),
		WithCircuitBreakerConfig(CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Hour, HalfOpenMaxRequests: 1}))

	for range 4 {
		assert.False(t, svc.SendAlert(context.Background(), "t", "d", status.RiskDanger, nil))
	}
	assert.Equal(t, 2, bad.count())

	provs := svc.Providers()
	require.Len(t, provs, 1)
	assert.Equal(t, "open", provs[0].CircuitState)
	assert.Equal(t, 2, provs[0].Failures)

	expected := `
# HELP cribwatch_notification_deliveries_total Notification delivery attempts by provider, channel and status
# TYPE cribwatch_notification_deliveries_total counter
cribwatch_notification_deliveries_total{channel="warning",provider="bad",status="circuit_open"} 2
cribwatch_notification_deliveries_total{channel="warning",provider="bad",status="error"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "cribwatch_notification_deliveries_total"))
}

func TestServiceRateLimit(t *testing.T) {
	t.Parallel()
	p := newFakeProvider("p", ChannelWarning)
	ml := &memoryLog{}
	svc := NewService([]Provider{p},
		WithMessageLog(ml),
		WithRateLimiter(NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 1, BurstSize: 1})))

	assert.True(t, svc.SendAlert(context.Background(), "first", "d", status.RiskDanger, nil))
	assert.False(t, svc.SendAlert(context.Background(), "second", "d", status.RiskDanger, nil))
	assert.Equal(t, 1, p.count())

	recs := ml.all()
	require.Len(t, recs, 2)
	assert.False(t, recs[1].Success)
	assert.Equal(t, "rate limited", recs[1].Error)
	assert.Empty(t, recs[1].Provider)
}

func TestServiceRecordsAfterCancellation(t *testing.T) {
	t.Parallel()
	p := newFakeProvider("p", ChannelWarning)
	ml := &memoryLog{}
	svc := NewService([]Provider{p}, WithMessageLog(ml), unlimited())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.SendAlert(ctx, "t", "d", status.RiskWarning, nil)
	assert.Len(t, ml.all(), 1)
}

func TestNewServiceFromSettingsDiscord(t *testing.T) {
	t.Parallel()
	mt := httpmock.NewMockTransport()
	client := httpclient.New(&httpclient.Config{Transport: mt})
	rec := &webhookRecorder{}
	mt.RegisterResponder(http.MethodPost, testWarningHook, rec.responder(http.StatusNoContent))

	settings := &conf.NotificationSettings{
		Discord: conf.DiscordSettings{Enabled: true, WarningWebhook: testWarningHook},
		Timeout: 5 * time.Second,
		CircuitBreaker: conf.CircuitBreakerSettings{
			MaxFailures:  3,
			ResetTimeout: time.Minute,
		},
		RateLimit: 60,
	}
	svc, err := NewServiceFromSettings(settings, client)
	require.NoError(t, err)
	require.True(t, svc.HasProviders())

	assert.True(t, svc.SendAlert(context.Background(), "Test Alert", "This is a test alert from Baby Monitor.", status.RiskWarning, nil))
	// no status webhook, so reports go nowhere
	assert.False(t, svc.SendStatusReport(context.Background(), "s", nil))
	require.Len(t, rec.all(), 1)
	assert.Equal(t, "⚠️ Test Alert", rec.all()[0].payload.Embeds[0].Title)
}

func TestNewServiceFromSettingsRejectsBadShoutrrrURL(t *testing.T) {
	t.Parallel()
	settings := &conf.NotificationSettings{
		Shoutrrr: conf.ShoutrrrSettings{Enabled: true, URLs: []string{"notaservice://token@host"}},
	}
	_, err := NewServiceFromSettings(settings, httpclient.New(nil))
	require.Error(t, err)
}

func TestNewServiceFromSettingsNothingEnabled(t *testing.T) {
	t.Parallel()
	svc, err := NewServiceFromSettings(&conf.NotificationSettings{}, httpclient.New(nil))
	require.NoError(t, err)
	assert.False(t, svc.HasProviders())
	assert.Empty(t, svc.Providers())
}

func TestShoutrrrFormatting(t *testing.T) {
	t.Parallel()
	alert := NewMessage(ChannelWarning, "Baby Crying Detected", "Crying detected (RMS=0.200)", status.RiskWarning, nil)
	assert.Equal(t, "⚠️ Baby Crying Detected", plainTitle(alert))
	assert.Equal(t, "Crying detected (RMS=0.200)\n\nRisk Level: WARNING", plainBody(alert))

	report := NewMessage(ChannelStatus, StatusReportTitle, "summary", "", nil)
	assert.Equal(t, StatusReportTitle, plainTitle(report))
	assert.Equal(t, "summary", plainBody(report))
}

func TestRateLimiterRefill(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 60, BurstSize: 2})
	now := time.Now()
	assert.True(t, rl.AllowAt(now))
	assert.True(t, rl.AllowAt(now))
	assert.False(t, rl.AllowAt(now))
	assert.True(t, rl.AllowAt(now.Add(1100*time.Millisecond)))
}
