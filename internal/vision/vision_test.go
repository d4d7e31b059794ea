package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cribwatch/cribwatch/internal/camera"
	"github.com/cribwatch/cribwatch/internal/status"
)

const testBaseURL = "http://ollama.test"

func testFrame(w, h int) camera.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return camera.FromImage(img, time.Now())
}

func newMockedClassifier(t *testing.T, opts ...Option) (*OllamaClassifier, *httpmock.MockTransport) {
	t.Helper()
	c := NewOllamaClassifier(Config{URL: testBaseURL + "/", Model: "test-vl"}, opts...)
	mt := httpmock.NewMockTransport()
	c.Client().SetTransport(mt)
	return c, mt
}

func chatResponder(t *testing.T, content string, seen *chatRequest) httpmock.Responder {
	t.Helper()
	return func(req *http.Request) (*http.Response, error) {
		if seen != nil {
			if err := json.NewDecoder(req.Body).Decode(seen); err != nil {
				return nil, err
			}
		}
		return httpmock.NewJsonResponse(http.StatusOK, chatResponse{
			Model:   "test-vl",
			Message: chatMessage{Role: "assistant", Content: content},
			Done:    true,
		})
	}
}

func TestOllamaClassifyParsesStructuredAnswer(t *testing.T) {
	t.Parallel()
	c, mt := newMockedClassifier(t)
	var seen chatRequest
	mt.RegisterResponder(http.MethodPost, testBaseURL+"/api/chat", chatResponder(t,
		`{"face_covered": true, "position": "prone", "in_crib": true, "risk_level": "danger", "description": "Face down with blanket"}`,
		&seen))

	baby, err := c.Classify(context.Background(), testFrame(1024, 768))
	require.NoError(t, err)

	assert.Equal(t, status.RiskDanger, baby.RiskLevel)
	assert.True(t, baby.FaceCovered)
	assert.Equal(t, status.PositionProne, baby.Position)
	assert.True(t, baby.InCrib)
	assert.True(t, baby.ShouldAlert)
	assert.Equal(t, status.ChannelAlert, baby.AlertChannel)
	assert.Equal(t, "Face down with blanket", baby.Description)
	assert.False(t, baby.Timestamp.IsZero())

	assert.Equal(t, "test-vl", seen.Model)
	assert.False(t, seen.Stream)
	require.Len(t, seen.Messages, 1)
	assert.Equal(t, "user", seen.Messages[0].Role)
	assert.Equal(t, DefaultPrompt, seen.Messages[0].Content)
	require.Len(t, seen.Messages[0].Images, 1)
	assert.Equal(t, "object", seen.Format["type"])

	raw, err := base64.StdEncoding.DecodeString(seen.Messages[0].Images[0])
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Width)
	assert.Equal(t, 384, cfg.Height)
}

func TestOllamaClassifySafeResult(t *testing.T) {
	t.Parallel()
	c, mt := newMockedClassifier(t)
	mt.RegisterResponder(http.MethodPost, testBaseURL+"/api/chat", chatResponder(t,
		"```json\n{\"face_covered\": false, \"position\": \"Supine\", \"in_crib\": true, \"risk_level\": \"safe\", \"description\": \"Sleeping\"}\n```",
		nil))

	baby, err := c.Classify(context.Background(), testFrame(320, 240))
	require.NoError(t, err)
	assert.Equal(t, status.RiskSafe, baby.RiskLevel)
	assert.Equal(t, status.PositionSupine, baby.Position)
	assert.False(t, baby.ShouldAlert)
	assert.Equal(t, status.ChannelStatus, baby.AlertChannel)
}

func TestOllamaClassifyErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		responder httpmock.Responder
	}{
		{"server error", httpmock.NewStringResponder(http.StatusInternalServerError, `{"error":"model not found"}`)},
		{"not json", chatResponder(t, "I cannot see a baby", nil)},
		{"bad risk level", chatResponder(t, `{"risk_level":"critical","position":"side","in_crib":true,"face_covered":false,"description":""}`, nil)},
		{"transport failure", httpmock.NewErrorResponder(context.DeadlineExceeded)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, mt := newMockedClassifier(t)
			mt.RegisterResponder(http.MethodPost, testBaseURL+"/api/chat", tt.responder)
			_, err := c.Classify(context.Background(), testFrame(64, 48))
			require.Error(t, err)
		})
	}
}

func TestOllamaClassifyEmptyFrame(t *testing.T) {
	t.Parallel()
	c, mt := newMockedClassifier(t)
	_, err := c.Classify(context.Background(), camera.Frame{})
	require.Error(t, err)
	assert.Zero(t, mt.GetTotalCallCount())
}

type staticPrompts struct {
	value string
	ok    bool
}

func (s staticPrompts) GetConfig(context.Context, string) (string, bool, error) {
	return s.value, s.ok, nil
}

func TestOllamaPromptResolution(t *testing.T) {
	t.Parallel()
	c := NewOllamaClassifier(Config{Prompt: "configured"}, WithPromptSource(staticPrompts{value: "from store", ok: true}))
	assert.Equal(t, "from store", c.prompt(context.Background()))

	c = NewOllamaClassifier(Config{Prompt: "configured"}, WithPromptSource(staticPrompts{}))
	assert.Equal(t, "configured", c.prompt(context.Background()))

	c = NewOllamaClassifier(Config{})
	assert.Equal(t, DefaultPrompt, c.prompt(context.Background()))
	assert.Equal(t, DefaultModel, c.Model())
}

func TestOllamaListModels(t *testing.T) {
	t.Parallel()
	c, mt := newMockedClassifier(t)
	mt.RegisterResponder(http.MethodGet, testBaseURL+"/api/tags",
		httpmock.NewStringResponder(http.StatusOK, `{"models":[{"name":"qwen3-vl:latest"},{"name":"llava:13b"}]}`))

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"qwen3-vl:latest", "llava:13b"}, models)
}

func TestDownscale(t *testing.T) {
	t.Parallel()
	small := image.NewRGBA(image.Rect(0, 0, 100, 50))
	assert.Same(t, small, Downscale(small, 512))

	big := image.NewRGBA(image.Rect(0, 0, 1280, 720))
	got := Downscale(big, 512)
	assert.Equal(t, 512, got.Bounds().Dx())
	assert.Equal(t, 288, got.Bounds().Dy())
}

type scriptedClassifier struct {
	mu      sync.Mutex
	results []status.BabyStatus
	errs    []error
	calls   int
}

func (s *scriptedClassifier) Classify(context.Context, camera.Frame) (status.BabyStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	return s.results[i], s.errs[i]
}

func TestGuardKeepsLastKnownGood(t *testing.T) {
	t.Parallel()
	warning := status.DefaultBabyStatus()
	warning.RiskLevel = status.RiskWarning
	warning.Description = "Baby is prone"

	sc := &scriptedClassifier{
		results: []status.BabyStatus{{}, warning, {}},
		errs:    []error{assert.AnError, nil, assert.AnError},
	}
	g := NewGuard(sc)

	// a failure before any success yields the defaults, never a zero value
	got, err := g.Classify(context.Background(), camera.Frame{})
	require.Error(t, err)
	assert.Equal(t, status.DefaultBabyStatus(), got)

	got, err = g.Classify(context.Background(), camera.Frame{})
	require.NoError(t, err)
	assert.Equal(t, warning, got)

	got, err = g.Classify(context.Background(), camera.Frame{})
	require.Error(t, err)
	assert.Equal(t, warning, got)
	assert.Equal(t, warning, g.Last())

	stats := g.Stats()
	assert.Equal(t, uint64(1), stats.Successes)
	assert.Equal(t, uint64(2), stats.Errors)
	assert.Equal(t, assert.AnError.Error(), stats.LastError)
	assert.False(t, stats.LastErrorAt.IsZero())
}

func TestDeriveNormalizesUnknownValues(t *testing.T) {
	t.Parallel()
	b := Derive(status.BabyStatus{RiskLevel: "bogus", Position: "standing"})
	assert.Equal(t, status.RiskSafe, b.RiskLevel)
	assert.Equal(t, status.PositionUnknown, b.Position)
	assert.False(t, b.ShouldAlert)

	b = Derive(status.BabyStatus{RiskLevel: status.RiskWarning, Position: status.PositionSide})
	assert.True(t, b.ShouldAlert)
	assert.Equal(t, status.ChannelAlert, b.AlertChannel)

	// an unknown position from the model is normalized
	b, err := parseClassification(`{"risk_level":"Warning","position":"standing","description":"up"}`)
	require.NoError(t, err)
	assert.Equal(t, status.RiskWarning, b.RiskLevel)
	assert.Equal(t, status.PositionUnknown, b.Position)

	// an unknown risk level is a failed classification, never a silent safe
	_, err = parseClassification(`{"risk_level":"critical","position":"prone","description":"?"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid risk level")
}
