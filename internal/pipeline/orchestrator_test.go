package pipeline

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cribwatch/cribwatch/internal/alert"
	"github.com/cribwatch/cribwatch/internal/audio"
	"github.com/cribwatch/cribwatch/internal/camera"
	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/motion"
	"github.com/cribwatch/cribwatch/internal/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// texturedFrame draws fixed gaussian blobs so the estimator finds corners.
func texturedFrame(w, h int) camera.Frame {
	r := rand.New(rand.NewPCG(7, 11))
	type blob struct{ x, y, amp float64 }
	blobs := make([]blob, 30)
	for i := range blobs {
		amp := 60 + 40*r.Float64()
		if i%2 == 1 {
			amp = -amp
		}
		blobs[i] = blob{16 + r.Float64()*float64(w-32), 16 + r.Float64()*float64(h-32), amp}
	}
	const sigma = 4.0
	pix := make([]byte, w*h)
	for y := range h {
		for x := range w {
			v := 128.0
			for _, b := range blobs {
				dx, dy := float64(x)-b.x, float64(y)-b.y
				v += b.amp * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
			}
			pix[y*w+x] = uint8(max(0, min(255, math.Round(v))))
		}
	}
	return camera.Frame{Width: w, Height: h, Channels: 1, Pix: pix, Captured: time.Now()}
}

type fakeCamera struct {
	mu      sync.Mutex
	frame   camera.Frame
	fail    map[int]bool
	id      int
	running bool
	stops   int
}

func newFakeCamera(frame camera.Frame, failIDs ...int) *fakeCamera {
	c := &fakeCamera{frame: frame, fail: map[int]bool{}, id: -1}
	for _, id := range failIDs {
		c.fail[id] = true
	}
	return c
}

func (c *fakeCamera) Start(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail[id] {
		return false
	}
	c.id = id
	c.running = true
	return true
}

func (c *fakeCamera) GetFrame() (camera.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.frame.Empty() {
		return camera.Frame{}, false
	}
	return c.frame.Clone(), true
}

func (c *fakeCamera) SwitchCamera(id int) bool {
	c.Stop()
	return c.Start(id)
}

func (c *fakeCamera) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.stops++
}

func (c *fakeCamera) ID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *fakeCamera) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *fakeCamera) Stats() (captured, dropped uint64) { return 1, 0 }

func (c *fakeCamera) stopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

type scriptedClassifier struct {
	mu     sync.Mutex
	result status.BabyStatus
	err    error
	calls  int
}

func (c *scriptedClassifier) Classify(_ context.Context, _ camera.Frame) (status.BabyStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return status.BabyStatus{}, c.err
	}
	return c.result.Clone(), nil
}

func (c *scriptedClassifier) set(result status.BabyStatus, err error) {
	c.mu.Lock()
	c.result, c.err = result, err
	c.mu.Unlock()
}

func (c *scriptedClassifier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type countingMotion struct {
	inner *motion.Estimator
	calls atomic.Int64
	reset atomic.Int64
}

func (m *countingMotion) Estimate(f camera.Frame) status.MotionStatus {
	m.calls.Add(1)
	return m.inner.Estimate(f)
}

func (m *countingMotion) Reset() {
	m.reset.Add(1)
	m.inner.Reset()
}

type sentMessage struct {
	title  string
	level  status.RiskLevel
	image  []byte
	report bool
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *fakeNotifier) SendAlert(_ context.Context, title, _ string, level status.RiskLevel, image []byte) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{title: title, level: level, image: image})
	return true
}

func (n *fakeNotifier) SendStatusReport(_ context.Context, _ string, image []byte) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{report: true, image: image})
	return true
}

func (n *fakeNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

type fakeAudio struct {
	mu      sync.Mutex
	current status.AudioStatus
	running bool
	stops   int
}

func (a *fakeAudio) Start(context.Context, audio.Stream) error {
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()
	return nil
}

func (a *fakeAudio) Status() status.AudioStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *fakeAudio) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *fakeAudio) Stop() {
	a.mu.Lock()
	a.running = false
	a.stops++
	a.mu.Unlock()
}

type memoryRecorder struct {
	mu     sync.Mutex
	vision int
	motion int
	audio  int
	events []status.Event
	closed bool
}

func (r *memoryRecorder) RecordVision(context.Context, status.BabyStatus) error {
	r.mu.Lock()
	r.vision++
	r.mu.Unlock()
	return nil
}

func (r *memoryRecorder) RecordMotion(context.Context, status.MotionStatus) error {
	r.mu.Lock()
	r.motion++
	r.mu.Unlock()
	return nil
}

func (r *memoryRecorder) RecordAudio(context.Context, status.AudioStatus) error {
	r.mu.Lock()
	r.audio++
	r.mu.Unlock()
	return nil
}

func (r *memoryRecorder) RecordEvent(_ context.Context, e status.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *memoryRecorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *memoryRecorder) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

type harness struct {
	stream     *fakeCamera
	classifier *scriptedClassifier
	motion     *countingMotion
	audio      *fakeAudio
	notifier   *fakeNotifier
	recorder   *memoryRecorder
	aiCameras  []*fakeCamera
	aiFail     []int
	o          *Orchestrator
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	return newHarnessWithAlerts(t, cfg, alert.Config{})
}

func newHarnessWithAlerts(t *testing.T, cfg Config, alertCfg alert.Config) *harness {
	t.Helper()
	h := &harness{
		stream:     newFakeCamera(texturedFrame(160, 120)),
		classifier: &scriptedClassifier{result: safeBaby("sleeping peacefully on back")},
		motion:     &countingMotion{inner: motion.NewEstimator()},
		audio:      &fakeAudio{},
		notifier:   &fakeNotifier{},
		recorder:   &memoryRecorder{},
	}
	var mu sync.Mutex
	o, err := New(cfg, Deps{
		Stream: h.stream,
		NewCamera: func() Camera {
			mu.Lock()
			defer mu.Unlock()
			c := newFakeCamera(texturedFrame(160, 120), h.aiFail...)
			h.aiCameras = append(h.aiCameras, c)
			return c
		},
		Motion:      h.motion,
		Classifier:  h.classifier,
		Audio:       h.audio,
		AudioStream: audio.NewFileStream("unused.wav", 16000),
		Alerts:      alert.NewScheduler(alertCfg, h.notifier),
		Recorder:    h.recorder,
	})
	require.NoError(t, err)
	h.o = o
	t.Cleanup(o.Stop)
	return h
}

func safeBaby(desc string) status.BabyStatus {
	b := status.DefaultBabyStatus()
	b.Position = status.PositionSupine
	b.Description = desc
	return b
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, Deps{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{}.withDefaults()
	assert.InDelta(t, 2.0, cfg.VisionFPS, 1e-9)
	assert.InDelta(t, 15.0, cfg.MotionFPS, 1e-9)
	assert.Equal(t, 5*time.Second, cfg.LogInterval)
	assert.Equal(t, 5*time.Second, cfg.VisionStopTimeout)
	assert.Equal(t, 2*time.Second, cfg.MotionStopTimeout)
}

// Constant frame at 15 Hz motion and 2 Hz vision: no movement, an unchanged
// classification and no alert.
func TestConstantFrameScenario(t *testing.T) {
	h := newHarness(t, Config{VisionFPS: 2, MotionFPS: 15, LogInterval: 500 * time.Millisecond})
	require.NoError(t, h.o.Start(context.Background()))

	time.Sleep(1600 * time.Millisecond)
	snap := h.o.Status()
	h.o.Stop()

	assert.False(t, snap.Motion.HasMotion)
	assert.Equal(t, motion.DescNone, snap.Motion.Description)
	assert.Zero(t, snap.Motion.Magnitude)
	assert.Equal(t, status.RiskSafe, snap.Baby.RiskLevel)
	assert.Equal(t, "sleeping peacefully on back", snap.Baby.Description)
	assert.False(t, snap.LastVisionUpdate.IsZero())
	assert.False(t, snap.VisionInProgress)

	calls := h.classifier.callCount()
	assert.GreaterOrEqual(t, calls, 3)
	assert.LessOrEqual(t, calls, 5)
	assert.GreaterOrEqual(t, h.motion.calls.Load(), int64(10))
	assert.LessOrEqual(t, h.motion.calls.Load(), int64(26))

	assert.Empty(t, h.notifier.messages())
	h.recorder.mu.Lock()
	assert.GreaterOrEqual(t, h.recorder.motion, 2)
	assert.GreaterOrEqual(t, h.recorder.audio, 2)
	assert.Equal(t, calls, h.recorder.vision)
	h.recorder.mu.Unlock()
}

func TestVisionFailureKeepsLastResult(t *testing.T) {
	h := newHarness(t, Config{VisionFPS: 20, MotionFPS: 20})
	require.NoError(t, h.o.Start(context.Background()))

	require.Eventually(t, func() bool {
		return h.o.Status().Baby.Description == "sleeping peacefully on back"
	}, 2*time.Second, 10*time.Millisecond)

	h.classifier.set(status.BabyStatus{}, errors.NewStd("ollama unreachable"))
	require.Eventually(t, func() bool {
		st, _ := h.o.VisionStats()
		return st.Errors >= 2
	}, 2*time.Second, 10*time.Millisecond)

	snap := h.o.Status()
	assert.Equal(t, status.RiskSafe, snap.Baby.RiskLevel)
	assert.Equal(t, "sleeping peacefully on back", snap.Baby.Description)
	assert.Contains(t, h.recorder.eventTypes(), status.EventVisionError)

	st, ok := h.o.VisionStats()
	require.True(t, ok)
	assert.Contains(t, st.LastError, "ollama unreachable")
}

func TestDangerAlertRespectsCooldown(t *testing.T) {
	h := newHarness(t, Config{VisionFPS: 20, MotionFPS: 5})
	danger := safeBaby("face down")
	danger.RiskLevel = status.RiskDanger
	danger.Position = status.PositionProne
	danger.FaceCovered = true
	h.classifier.set(danger, nil)

	require.NoError(t, h.o.Start(context.Background()))
	require.Eventually(t, func() bool {
		return h.classifier.callCount() >= 8
	}, 3*time.Second, 10*time.Millisecond)
	h.o.Stop()

	msgs := h.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, alert.TitleDanger, msgs[0].title)
	assert.Equal(t, status.RiskDanger, msgs[0].level)
	assert.NotEmpty(t, msgs[0].image)
}

func TestStaleDangerIsNotRealerted(t *testing.T) {
	h := newHarnessWithAlerts(t, Config{VisionFPS: 20, MotionFPS: 5},
		alert.Config{WarningCooldown: 50 * time.Millisecond})
	danger := safeBaby("face down")
	danger.RiskLevel = status.RiskDanger
	danger.FaceCovered = true
	h.classifier.set(danger, nil)

	require.NoError(t, h.o.Start(context.Background()))
	require.Eventually(t, func() bool {
		return len(h.notifier.messages()) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	h.classifier.set(status.BabyStatus{}, errors.NewStd("ollama unreachable"))
	require.Eventually(t, func() bool {
		st, _ := h.o.VisionStats()
		return st.Errors >= 1
	}, 2*time.Second, 10*time.Millisecond)
	before := len(h.notifier.messages())

	// several cooldowns pass while classification keeps failing
	start := h.classifier.callCount()
	require.Eventually(t, func() bool {
		return h.classifier.callCount() >= start+8
	}, 3*time.Second, 10*time.Millisecond)
	h.o.Stop()

	assert.Equal(t, before, len(h.notifier.messages()))
	assert.Equal(t, status.RiskDanger, h.o.Status().Baby.RiskLevel, "last result is still reported")
}

func TestCryAlertWithoutCamera(t *testing.T) {
	h := newHarness(t, Config{DeviceID: 4, AIDeviceID: 4, VisionFPS: 20, MotionFPS: 5})
	h.stream.fail[4] = true
	h.audio.current = status.AudioStatus{IsCrying: true, CryType: "distressed", Description: "Baby crying loudly"}

	require.NoError(t, h.o.Start(context.Background()))
	require.Eventually(t, func() bool {
		return len(h.notifier.messages()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	h.o.Stop()

	msgs := h.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, alert.TitleCrying, msgs[0].title)
	assert.Nil(t, msgs[0].image)
	assert.Zero(t, h.classifier.callCount())
}

func TestSetAICamera(t *testing.T) {
	h := newHarness(t, Config{DeviceID: 0, AIDeviceID: 0})
	h.aiFail = []int{3}
	require.NoError(t, h.o.Start(context.Background()))
	assert.Equal(t, 0, h.o.AICameraID())

	assert.True(t, h.o.SetAICamera(2))
	assert.Equal(t, 2, h.o.AICameraID())
	assert.Equal(t, 0, h.o.CameraID())

	assert.False(t, h.o.SetAICamera(3))
	assert.Equal(t, 0, h.o.AICameraID(), "falls back to the streaming camera")
	require.Len(t, h.aiCameras, 2)
	assert.Equal(t, 1, h.aiCameras[0].stopCount())

	assert.True(t, h.o.SetAICamera(2))
	assert.True(t, h.o.SetAICamera(0))
	assert.Equal(t, 0, h.o.AICameraID())
	assert.False(t, h.aiCameras[2].Running())
}

func TestStartWithSeparateAICamera(t *testing.T) {
	h := newHarness(t, Config{DeviceID: 0, AIDeviceID: 1})
	require.NoError(t, h.o.Start(context.Background()))
	assert.Equal(t, 1, h.o.AICameraID())
	require.Len(t, h.aiCameras, 1)
	assert.True(t, h.aiCameras[0].Running())
}

func TestSwitchCameraResetsMotionAndRecordsEvent(t *testing.T) {
	h := newHarness(t, Config{DeviceID: 0, AIDeviceID: 1})
	require.NoError(t, h.o.Start(context.Background()))

	assert.True(t, h.o.SwitchCamera(context.Background(), 1))
	assert.Equal(t, 1, h.o.CameraID())
	assert.Equal(t, 1, h.o.AICameraID(), "classification follows the shared device")
	assert.Equal(t, int64(1), h.motion.reset.Load())
	assert.Contains(t, h.recorder.eventTypes(), status.EventCameraSwitch)
}

func TestStopReleasesResources(t *testing.T) {
	h := newHarness(t, Config{DeviceID: 0, AIDeviceID: 1})
	require.NoError(t, h.o.Start(context.Background()))
	assert.True(t, h.audio.Running())

	h.o.Stop()
	h.o.Stop()

	assert.False(t, h.stream.Running())
	assert.False(t, h.aiCameras[0].Running())
	assert.False(t, h.audio.Running())
	assert.Equal(t, 1, h.audio.stops)
	assert.True(t, h.recorder.closed)
	require.NoError(t, h.o.Wait())

	err := h.o.Start(context.Background())
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}

func TestParentContextCancelEndsLoops(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.o.Start(ctx))

	cancel()
	done := make(chan error, 1)
	go func() { done <- h.o.Wait() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loops did not end after cancel")
	}
}

func TestForceReportAttachesFrame(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.o.Start(context.Background()))

	assert.True(t, h.o.ForceReport(context.Background()))
	msgs := h.notifier.messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].report)
	assert.NotEmpty(t, msgs[0].image)
}
