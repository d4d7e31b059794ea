package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cribwatch/cribwatch/internal/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeStream hands the callback to the test instead of running a goroutine.
type fakeStream struct {
	mu       sync.Mutex
	cb       func([]float32)
	startErr error
	stops    int
}

func (s *fakeStream) Start(_ context.Context, cb func([]float32)) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) push(samples []float32) {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	cb(samples)
}

type captureSink struct {
	mu  sync.Mutex
	pcm []byte
}

func (c *captureSink) WriteAudio(pcm []byte) error {
	c.mu.Lock()
	c.pcm = append(c.pcm, pcm...)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pcm)
}

func fastConfig() Config {
	return Config{
		SampleRate:         testRate,
		ChunkDuration:      time.Second,
		AnalysisInterval:   5 * time.Millisecond,
		RelayEnabled:       true,
		RelayInterval:      5 * time.Millisecond,
		RelayBufferSeconds: 2,
		StopTimeout:        time.Second,
	}
}

func TestSampleBufferTake(t *testing.T) {
	t.Parallel()
	var b sampleBuffer
	b.append([]float32{1, 2, 3})
	_, ok := b.take(4)
	assert.False(t, ok, "not enough samples")

	b.append([]float32{4, 5})
	w, ok := b.take(4)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3, 4}, w)
	assert.Equal(t, 1, b.len(), "remainder kept for the next window")

	w[0] = 99
	b.append([]float32{6, 7, 8})
	w, ok = b.take(4)
	require.True(t, ok)
	assert.Equal(t, []float32{5, 6, 7, 8}, w)
	assert.Zero(t, b.len())

	_, ok = b.take(0)
	assert.False(t, ok)
}

func TestRelayRingDropsWholeBlocks(t *testing.T) {
	t.Parallel()
	r := newRelayRing(8)
	assert.True(t, r.write([]byte{1, 2, 3, 4, 5, 6}))
	assert.False(t, r.write([]byte{7, 8, 9, 10}), "block larger than free space is dropped")
	assert.True(t, r.write([]byte{7, 8}))

	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, r.drain())
	assert.Nil(t, r.drain())

	assert.True(t, r.write([]byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2}, r.drain(), "odd trailing byte waits")
	r.reset()
	assert.Nil(t, r.drain())
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer(Config{})
	assert.Equal(t, DefaultSampleRate, a.cfg.SampleRate)
	assert.Equal(t, 64000, a.cfg.WindowSize())
	assert.Nil(t, a.relay, "relay disabled unless requested")
}

func TestAnalyzerPublishesWindows(t *testing.T) {
	t.Parallel()
	observed := make(chan status.AudioStatus, 4)
	a := NewAnalyzer(fastConfig(), WithWindowObserver(func(st status.AudioStatus, _ time.Duration) {
		observed <- st
	}))
	stream := &fakeStream{}
	require.NoError(t, a.Start(context.Background(), stream))
	t.Cleanup(a.Stop)
	assert.True(t, a.Running())
	assert.Zero(t, a.Status().Timestamp, "nothing published before the first window")

	// half a window is not analyzed
	stream.push(tone(3500, 0.5, 0.5))
	time.Sleep(30 * time.Millisecond)
	windows, _ := a.Stats()
	assert.Zero(t, windows)

	stream.push(tone(3500, 0.5, 0.5))
	select {
	case st := <-observed:
		assert.True(t, st.IsCrying)
		assert.Equal(t, CryTypeIntense, st.CryType)
	case <-time.After(2 * time.Second):
		t.Fatal("window was not analyzed")
	}

	st := a.Status()
	assert.True(t, st.IsCrying)
	assert.False(t, st.Timestamp.IsZero())
	assert.Zero(t, a.Buffered())
}

func TestAnalyzerDrainsBacklog(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	count := 0
	a := NewAnalyzer(fastConfig(), WithAnalyzeFunc(func(s []float32, _ int) status.AudioStatus {
		mu.Lock()
		count++
		mu.Unlock()
		return status.AudioStatus{Description: "ok"}
	}))
	stream := &fakeStream{}
	require.NoError(t, a.Start(context.Background(), stream))
	t.Cleanup(a.Stop)

	stream.push(make([]float32, 3*testRate+100))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 100, a.Buffered())
}

func TestAnalyzerPanicKeepsPreviousStatus(t *testing.T) {
	t.Parallel()
	calls := 0
	var mu sync.Mutex
	a := NewAnalyzer(fastConfig(), WithAnalyzeFunc(func([]float32, int) status.AudioStatus {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n > 1 {
			panic("analysis failed")
		}
		return status.AudioStatus{Description: "first"}
	}))
	stream := &fakeStream{}
	require.NoError(t, a.Start(context.Background(), stream))
	t.Cleanup(a.Stop)

	stream.push(make([]float32, testRate))
	require.Eventually(t, func() bool { return a.Status().Description == "first" }, 2*time.Second, 5*time.Millisecond)

	stream.push(make([]float32, testRate))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "first", a.Status().Description)
	assert.True(t, a.Running(), "loop survives a panicking window")
}

func TestAnalyzerRelaysPCM(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	a := NewAnalyzer(fastConfig(), WithRelaySink(sink))
	stream := &fakeStream{}
	require.NoError(t, a.Start(context.Background(), stream))
	t.Cleanup(a.Stop)

	stream.push(tone(440, 0.2, 0.1))
	require.Eventually(t, func() bool { return sink.size() == 1600*2 }, 2*time.Second, 5*time.Millisecond)

	a.SetRelaySink(nil)
	stream.push(tone(440, 0.2, 0.1))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1600*2, sink.size(), "nil sink discards")
}

func TestAnalyzerRelayOverflowCounted(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.RelayInterval = time.Hour
	a := NewAnalyzer(cfg)
	stream := &fakeStream{}
	require.NoError(t, a.Start(context.Background(), stream))
	t.Cleanup(a.Stop)

	// ring holds two seconds of 16-bit samples
	stream.push(make([]float32, 2*testRate))
	stream.push(make([]float32, 10))
	_, dropped := a.Stats()
	assert.Equal(t, uint64(1), dropped)
}

func TestAnalyzerStartError(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer(fastConfig())
	err := a.Start(context.Background(), &fakeStream{startErr: errors.New("no device")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device")
	assert.False(t, a.Running())
}

func TestAnalyzerStopIsIdempotent(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer(fastConfig())
	a.Stop()

	stream := &fakeStream{}
	require.NoError(t, a.Start(context.Background(), stream))
	a.Stop()
	a.Stop()
	assert.False(t, a.Running())
	assert.Equal(t, 1, stream.stops)
}

func TestAnalyzerRestartStopsPreviousStream(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer(fastConfig())
	first, second := &fakeStream{}, &fakeStream{}
	require.NoError(t, a.Start(context.Background(), first))
	first.push(make([]float32, 100))
	require.NoError(t, a.Start(context.Background(), second))
	t.Cleanup(a.Stop)

	assert.Equal(t, 1, first.stops)
	assert.Zero(t, a.Buffered(), "buffers reset on restart")
}

func TestWAVRoundTripAndAnalyzeFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cry.wav")
	samples := append(tone(3500, 0.5, 2), make([]float32, 2*testRate+500)...)
	require.NoError(t, WriteWAV(path, samples, testRate))

	decoded, rate, err := ReadWAV(path)
	require.NoError(t, err)
	assert.Equal(t, testRate, rate)
	require.Len(t, decoded, len(samples))
	assert.InDelta(t, samples[100], decoded[100], 1e-3)

	results, err := AnalyzeFile(path, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, results, 2, "trailing partial window ignored")
	assert.Zero(t, results[0].Offset)
	assert.True(t, results[0].Status.IsCrying)
	assert.Equal(t, 2*time.Second, results[1].Offset)
	assert.Equal(t, DescQuiet, results[1].Status.Description)
}

func TestReadWAVErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	_, _, err := ReadWAV(filepath.Join(dir, "missing.wav"))
	require.Error(t, err)

	bogus := filepath.Join(dir, "bogus.wav")
	require.NoError(t, os.WriteFile(bogus, []byte("not a wav file at all"), 0o600))
	_, _, err = ReadWAV(bogus)
	require.Error(t, err)

	short := filepath.Join(dir, "short.wav")
	require.NoError(t, WriteWAV(short, make([]float32, 100), testRate))
	_, err = AnalyzeFile(short, time.Second)
	require.Error(t, err)
}

func TestFileStreamDeliversWholeFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "in.wav")
	require.NoError(t, WriteWAV(path, tone(440, 0.3, 0.5), testRate))

	stream := &FileStream{Path: path, SampleRate: testRate}
	var mu sync.Mutex
	total := 0
	require.NoError(t, stream.Start(context.Background(), func(s []float32) {
		mu.Lock()
		total += len(s)
		mu.Unlock()
	}))
	select {
	case <-stream.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("file stream did not finish")
	}
	require.NoError(t, stream.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, testRate/2, total)
}

func TestFileStreamRejectsRateMismatch(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "in.wav")
	require.NoError(t, WriteWAV(path, make([]float32, 800), 8000))

	err := NewFileStream(path, testRate).Start(context.Background(), func([]float32) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}
