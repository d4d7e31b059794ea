package audio

import (
	"context"
	"sync"
	"time"

	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/lifecycle"
)

const fileBlockSize = 1024

// FileStream replays a WAV file as if it were a live microphone, one block
// per block duration. With Loop set it restarts at the end of the file.
type FileStream struct {
	Path       string
	SampleRate int // required rate, 0 accepts the file's rate
	Loop       bool
	Realtime   bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFileStream returns a real-time, looping stream over path.
func NewFileStream(path string, sampleRate int) *FileStream {
	return &FileStream{Path: path, SampleRate: sampleRate, Loop: true, Realtime: true}
}

// Start decodes the file and begins delivering blocks.
func (s *FileStream) Start(ctx context.Context, onSamples func([]float32)) error {
	samples, rate, err := ReadWAV(s.Path)
	if err != nil {
		return err
	}
	if s.SampleRate > 0 && rate != s.SampleRate {
		return errors.Newf("file sample rate %d does not match configured %d", rate, s.SampleRate).
			Component("audio").
			Category(errors.CategoryAudioSource).
			Context("path", s.Path).
			Build()
	}
	if len(samples) == 0 {
		return errors.Newf("file contains no samples").
			Component("audio").
			Category(errors.CategoryAudioSource).
			Context("path", s.Path).
			Build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, samples, rate, onSamples, s.done)
	return nil
}

func (s *FileStream) run(ctx context.Context, samples []float32, rate int, onSamples func([]float32), done chan<- struct{}) {
	defer close(done)
	blockDuration := time.Duration(fileBlockSize) * time.Second / time.Duration(rate)

	var ticker *time.Ticker
	if s.Realtime {
		ticker = time.NewTicker(blockDuration)
		defer ticker.Stop()
	}

	pos := 0
	for {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return
		}

		end := min(pos+fileBlockSize, len(samples))
		block := make([]float32, end-pos)
		copy(block, samples[pos:end])
		onSamples(block)

		pos = end
		if pos >= len(samples) {
			if !s.Loop {
				return
			}
			pos = 0
		}
	}
}

// Stop ends playback and waits for the delivery goroutine.
func (s *FileStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	lifecycle.Join(s.done, DefaultStopTimeout)
	s.cancel = nil
	s.done = nil
	return nil
}

// Done is closed when a non-looping stream reaches the end of the file.
func (s *FileStream) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
