package audio

import "sync"

// sampleBuffer accumulates captured samples until the analysis loop drains a
// full window. It grows without bound when analysis falls behind.
type sampleBuffer struct {
	mu      sync.Mutex
	samples []float32
}

func (b *sampleBuffer) append(samples []float32) {
	b.mu.Lock()
	b.samples = append(b.samples, samples...)
	b.mu.Unlock()
}

// take removes and returns the oldest n samples, or false when fewer are
// buffered.
func (b *sampleBuffer) take(n int) ([]float32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || len(b.samples) < n {
		return nil, false
	}
	window := make([]float32, n)
	copy(window, b.samples[:n])
	remaining := copy(b.samples, b.samples[n:])
	b.samples = b.samples[:remaining]
	return window, true
}

func (b *sampleBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

func (b *sampleBuffer) reset() {
	b.mu.Lock()
	b.samples = b.samples[:0]
	b.mu.Unlock()
}
