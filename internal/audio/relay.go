package audio

import (
	"github.com/smallnest/ringbuffer"
)

// RelaySink receives raw PCM16 audio for live listening. Implementations
// must not block for long; errors are logged and the data is dropped.
type RelaySink interface {
	WriteAudio(pcm []byte) error
}

// relayRing is the bounded buffer between the capture callback and the relay
// loop. A block that does not fit is dropped whole so samples stay aligned.
type relayRing struct {
	rb *ringbuffer.RingBuffer
}

func newRelayRing(capacity int) *relayRing {
	return &relayRing{rb: ringbuffer.New(capacity)}
}

// write reports whether the block was accepted.
func (r *relayRing) write(pcm []byte) bool {
	if len(pcm) == 0 {
		return true
	}
	if r.rb.Free() < len(pcm) {
		return false
	}
	if _, err := r.rb.Write(pcm); err != nil {
		return false
	}
	return true
}

// drain returns everything buffered, or nil when empty.
func (r *relayRing) drain() []byte {
	n := r.rb.Length()
	if n == 0 {
		return nil
	}
	// keep whole samples; an odd byte waits for its partner
	n -= n % 2
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	read, err := r.rb.Read(buf)
	if err != nil {
		return nil
	}
	return buf[:read]
}

func (r *relayRing) reset() {
	r.rb.Reset()
}
