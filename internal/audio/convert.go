package audio

import (
	"encoding/binary"
	"math"
)

// FloatToPCM16 converts samples in [-1, 1] to little-endian signed 16-bit PCM.
// Out-of-range samples are clipped.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := max(-1, min(float64(s), 1))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(math.Round(v*math.MaxInt16))))
	}
	return out
}

// PCM16ToFloat converts little-endian signed 16-bit PCM to samples in [-1, 1).
// A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out
}
