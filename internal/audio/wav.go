package audio

import (
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/status"
)

// ReadWAV decodes a PCM WAV file to mono float32 samples in [-1, 1) and
// returns them with the file's sample rate. Multi-channel audio is averaged.
func ReadWAV(path string) ([]float32, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.New(err).
			Component("audio").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, 0, errors.Newf("invalid WAV file format").
			Component("audio").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}

	divisor, err := pcmDivisor(int(decoder.BitDepth))
	if err != nil {
		return nil, 0, err
	}
	channels := int(decoder.NumChans)
	if channels < 1 {
		return nil, 0, fmt.Errorf("invalid channel count %d", channels)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, errors.New(err).
			Component("audio").
			Category(errors.CategoryFileIO).
			Context("operation", "decode_wav").
			Build()
	}

	return downmix(buf, channels, divisor), int(decoder.SampleRate), nil
}

func pcmDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 8:
		return 128, nil
	case 16:
		return 32768, nil
	case 24:
		return 8388608, nil
	case 32:
		return 2147483648, nil
	default:
		return 0, errors.Newf("unsupported bit depth: %d", bitDepth).
			Component("audio").
			Category(errors.CategoryValidation).
			Build()
	}
}

func downmix(buf *audio.IntBuffer, channels int, divisor float32) []float32 {
	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += float32(buf.Data[i*channels+c]) / divisor
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// WriteWAV writes mono float32 samples as 16-bit PCM.
func WriteWAV(path string, samples []float32, sampleRate int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		v := max(-1, min(s, 1))
		data[i] = int(v * 32767)
	}
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: 1},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		file.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WindowResult is the analysis of one window of a file.
type WindowResult struct {
	Offset time.Duration      `json:"offset"`
	Status status.AudioStatus `json:"status"`
}

// AnalyzeFile splits a WAV file into consecutive non-overlapping windows of
// length chunk and analyzes each. A trailing partial window is ignored.
func AnalyzeFile(path string, chunk time.Duration) ([]WindowResult, error) {
	if chunk <= 0 {
		chunk = DefaultChunkDuration
	}
	samples, rate, err := ReadWAV(path)
	if err != nil {
		return nil, err
	}
	size := int(float64(rate) * chunk.Seconds())
	if size <= 0 || len(samples) < size {
		return nil, errors.Newf("file shorter than one %s window", chunk).
			Component("audio").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}

	var results []WindowResult
	for start := 0; start+size <= len(samples); start += size {
		results = append(results, WindowResult{
			Offset: time.Duration(start) * time.Second / time.Duration(rate),
			Status: AnalyzeWindow(samples[start:start+size], rate),
		})
	}
	return results, nil
}
