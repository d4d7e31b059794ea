// Package malgo implements audio.Stream on top of miniaudio.
package malgo

import (
	"context"
	"encoding/hex"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/cribwatch/cribwatch/internal/audio"
	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/logger"
)

// Stream captures mono signed 16-bit audio from one device.
type Stream struct {
	device     string
	sampleRate int
	log        logger.Logger

	mu      sync.Mutex
	mctx    *malgo.AllocatedContext
	capture *malgo.Device
}

// NewStream returns a stream for device, which may be empty for the system
// default, a numeric index, or a substring of the device name or ID.
func NewStream(device string, sampleRate int) *Stream {
	return &Stream{
		device:     device,
		sampleRate: sampleRate,
		log:        logger.Global().Module("audio").Module("malgo"),
	}
}

func backends() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	default:
		return nil
	}
}

// Start opens the device and begins delivering samples to onSamples.
func (s *Stream) Start(_ context.Context, onSamples func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mctx, err := malgo.InitContext(backends(), malgo.ContextConfig{}, func(message string) {
		s.log.Debug("miniaudio", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return sourceError(err, "init_context", s.device)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(s.sampleRate)
	cfg.Alsa.NoMMap = 1

	if s.device != "" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			releaseContext(mctx)
			return sourceError(err, "list_devices", s.device)
		}
		info, ok := selectDevice(infos, s.device)
		if !ok {
			releaseContext(mctx)
			return errors.Newf("no capture device matches %q", s.device).
				Component("audio").
				Category(errors.CategoryAudioSource).
				Build()
		}
		cfg.Capture.DeviceID = info.ID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			onSamples(audio.PCM16ToFloat(input))
		},
	}
	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		releaseContext(mctx)
		return sourceError(err, "init_device", s.device)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		releaseContext(mctx)
		return sourceError(err, "start_device", s.device)
	}

	s.mctx = mctx
	s.capture = device
	s.log.Info("audio capture started", logger.String("device", s.device), logger.Int("sample_rate", s.sampleRate))
	return nil
}

// Stop halts capture and releases the device.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture == nil {
		return nil
	}
	err := s.capture.Stop()
	s.capture.Uninit()
	releaseContext(s.mctx)
	s.capture = nil
	s.mctx = nil
	return err
}

func releaseContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}

func sourceError(err error, op, device string) error {
	return errors.New(err).
		Component("audio").
		Category(errors.CategoryAudioSource).
		Context("operation", op).
		Context("device", device).
		Build()
}

func selectDevice(infos []malgo.DeviceInfo, want string) (malgo.DeviceInfo, bool) {
	if idx, err := strconv.Atoi(want); err == nil {
		if idx >= 0 && idx < len(infos) {
			return infos[idx], true
		}
		return malgo.DeviceInfo{}, false
	}
	for _, info := range infos {
		if decodeID(info.ID.String()) == want || strings.Contains(info.Name(), want) {
			return info, true
		}
	}
	return malgo.DeviceInfo{}, false
}

// decodeID turns miniaudio's hex device ID into its readable form, e.g. the
// ALSA "hw:1,0" string.
func decodeID(hexID string) string {
	raw, err := hex.DecodeString(hexID)
	if err != nil {
		return hexID
	}
	return strings.TrimRight(string(raw), "\x00")
}

// ListDevices returns the available capture devices.
func ListDevices() ([]audio.DeviceInfo, error) {
	mctx, err := malgo.InitContext(backends(), malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, sourceError(err, "init_context", "")
	}
	defer releaseContext(mctx)

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, sourceError(err, "list_devices", "")
	}
	devices := make([]audio.DeviceInfo, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, audio.DeviceInfo{
			Index:     i,
			Name:      info.Name(),
			DeviceID:  decodeID(info.ID.String()),
			IsDefault: info.IsDefault == 1,
		})
	}
	return devices, nil
}
