// Package opencv implements camera.Device on top of gocv.
package opencv

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/cribwatch/cribwatch/internal/camera"
	"github.com/cribwatch/cribwatch/internal/errors"
)

// maxProbe is how many indices ListDevices tries on platforms without V4L2.
const maxProbe = 5

// Device reads BGR frames from a gocv VideoCapture.
type Device struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	mat     gocv.Mat
	closed  bool
}

// Open is a camera.Opener.
func Open(id int, cfg camera.Config) (camera.Device, error) {
	capture, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, errors.New(err).
			Component("camera").
			Category(errors.CategoryCamera).
			Context("device_id", id).
			Build()
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return nil, errors.Newf("camera %d did not open", id).
			Component("camera").
			Category(errors.CategoryCamera).
			Context("device_id", id).
			Build()
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	capture.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))

	return &Device{capture: capture, mat: gocv.NewMat()}, nil
}

// Read grabs the next frame.
func (d *Device) Read() (camera.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return camera.Frame{}, fmt.Errorf("device closed")
	}
	if ok := d.capture.Read(&d.mat); !ok || d.mat.Empty() {
		return camera.Frame{}, fmt.Errorf("no frame")
	}

	channels := d.mat.Channels()
	if channels != 1 && channels != 3 {
		gocv.CvtColor(d.mat, &d.mat, gocv.ColorBGRAToBGR)
		channels = 3
	}

	return camera.Frame{
		Width:    d.mat.Cols(),
		Height:   d.mat.Rows(),
		Channels: channels,
		Pix:      d.mat.ToBytes(),
		Captured: time.Now(),
	}, nil
}

// Close releases the capture and its buffer.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	matErr := d.mat.Close()
	capErr := d.capture.Close()
	return errors.Join(matErr, capErr)
}

// ListDevices lists cameras. On Linux it enumerates V4L2 nodes; elsewhere it
// probes the first few indices, which fails for a device already in use.
func ListDevices() ([]camera.DeviceInfo, error) {
	if runtime.GOOS == "linux" {
		return camera.ListDevices()
	}

	var devices []camera.DeviceInfo
	for i := range maxProbe {
		capture, err := gocv.OpenVideoCapture(i)
		if err != nil {
			continue
		}
		if capture.IsOpened() {
			w := int(capture.Get(gocv.VideoCaptureFrameWidth))
			h := int(capture.Get(gocv.VideoCaptureFrameHeight))
			devices = append(devices, camera.DeviceInfo{
				ID:         i,
				Name:       fmt.Sprintf("Camera %d", i),
				Resolution: fmt.Sprintf("%dx%d", w, h),
			})
		}
		_ = capture.Close()
	}
	return devices, nil
}
