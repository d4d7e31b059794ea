package testutil

import (
	"image"
	"image/color"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cribwatch/cribwatch/internal/camera"
	"github.com/cribwatch/cribwatch/internal/conf"
	"github.com/cribwatch/cribwatch/internal/errors"
)

// Settings returns the built-in defaults with every network integration
// disabled, SQLite in a temp dir and the web server on a free local port.
func Settings(t *testing.T) *conf.Settings {
	t.Helper()
	s := conf.DefaultSettings()
	s.Output.SQLite.Enabled = true
	s.Output.SQLite.Path = filepath.Join(t.TempDir(), "cribwatch.db")
	s.Output.MySQL.Enabled = false
	s.Vision.Enabled = false
	s.Audio.Enabled = false
	s.MQTT.Enabled = false
	s.Events.Redis.Enabled = false
	s.Notification.Discord.Enabled = false
	s.Notification.Shoutrrr.Enabled = false
	s.Sentry.Enabled = false
	s.WebServer.Host = "127.0.0.1"
	s.WebServer.Port = FreePort(t)
	return s
}

// FreePort returns a TCP port that was free on the loopback interface.
func FreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// StillCamera is a camera.Opener whose devices produce a gray frame every
// interval. Opened counts successful opens.
type StillCamera struct {
	Interval time.Duration
	Missing  map[int]bool
	Opened   atomic.Int32
}

// Open implements camera.Opener.
func (c *StillCamera) Open(id int, cfg camera.Config) (camera.Device, error) {
	if c.Missing[id] {
		return nil, errors.Newf("camera %d not connected", id).
			Component("testutil").
			Category(errors.CategoryCamera).
			Build()
	}
	c.Opened.Add(1)
	return &stillDevice{interval: c.Interval, w: cfg.Width, h: cfg.Height}, nil
}

type stillDevice struct {
	interval time.Duration
	w, h     int
	n        uint8
}

func (d *stillDevice) Read() (camera.Frame, error) {
	time.Sleep(d.interval)
	img := image.NewRGBA(image.Rect(0, 0, d.w, d.h))
	d.n++
	fill := color.RGBA{R: d.n, G: 128, B: 128, A: 255}
	for y := 0; y < d.h; y++ {
		for x := 0; x < d.w; x++ {
			img.SetRGBA(x, y, fill)
		}
	}
	return camera.FromImage(img, time.Now()), nil
}

func (d *stillDevice) Close() error { return nil }
