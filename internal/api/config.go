// Package api serves the monitor's HTTP interface: the live MJPEG feed,
// device control, history queries, host health, the audio websocket and
// Prometheus metrics.
package api

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cribwatch/cribwatch/internal/conf"
	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultVideoFPS        = 30.0
	DefaultJPEGQuality     = 80
	DefaultMaxStreams      = 4
	DefaultDeviceCacheTTL  = 30 * time.Second
)

// Config holds the HTTP server configuration.
type Config struct {
	Host string // empty binds every interface
	Port int

	AllowedOrigins []string

	ReadTimeout time.Duration
	// WriteTimeout is zero by default; a non-zero value would cut off
	// the video feed and websocket clients.
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BodyLimit string // e.g. "1M"

	VideoFPS       float64 // MJPEG frame rate
	JPEGQuality    int
	MaxStreams     int // concurrent /video_feed clients
	DeviceCacheTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:            8080,
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     DefaultReadTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       "1M",
		VideoFPS:        DefaultVideoFPS,
		JPEGQuality:     DefaultJPEGQuality,
		MaxStreams:      DefaultMaxStreams,
		DeviceCacheTTL:  DefaultDeviceCacheTTL,
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	ws := settings.WebServer
	cfg.Host = ws.Host
	if ws.Port != 0 {
		cfg.Port = ws.Port
	}
	if ws.VideoStreamFPS > 0 {
		cfg.VideoFPS = ws.VideoStreamFPS
	}
	if ws.JPEGQuality > 0 {
		cfg.JPEGQuality = ws.JPEGQuality
	}
	if ws.MaxStreams > 0 {
		cfg.MaxStreams = ws.MaxStreams
	}
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var problems []string
	if c.Port < 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port must be between 0 and 65535, got %d", c.Port))
	}
	if c.VideoFPS <= 0 {
		problems = append(problems, fmt.Sprintf("video fps must be positive, got %v", c.VideoFPS))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		problems = append(problems, fmt.Sprintf("jpeg quality must be between 1 and 100, got %d", c.JPEGQuality))
	}
	if c.MaxStreams < 1 {
		problems = append(problems, fmt.Sprintf("max streams must be at least 1, got %d", c.MaxStreams))
	}
	if c.ReadTimeout <= 0 {
		problems = append(problems, "read timeout must be positive")
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.Newf("invalid server configuration: %v", problems).
		Component("api").
		Category(errors.CategoryConfiguration).
		Build()
}

// Address returns the full address string for the server to listen on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf("Server Config: address=%s, video_fps=%v, max_streams=%d",
		c.Address(), c.VideoFPS, c.MaxStreams)
}
