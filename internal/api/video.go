package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cribwatch/cribwatch/internal/camera"
	"github.com/cribwatch/cribwatch/internal/lifecycle"
	"github.com/cribwatch/cribwatch/internal/logger"
)

// MJPEGBoundary separates parts of the /video_feed response.
const MJPEGBoundary = "frame"

// handleVideoFeed streams the streaming camera as multipart/x-mixed-replace
// at the configured rate until the client goes away or the server shuts
// down. Ticks without a frame write nothing.
func (s *Server) handleVideoFeed(c echo.Context) error {
	if s.monitor == nil {
		return s.unavailable(c, "pipeline")
	}
	if !s.streams.TryAcquire(1) {
		return s.handleError(c, nil, "too many video clients", http.StatusServiceUnavailable)
	}
	defer s.streams.Release(1)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "multipart/x-mixed-replace; boundary="+MJPEGBoundary)
	res.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	res.Header().Set("Connection", "close")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	reqCtx := c.Request().Context()
	period := lifecycle.Period(s.config.VideoFPS)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	log := s.log.With(logger.String("ip", c.RealIP()))
	log.Debug("video client connected")
	var (
		lastCaptured time.Time
		jpeg         []byte
		sent         int
	)
	for {
		if frame, ok := s.monitor.StreamFrame(); ok {
			// re-encode only when the camera produced a new frame
			if !frame.Captured.Equal(lastCaptured) || jpeg == nil {
				encoded, err := camera.EncodeJPEG(frame, s.config.JPEGQuality)
				if err != nil {
					log.Warn("failed to encode video frame", logger.Error(err))
				} else {
					jpeg = encoded
					lastCaptured = frame.Captured
				}
			}
			if jpeg != nil {
				if err := writeMJPEGPart(res, jpeg); err != nil {
					log.Debug("video client disconnected", logger.Int("frames", sent), logger.Error(err))
					return nil
				}
				sent++
			}
		}

		select {
		case <-reqCtx.Done():
			log.Debug("video client disconnected", logger.Int("frames", sent))
			return nil
		case <-s.ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func writeMJPEGPart(res *echo.Response, jpeg []byte) error {
	header := "--" + MJPEGBoundary + "\r\n" +
		"Content-Type: image/jpeg\r\n" +
		"Content-Length: " + strconv.Itoa(len(jpeg)) + "\r\n\r\n"
	if _, err := res.Write([]byte(header)); err != nil {
		return err
	}
	if _, err := res.Write(jpeg); err != nil {
		return err
	}
	if _, err := res.Write([]byte("\r\n")); err != nil {
		return err
	}
	res.Flush()
	return nil
}
