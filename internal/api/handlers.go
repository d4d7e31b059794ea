package api

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"github.com/cribwatch/cribwatch/internal/audio"
	"github.com/cribwatch/cribwatch/internal/camera"
	"github.com/cribwatch/cribwatch/internal/datastore"
	"github.com/cribwatch/cribwatch/internal/logger"
	"github.com/cribwatch/cribwatch/internal/notification"
	"github.com/cribwatch/cribwatch/internal/status"
	"github.com/cribwatch/cribwatch/internal/vision"
)

// Test alert content.
const (
	TestAlertTitle       = "Test Alert"
	TestAlertDescription = "This is a test alert from Baby Monitor."
)

const (
	camerasCacheKey     = "cameras"
	microphonesCacheKey = "microphones"
)

//go:embed index.html
var indexHTML string

// DeviceID is a device reference that clients send either as a number or
// as a string.
type DeviceID string

// UnmarshalJSON implements json.Unmarshaler.
func (d *DeviceID) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*d = DeviceID(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*d = DeviceID(strings.TrimSpace(s))
	return nil
}

// Int returns the numeric value of d, or def when d is empty.
func (d DeviceID) Int(def int) (int, error) {
	if d == "" {
		return def, nil
	}
	return strconv.Atoi(string(d))
}

// CameraRequest is the body of the camera control endpoints.
type CameraRequest struct {
	CameraID DeviceID `json:"camera_id"`
}

// MicrophoneRequest is the body of /api/switch_microphone.
type MicrophoneRequest struct {
	MicrophoneID DeviceID `json:"microphone_id"`
}

// CameraResponse reports the outcome of a camera switch.
type CameraResponse struct {
	Success    bool `json:"success"`
	CameraID   int  `json:"camera_id"`
	AICameraID int  `json:"ai_camera_id"`
}

// StatsResponse combines stored history counts with live counters.
type StatsResponse struct {
	Database      *datastore.Stats              `json:"database,omitempty"`
	Vision        *vision.GuardStats            `json:"vision,omitempty"`
	Notifications []notification.ProviderStatus `json:"notification_providers,omitempty"`
	AudioClients  int                           `json:"audio_clients"`
	Uptime        string                        `json:"uptime"`
}

func (s *Server) handleIndex(c echo.Context) error {
	return c.HTML(http.StatusOK, indexHTML)
}

// handleStatus returns the combined snapshot.
func (s *Server) handleStatus(c echo.Context) error {
	if s.monitor == nil {
		return c.JSON(http.StatusOK, status.CombinedStatus{
			Baby:      status.DefaultBabyStatus(),
			Timestamp: time.Now(),
		})
	}
	return c.JSON(http.StatusOK, s.monitor.Status())
}

func (s *Server) handleCameras(c echo.Context) error {
	if cached, ok := s.respCache.Get(camerasCacheKey); ok {
		return c.JSON(http.StatusOK, cached)
	}
	devices, err := s.listCameras()
	if err != nil {
		return s.handleError(c, err, "failed to list cameras", http.StatusInternalServerError)
	}
	if devices == nil {
		devices = []camera.DeviceInfo{}
	}
	s.respCache.Set(camerasCacheKey, devices, cache.DefaultExpiration)
	return c.JSON(http.StatusOK, devices)
}

func (s *Server) handleMicrophones(c echo.Context) error {
	if cached, ok := s.respCache.Get(microphonesCacheKey); ok {
		return c.JSON(http.StatusOK, cached)
	}
	devices := []audio.DeviceInfo{}
	if s.listMicrophones != nil {
		listed, err := s.listMicrophones()
		if err != nil {
			return s.handleError(c, err, "failed to list microphones", http.StatusInternalServerError)
		}
		if listed != nil {
			devices = listed
		}
	}
	s.respCache.Set(microphonesCacheKey, devices, cache.DefaultExpiration)
	return c.JSON(http.StatusOK, devices)
}

func (s *Server) bindCameraID(c echo.Context) (int, error) {
	var req CameraRequest
	if err := c.Bind(&req); err != nil {
		return 0, err
	}
	return req.CameraID.Int(0)
}

func (s *Server) handleSwitchCamera(c echo.Context) error {
	if s.monitor == nil {
		return s.unavailable(c, "pipeline")
	}
	id, err := s.bindCameraID(c)
	if err != nil {
		return s.handleError(c, err, "invalid camera_id", http.StatusBadRequest)
	}
	ok := s.monitor.SwitchCamera(c.Request().Context(), id)
	// listed resolutions follow the active device
	s.respCache.Delete(camerasCacheKey)
	s.log.Info("camera switch requested", logger.Int("camera_id", id), logger.Bool("success", ok))
	return c.JSON(http.StatusOK, CameraResponse{
		Success:    ok,
		CameraID:   s.monitor.CameraID(),
		AICameraID: s.monitor.AICameraID(),
	})
}

func (s *Server) handleAICamera(c echo.Context) error {
	if s.monitor == nil {
		return s.unavailable(c, "pipeline")
	}
	id, err := s.bindCameraID(c)
	if err != nil {
		return s.handleError(c, err, "invalid camera_id", http.StatusBadRequest)
	}
	ok := s.monitor.SetAICamera(id)
	current := s.monitor.AICameraID()
	if ok && s.dataStore != nil {
		if err := s.dataStore.SetConfig(c.Request().Context(), datastore.KeyAICameraID, strconv.Itoa(current)); err != nil {
			s.log.Warn("failed to persist ai camera", logger.Int("camera_id", current), logger.Error(err))
		}
	}
	s.log.Info("ai camera requested",
		logger.Int("camera_id", id),
		logger.Int("ai_camera_id", current),
		logger.Bool("success", ok))
	return c.JSON(http.StatusOK, CameraResponse{
		Success:    ok,
		CameraID:   s.monitor.CameraID(),
		AICameraID: current,
	})
}

func (s *Server) handleSwitchMicrophone(c echo.Context) error {
	if s.switchMic == nil {
		return s.unavailable(c, "audio")
	}
	var req MicrophoneRequest
	if err := c.Bind(&req); err != nil {
		return s.handleError(c, err, "invalid microphone_id", http.StatusBadRequest)
	}
	device := string(req.MicrophoneID)
	if err := s.switchMic(s.ctx, device); err != nil {
		return s.handleError(c, err, "failed to switch microphone", http.StatusInternalServerError)
	}
	s.log.Info("microphone switched", logger.String("device", device))
	return c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleTestAlert(c echo.Context) error {
	if s.notifier == nil {
		return s.unavailable(c, "notifier")
	}
	var image []byte
	if s.monitor != nil {
		if frame, ok := s.monitor.StreamFrame(); ok {
			jpeg, err := camera.EncodeJPEG(frame, s.config.JPEGQuality)
			if err != nil {
				s.log.Warn("failed to encode test alert frame", logger.Error(err))
			} else {
				image = jpeg
			}
		}
	}
	sent := s.notifier.SendAlert(c.Request().Context(), TestAlertTitle, TestAlertDescription, status.RiskWarning, image)
	return c.JSON(http.StatusOK, SuccessResponse{Success: sent})
}

func (s *Server) handleForceReport(c echo.Context) error {
	if s.monitor == nil {
		return s.unavailable(c, "pipeline")
	}
	sent := s.monitor.ForceReport(c.Request().Context())
	return c.JSON(http.StatusOK, SuccessResponse{Success: sent})
}

func queryLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return datastore.DefaultQueryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
	}
	return n, nil
}

func (s *Server) handleEvents(c echo.Context) error {
	if s.dataStore == nil {
		return s.unavailable(c, "datastore")
	}
	limit, err := queryLimit(c)
	if err != nil {
		return s.handleError(c, err, "invalid limit", http.StatusBadRequest)
	}
	events, err := s.dataStore.RecentEvents(c.Request().Context(), limit, c.QueryParam("type"))
	if err != nil {
		return s.handleError(c, err, "failed to query events", http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) handleNotifications(c echo.Context) error {
	if s.dataStore == nil {
		return s.unavailable(c, "datastore")
	}
	limit, err := queryLimit(c)
	if err != nil {
		return s.handleError(c, err, "invalid limit", http.StatusBadRequest)
	}
	records, err := s.dataStore.RecentNotifications(c.Request().Context(), limit, c.QueryParam("channel"))
	if err != nil {
		return s.handleError(c, err, "failed to query notifications", http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) handleStats(c echo.Context) error {
	resp := StatsResponse{Uptime: time.Since(s.startTime).Round(time.Second).String()}
	if s.dataStore != nil {
		st, err := s.dataStore.Stats(c.Request().Context())
		if err != nil {
			return s.handleError(c, err, "failed to query stats", http.StatusInternalServerError)
		}
		resp.Database = st
	}
	if s.monitor != nil {
		if vs, ok := s.monitor.VisionStats(); ok {
			resp.Vision = &vs
		}
	}
	if pl, ok := s.notifier.(ProviderLister); ok {
		resp.Notifications = pl.Providers()
	}
	if s.audioHub != nil {
		resp.AudioClients = s.audioHub.Clients()
	}
	return c.JSON(http.StatusOK, resp)
}
