package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/semaphore"

	"github.com/cribwatch/cribwatch/internal/alert"
	mw "github.com/cribwatch/cribwatch/internal/api/middleware"
	"github.com/cribwatch/cribwatch/internal/audio"
	"github.com/cribwatch/cribwatch/internal/camera"
	"github.com/cribwatch/cribwatch/internal/datastore"
	"github.com/cribwatch/cribwatch/internal/logger"
	"github.com/cribwatch/cribwatch/internal/notification"
	"github.com/cribwatch/cribwatch/internal/observability"
	"github.com/cribwatch/cribwatch/internal/status"
	"github.com/cribwatch/cribwatch/internal/vision"
)

// Monitor is the slice of the pipeline the API drives.
type Monitor interface {
	Status() status.CombinedStatus
	StreamFrame() (camera.Frame, bool)
	CameraID() int
	AICameraID() int
	SwitchCamera(ctx context.Context, id int) bool
	SetAICamera(id int) bool
	ForceReport(ctx context.Context) bool
	VisionStats() (vision.GuardStats, bool)
}

// ProviderLister reports notification provider health.
type ProviderLister interface {
	Providers() []notification.ProviderStatus
}

// MicrophoneSwitcher restarts audio capture on device.
type MicrophoneSwitcher func(ctx context.Context, device string) error

// Server is the HTTP server. It owns the echo instance, the middleware
// stack and every route.
type Server struct {
	echo   *echo.Echo
	config *Config
	log    logger.Logger

	// Dependencies
	monitor         Monitor
	notifier        alert.Notifier
	dataStore       datastore.Interface
	metrics         *observability.Metrics
	audioHub        *AudioHub
	listCameras     func() ([]camera.DeviceInfo, error)
	listMicrophones func() ([]audio.DeviceInfo, error)
	switchMic       MicrophoneSwitcher

	respCache *cache.Cache
	streams   *semaphore.Weighted

	// Lifecycle management
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	shutdown  sync.Once
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithMonitor sets the pipeline the server controls.
func WithMonitor(m Monitor) ServerOption {
	return func(s *Server) {
		s.monitor = m
	}
}

// WithNotifier sets the notifier used for test alerts.
func WithNotifier(n alert.Notifier) ServerOption {
	return func(s *Server) {
		s.notifier = n
	}
}

// WithDataStore sets the datastore for history queries.
func WithDataStore(ds datastore.Interface) ServerOption {
	return func(s *Server) {
		s.dataStore = ds
	}
}

// WithMetrics exposes m on /metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithAudioHub serves live audio from hub on /ws/audio.
func WithAudioHub(hub *AudioHub) ServerOption {
	return func(s *Server) {
		s.audioHub = hub
	}
}

// WithCameraLister replaces the camera enumeration.
func WithCameraLister(fn func() ([]camera.DeviceInfo, error)) ServerOption {
	return func(s *Server) {
		s.listCameras = fn
	}
}

// WithMicrophoneLister sets the microphone enumeration.
func WithMicrophoneLister(fn func() ([]audio.DeviceInfo, error)) ServerOption {
	return func(s *Server) {
		s.listMicrophones = fn
	}
}

// WithMicrophoneSwitcher enables /api/switch_microphone.
func WithMicrophoneSwitcher(fn MicrophoneSwitcher) ServerOption {
	return func(s *Server) {
		s.switchMic = fn
	}
}

// New creates a new HTTP server with the given configuration and options.
func New(config *Config, opts ...ServerOption) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:      config,
		log:         GetLogger(),
		listCameras: camera.ListDevices,
		respCache:   cache.New(config.DeviceCacheTTL, 2*config.DeviceCacheTTL),
		streams:     semaphore.NewWeighted(int64(config.MaxStreams)),
		ctx:         ctx,
		cancel:      cancel,
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.Float64("video_fps", config.VideoFPS),
		logger.Int("max_streams", config.MaxStreams))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())

	streaming := []string{"/video_feed", "/ws/"}
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, mw.PathPrefixSkipper("/metrics")))

	securityConfig := mw.DefaultSecurityConfig()
	securityConfig.AllowedOrigins = s.config.AllowedOrigins
	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewGzip(streaming...))
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	e := s.echo
	e.GET("/", s.handleIndex)
	e.GET("/video_feed", s.handleVideoFeed)

	g := e.Group("/api")
	g.GET("/status", s.handleStatus)
	g.GET("/cameras", s.handleCameras)
	g.GET("/microphones", s.handleMicrophones)
	g.POST("/switch_camera", s.handleSwitchCamera)
	g.POST("/switch_microphone", s.handleSwitchMicrophone)
	g.POST("/ai_camera", s.handleAICamera)
	g.POST("/test_alert", s.handleTestAlert)
	g.POST("/force_report", s.handleForceReport)
	g.GET("/events", s.handleEvents)
	g.GET("/notifications", s.handleNotifications)
	g.GET("/stats", s.handleStats)
	g.GET("/health", s.handleHealth)

	if s.audioHub != nil {
		e.GET("/ws/audio", s.audioHub.ServeWS)
	}
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
}

// ListenAndServe serves until Shutdown is called. It returns nil after a
// clean shutdown.
func (s *Server) ListenAndServe() error {
	addr := s.config.Address()
	s.log.Info("starting HTTP server", logger.String("address", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Start begins serving HTTP requests in a background goroutine and returns
// immediately. Use Shutdown to stop the server.
func (s *Server) Start() {
	go func() {
		if err := s.ListenAndServe(); err != nil {
			s.log.Error("server error", logger.Error(err))
		}
	}()
}

// Shutdown ends open streams and gracefully stops the server. It is safe to
// call more than once.
func (s *Server) Shutdown() error {
	var err error
	s.shutdown.Do(func() {
		// streaming handlers watch this context
		s.cancel()
		if s.audioHub != nil {
			s.audioHub.Close()
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if shutdownErr := s.echo.Shutdown(ctx); shutdownErr != nil {
			s.log.Error("error during server shutdown", logger.Error(shutdownErr))
			err = fmt.Errorf("shutdown error: %w", shutdownErr)
			return
		}
		s.log.Info("server shutdown complete")
	})
	return err
}

// Echo returns the underlying Echo instance.
// This is useful for testing or advanced configuration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Config returns the server configuration.
func (s *Server) Config() *Config {
	return s.config
}
