package monitor

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cribwatch/cribwatch/internal/alert"
	"github.com/cribwatch/cribwatch/internal/api"
	"github.com/cribwatch/cribwatch/internal/audio"
	"github.com/cribwatch/cribwatch/internal/audio/malgo"
	"github.com/cribwatch/cribwatch/internal/camera"
	"github.com/cribwatch/cribwatch/internal/camera/opencv"
	"github.com/cribwatch/cribwatch/internal/conf"
	"github.com/cribwatch/cribwatch/internal/datastore"
	"github.com/cribwatch/cribwatch/internal/events"
	"github.com/cribwatch/cribwatch/internal/httpclient"
	"github.com/cribwatch/cribwatch/internal/logger"
	"github.com/cribwatch/cribwatch/internal/motion"
	motioncv "github.com/cribwatch/cribwatch/internal/motion/opencv"
	"github.com/cribwatch/cribwatch/internal/mqtt"
	"github.com/cribwatch/cribwatch/internal/notification"
	"github.com/cribwatch/cribwatch/internal/observability"
	"github.com/cribwatch/cribwatch/internal/pipeline"
	"github.com/cribwatch/cribwatch/internal/recorder"
	"github.com/cribwatch/cribwatch/internal/status"
	"github.com/cribwatch/cribwatch/internal/vision"
)

// integrationTimeout bounds broker and Redis connection attempts at startup.
const integrationTimeout = 10 * time.Second

// Hardware opens physical capture devices.
type Hardware struct {
	OpenCamera      camera.Opener
	ListCameras     func() ([]camera.DeviceInfo, error)
	OpenMicrophone  func(device string, sampleRate int) audio.Stream
	ListMicrophones func() ([]audio.DeviceInfo, error)
	// MotionTracker is optional; nil uses the built-in tracker.
	MotionTracker   motion.Tracker
}

// DefaultHardware captures video through OpenCV and audio through miniaudio,
// and tracks motion with OpenCV.
func DefaultHardware() Hardware {
	return Hardware{
		OpenCamera:    opencv.Open,
		ListCameras:   opencv.ListDevices,
		MotionTracker: motioncv.NewTracker(),
		OpenMicrophone: func(device string, sampleRate int) audio.Stream {
			return malgo.NewStream(device, sampleRate)
		},
		ListMicrophones: malgo.ListDevices,
	}
}

// app holds every long-lived component of a monitor run.
type app struct {
	settings *conf.Settings
	hw       Hardware
	log      logger.Logger

	metrics  *observability.Metrics
	store    datastore.Interface
	notifier *notification.Service
	dispatch *recorder.Dispatcher
	stream   *camera.Source
	analyzer *audio.Analyzer
	hub      *api.AudioHub
	pipeline *pipeline.Orchestrator
	server   *api.Server

	// closers run newest first
	closers []func()
}

// Run starts the pipeline and the API, blocks until ctx is cancelled or a
// component fails, then stops the API, the pipeline and the sinks in that
// order.
func Run(ctx context.Context, settings *conf.Settings, hw Hardware) error {
	a, err := build(ctx, settings, hw)
	if err != nil {
		return err
	}
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)
	if err := a.pipeline.Start(gctx); err != nil {
		return err
	}
	g.Go(a.pipeline.Wait)
	if a.server != nil {
		g.Go(a.server.ListenAndServe)
	}
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down")
		if a.server != nil {
			if err := a.server.Shutdown(); err != nil {
				a.log.Warn("error shutting down http server", logger.Error(err))
			}
		}
		a.pipeline.Stop()
		return nil
	})

	err = g.Wait()
	if err != nil {
		a.log.Error("monitor stopped with error", logger.Error(err))
		return err
	}
	a.log.Info("monitor stopped")
	return nil
}

// build constructs every component without starting capture.
func build(ctx context.Context, settings *conf.Settings, hw Hardware) (*app, error) {
	a := &app{settings: settings, hw: hw, log: GetLogger()}
	if err := a.assemble(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// assemble creates the components in dependency order. Whatever it opened
// before failing is registered in a.closers.
func (a *app) assemble(ctx context.Context) (err error) {
	settings, hw := a.settings, a.hw

	if a.metrics, err = observability.NewMetrics(); err != nil {
		return err
	}
	if err = a.openStore(ctx); err != nil {
		return err
	}
	if err = a.buildNotifier(); err != nil {
		return err
	}
	a.buildDispatcher(ctx)

	scheduler := alert.NewScheduler(alert.ConfigFromSettings(&settings.Alerts), a.notifier,
		alert.WithRecorder(a.dispatch),
		alert.WithOutcomeHook(a.metrics.Pipeline.RecordAlert))

	camCfg := camera.Config{
		Width:       settings.Camera.Width,
		Height:      settings.Camera.Height,
		FPS:         settings.Camera.FPS,
		StopTimeout: settings.Camera.StopTimeout,
	}
	a.stream = camera.NewSource(hw.OpenCamera, camCfg)

	deps := pipeline.Deps{
		Stream: a.stream,
		NewCamera: func() pipeline.Camera {
			return camera.NewSource(hw.OpenCamera, camCfg)
		},
		Motion:   motion.NewEstimator(motion.WithTracker(hw.MotionTracker)),
		Alerts:   scheduler,
		Recorder: a.dispatch,
		Metrics:  a.metrics.Pipeline,
	}
	deps.Classifier = a.buildClassifier()
	if stream := a.buildAudio(); stream != nil {
		deps.Audio = a.analyzer
		deps.AudioStream = stream
	}

	if a.pipeline, err = pipeline.New(pipeline.ConfigFromSettings(settings), deps); err != nil {
		return err
	}
	a.closers = append(a.closers, a.pipeline.Stop)

	if settings.WebServer.Enabled {
		if err = a.buildServer(); err != nil {
			return err
		}
	}
	return nil
}

// openStore opens the configured datastore and restores the persisted
// classification camera. No enabled backend disables persistence.
func (a *app) openStore(ctx context.Context) error {
	out := a.settings.Output
	if !out.SQLite.Enabled && !out.MySQL.Enabled {
		a.log.Warn("no datastore enabled, history and settings will not persist")
		return nil
	}
	store, err := datastore.New(a.settings)
	if err != nil {
		return err
	}
	if err := store.Open(); err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() {
		if err := store.Close(); err != nil {
			a.log.Warn("error closing datastore", logger.Error(err))
		}
	})

	if v, ok, err := store.GetConfig(ctx, datastore.KeyAICameraID); err == nil && ok {
		if id, convErr := strconv.Atoi(v); convErr == nil {
			a.settings.Camera.AIDeviceID = id
		}
	}
	return nil
}

func (a *app) buildNotifier() error {
	client := httpclient.New(&httpclient.Config{DefaultTimeout: a.settings.Notification.Timeout})
	a.closers = append(a.closers, client.Close)

	opts := []notification.Option{notification.WithMetrics(a.metrics.Notification)}
	if a.store != nil {
		opts = append(opts, notification.WithMessageLog(a.store))
	}
	svc, err := notification.NewServiceFromSettings(&a.settings.Notification, client, opts...)
	if err != nil {
		return err
	}
	if !svc.HasProviders() {
		a.log.Warn("no notification providers configured, alerts will only be recorded")
	}
	a.notifier = svc
	return nil
}

// buildDispatcher connects the optional telemetry sinks. A sink that cannot
// connect is skipped; the monitor runs without it.
func (a *app) buildDispatcher(ctx context.Context) {
	var sinks []recorder.Sink
	if a.store != nil {
		sinks = append(sinks, recorder.Sink{Name: "datastore", Recorder: a.store})
	}

	if a.settings.MQTT.Enabled {
		cfg := mqtt.ConfigFromSettings(&a.settings.MQTT)
		client := mqtt.NewClient(cfg)
		cctx, cancel := context.WithTimeout(ctx, integrationTimeout)
		err := client.Connect(cctx)
		cancel()
		if err != nil {
			a.log.Warn("mqtt unavailable, continuing without it",
				logger.String("broker", cfg.Broker),
				logger.Error(err))
		} else {
			rec := mqtt.NewRecorder(client, cfg.Topic)
			sinks = append(sinks, recorder.Sink{Name: "mqtt", Recorder: rec})
			a.closers = append(a.closers, func() { _ = rec.Close() })
		}
	}

	if a.settings.Events.Redis.Enabled {
		cctx, cancel := context.WithTimeout(ctx, integrationTimeout)
		rec, err := events.Connect(cctx, &a.settings.Events.Redis)
		cancel()
		if err != nil {
			a.log.Warn("redis unavailable, continuing without event stream", logger.Error(err))
		} else {
			sinks = append(sinks, recorder.Sink{Name: "redis", Recorder: rec})
			a.closers = append(a.closers, func() { _ = rec.Close() })
		}
	}

	a.dispatch = recorder.New(recorder.Config{QueueSize: a.settings.Output.QueueSize}, sinks,
		recorder.WithMetrics(a.metrics.Recorder))
	a.closers = append(a.closers, func() { _ = a.dispatch.Close() })
}

func (a *app) buildClassifier() vision.Classifier {
	if !a.settings.Vision.Enabled {
		a.log.Info("vision classification disabled")
		return nil
	}
	var opts []vision.Option
	if a.store != nil {
		opts = append(opts, vision.WithPromptSource(a.store))
	}
	return vision.NewOllamaClassifier(vision.ConfigFromSettings(&a.settings.Vision), opts...)
}

// buildAudio creates the analyzer and returns the stream it will read, or
// nil when audio is disabled.
func (a *app) buildAudio() audio.Stream {
	s := a.settings.Audio
	if !s.Enabled {
		a.log.Info("audio analysis disabled")
		return nil
	}
	a.analyzer = audio.NewAnalyzer(audio.ConfigFromSettings(&a.settings.Audio),
		audio.WithWindowObserver(func(st status.AudioStatus, elapsed time.Duration) {
			a.metrics.Pipeline.ObserveAudioWindow(elapsed, st.IsCrying)
		}))
	if s.Relay.Enabled && a.settings.WebServer.Enabled {
		a.hub = api.NewAudioHub(s.SampleRate)
		a.analyzer.SetRelaySink(a.hub)
	}
	if s.SourceFile != "" {
		a.log.Info("replaying audio file", logger.String("path", s.SourceFile))
		return audio.NewFileStream(s.SourceFile, s.SampleRate)
	}
	return a.hw.OpenMicrophone(s.Device, s.SampleRate)
}

func (a *app) buildServer() error {
	opts := []api.ServerOption{
		api.WithMonitor(a.pipeline),
		api.WithNotifier(a.notifier),
		api.WithMetrics(a.metrics),
		api.WithCameraLister(func() ([]camera.DeviceInfo, error) {
			devices, err := a.hw.ListCameras()
			if err != nil {
				return nil, err
			}
			return a.stream.Annotate(devices), nil
		}),
	}
	if a.hw.ListMicrophones != nil {
		opts = append(opts, api.WithMicrophoneLister(a.hw.ListMicrophones))
	}
	if a.store != nil {
		opts = append(opts, api.WithDataStore(a.store))
	}
	if a.hub != nil {
		opts = append(opts, api.WithAudioHub(a.hub))
	}
	if a.analyzer != nil && a.settings.Audio.SourceFile == "" {
		opts = append(opts, api.WithMicrophoneSwitcher(a.switchMicrophone))
	}

	server, err := api.New(api.ConfigFromSettings(a.settings), opts...)
	if err != nil {
		return err
	}
	a.server = server
	a.closers = append(a.closers, func() { _ = server.Shutdown() })
	return nil
}

// switchMicrophone restarts audio analysis on device.
func (a *app) switchMicrophone(ctx context.Context, device string) error {
	stream := a.hw.OpenMicrophone(device, a.settings.Audio.SampleRate)
	if err := a.analyzer.Start(ctx, stream); err != nil {
		return err
	}
	a.settings.Audio.Device = device
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
