// Package cmd assembles the cribwatch command line.
package cmd

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cribwatch/cribwatch/cmd/analyze"
	"github.com/cribwatch/cribwatch/cmd/devices"
	"github.com/cribwatch/cribwatch/cmd/monitor"
	"github.com/cribwatch/cribwatch/cmd/notify"
	"github.com/cribwatch/cribwatch/internal/buildinfo"
	"github.com/cribwatch/cribwatch/internal/conf"
	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/logger"
)

var (
	cleanupMu sync.Mutex
	cleanups  []func()
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cribwatch",
		Short:         "cribwatch baby monitor",
		Long:          "Fuse camera, motion and audio signals into a risk assessment and alert on it.",
		Version:       fmt.Sprintf("%s (built %s)", buildinfo.Version(), buildinfo.BuildDate()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		logger.Global().Module("cmd").Warn("error setting up flags", logger.Error(err))
	}

	rootCmd.AddCommand(
		monitor.Command(settings),
		devices.Command(settings),
		notify.Command(settings),
		analyze.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := conf.ValidateSettings(settings); err != nil {
			return err
		}
		return initialize(settings)
	}

	return rootCmd
}

// initialize installs the configured logger and error telemetry once flags
// have been applied to settings.
func initialize(settings *conf.Settings) error {
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	addCleanup(func() {
		_ = central.Close()
	})

	if settings.Sentry.Enabled {
		flush, err := errors.InitSentry(settings.Sentry.DSN, buildinfo.Version())
		if err != nil {
			logger.Global().Module("cmd").Warn("error telemetry disabled", logger.Error(err))
		} else {
			addCleanup(flush)
		}
	}
	return nil
}

func addCleanup(fn func()) {
	cleanupMu.Lock()
	cleanups = append(cleanups, fn)
	cleanupMu.Unlock()
}

// Shutdown flushes telemetry and closes log files opened by the root
// command, newest first.
func Shutdown() {
	cleanupMu.Lock()
	fns := cleanups
	cleanups = nil
	cleanupMu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	flags.IntVar(&settings.Camera.DeviceID, "camera", viper.GetInt("camera.deviceid"), "Streaming camera index")
	flags.IntVar(&settings.Camera.AIDeviceID, "ai-camera", viper.GetInt("camera.aideviceid"), "Camera index used for classification, -1 to share the streaming camera")
	flags.StringVar(&settings.Audio.Device, "microphone", viper.GetString("audio.device"), "Microphone name or index, empty for the system default")
	flags.StringVar(&settings.Vision.URL, "ollama-url", viper.GetString("vision.url"), "Ollama base URL")
	flags.StringVar(&settings.Vision.Model, "model", viper.GetString("vision.model"), "Vision-language model name")

	keys := map[string]string{
		"debug":      "debug",
		"camera":     "camera.deviceid",
		"ai-camera":  "camera.aideviceid",
		"microphone": "audio.device",
		"ollama-url": "vision.url",
		"model":      "vision.model",
	}
	for flag, key := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}
