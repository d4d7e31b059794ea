// Package monitor implements the monitor command, which runs the capture
// pipeline, the HTTP API and every configured integration.
package monitor

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cribwatch/cribwatch/internal/conf"
	"github.com/cribwatch/cribwatch/internal/logger"
)

// GetLogger returns the monitor command logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("monitor")
}

// Command creates the monitor command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the baby monitor",
		Long: `Capture video and audio, classify the subject, alert on risk and serve the
live feed and API until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, settings, DefaultHardware())
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the monitor command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	flags := cmd.Flags()
	flags.BoolVar(&settings.Audio.Enabled, "audio", viper.GetBool("audio.enabled"), "Enable audio analysis")
	flags.StringVar(&settings.Audio.SourceFile, "audio-file", viper.GetString("audio.sourcefile"), "Replay a WAV file instead of capturing from a microphone")
	flags.BoolVar(&settings.Vision.Enabled, "vision", viper.GetBool("vision.enabled"), "Enable vision-language classification")
	flags.Float64Var(&settings.Pipeline.VisionFPS, "vision-fps", viper.GetFloat64("pipeline.visionfps"), "Classification rate in Hz")
	flags.Float64Var(&settings.Pipeline.MotionFPS, "motion-fps", viper.GetFloat64("pipeline.motionfps"), "Motion estimation rate in Hz")
	flags.BoolVar(&settings.WebServer.Enabled, "web", viper.GetBool("webserver.enabled"), "Serve the HTTP API and live feed")
	flags.StringVar(&settings.WebServer.Host, "host", viper.GetString("webserver.host"), "HTTP listen host")
	flags.IntVar(&settings.WebServer.Port, "port", viper.GetInt("webserver.port"), "HTTP listen port")

	keys := map[string]string{
		"audio":      "audio.enabled",
		"audio-file": "audio.sourcefile",
		"vision":     "vision.enabled",
		"vision-fps": "pipeline.visionfps",
		"motion-fps": "pipeline.motionfps",
		"web":        "webserver.enabled",
		"host":       "webserver.host",
		"port":       "webserver.port",
	}
	for flag, key := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}
