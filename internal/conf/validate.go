package conf

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError collects every problem found in a Settings value
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings checks rates, durations, ranges and URLs.
func ValidateSettings(s *Settings) error {
	ve := ValidationError{}
	add := func(format string, args ...any) {
		ve.Errors = append(ve.Errors, fmt.Sprintf(format, args...))
	}

	if s.Camera.Width <= 0 || s.Camera.Height <= 0 {
		add("camera resolution must be positive, got %dx%d", s.Camera.Width, s.Camera.Height)
	}
	if s.Camera.FPS <= 0 {
		add("camera fps must be greater than 0")
	}

	if s.Pipeline.VisionFPS <= 0 {
		add("pipeline vision fps must be greater than 0")
	}
	if s.Pipeline.MotionFPS <= 0 {
		add("pipeline motion fps must be greater than 0")
	}

	if s.Audio.Enabled {
		if s.Audio.SampleRate < 8000 || s.Audio.SampleRate > 48000 {
			add("audio sample rate must be between 8000 and 48000, got %d", s.Audio.SampleRate)
		}
		if s.Audio.ChunkDuration < time.Second {
			add("audio chunk duration must be at least 1s, got %s", s.Audio.ChunkDuration)
		}
	}

	positive := map[string]time.Duration{
		"alerts.warningcooldown":      s.Alerts.WarningCooldown,
		"alerts.crycooldown":          s.Alerts.CryCooldown,
		"alerts.statusreportinterval": s.Alerts.StatusReportInterval,
		"pipeline.loginterval":        s.Pipeline.LogInterval,
		"audio.analysisinterval":      s.Audio.AnalysisInterval,
	}
	for key, d := range positive {
		if d <= 0 {
			add("%s must be greater than 0", key)
		}
	}

	if s.Vision.Enabled {
		if err := validateURL(s.Vision.URL); err != nil {
			add("vision url: %v", err)
		}
		if s.Vision.MaxWidth <= 0 {
			add("vision max width must be greater than 0")
		}
	}

	if s.Notification.Discord.Enabled {
		for name, hook := range map[string]string{
			"warning": s.Notification.Discord.WarningWebhook,
			"status":  s.Notification.Discord.StatusWebhook,
		} {
			if hook == "" {
				continue
			}
			if err := validateURL(hook); err != nil {
				add("discord %s webhook: %v", name, err)
			}
		}
	}

	if s.WebServer.Enabled && (s.WebServer.Port < 1 || s.WebServer.Port > 65535) {
		add("webserver port must be between 1 and 65535, got %d", s.WebServer.Port)
	}

	if s.Output.SQLite.Enabled && s.Output.MySQL.Enabled {
		add("only one of output.sqlite and output.mysql can be enabled")
	}

	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		add("mqtt broker is required when mqtt is enabled")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
