package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding maps one environment variable to a config key
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
	// Normalize rewrites legacy values (plain seconds) before they reach viper
	Normalize func(string) string
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"vision.url", "OLLAMA_URL", validateEnvURL, nil},
		{"vision.model", "OLLAMA_MODEL", nil, nil},
		{"notification.discord.warningwebhook", "DISCORD_WARNING_WEBHOOK", validateEnvURL, nil},
		{"notification.discord.statuswebhook", "DISCORD_STATUS_WEBHOOK", validateEnvURL, nil},
		{"camera.deviceid", "CAMERA_ID", validateEnvInt, nil},
		{"audio.device", "MICROPHONE_ID", nil, nil},
		{"pipeline.visionfps", "VISION_FPS", validateEnvPositiveFloat, nil},
		{"pipeline.motionfps", "MOTION_FPS", validateEnvPositiveFloat, nil},
		{"webserver.videostreamfps", "VIDEO_STREAM_FPS", validateEnvPositiveFloat, nil},
		{"alerts.statusreportinterval", "STATUS_REPORT_INTERVAL", validateEnvDuration, secondsToDuration},
		{"webserver.host", "HTTP_HOST", nil, nil},
		{"webserver.port", "HTTP_PORT", validateEnvPort, nil},
		{"sentry.dsn", "SENTRY_DSN", nil, nil},
	}
}

// bindEnvVars binds the legacy variable names and the CRIBWATCH_ prefix.
// Invalid values are reported but do not stop loading.
func bindEnvVars() error {
	viper.SetEnvPrefix("CRIBWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var warnings []string
	for _, b := range getEnvBindings() {
		value := os.Getenv(b.EnvVar)
		if value != "" && b.Validate != nil {
			if err := b.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", b.EnvVar, value, err))
				continue
			}
		}
		if value != "" && b.Normalize != nil {
			viper.Set(b.ConfigKey, b.Normalize(value))
			continue
		}
		if err := viper.BindEnv(b.ConfigKey, b.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", b.EnvVar, err))
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}

func validateEnvInt(value string) error {
	_, err := strconv.Atoi(value)
	return err
}

func validateEnvPositiveFloat(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	if f <= 0 {
		return fmt.Errorf("must be greater than 0")
	}
	return nil
}

func validateEnvPort(value string) error {
	p, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	if p < 1 || p > 65535 {
		return fmt.Errorf("must be between 1 and 65535")
	}
	return nil
}

// validateEnvDuration accepts "300" (seconds) or a Go duration such as "5m".
func validateEnvDuration(value string) error {
	if _, err := strconv.Atoi(value); err == nil {
		return nil
	}
	_, err := time.ParseDuration(value)
	return err
}

func secondsToDuration(value string) string {
	if n, err := strconv.Atoi(value); err == nil {
		return (time.Duration(n) * time.Second).String()
	}
	return value
}
