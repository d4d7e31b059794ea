// Package conf loads, validates and saves cribwatch settings.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// CameraSettings configures video capture.
type CameraSettings struct {
	DeviceID    int           // streaming camera index
	AIDeviceID  int           // camera used for classification, -1 reuses DeviceID
	Width       int           // capture width in pixels
	Height      int           // capture height in pixels
	FPS         int           // requested capture rate
	StopTimeout time.Duration // bounded join for the capture goroutine
}

// AudioSettings configures microphone capture and analysis.
type AudioSettings struct {
	Enabled          bool
	Device           string        // capture device name or index, empty for the system default
	SourceFile       string        // optional WAV file replayed instead of a live device
	SampleRate       int           // samples per second
	ChunkDuration    time.Duration // analysis window length
	AnalysisInterval time.Duration // analysis loop wake-up period
	Relay            RelaySettings
	StopTimeout      time.Duration
}

// RelaySettings configures the live PCM relay path.
type RelaySettings struct {
	Enabled       bool
	Interval      time.Duration // drain period
	BufferSeconds int           // ring buffer capacity in seconds of audio
}

// PipelineSettings configures the orchestrator loops.
type PipelineSettings struct {
	VisionFPS         float64       // vision loop rate in Hz
	MotionFPS         float64       // motion loop rate in Hz
	LogInterval       time.Duration // motion/audio recording period
	VisionStopTimeout time.Duration
	MotionStopTimeout time.Duration
}

// AlertSettings configures cooldowns and reports.
type AlertSettings struct {
	WarningCooldown      time.Duration
	CryCooldown          time.Duration
	StatusReportInterval time.Duration
}

// VisionSettings configures the vision-language classifier.
type VisionSettings struct {
	Enabled     bool
	URL         string // Ollama base URL
	Model       string
	Prompt      string // overrides the built-in prompt when set
	Timeout     time.Duration
	MaxWidth    int // frames wider than this are downscaled before upload
	JPEGQuality int
}

// DiscordSettings configures the Discord webhook provider.
type DiscordSettings struct {
	Enabled        bool
	WarningWebhook string
	StatusWebhook  string
}

// ShoutrrrSettings configures the Shoutrrr fan-out provider.
type ShoutrrrSettings struct {
	Enabled bool
	URLs    []string
}

// CircuitBreakerSettings configures per-provider failure isolation.
type CircuitBreakerSettings struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// NotificationSettings configures outbound notifications.
type NotificationSettings struct {
	Discord        DiscordSettings
	Shoutrrr       ShoutrrrSettings
	RateLimit      int // messages per minute across providers
	Timeout        time.Duration
	CircuitBreaker CircuitBreakerSettings
}

// SQLiteSettings configures the SQLite datastore.
type SQLiteSettings struct {
	Enabled bool
	Path    string
}

// MySQLSettings configures the MySQL datastore.
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Host     string
	Port     string
	Database string
}

// OutputSettings configures persistence.
type OutputSettings struct {
	SQLite    SQLiteSettings
	MySQL     MySQLSettings
	QueueSize int // recorder queue length before records are dropped
}

// MQTTSettings configures the MQTT publisher.
type MQTTSettings struct {
	Enabled  bool
	Broker   string
	Topic    string
	Username string
	Password string
	ClientID string
	Retain   bool
}

// RedisSettings configures the Redis stream publisher.
type RedisSettings struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// EventsSettings groups event stream sinks.
type EventsSettings struct {
	Redis RedisSettings
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Enabled        bool
	Host           string
	Port           int
	VideoStreamFPS float64
	JPEGQuality    int
	MaxStreams     int // concurrent /video_feed clients
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled bool
	DSN     string
}

// Settings is the root configuration.
type Settings struct {
	Debug bool

	Main struct {
		Name string
	}

	Camera       CameraSettings
	Audio        AudioSettings
	Pipeline     PipelineSettings
	Alerts       AlertSettings
	Vision       VisionSettings
	Notification NotificationSettings
	Output       OutputSettings
	MQTT         MQTTSettings
	Events       EventsSettings
	WebServer    WebServerSettings
	Sentry       SentrySettings
	Logging      logger.LoggingConfig
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
	configFileUsed   string
)

// Load reads configuration from the default search paths, creating a default
// config file when none exists.
func Load() (*Settings, error) {
	return load("")
}

// LoadFile reads configuration from an explicit file path.
func LoadFile(path string) (*Settings, error) {
	return load(path)
}

func load(path string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(path); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	configFileUsed = viper.ConfigFileUsed()
	return settings, nil
}

func initViper(path string) error {
	setDefaultConfig(viper.GetViper())

	if err := bindEnvVars(); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", path, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	paths, err := GetDefaultConfigPaths()
	if err != nil {
		return err
	}
	for _, p := range paths {
		viper.AddConfigPath(p)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(paths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded config.yaml to dir and reads it back.
func createDefaultConfig(dir string) error {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}
	GetLogger().Info("created default config file", logger.String("path", configPath))
	return viper.ReadInConfig()
}

// GetDefaultConfigPaths returns the config search path, most specific first.
func GetDefaultConfigPaths() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}
	return []string{
		filepath.Join(home, ".config", "cribwatch"),
		".",
		"/etc/cribwatch",
	}, nil
}

// Setting returns the loaded settings, or nil before Load succeeds.
func Setting() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveSettings writes s to the config file that was loaded.
func SaveSettings(s *Settings) error {
	settingsMutex.RLock()
	path := configFileUsed
	settingsMutex.RUnlock()
	if path == "" {
		return fmt.Errorf("no config file loaded")
	}
	return SaveYAMLConfig(path, s)
}

// SaveYAMLConfig marshals settings to path through a temp file and rename.
func SaveYAMLConfig(path string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}

// AICameraID returns the camera used for classification.
func (s *Settings) AICameraID() int {
	if s.Camera.AIDeviceID < 0 {
		return s.Camera.DeviceID
	}
	return s.Camera.AIDeviceID
}
