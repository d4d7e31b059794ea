package conf

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers the default for every setting.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("main.name", "cribwatch")

	v.SetDefault("camera.deviceid", 0)
	v.SetDefault("camera.aideviceid", -1)
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.fps", 30)
	v.SetDefault("camera.stoptimeout", 2*time.Second)

	v.SetDefault("audio.enabled", true)
	v.SetDefault("audio.device", "")
	v.SetDefault("audio.sourcefile", "")
	v.SetDefault("audio.samplerate", 16000)
	v.SetDefault("audio.chunkduration", 4*time.Second)
	v.SetDefault("audio.analysisinterval", 100*time.Millisecond)
	v.SetDefault("audio.relay.enabled", true)
	v.SetDefault("audio.relay.interval", 50*time.Millisecond)
	v.SetDefault("audio.relay.bufferseconds", 2)
	v.SetDefault("audio.stoptimeout", 2*time.Second)

	v.SetDefault("pipeline.visionfps", 2.0)
	v.SetDefault("pipeline.motionfps", 15.0)
	v.SetDefault("pipeline.loginterval", 5*time.Second)
	v.SetDefault("pipeline.visionstoptimeout", 5*time.Second)
	v.SetDefault("pipeline.motionstoptimeout", 2*time.Second)

	v.SetDefault("alerts.warningcooldown", 30*time.Second)
	v.SetDefault("alerts.crycooldown", 60*time.Second)
	v.SetDefault("alerts.statusreportinterval", 300*time.Second)

	v.SetDefault("vision.enabled", true)
	v.SetDefault("vision.url", "http://localhost:11434")
	v.SetDefault("vision.model", "qwen3-vl:latest")
	v.SetDefault("vision.prompt", "")
	v.SetDefault("vision.timeout", 60*time.Second)
	v.SetDefault("vision.maxwidth", 512)
	v.SetDefault("vision.jpegquality", 85)

	v.SetDefault("notification.discord.enabled", false)
	v.SetDefault("notification.discord.warningwebhook", "")
	v.SetDefault("notification.discord.statuswebhook", "")
	v.SetDefault("notification.shoutrrr.enabled", false)
	v.SetDefault("notification.shoutrrr.urls", []string{})
	v.SetDefault("notification.ratelimit", 30)
	v.SetDefault("notification.timeout", 15*time.Second)
	v.SetDefault("notification.circuitbreaker.maxfailures", 5)
	v.SetDefault("notification.circuitbreaker.resettimeout", 60*time.Second)

	v.SetDefault("output.sqlite.enabled", true)
	v.SetDefault("output.sqlite.path", "cribwatch.db")
	v.SetDefault("output.mysql.enabled", false)
	v.SetDefault("output.mysql.host", "localhost")
	v.SetDefault("output.mysql.port", "3306")
	v.SetDefault("output.mysql.database", "cribwatch")
	v.SetDefault("output.queuesize", 256)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "cribwatch")
	v.SetDefault("mqtt.clientid", "cribwatch")
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("events.redis.enabled", false)
	v.SetDefault("events.redis.addr", "localhost:6379")
	v.SetDefault("events.redis.db", 0)
	v.SetDefault("events.redis.stream", "cribwatch:events")
	v.SetDefault("events.redis.maxlen", 10000)

	v.SetDefault("webserver.enabled", true)
	v.SetDefault("webserver.host", "0.0.0.0")
	v.SetDefault("webserver.port", 8080)
	v.SetDefault("webserver.videostreamfps", 30.0)
	v.SetDefault("webserver.jpegquality", 80)
	v.SetDefault("webserver.maxstreams", 4)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/cribwatch.log")
	v.SetDefault("logging.file_output.level", "info")
}

// DefaultSettings returns the built-in defaults without reading any file or
// environment variable.
func DefaultSettings() *Settings {
	v := viper.New()
	setDefaultConfig(v)
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		panic(fmt.Sprintf("conf: invalid built-in defaults: %v", err))
	}
	return s
}
