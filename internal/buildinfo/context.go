// Package buildinfo holds build-time metadata injected with -ldflags and the
// process start time used for uptime reporting.
package buildinfo

import "time"

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

// Set with -ldflags "-X github.com/cribwatch/cribwatch/internal/buildinfo.version=..."
var (
	version   string
	buildDate string
)

var startTime = time.Now()

// BuildInfo provides access to build-time metadata.
type BuildInfo interface {
	GetVersion() string
	GetBuildDate() string
}

// Context carries build metadata through the application.
type Context struct {
	Version   string
	BuildDate string
	StartTime time.Time
}

// NewContext returns a context with the given metadata, started now.
func NewContext(version, buildDate string) *Context {
	return &Context{Version: version, BuildDate: buildDate, StartTime: time.Now()}
}

// Current returns the metadata of the running binary.
func Current() *Context {
	return &Context{Version: Version(), BuildDate: BuildDate(), StartTime: startTime}
}

// Version returns the injected version or UnknownValue.
func Version() string {
	return orUnknown(version)
}

// BuildDate returns the injected build date or UnknownValue.
func BuildDate() string {
	return orUnknown(buildDate)
}

// GetVersion implements BuildInfo.
func (c *Context) GetVersion() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.Version)
}

// GetBuildDate implements BuildInfo.
func (c *Context) GetBuildDate() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.BuildDate)
}

// Uptime returns the time since StartTime, truncated to seconds.
func (c *Context) Uptime() time.Duration {
	if c == nil || c.StartTime.IsZero() {
		return 0
	}
	return time.Since(c.StartTime).Truncate(time.Second)
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}
