package camera

import "github.com/cribwatch/cribwatch/internal/logger"

// GetLogger returns the camera package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("camera")
}
