package audio

import "github.com/cribwatch/cribwatch/internal/logger"

// GetLogger returns the audio package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("audio")
}
