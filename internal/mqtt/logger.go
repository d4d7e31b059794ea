package mqtt

import "github.com/cribwatch/cribwatch/internal/logger"

// GetLogger returns the mqtt module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("mqtt")
}
