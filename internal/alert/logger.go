package alert

import "github.com/cribwatch/cribwatch/internal/logger"

// GetLogger returns the alert module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("alert")
}
