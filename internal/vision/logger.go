package vision

import "github.com/cribwatch/cribwatch/internal/logger"

// GetLogger returns the vision module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("vision")
}
