package main

import (
	"fmt"
	"os"

	"github.com/cribwatch/cribwatch/cmd"
	"github.com/cribwatch/cribwatch/internal/conf"
)

func main() {
	settings, err := loadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	rootCmd := cmd.RootCommand(settings)
	err = rootCmd.Execute()
	cmd.Shutdown()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadSettings reads CRIBWATCH_CONFIG when set, otherwise the default
// search paths.
func loadSettings() (*conf.Settings, error) {
	if path := os.Getenv("CRIBWATCH_CONFIG"); path != "" {
		return conf.LoadFile(path)
	}
	return conf.Load()
}
