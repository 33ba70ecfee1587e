package commands

import (
	"fmt"

	"github.com/sanlockd/sanlockd/internal/logger"
	"github.com/sanlockd/sanlockd/pkg/config"
)

// InitLogger initializes the process-wide structured logger from
// loaded configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// getConfigSource describes where the configuration came from, for a
// single startup log line.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	return config.DefaultConfigPath()
}
