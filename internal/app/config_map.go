package app

import (
	"strings"
	"time"

	"mailworker/internal/config"
	"mailworker/internal/mailer"
	"mailworker/internal/observability/diag"
	"mailworker/internal/storage"
	"mailworker/internal/task/engine"
	logx "mailworker/pkg/logx"
)

func mapLogConfig(s *config.Settings) logx.Config {
	path := strings.TrimSpace(s.LogFile)
	return logx.Config{
		Level:   s.LogLevel,
		Format:  s.LogFormat,
		Console: true,
		File: logx.FileConfig{
			Enabled:    path != "",
			Path:       path,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

func mapStorageConfig(s *config.Settings) (storage.Config, bool) {
	driver := strings.ToLower(strings.TrimSpace(s.StorageDriver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false
	}
	path := strings.TrimSpace(s.StoragePath)
	if path == "" {
		path = storage.DefaultPath(driver)
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: time.Second}, true
}

func mapEngineConfig(s *config.Settings) engine.Config {
	return engine.Config{
		Workers:     s.Workers,
		QueueSize:   s.QueueSize,
		HistorySize: 200,
	}
}

func mapMailerConfig(s *config.Settings) mailer.Config {
	return mailer.Config{RatePerMinute: s.SendRatePerMinute}
}

func mapDiagConfig(s *config.Settings) diag.Config {
	return diag.Config{
		Addr:         strings.TrimSpace(s.MetricsAddr),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
}

// restartOnly lists settings that are read once at startup.
var restartOnly = map[string]bool{
	"Workers":       true,
	"QueueSize":     true,
	"JobTimeout":    true,
	"StorageDriver": true,
	"StoragePath":   true,
}
