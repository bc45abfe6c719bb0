package app

import (
	"fmt"
	"strings"
	"time"

	"taskguidance/internal/activity"
	"taskguidance/internal/config"
	"taskguidance/internal/engine"
	"taskguidance/internal/observability"
	"taskguidance/internal/schedule"
	"taskguidance/internal/storage"
	logx "taskguidance/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		QueueCapacity: cfg.Processor.QueueCapacity,
		IdleWait:      cfg.Processor.IdleWait(),
		MaxConcurrent: cfg.Processor.MaxConcurrent,
	}
}

// mapStorageConfig returns enabled=false when no ledger is configured.
func mapStorageConfig(cfg *config.Config) (sc storage.Config, minLevel activity.Level, enabled bool, err error) {
	minLevel = activity.LevelInfo
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, minLevel, false, nil
	}
	s := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, minLevel, false, nil
	}
	if lvl := strings.TrimSpace(s.MinLevel); lvl != "" {
		if minLevel, err = parseActivityLevel(lvl); err != nil {
			return storage.Config{}, minLevel, false, err
		}
	}
	path := strings.TrimSpace(s.Path)

	switch driver {
	case "file":
		if path == "" {
			path = "./data/ledger.jsonl"
		}
		return storage.Config{Driver: driver, Path: path, MaxRecords: s.MaxRecords}, minLevel, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, minLevel, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDuration("storage.busy_timeout", s.BusyTimeout)
		if err != nil {
			return storage.Config{}, minLevel, false, err
		}
		if busy == 0 {
			busy = time.Second
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, MaxRecords: s.MaxRecords}, minLevel, true, nil
	default:
		return storage.Config{}, minLevel, false, fmt.Errorf("unknown storage.driver: %s", s.Driver)
	}
}

func parseActivityLevel(s string) (activity.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "verbose":
		return activity.LevelVerbose, nil
	case "debug":
		return activity.LevelDebug, nil
	case "info":
		return activity.LevelInfo, nil
	case "warn", "warning":
		return activity.LevelWarn, nil
	case "error":
		return activity.LevelError, nil
	}
	return activity.LevelInfo, fmt.Errorf("unknown activity level %q", s)
}

func mapObservabilityConfig(cfg *config.Config) observability.Config {
	return observability.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Token:   cfg.Metrics.Token,
		Pprof:   cfg.Metrics.Pprof,
	}
}

func mapSchedules(cfg *config.Config) []schedule.Def {
	defs := make([]schedule.Def, 0, len(cfg.Schedules))
	for _, sc := range cfg.Schedules {
		defs = append(defs, schedule.Def{
			Name:     sc.Name,
			Spec:     sc.Spec,
			Action:   sc.Action,
			Separate: sc.Separate,
			Timezone: sc.Timezone,
		})
	}
	return defs
}
