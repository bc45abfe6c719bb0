package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the on-disk configuration (JSON or YAML).
type Config struct {
	Processor ProcessorConfig  `json:"processor"`
	Guidance  GuidanceConfig   `json:"guidance"`
	Logging   LoggingConfig    `json:"logging"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
	Metrics   MetricsConfig    `json:"metrics"`
	Schedules []ScheduleConfig `json:"schedules,omitempty"`
}

// ProcessorConfig controls the processing engine.
//
// Defaults (when fields are omitted/zero):
//   - queue_capacity: 100
//   - idle_wait_ms: 1000
//   - max_concurrent: 64
type ProcessorConfig struct {
	QueueCapacity int `json:"queue_capacity,omitempty"`
	IdleWaitMS    int `json:"idle_wait_ms,omitempty"`
	MaxConcurrent int `json:"max_concurrent,omitempty"`
}

func (p ProcessorConfig) IdleWait() time.Duration {
	return time.Duration(p.IdleWaitMS) * time.Millisecond
}

// GuidanceConfig is applied with ConfigureNew. An empty allow-list permits
// every registered action.
type GuidanceConfig struct {
	AllowedActions []string `json:"allowed_actions,omitempty"`
	Identifier     string   `json:"identifier,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the activity ledger.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/ledger.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	MaxRecords  int    `json:"max_records,omitempty"`
	// MinLevel is the lowest activity level persisted (verbose/debug/info/warn/error).
	MinLevel string `json:"min_level,omitempty"`
}

// MetricsConfig controls the observability endpoint (/metrics, /status,
// /healthz and optionally /debug/pprof).
//
// A non-loopback addr requires token.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	Token   string `json:"token,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}

// ScheduleConfig submits Action on every tick of Spec.
//
// Spec is a cron expression (5 or 6 fields, descriptors like "@hourly") or an
// interval in the form "every 30s".
type ScheduleConfig struct {
	Name     string `json:"name"`
	Spec     string `json:"spec"`
	Action   string `json:"action"`
	Separate bool   `json:"separate,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Validate checks values the decoder cannot.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	p := c.Processor
	if p.QueueCapacity < 0 {
		errs = append(errs, errors.New("processor.queue_capacity must be >= 0"))
	}
	if p.IdleWaitMS < 0 {
		errs = append(errs, errors.New("processor.idle_wait_ms must be >= 0"))
	}
	if p.MaxConcurrent < 0 {
		errs = append(errs, errors.New("processor.max_concurrent must be >= 0"))
	}
	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" && !validLevel(lvl) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	if s := c.Storage; s != nil {
		if _, err := ParseDuration("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
		if lvl := strings.TrimSpace(s.MinLevel); lvl != "" && !validLevel(lvl) {
			errs = append(errs, fmt.Errorf("storage.min_level: unknown level %q", lvl))
		}
	}
	seen := map[string]bool{}
	for i, sc := range c.Schedules {
		name := strings.TrimSpace(sc.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("schedules[%d].name is required", i))
		case seen[name]:
			errs = append(errs, fmt.Errorf("schedules[%d]: duplicate name %q", i, name))
		}
		seen[name] = true
		if strings.TrimSpace(sc.Spec) == "" {
			errs = append(errs, fmt.Errorf("schedules[%d].spec is required", i))
		}
		if strings.TrimSpace(sc.Action) == "" {
			errs = append(errs, fmt.Errorf("schedules[%d].action is required", i))
		}
	}
	return errors.Join(errs...)
}

func validLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "verbose", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// ParseDuration parses an optional, non-negative Go duration string.
// path names the field in errors.
func ParseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}
