package config

import (
	"reflect"
	"sort"
	"strings"

	logx "taskguidance/pkg/logx"
)

// Sections that SummarizeChange reports.
const (
	SectionProcessor = "processor"
	SectionGuidance  = "guidance"
	SectionLogging   = "logging"
	SectionStorage   = "storage"
	SectionMetrics   = "metrics"
	SectionSchedules = "schedules"
)

// SummarizeChange returns the sorted sections that differ between two configs
// and compact fields describing the new values for logging.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)

	if oldCfg.Processor != newCfg.Processor {
		changed = append(changed, SectionProcessor)
		fields = append(fields,
			logx.Int("processor.queue_capacity", newCfg.Processor.QueueCapacity),
			logx.Int("processor.idle_wait_ms", newCfg.Processor.IdleWaitMS),
			logx.Int("processor.max_concurrent", newCfg.Processor.MaxConcurrent))
	}
	if GuidanceChanged(oldCfg, newCfg) {
		changed = append(changed, SectionGuidance)
		fields = append(fields,
			logx.String("guidance.identifier", newCfg.Guidance.Identifier),
			logx.Int("guidance.allowed_count", len(newCfg.Guidance.AllowedActions)))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, SectionLogging)
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, SectionStorage)
		driver := ""
		if newCfg.Storage != nil {
			driver = strings.TrimSpace(newCfg.Storage.Driver)
		}
		fields = append(fields, logx.String("storage.driver", driver))
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, SectionMetrics)
		fields = append(fields,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", newCfg.Metrics.Addr))
	}
	if !reflect.DeepEqual(oldCfg.Schedules, newCfg.Schedules) {
		changed = append(changed, SectionSchedules)
		fields = append(fields, logx.Int("schedules.count", len(newCfg.Schedules)))
	}

	sort.Strings(changed)
	return changed, fields
}

// GuidanceChanged reports whether the allow-list (as a set) or identifier differ.
func GuidanceChanged(oldCfg, newCfg *Config) bool {
	if oldCfg == nil || newCfg == nil {
		return oldCfg != newCfg
	}
	if oldCfg.Guidance.Identifier != newCfg.Guidance.Identifier {
		return true
	}
	return !reflect.DeepEqual(nameSet(oldCfg.Guidance.AllowedActions), nameSet(newCfg.Guidance.AllowedActions))
}

func nameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}
