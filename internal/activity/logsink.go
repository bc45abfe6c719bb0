package activity

import (
	logx "taskguidance/pkg/logx"
)

type logSink struct {
	log logx.Logger
}

// NewLogSink writes activities through a logx logger.
// The activity event becomes the message; subject and params become fields.
func NewLogSink(log logx.Logger) Logger {
	if log.IsZero() {
		return Nop()
	}
	return logSink{log: log}
}

func (s logSink) Log(a Activity) {
	lvl := zerologLevel(a.Level)
	if !s.log.Enabled(lvl) {
		return
	}
	fields := make([]logx.Field, 0, len(a.Params)+2)
	fields = append(fields, logx.String("subject", a.Subject))
	if a.Description != "" {
		fields = append(fields, logx.String("desc", a.Description))
	}
	for _, p := range a.Params {
		if err, ok := p.Value.(error); ok {
			fields = append(fields, logx.String(p.Key, err.Error()))
			continue
		}
		fields = append(fields, logx.Any(p.Key, p.Value))
	}
	s.log.Log(lvl, a.Event, fields...)
}

func zerologLevel(l Level) logx.Level {
	switch l {
	case LevelVerbose:
		return logx.LevelTrace
	case LevelDebug:
		return logx.LevelDebug
	case LevelInfo:
		return logx.LevelInfo
	case LevelWarn:
		return logx.LevelWarn
	default:
		return logx.LevelError
	}
}
