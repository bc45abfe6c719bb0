package app

import (
	"context"
	"slices"
	"strings"

	"taskguidance/internal/config"
	logx "taskguidance/pkg/logx"
)

// startReloader applies every committed config change to the running app.
func (a *App) startReloader() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, fields := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)

	if slices.Contains(sections, config.SectionLogging) {
		a.logs.Apply(mapLogging(next))
	}
	if config.GuidanceChanged(prev, next) {
		// Leftover jettons of the previous configuration end Stopped.
		a.guide.ConfigureNew(next.Guidance.AllowedActions, next.Guidance.Identifier)
	}
	if slices.Contains(sections, config.SectionSchedules) {
		if err := a.sched.Apply(mapSchedules(next)); err != nil {
			a.log.Warn("invalid schedules; keeping previous", logx.Err(err))
		}
	}
	if slices.Contains(sections, config.SectionMetrics) {
		if err := a.obs.Reconfigure(ctx, mapObservabilityConfig(next)); err != nil {
			a.log.Warn("observability reconfigure failed", logx.Err(err))
		}
	}
	for _, s := range []string{config.SectionProcessor, config.SectionStorage} {
		if slices.Contains(sections, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.log.Info("config reloaded",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
}
