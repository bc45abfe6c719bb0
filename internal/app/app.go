// Package app wires configuration, logging, the activity pipeline, the
// processing engine, the guidance façade, schedules and the observability
// endpoint into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskguidance/internal/action"
	"taskguidance/internal/activity"
	"taskguidance/internal/config"
	"taskguidance/internal/engine"
	"taskguidance/internal/guidance"
	"taskguidance/internal/metrics"
	"taskguidance/internal/observability"
	"taskguidance/internal/runtime/supervisor"
	"taskguidance/internal/schedule"
	"taskguidance/internal/storage"
	logx "taskguidance/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	bus   *activity.Bus
	store storage.Store
	sink  *storage.Sink
	act   activity.Logger

	metrics  *metrics.Collector
	engine   *engine.Service
	guide    *guidance.Responsibilities
	registry *schedule.Registry
	sched    *schedule.Service
	obs      *observability.Service
}

// NewApp loads cfgPath and builds every component. Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.Nop())
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	a := &App{cfgm: cfgm, logs: logSvc, log: log.With(logx.String("comp", "app")), bus: activity.NewBus()}

	sc, minLevel, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			logSvc.Close()
			return nil, err
		}
		a.store = st
		a.sink = storage.NewSink(st, log.With(logx.String("comp", "ledger")), minLevel, 0)
		a.log.Info("activity ledger enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	var sink activity.Logger
	if a.sink != nil {
		sink = a.sink
	}
	a.act = activity.Multi(
		activity.NewLogSink(log.With(logx.String("comp", "activity"))),
		a.bus,
		sink,
	)

	a.metrics = metrics.New()
	a.engine = engine.New(mapEngineConfig(cfg), log, a.act, a.metrics)

	a.registry = schedule.NewRegistry()
	if err := registerBuiltins(a.registry, log.With(logx.String("comp", "builtin"))); err != nil {
		a.closeStorage(context.Background())
		logSvc.Close()
		return nil, err
	}

	a.obs = observability.New(mapObservabilityConfig(cfg), observability.Handlers{
		Metrics: a.metrics.Handler(),
		Status:  func() any { return a.Status() },
	}, log.With(logx.String("comp", "observability")))

	return a, nil
}

// Registry holds the actions schedules may name. Register before Start.
func (a *App) Registry() *schedule.Registry { return a.registry }

// Activities is the in-memory activity fanout.
func (a *App) Activities() *activity.Bus { return a.bus }

// Guidance is the scheduler façade. It is nil before Start.
func (a *App) Guidance() *guidance.Responsibilities { return a.guide }

// Config returns the last committed configuration.
func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Status is served on /status.
type Status struct {
	Identifier     string          `json:"identifier"`
	Configured     bool            `json:"configured"`
	AllowedActions []string        `json:"allowed_actions,omitempty"`
	Engine         engine.Snapshot `json:"engine"`
	Schedules      []schedule.Info `json:"schedules,omitempty"`
	LedgerDropped  uint64          `json:"ledger_dropped"`
}

func (a *App) Status() Status {
	st := Status{Engine: a.engine.Snapshot()}
	if a.guide != nil {
		st.Identifier = a.guide.Identifier()
		st.Configured = a.guide.Configured()
		st.AllowedActions = a.guide.AllowedActions()
	}
	if a.sched != nil {
		st.Schedules = a.sched.Schedules()
	}
	if a.sink != nil {
		st.LedgerDropped = a.sink.Dropped()
	}
	return st
}

// Submit builds the named action from the registry and queues it.
func (a *App) Submit(name string, separately bool) error {
	if a.guide == nil {
		return guidance.ErrNotConfigured
	}
	act, err := a.registry.Build(name)
	if err != nil {
		return err
	}
	return a.guide.QueueAction(act, separately)
}

// QueueAction forwards to the façade. It makes App the schedule submitter.
func (a *App) QueueAction(act action.Action, separately bool) error {
	if a.guide == nil {
		return guidance.ErrNotConfigured
	}
	return a.guide.QueueAction(act, separately)
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	a.guide = guidance.New(a.engine,
		guidance.WithActivityLogger(a.act),
		guidance.WithLogger(a.log.With(logx.String("comp", "guidance"))),
		guidance.WithMetrics(a.metrics),
		guidance.WithBaseContext(a.sup.Context()),
	)
	a.sched = schedule.New(a, a.registry,
		schedule.WithLogger(a.log.With(logx.String("comp", "schedule"))),
		schedule.WithActivityLogger(a.act),
	)
	if err := a.sched.Apply(mapSchedules(cfg)); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("schedules: %w", err)
	}

	// Reloads are validated before they are committed.
	a.cfgm.SetValidator(func(c context.Context, next *config.Config) error {
		if _, _, _, err := mapStorageConfig(next); err != nil {
			return err
		}
		return a.sched.Validate(mapSchedules(next))
	})

	a.guide.ConfigureNew(cfg.Guidance.AllowedActions, cfg.Guidance.Identifier)
	a.sched.Start()

	if err := a.obs.Start(a.sup.Context()); err != nil {
		// The endpoint is optional; the scheduler keeps running without it.
		a.log.Error("observability endpoint failed to start", logx.Err(err))
	}

	a.startReloader()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("identifier", cfg.Guidance.Identifier),
		logx.Int("schedules", len(cfg.Schedules)),
		logx.Bool("ledger", a.store != nil))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	a.step(ctx, "schedule", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "engine", 5*time.Second, a.engine.Shutdown)
	a.step(ctx, "observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	a.step(ctx, "storage", 2*time.Second, func(c context.Context) error { return a.closeStorage(c) })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func (a *App) closeStorage(ctx context.Context) error {
	var errs []error
	if a.sink != nil {
		errs = append(errs, a.sink.Close(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// step runs one shutdown step bounded by max and the caller's deadline.
// A step that overruns is abandoned and reported when it eventually finishes.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
		max = time.Until(dl)
	}
	if max <= 0 {
		a.log.Warn("stop step skipped: no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline",
				logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}
