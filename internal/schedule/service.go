package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskguidance/internal/action"
	"taskguidance/internal/activity"
	logx "taskguidance/pkg/logx"
)

const (
	Entity             = "Scheduler"
	EventRegistered    = "ScheduleRegistered"
	EventTriggered     = "ScheduleTriggered"
	EventSubmitFailed  = "ScheduleSubmitFailed"
	ParamSchedule      = "Schedule"
	ParamAction        = "Action"
	ParamSpec          = "Spec"
	ParamNext          = "Next"
	submitWarnInterval = time.Minute
)

var ErrUnknownSchedule = errors.New("unknown schedule")

// Submitter queues a non-blocking action. guidance.Responsibilities
// implements it.
type Submitter interface {
	QueueAction(a action.Action, separately bool) error
}

// Def is one recurring submission.
type Def struct {
	Name     string
	Spec     string
	Action   string
	Separate bool
	// Timezone is an IANA name applied to cron specs. Empty means local time.
	Timezone string
}

// Info describes a registered schedule.
type Info struct {
	Name   string
	Action string
	Spec   string
	Kind   SpecKind
	Next   time.Time
	Prev   time.Time
}

type entry struct {
	def     Def
	parsed  ParsedSpec
	id      cron.EntryID
	lastErr time.Time
}

// Service owns a robfig/cron instance. Apply replaces the set of schedules and
// may run while the service is started.
type Service struct {
	sub Submitter
	reg *Registry
	log logx.Logger
	act activity.Logger

	parser cron.Parser

	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]*entry
}

type Option func(*Service)

func WithLogger(l logx.Logger) Option { return func(s *Service) { s.log = l } }

func WithActivityLogger(l activity.Logger) Option { return func(s *Service) { s.act = l } }

func New(sub Submitter, reg *Registry, opts ...Option) *Service {
	s := &Service{
		sub: sub,
		reg: reg,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: map[string]*entry{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

// Validate checks defs without registering anything.
func (s *Service) Validate(defs []Def) error {
	_, err := s.compile(defs)
	return err
}

func (s *Service) compile(defs []Def) (map[string]*entry, error) {
	var errs []error
	out := make(map[string]*entry, len(defs))
	for _, d := range defs {
		d.Name = strings.TrimSpace(d.Name)
		d.Action = strings.TrimSpace(d.Action)
		if d.Name == "" {
			errs = append(errs, errors.New("schedule name required"))
			continue
		}
		if _, dup := out[d.Name]; dup {
			errs = append(errs, fmt.Errorf("schedule %q: duplicate name", d.Name))
			continue
		}
		if !s.reg.Has(d.Action) {
			errs = append(errs, fmt.Errorf("schedule %q: %w: %q", d.Name, ErrUnknownAction, d.Action))
			continue
		}
		ps, err := ParseSpec(d.Spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", d.Name, err))
			continue
		}
		if ps.Kind == SpecCron && strings.TrimSpace(d.Timezone) != "" {
			if _, err := time.LoadLocation(strings.TrimSpace(d.Timezone)); err != nil {
				errs = append(errs, fmt.Errorf("schedule %q: timezone: %w", d.Name, err))
				continue
			}
			ps.Cron = "CRON_TZ=" + strings.TrimSpace(d.Timezone) + " " + ps.Cron
		}
		if _, err := s.parser.Parse(ps.Expr()); err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", d.Name, err))
			continue
		}
		out[d.Name] = &entry{def: d, parsed: ps}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

// Apply replaces every schedule with defs. Nothing changes when any def is
// invalid.
func (s *Service) Apply(defs []Def) error {
	next, err := s.compile(defs)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		for _, e := range s.entries {
			s.c.Remove(e.id)
		}
	}
	s.entries = next
	if s.c != nil {
		for _, e := range s.entries {
			s.addLocked(e)
		}
	}
	return nil
}

// Start begins triggering. It is a no-op when already started.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithChain(cron.Recover(cronLogger{log: s.log})),
		cron.WithLogger(cronLogger{log: s.log}),
	)
	for _, e := range s.entries {
		s.addLocked(e)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("schedules", len(s.entries)))
}

// Stop halts triggering and waits for running triggers until ctx is done.
// Registered schedules are kept for the next Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) addLocked(e *entry) {
	name := e.def.Name
	id, err := s.c.AddFunc(e.parsed.Expr(), func() { s.fire(name) })
	if err != nil {
		// compile already parsed it; only a parser change gets here.
		s.log.Error("schedule register failed", logx.String("name", name), logx.Err(err))
		return
	}
	e.id = id
	next := s.c.Entry(id).Next
	s.log.Debug("schedule registered",
		logx.String("name", name),
		logx.String("spec", e.parsed.Expr()),
		logx.String("action", e.def.Action))
	s.emit(activity.New(Entity, EventRegistered, activity.LevelDebug).
		With(ParamSchedule, name).
		With(ParamAction, e.def.Action).
		With(ParamSpec, e.parsed.Expr()).
		With(ParamNext, next))
}

// RunNow submits the schedule's action immediately, outside its trigger.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSchedule, name)
	}
	return s.submit(e)
}

func (s *Service) fire(name string) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.submit(e); err != nil {
		s.warnSubmit(e, err)
	}
}

func (s *Service) submit(e *entry) error {
	a, err := s.reg.Build(e.def.Action)
	if err != nil {
		return err
	}
	if err := s.sub.QueueAction(a, e.def.Separate); err != nil {
		s.emit(activity.New(Entity, EventSubmitFailed, activity.LevelWarn).
			With(ParamSchedule, e.def.Name).
			With(ParamAction, e.def.Action).
			With("Error", err))
		return fmt.Errorf("schedule %q: %w", e.def.Name, err)
	}
	s.emit(activity.New(Entity, EventTriggered, activity.LevelDebug).
		With(ParamSchedule, e.def.Name).
		With(ParamAction, e.def.Action))
	return nil
}

// warnSubmit logs submission failures at most once per interval per schedule;
// a façade that is not configured yet would otherwise warn on every tick.
func (s *Service) warnSubmit(e *entry, err error) {
	now := time.Now()
	s.mu.Lock()
	quiet := !e.lastErr.IsZero() && now.Sub(e.lastErr) < submitWarnInterval
	if !quiet {
		e.lastErr = now
	}
	s.mu.Unlock()
	if quiet {
		return
	}
	s.log.Warn("scheduled submission failed",
		logx.String("name", e.def.Name),
		logx.String("action", e.def.Action),
		logx.Err(err))
}

// Schedules returns the registered schedules sorted by name.
func (s *Service) Schedules() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.entries))
	for _, e := range s.entries {
		info := Info{Name: e.def.Name, Action: e.def.Action, Spec: e.parsed.Expr(), Kind: e.parsed.Kind}
		if s.c != nil && e.id != 0 {
			ce := s.c.Entry(e.id)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) emit(a activity.Activity) { activity.Emit(s.act, a) }

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
