// Package guidance is the entry point of the scheduler. It owns the allow-list
// and the shared cancellation generation, and turns actions into jettons on
// the processing engine.
package guidance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"taskguidance/internal/action"
	"taskguidance/internal/activity"
	"taskguidance/internal/cancellation"
	"taskguidance/internal/metrics"
	logx "taskguidance/pkg/logx"
)

const (
	Entity = "Responsibilities"

	EventConfigured         = "Configured"
	EventStoppingPrevious   = "StoppingPreviousConfiguration"
	EventQueued             = "ActionQueued"
	EventQueuedBlocking     = "BlockingActionQueued"
	EventRejected           = "ActionRejected"
	EventGlobalCancellation = "GlobalCancellationTriggered"

	ParamIdentifier = "Identifier"
	ParamAllowed    = "AllowedActions"
	ParamSeparately = "ExecuteSeparately"
	ParamReason     = "Reason"
)

var (
	// ErrNotConfigured is returned by submissions before ConfigureNew.
	ErrNotConfigured = errors.New("guidance not configured")
	// ErrNotRegistered is returned for an action outside the allow-list.
	ErrNotRegistered = errors.New("action not registered")
	ErrNilAction     = errors.New("nil action")
)

// Engine is the part of the processing engine the façade drives.
type Engine interface {
	Start(ctx context.Context)
	Stop() int
	Enqueue(j *action.Jetton)
}

// configuration is replaced as a whole by ConfigureNew and read lock-free.
type configuration struct {
	allowed    map[string]struct{} // nil: every action is allowed
	identifier string
}

func (c *configuration) permits(name string) bool {
	if c.allowed == nil {
		return true
	}
	_, ok := c.allowed[name]
	return ok
}

type Responsibilities struct {
	engine  Engine
	cm      *cancellation.Manager
	act     activity.Logger
	log     logx.Logger
	metrics *metrics.Collector
	base    context.Context

	mu  sync.Mutex // serializes ConfigureNew
	cfg atomic.Pointer[configuration]
}

type Option func(*Responsibilities)

func WithActivityLogger(l activity.Logger) Option {
	return func(r *Responsibilities) { r.act = l }
}

func WithLogger(l logx.Logger) Option {
	return func(r *Responsibilities) { r.log = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(r *Responsibilities) { r.metrics = m }
}

// WithCancellationManager shares a manager instead of creating one.
func WithCancellationManager(cm *cancellation.Manager) Option {
	return func(r *Responsibilities) { r.cm = cm }
}

// WithBaseContext sets the context the engine loop runs under, next to the
// cancellation generation. Cancelling it ends the loop.
func WithBaseContext(ctx context.Context) Option {
	return func(r *Responsibilities) { r.base = ctx }
}

// New returns an unconfigured façade over engine.
func New(engine Engine, opts ...Option) *Responsibilities {
	r := &Responsibilities{engine: engine, base: context.Background()}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	if r.cm == nil {
		r.cm = cancellation.New(r.act)
	}
	return r
}

// ConfigureNew replaces the current configuration.
//
// Any previous configuration is cancelled and its queue drained, so leftover
// jettons end Stopped. A new cancellation generation starts and the engine is
// restarted. An empty allowed list permits every action.
func (r *Responsibilities) ConfigureNew(allowed []string, identifier string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev := r.cfg.Load(); prev != nil {
		activity.Emit(r.act, activity.New(Entity, EventStoppingPrevious, activity.LevelDebug).
			With(ParamIdentifier, prev.identifier))
		// Drain first so nothing queued is dispatched into a freed slot.
		r.engine.Stop()
		if err := r.cm.TriggerCancellation(); err != nil && !errors.Is(err, cancellation.ErrNothingToCancel) {
			r.log.Warn("cancel previous configuration", logx.Err(err))
		}
	}
	r.cm.Refresh()

	next := &configuration{identifier: identifier}
	if len(allowed) > 0 {
		next.allowed = make(map[string]struct{}, len(allowed))
		for _, name := range allowed {
			next.allowed[name] = struct{}{}
		}
	}
	r.cfg.Store(next)
	r.engine.Start(r.loopContext())
	r.metrics.Reconfigured()

	activity.Emit(r.act, activity.New(Entity, EventConfigured, activity.LevelInfo).
		With(ParamIdentifier, identifier).
		With(ParamAllowed, next.names()).
		With(cancellation.ParamGeneration, r.cm.Generation()))
	r.log.Info("guidance configured",
		logx.String("identifier", identifier),
		logx.Int("allowed", len(next.allowed)),
		logx.Uint64("generation", r.cm.Generation()))
}

// loopContext ends with the base context or the current generation,
// whichever goes first. A global cancellation therefore halts dispatch until
// the next ConfigureNew.
func (r *Responsibilities) loopContext() context.Context {
	gen := r.cm.Context()
	ctx, cancel := context.WithCancelCause(r.base)
	context.AfterFunc(gen, func() { cancel(context.Cause(gen)) })
	return ctx
}

func (c *configuration) names() []string {
	out := make([]string, 0, len(c.allowed))
	for name := range c.allowed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Configured reports whether ConfigureNew has been called.
func (r *Responsibilities) Configured() bool { return r.cfg.Load() != nil }

// Identifier returns the identifier of the current configuration.
func (r *Responsibilities) Identifier() string {
	if c := r.cfg.Load(); c != nil {
		return c.identifier
	}
	return ""
}

// AllowedActions returns the sorted allow-list; nil means unrestricted.
func (r *Responsibilities) AllowedActions() []string {
	c := r.cfg.Load()
	if c == nil || c.allowed == nil {
		return nil
	}
	return c.names()
}

// prepare validates a submission and returns a jetton ready to enqueue.
func (r *Responsibilities) prepare(a action.Action, blocking, separately bool) (*action.Jetton, error) {
	cfg := r.cfg.Load()
	if cfg == nil {
		r.reject(a, "not_configured")
		return nil, ErrNotConfigured
	}
	if a == nil {
		r.reject(nil, "nil_action")
		return nil, ErrNilAction
	}
	if !cfg.permits(a.Name()) {
		r.reject(a, "not_registered")
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, a.Name())
	}

	j := action.NewJetton(a, blocking, r.act)
	if !separately {
		j.BindCancellation(r.cm.Context())
	}
	if err := j.MoveToReady(); err != nil {
		j.Unbind()
		return nil, err
	}
	return j, nil
}

func (r *Responsibilities) reject(a action.Action, reason string) {
	r.metrics.Rejected(reason)
	ev := activity.New(Entity, EventRejected, activity.LevelWarn).With(ParamReason, reason)
	if a != nil {
		ev = ev.With(action.ParamActionName, a.Name())
	}
	activity.Emit(r.act, ev)
}

// QueueAction submits a without waiting for it. The outcome is only visible
// through activities.
func (r *Responsibilities) QueueAction(a action.Action, separately bool) error {
	j, err := r.prepare(a, false, separately)
	if err != nil {
		return err
	}
	j.FreeBlockingResources()
	r.engine.Enqueue(j)
	activity.Emit(r.act, activity.New(Entity, EventQueued, activity.LevelVerbose).
		With(action.ParamJettonID, j.ID()).
		With(action.ParamActionName, a.Name()).
		With(ParamSeparately, separately))
	return nil
}

// SubmitBlocking submits a and returns its jetton without waiting. The caller
// reads it with action.Result and owns Close.
func (r *Responsibilities) SubmitBlocking(a action.Action, separately bool) (*action.Jetton, error) {
	j, err := r.prepare(a, true, separately)
	if err != nil {
		return nil, err
	}
	r.engine.Enqueue(j)
	activity.Emit(r.act, activity.New(Entity, EventQueuedBlocking, activity.LevelVerbose).
		With(action.ParamJettonID, j.ID()).
		With(action.ParamActionName, a.Name()).
		With(ParamSeparately, separately))
	return j, nil
}

// QueueBlocking submits a and waits for its output as T. Waiting ends early
// when ctx is done; the action itself keeps its own lifecycle.
func QueueBlocking[T any](ctx context.Context, r *Responsibilities, a action.Action, separately bool) (T, error) {
	j, err := r.SubmitBlocking(a, separately)
	if err != nil {
		var zero T
		return zero, err
	}
	defer j.Close()
	return action.Result[T](ctx, j)
}

// TriggerGlobalCancellation cancels the current generation. Every action bound
// to it observes the cancellation; separate actions already running do not.
// The engine stops dispatching until the next ConfigureNew, which drains
// whatever was queued in the meantime.
func (r *Responsibilities) TriggerGlobalCancellation() error {
	activity.Emit(r.act, activity.New(Entity, EventGlobalCancellation, activity.LevelInfo).
		With(cancellation.ParamGeneration, r.cm.Generation()))
	if err := r.cm.TriggerCancellation(); err != nil {
		return err
	}
	r.metrics.Cancelled()
	return nil
}

// GlobalCancellationToken is the current generation's context.
func (r *Responsibilities) GlobalCancellationToken() context.Context {
	return r.cm.Context()
}
