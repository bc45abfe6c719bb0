package action

import (
	"context"
	"time"

	"taskguidance/internal/cancellation"
)

// Func is an Action assembled from plain functions.
type Func struct {
	name     string
	priority Priority
	timeout  time.Duration
	cm       *cancellation.Manager
	body     func(ctx context.Context) (any, error)

	proceed     func(ctx context.Context) (bool, error)
	defaultOut  any
	postAction  func(ctx context.Context, output any) error
	onTimeout   func(ctx context.Context)
	onCancel    func(ctx context.Context)
	onFailure   func(ctx context.Context, err error)
	onActionEnd func(ctx context.Context)
}

// FuncOption configures a Func.
type FuncOption func(*Func)

// NewFunc builds an action named name running body. Defaults: medium priority,
// a 30 second timeout and no cancellation manager.
func NewFunc(name string, body func(ctx context.Context) (any, error), opts ...FuncOption) *Func {
	f := &Func{
		name:     name,
		priority: DefaultPriority,
		timeout:  30 * time.Second,
		body:     body,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

func WithPriority(p Priority) FuncOption { return func(f *Func) { f.priority = p } }

func WithTimeout(d time.Duration) FuncOption { return func(f *Func) { f.timeout = d } }

// WithCancellation attaches a cancellation manager to the action.
func WithCancellation(cm *cancellation.Manager) FuncOption { return func(f *Func) { f.cm = cm } }

func WithPrecondition(fn func(ctx context.Context) (bool, error)) FuncOption {
	return func(f *Func) { f.proceed = fn }
}

func WithDefaultOutput(v any) FuncOption { return func(f *Func) { f.defaultOut = v } }

func WithPostAction(fn func(ctx context.Context, output any) error) FuncOption {
	return func(f *Func) { f.postAction = fn }
}

func OnTimeout(fn func(ctx context.Context)) FuncOption { return func(f *Func) { f.onTimeout = fn } }

func OnCancellation(fn func(ctx context.Context)) FuncOption { return func(f *Func) { f.onCancel = fn } }

func OnFailure(fn func(ctx context.Context, err error)) FuncOption {
	return func(f *Func) { f.onFailure = fn }
}

func OnActionEnd(fn func(ctx context.Context)) FuncOption { return func(f *Func) { f.onActionEnd = fn } }

func (f *Func) Name() string                        { return f.name }
func (f *Func) Priority() Priority                  { return f.priority }
func (f *Func) Timeout() time.Duration              { return f.timeout }
func (f *Func) Cancellation() *cancellation.Manager { return f.cm }
func (f *Func) DefaultOutput() any                  { return f.defaultOut }

func (f *Func) ShouldProceed(ctx context.Context) (bool, error) {
	if f.proceed == nil {
		return true, nil
	}
	return f.proceed(ctx)
}

func (f *Func) Run(ctx context.Context) (any, error) {
	if f.body == nil {
		return f.defaultOut, nil
	}
	return f.body(ctx)
}

func (f *Func) PostAction(ctx context.Context, output any) error {
	if f.postAction == nil {
		return nil
	}
	return f.postAction(ctx, output)
}

func (f *Func) OnTimeout(ctx context.Context) {
	if f.onTimeout != nil {
		f.onTimeout(ctx)
	}
}

func (f *Func) OnCancellation(ctx context.Context) {
	if f.onCancel != nil {
		f.onCancel(ctx)
	}
}

func (f *Func) OnFailure(ctx context.Context, err error) {
	if f.onFailure != nil {
		f.onFailure(ctx, err)
	}
}

func (f *Func) OnActionEnd(ctx context.Context) {
	if f.onActionEnd != nil {
		f.onActionEnd(ctx)
	}
}
