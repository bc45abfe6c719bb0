// Package cancellation owns cooperative cancellation "generations".
//
// A Manager holds one cancellable context at a time. Refresh retires it and
// starts a new generation. Bind cascades an external context into the current
// generation, so cancellation flows from the external context into the manager
// and never the other way round.
package cancellation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"taskguidance/internal/activity"
)

const (
	Entity                      = "CancellationManager"
	EventCancellationTriggered  = "CancellationTriggered"
	EventCancellationViaBinding = "CancellationTriggeredViaBinding"
	EventBindingTriggered       = "BindingTriggered"
	EventRefreshed              = "Refreshed"
	ParamGeneration             = "Generation"
	ParamCause                  = "Cause"
)

var (
	// ErrCancelled is the cause recorded when a generation is cancelled.
	ErrCancelled = errors.New("cancellation signaled")
	// ErrNothingToCancel is returned by TriggerCancellation when the current
	// generation is already cancelled.
	ErrNothingToCancel = errors.New("nothing to cancel: generation already cancelled")
)

// Manager is safe for concurrent use.
type Manager struct {
	log activity.Logger

	mu     sync.Mutex
	gen    uint64
	ctx    context.Context
	cancel context.CancelCauseFunc
	// bindings attached to the current generation, by id.
	bindings map[uint64]func() bool
	nextID   uint64
}

// New returns a manager with a fresh generation. log may be nil.
func New(log activity.Logger) *Manager {
	m := &Manager{log: log}
	m.Refresh()
	return m
}

// Refresh retires the current generation and allocates a new one.
// Bindings registered on the retired generation are released.
func (m *Manager) Refresh() {
	m.mu.Lock()
	for _, stop := range m.bindings {
		stop()
	}
	m.bindings = nil
	m.ctx, m.cancel = context.WithCancelCause(context.Background())
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	activity.Emit(m.log, activity.New(Entity, EventRefreshed, activity.LevelVerbose).
		With(ParamGeneration, gen))
}

// Bind cascades cancellation of parent into the current generation until
// release is called or the generation is refreshed. Cancelling the generation
// never reaches parent. release is idempotent.
func (m *Manager) Bind(parent context.Context) (release func()) {
	if parent == nil {
		return func() {}
	}
	activity.Emit(m.log, activity.New(Entity, EventBindingTriggered, activity.LevelVerbose).
		With(ParamGeneration, m.Generation()))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return func() {}
	}

	cancel, gen := m.cancel, m.gen
	if parent.Err() != nil {
		cancel(context.Cause(parent))
		return func() {}
	}
	m.nextID++
	id := m.nextID
	stop := context.AfterFunc(parent, func() {
		cause := context.Cause(parent)
		activity.Emit(m.log, activity.New(Entity, EventCancellationViaBinding, activity.LevelDebug).
			With(ParamGeneration, gen).
			With(ParamCause, cause))
		cancel(cause)
		m.unbind(id)
	})
	if m.bindings == nil {
		m.bindings = make(map[uint64]func() bool)
	}
	m.bindings[id] = stop
	return func() { m.unbind(id) }
}

func (m *Manager) unbind(id uint64) {
	m.mu.Lock()
	stop, ok := m.bindings[id]
	delete(m.bindings, id)
	m.mu.Unlock()
	if ok {
		stop()
	}
}

// Bindings returns the number of live bindings on the current generation.
func (m *Manager) Bindings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bindings)
}

// TriggerCancellation cancels the current generation.
// It returns ErrNothingToCancel if the generation is already cancelled.
func (m *Manager) TriggerCancellation() error {
	m.mu.Lock()
	ctx, cancel, gen := m.ctx, m.cancel, m.gen
	m.mu.Unlock()

	activity.Emit(m.log, activity.New(Entity, EventCancellationTriggered, activity.LevelDebug).
		With(ParamGeneration, gen))

	if ctx.Err() != nil {
		return fmt.Errorf("%w (generation %d)", ErrNothingToCancel, gen)
	}
	cancel(ErrCancelled)
	return nil
}

// Err reports whether the current generation was cancelled. The returned error
// matches ErrCancelled and, when different, the recorded cause.
func (m *Manager) Err() error {
	ctx := m.Context()
	if ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, ErrCancelled) {
		return ErrCancelled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

// Context is the current generation's token. Running work observes
// cancellation through it.
func (m *Manager) Context() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// Generation is a counter that increases with every Refresh.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}
