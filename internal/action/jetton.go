package action

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"taskguidance/internal/activity"
	"taskguidance/internal/cancellation"
)

const (
	EntityJetton = "ActionJetton"

	EventStatusChanged         = "StatusChanged"
	EventSignalDoneOnSuccess   = "SignalDoneCalledOnSuccess"
	EventSignalDoneOnException = "SignalDoneCalledOnException"
	EventGetResultCalled       = "GetResultCalled"

	ParamJettonID   = "JettonUniqueIdentifier"
	ParamActionName = "UniqueActionName"
	ParamOldStatus  = "OldStatus"
	ParamNewStatus  = "NewStatus"
)

const (
	evReady    = "ready"
	evProcess  = "process"
	evComplete = "complete"
	evFault    = "fault"
	evCancel   = "cancel"
	evTimeout  = "timeout"
	evSkip     = "skip"
	evStop     = "stop"
)

var lifecycle = fsm.Events{
	{Name: evReady, Src: statusNames(StatusNew, StatusCompleted, StatusFaulted, StatusCancelled, StatusTimedOut, StatusStopped, StatusSkipped), Dst: string(StatusNew)},
	{Name: evProcess, Src: statusNames(StatusNew), Dst: string(StatusProcessing)},
	{Name: evComplete, Src: statusNames(StatusProcessing), Dst: string(StatusCompleted)},
	{Name: evFault, Src: statusNames(StatusNew, StatusProcessing), Dst: string(StatusFaulted)},
	{Name: evCancel, Src: statusNames(StatusNew, StatusProcessing), Dst: string(StatusCancelled)},
	{Name: evTimeout, Src: statusNames(StatusProcessing), Dst: string(StatusTimedOut)},
	{Name: evSkip, Src: statusNames(StatusNew, StatusProcessing), Dst: string(StatusSkipped)},
	{Name: evStop, Src: statusNames(StatusNew, StatusProcessing), Dst: string(StatusStopped)},
}

func statusNames(ss ...Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

// Jetton tracks one submission of an action.
//
// The executor owns status transitions and writes the result once through
// SetResultIfAny. The lock is the visibility barrier for a blocked reader.
type Jetton struct {
	id        uuid.UUID
	action    Action
	blocking  bool
	createdAt time.Time
	log       activity.Logger

	machine *fsm.FSM
	lock    *Lock

	mu        sync.Mutex
	result    any
	err       error
	resultSet bool
	unbind    func()
}

// NewJetton creates a jetton in status New. log may be nil.
func NewJetton(a Action, blocking bool, log activity.Logger) *Jetton {
	j := &Jetton{
		id:        uuid.New(),
		action:    a,
		blocking:  blocking,
		createdAt: time.Now(),
		log:       log,
		lock:      NewLock(false),
	}
	j.machine = fsm.NewFSM(string(StatusNew), lifecycle, fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			activity.Emit(j.log, j.activity(EventStatusChanged, activity.LevelVerbose).
				With(ParamOldStatus, e.Src).
				With(ParamNewStatus, e.Dst))
		},
	})
	return j
}

func (j *Jetton) ID() string           { return j.id.String() }
func (j *Jetton) Action() Action       { return j.action }
func (j *Jetton) IsBlocking() bool     { return j.blocking }
func (j *Jetton) CreatedAt() time.Time { return j.createdAt }

// EventKey identifies the jetton in activities: action name plus jetton id.
func (j *Jetton) EventKey() string {
	return j.action.Name() + "/" + j.id.String()
}

func (j *Jetton) Status() Status {
	return Status(j.machine.Current())
}

func (j *Jetton) activity(event string, level activity.Level) activity.Activity {
	return activity.New(EntityJetton, event, level).
		With(ParamJettonID, j.ID()).
		With(ParamActionName, j.action.Name())
}

func (j *Jetton) move(event string) error {
	err := j.machine.Event(context.Background(), event)
	if err == nil {
		return nil
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return fmt.Errorf("%w: %s from %s: %w", ErrInvalidTransition, event, j.Status(), err)
}

// MoveToReady re-arms the jetton to New before it is (re)enqueued.
func (j *Jetton) MoveToReady() error      { return j.move(evReady) }
func (j *Jetton) MoveToProcessing() error { return j.move(evProcess) }
func (j *Jetton) MoveToCompleted() error  { return j.move(evComplete) }
func (j *Jetton) MoveToFaulted() error    { return j.move(evFault) }
func (j *Jetton) MoveToCancelled() error  { return j.move(evCancel) }
func (j *Jetton) MoveToTimedOut() error   { return j.move(evTimeout) }
func (j *Jetton) MoveToSkipped() error    { return j.move(evSkip) }

// MoveToStopped force-terminates the jetton and triggers the action's own
// cancellation manager so a body that already started can observe it.
func (j *Jetton) MoveToStopped() error {
	if err := j.move(evStop); err != nil {
		return err
	}
	if cm := j.action.Cancellation(); cm != nil {
		if err := cm.TriggerCancellation(); err != nil && !errors.Is(err, cancellation.ErrNothingToCancel) {
			return err
		}
	}
	return nil
}

// BindCancellation cascades parent into the action's cancellation manager
// until Unbind. Actions without a manager are left alone.
func (j *Jetton) BindCancellation(parent context.Context) {
	cm := j.action.Cancellation()
	if cm == nil || parent == nil {
		return
	}
	release := cm.Bind(parent)
	j.mu.Lock()
	prev := j.unbind
	j.unbind = release
	j.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// Unbind releases the binding made by BindCancellation. Safe to call twice.
func (j *Jetton) Unbind() {
	j.mu.Lock()
	release := j.unbind
	j.unbind = nil
	j.mu.Unlock()
	if release != nil {
		release()
	}
}

// SetResultIfAny stores the outcome and releases waiters. Only the first call
// has an effect; later calls return ErrResultAlreadySet.
func (j *Jetton) SetResultIfAny(v any, err error) error {
	j.mu.Lock()
	if j.resultSet {
		j.mu.Unlock()
		return ErrResultAlreadySet
	}
	j.resultSet = true
	j.result, j.err = v, err
	j.mu.Unlock()

	if err != nil {
		activity.Emit(j.log, j.activity(EventSignalDoneOnException, activity.LevelDebug).
			With("error", err))
	} else {
		activity.Emit(j.log, j.activity(EventSignalDoneOnSuccess, activity.LevelVerbose))
	}
	j.lock.Signal()
	return nil
}

// Release wakes waiters without storing an outcome. Used for forced stops.
func (j *Jetton) Release() {
	j.lock.Signal()
}

// Wait blocks until a result is published, the jetton is released, or ctx ends.
func (j *Jetton) Wait(ctx context.Context) error {
	return j.lock.WaitContext(ctx)
}

// Done reports whether a result has been published.
func (j *Jetton) Done() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.resultSet
}

// Outcome returns the stored result and error without waiting.
func (j *Jetton) Outcome() (any, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

// FreeBlockingResources disposes the wait handle of a non-blocking jetton.
// Blocking jettons keep theirs until Close.
func (j *Jetton) FreeBlockingResources() {
	if !j.blocking {
		j.lock.Close()
	}
}

// Close disposes the wait handle and drops the stored outcome. Reading a
// result after Close fails.
func (j *Jetton) Close() {
	j.lock.Close()
	j.mu.Lock()
	j.result, j.err = nil, nil
	j.mu.Unlock()
}

// Result waits for j to finish and returns its output as T.
//
// Completed and Skipped jettons yield their output when it has type T. Otherwise
// the stored error is returned, or ErrInvalidResult when none was recorded. A
// jetton stopped before running yields ErrStopped.
func Result[T any](ctx context.Context, j *Jetton) (T, error) {
	var zero T
	activity.Emit(j.log, j.activity(EventGetResultCalled, activity.LevelVerbose))
	if err := j.Wait(ctx); err != nil {
		return zero, err
	}
	j.FreeBlockingResources()

	status := j.Status()
	v, err := j.Outcome()
	if status == StatusCompleted || status == StatusSkipped {
		if out, ok := v.(T); ok {
			return out, nil
		}
	}
	if err != nil {
		return zero, err
	}
	if status == StatusStopped {
		return zero, fmt.Errorf("%w: %w", ErrInvalidResult, ErrStopped)
	}
	return zero, fmt.Errorf("%w: status %s, output %T", ErrInvalidResult, status, v)
}
