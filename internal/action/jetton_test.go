package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskguidance/internal/activity"
	"taskguidance/internal/cancellation"
)

func newTestJetton(blocking bool, opts ...FuncOption) (*Jetton, *activity.Recorder) {
	rec := &activity.Recorder{}
	a := NewFunc("test.action", func(context.Context) (any, error) { return "ok", nil }, opts...)
	return NewJetton(a, blocking, rec), rec
}

func TestJettonLifecycleTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []func(*Jetton) error
		want Status
	}{
		{"completed", []func(*Jetton) error{(*Jetton).MoveToProcessing, (*Jetton).MoveToCompleted}, StatusCompleted},
		{"faulted", []func(*Jetton) error{(*Jetton).MoveToProcessing, (*Jetton).MoveToFaulted}, StatusFaulted},
		{"cancelled before run", []func(*Jetton) error{(*Jetton).MoveToCancelled}, StatusCancelled},
		{"timed out", []func(*Jetton) error{(*Jetton).MoveToProcessing, (*Jetton).MoveToTimedOut}, StatusTimedOut},
		{"skipped", []func(*Jetton) error{(*Jetton).MoveToSkipped}, StatusSkipped},
		{"stopped", []func(*Jetton) error{(*Jetton).MoveToStopped}, StatusStopped},
		{"ready from terminal", []func(*Jetton) error{(*Jetton).MoveToSkipped, (*Jetton).MoveToReady}, StatusNew},
		{"ready from new", []func(*Jetton) error{(*Jetton).MoveToReady}, StatusNew},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, _ := newTestJetton(true)
			for i, step := range tt.path {
				if err := step(j); err != nil {
					t.Fatalf("step %d: %v", i, err)
				}
			}
			if got := j.Status(); got != tt.want {
				t.Fatalf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestJettonRejectsReversedTransitions(t *testing.T) {
	j, _ := newTestJetton(true)
	if err := j.MoveToCompleted(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("New -> Completed: err = %v, want ErrInvalidTransition", err)
	}
	if err := j.MoveToTimedOut(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("New -> TimedOut: err = %v, want ErrInvalidTransition", err)
	}
	_ = j.MoveToProcessing()
	_ = j.MoveToCompleted()
	if err := j.MoveToProcessing(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Completed -> Processing: err = %v, want ErrInvalidTransition", err)
	}
	if err := j.MoveToStopped(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Completed -> Stopped: err = %v, want ErrInvalidTransition", err)
	}
}

func TestJettonLogsStatusChanges(t *testing.T) {
	j, rec := newTestJetton(true)
	_ = j.MoveToProcessing()
	_ = j.MoveToCompleted()

	changes := rec.Filter(EntityJetton, EventStatusChanged)
	if len(changes) != 2 {
		t.Fatalf("got %d status changes, want 2", len(changes))
	}
	last := changes[1]
	if v, _ := last.Param(ParamOldStatus); v != string(StatusProcessing) {
		t.Fatalf("old status = %v", v)
	}
	if v, _ := last.Param(ParamNewStatus); v != string(StatusCompleted) {
		t.Fatalf("new status = %v", v)
	}
	if v, _ := last.Param(ParamJettonID); v != j.ID() {
		t.Fatalf("jetton id = %v, want %s", v, j.ID())
	}
}

func TestMoveToStoppedTriggersActionCancellation(t *testing.T) {
	cm := cancellation.New(nil)
	j, _ := newTestJetton(true, WithCancellation(cm))
	if err := j.MoveToStopped(); err != nil {
		t.Fatalf("MoveToStopped: %v", err)
	}
	if !errors.Is(cm.Err(), cancellation.ErrCancelled) {
		t.Fatalf("action manager not cancelled: %v", cm.Err())
	}
}

func TestSetResultIfAnyOnlyOnce(t *testing.T) {
	j, rec := newTestJetton(true)
	if err := j.SetResultIfAny("first", nil); err != nil {
		t.Fatalf("first SetResultIfAny: %v", err)
	}
	if err := j.SetResultIfAny("second", nil); !errors.Is(err, ErrResultAlreadySet) {
		t.Fatalf("second SetResultIfAny: err = %v", err)
	}
	v, _ := j.Outcome()
	if v != "first" {
		t.Fatalf("result = %v, want first", v)
	}
	if n := len(rec.Filter(EntityJetton, EventSignalDoneOnSuccess)); n != 1 {
		t.Fatalf("signalled %d times, want 1", n)
	}
}

func TestResultTyped(t *testing.T) {
	j, _ := newTestJetton(true)
	_ = j.MoveToProcessing()
	_ = j.MoveToCompleted()
	go func() { _ = j.SetResultIfAny(42, nil) }()

	got, err := Result[int](context.Background(), j)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if got != 42 {
		t.Fatalf("Result = %d, want 42", got)
	}
	// Blocking jettons keep the result readable until Close.
	again, err := Result[int](context.Background(), j)
	if err != nil || again != 42 {
		t.Fatalf("second read = (%d, %v)", again, err)
	}
	j.Close()
	if _, err := Result[int](context.Background(), j); !errors.Is(err, ErrInvalidResult) {
		t.Fatalf("read after Close: err = %v", err)
	}
}

func TestResultTypeMismatch(t *testing.T) {
	j, _ := newTestJetton(true)
	_ = j.MoveToProcessing()
	_ = j.MoveToCompleted()
	_ = j.SetResultIfAny("text", nil)

	if _, err := Result[int](context.Background(), j); !errors.Is(err, ErrInvalidResult) {
		t.Fatalf("err = %v, want ErrInvalidResult", err)
	}
}

func TestResultReturnsStoredError(t *testing.T) {
	boom := errors.New("boom")
	j, _ := newTestJetton(true)
	_ = j.MoveToProcessing()
	_ = j.MoveToFaulted()
	_ = j.SetResultIfAny(nil, boom)

	if _, err := Result[string](context.Background(), j); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestResultOfStoppedJetton(t *testing.T) {
	j, _ := newTestJetton(true)
	done := make(chan error, 1)
	go func() {
		_, err := Result[string](context.Background(), j)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	_ = j.MoveToStopped()
	j.Release()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) || !errors.Is(err, ErrInvalidResult) {
			t.Fatalf("err = %v, want ErrStopped wrapped in ErrInvalidResult", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked reader not released")
	}
	if _, err := j.Outcome(); err != nil {
		t.Fatalf("stopped jetton stored an error: %v", err)
	}
}

func TestFreeBlockingResourcesOnlyForNonBlocking(t *testing.T) {
	blocking, _ := newTestJetton(true)
	blocking.FreeBlockingResources()
	if blocking.lock.Closed() {
		t.Fatal("blocking jetton lost its wait handle")
	}

	fire, _ := newTestJetton(false)
	fire.FreeBlockingResources()
	if !fire.lock.Closed() {
		t.Fatal("non-blocking jetton kept its wait handle")
	}
}

func TestEventKeyNamesActionAndID(t *testing.T) {
	j, _ := newTestJetton(false)
	if want := "test.action/" + j.ID(); j.EventKey() != want {
		t.Fatalf("EventKey = %q, want %q", j.EventKey(), want)
	}
}
