package action

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"taskguidance/internal/activity"
	"taskguidance/internal/cancellation"
)

func perform(t *testing.T, a Action) (*Jetton, *activity.Recorder) {
	t.Helper()
	rec := &activity.Recorder{}
	j := NewJetton(a, true, rec)
	Perform(context.Background(), j)
	return j, rec
}

func TestPerformSuccess(t *testing.T) {
	var post, end atomic.Bool
	a := NewFunc("ok", func(context.Context) (any, error) { return "value", nil },
		WithPostAction(func(_ context.Context, out any) error {
			if out != "value" {
				t.Errorf("post action saw %v", out)
			}
			post.Store(true)
			return nil
		}),
		OnActionEnd(func(context.Context) { end.Store(true) }),
	)
	j, rec := perform(t, a)

	if j.Status() != StatusCompleted {
		t.Fatalf("status = %s, want Completed", j.Status())
	}
	got, err := Result[string](context.Background(), j)
	if err != nil || got != "value" {
		t.Fatalf("Result = (%q, %v)", got, err)
	}
	if !post.Load() || !end.Load() {
		t.Fatalf("hooks: post=%v end=%v", post.Load(), end.Load())
	}
	if n := len(rec.Filter(EntityJetton, EventSignalDoneOnSuccess)); n != 1 {
		t.Fatalf("signalled %d times, want 1", n)
	}
}

func TestPerformFailurePreservesCause(t *testing.T) {
	boom := errors.New("boom")
	var seen error
	a := NewFunc("fail", func(context.Context) (any, error) { return nil, boom },
		OnFailure(func(_ context.Context, err error) { seen = err }),
	)
	j, _ := perform(t, a)

	if j.Status() != StatusFaulted {
		t.Fatalf("status = %s, want Faulted", j.Status())
	}
	_, err := Result[string](context.Background(), j)
	if !errors.Is(err, ErrFaulted) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrFaulted wrapping boom", err)
	}
	if seen != boom {
		t.Fatalf("failure hook got %v", seen)
	}
}

func TestPerformTimeout(t *testing.T) {
	var timedOut atomic.Bool
	a := NewFunc("slow", func(ctx context.Context) (any, error) {
		select {
		case <-time.After(500 * time.Millisecond):
			return "late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, WithTimeout(50*time.Millisecond), OnTimeout(func(context.Context) { timedOut.Store(true) }))

	start := time.Now()
	j, _ := perform(t, a)
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("perform took %s, timeout not enforced", elapsed)
	}
	if j.Status() != StatusTimedOut {
		t.Fatalf("status = %s, want TimedOut", j.Status())
	}
	_, err := Result[string](context.Background(), j)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if errors.Is(err, ErrFaulted) {
		t.Fatalf("timeout classified as fault: %v", err)
	}
	if !timedOut.Load() {
		t.Fatal("timeout hook not called")
	}
}

func TestPerformTimeoutIgnoredBody(t *testing.T) {
	// The body never looks at its context; the race still ends on time.
	a := NewFunc("stubborn", func(context.Context) (any, error) {
		time.Sleep(300 * time.Millisecond)
		return "late", nil
	}, WithTimeout(20*time.Millisecond))
	j, _ := perform(t, a)
	if j.Status() != StatusTimedOut {
		t.Fatalf("status = %s, want TimedOut", j.Status())
	}
}

func TestPerformNonPositiveTimeoutFailsImmediately(t *testing.T) {
	var ran atomic.Bool
	a := NewFunc("zero", func(context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	}, WithTimeout(0))
	j, _ := perform(t, a)
	if j.Status() != StatusTimedOut {
		t.Fatalf("status = %s, want TimedOut", j.Status())
	}
	if ran.Load() {
		t.Fatal("body ran despite zero timeout")
	}
}

func TestPerformCancelledBeforeBody(t *testing.T) {
	cm := cancellation.New(nil)
	parent, cancel := context.WithCancel(context.Background())
	cancel()
	cm.Bind(parent)

	var ran, hook atomic.Bool
	a := NewFunc("cancelled", func(context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	}, WithCancellation(cm), OnCancellation(func(context.Context) { hook.Store(true) }))

	j, _ := perform(t, a)
	if j.Status() != StatusCancelled {
		t.Fatalf("status = %s, want Cancelled", j.Status())
	}
	if ran.Load() {
		t.Fatal("body ran after cancellation")
	}
	if !hook.Load() {
		t.Fatal("cancellation hook not called")
	}
	if _, err := Result[any](context.Background(), j); !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

func TestPerformCancelledDuringBody(t *testing.T) {
	cm := cancellation.New(nil)
	started := make(chan struct{})
	a := NewFunc("interrupted", func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, WithCancellation(cm), WithTimeout(5*time.Second))

	rec := &activity.Recorder{}
	j := NewJetton(a, true, rec)
	go func() {
		<-started
		_ = cm.TriggerCancellation()
	}()
	Perform(context.Background(), j)

	if j.Status() != StatusCancelled {
		t.Fatalf("status = %s, want Cancelled", j.Status())
	}
}

func TestPerformSkipped(t *testing.T) {
	var ran atomic.Bool
	a := NewFunc("skip", func(context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	},
		WithPrecondition(func(context.Context) (bool, error) { return false, nil }),
		WithDefaultOutput("default"),
	)
	j, _ := perform(t, a)
	if j.Status() != StatusSkipped {
		t.Fatalf("status = %s, want Skipped", j.Status())
	}
	if ran.Load() {
		t.Fatal("body ran for skipped action")
	}
	got, err := Result[string](context.Background(), j)
	if err != nil || got != "default" {
		t.Fatalf("Result = (%q, %v), want default output", got, err)
	}
}

func TestPerformPreconditionError(t *testing.T) {
	bad := errors.New("bad precondition")
	a := NewFunc("precondition", nil,
		WithPrecondition(func(context.Context) (bool, error) { return false, bad }))
	j, _ := perform(t, a)
	if j.Status() != StatusFaulted {
		t.Fatalf("status = %s, want Faulted", j.Status())
	}
	if _, err := Result[any](context.Background(), j); !errors.Is(err, bad) {
		t.Fatalf("err = %v", err)
	}
}

func TestPerformRecoversPanic(t *testing.T) {
	a := NewFunc("panics", func(context.Context) (any, error) { panic("kaboom") })
	j, _ := perform(t, a)
	if j.Status() != StatusFaulted {
		t.Fatalf("status = %s, want Faulted", j.Status())
	}
	if _, err := Result[any](context.Background(), j); !errors.Is(err, ErrFaulted) {
		t.Fatalf("err = %v, want ErrFaulted", err)
	}
}

func TestPerformPostActionFailureFaults(t *testing.T) {
	bad := errors.New("post failed")
	a := NewFunc("post", func(context.Context) (any, error) { return 1, nil },
		WithPostAction(func(context.Context, any) error { return bad }))
	j, _ := perform(t, a)
	if j.Status() != StatusFaulted {
		t.Fatalf("status = %s, want Faulted", j.Status())
	}
}

func TestPerformClassifiesJoinedErrorsByFirstCause(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"cancel first", errors.Join(context.Canceled, errors.New("other")), StatusCancelled},
		{"fault first", errors.Join(errors.New("other"), context.Canceled), StatusFaulted},
		{"deadline first", errors.Join(context.DeadlineExceeded, errors.New("other")), StatusTimedOut},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewFunc(tt.name, func(context.Context) (any, error) { return nil, tt.err })
			j, _ := perform(t, a)
			if j.Status() != tt.want {
				t.Fatalf("status = %s, want %s", j.Status(), tt.want)
			}
		})
	}
}

func TestPerformSignalsBeforeActionEnd(t *testing.T) {
	var j *Jetton
	var doneAtEnd atomic.Bool
	a := NewFunc("order", func(context.Context) (any, error) { return nil, nil },
		OnActionEnd(func(context.Context) { doneAtEnd.Store(j.Done()) }))
	j = NewJetton(a, true, nil)
	Perform(context.Background(), j)
	if !doneAtEnd.Load() {
		t.Fatal("OnActionEnd ran before the result was published")
	}
}
