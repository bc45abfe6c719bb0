package action

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"taskguidance/internal/activity"
)

// Lifecycle stages reported while an action runs.
const (
	StageBegin                 = "Begin"
	StageProceeding            = "Proceeding"
	StageSkipProceeding        = "SkipProceeding"
	StageCoreActionStarting    = "CoreActionStarting"
	StageCoreActionEnded       = "CoreActionEnded"
	StageOnTimeout             = "OnTimeOut"
	StageOnCancellation        = "OnCancellation"
	StageOnFailure             = "OnFailure"
	StageOnException           = "OnException"
	StagePostProcessSignalling = "PostProcessSignalling"
	StageEnd                   = "End"
)

// Perform runs the lifecycle of j's action once.
//
// It never returns an error: every failure becomes a terminal status plus a
// stored error, and the result is always published before OnActionEnd runs.
// Any cancellation binding is released before the result is published.
func Perform(ctx context.Context, j *Jetton) {
	a := j.Action()
	j.stage(StageBegin, activity.LevelVerbose, nil)

	output, err := execute(ctx, j)
	if err != nil {
		err = classify(ctx, j, err)
	}

	j.stage(StagePostProcessSignalling, activity.LevelVerbose, nil)
	j.Unbind()
	if serr := j.SetResultIfAny(output, err); serr != nil {
		j.stage(StagePostProcessSignalling, activity.LevelWarn, serr)
	}

	if h, ok := a.(EndHandler); ok {
		j.hook(StageEnd, func() { h.OnActionEnd(ctx) })
	}
}

func execute(ctx context.Context, j *Jetton) (any, error) {
	a := j.Action()
	output := defaultOutput(a)

	proceed, err := guard(func() (bool, error) { return a.ShouldProceed(ctx) })
	if err != nil {
		return output, err
	}
	if !proceed {
		j.stage(StageSkipProceeding, activity.LevelDebug, nil)
		return output, j.MoveToSkipped()
	}
	j.stage(StageProceeding, activity.LevelVerbose, nil)

	cm := a.Cancellation()
	if cm != nil {
		if err := cm.Err(); err != nil {
			return output, err
		}
	}
	if err := j.MoveToProcessing(); err != nil {
		return output, err
	}

	parent := ctx
	if cm != nil {
		parent = cm.Context()
	}
	j.stage(StageCoreActionStarting, activity.LevelVerbose, nil)
	out, err := runWithTimeout(parent, a.Timeout(), a.Run)
	if err != nil {
		return output, err
	}
	j.stage(StageCoreActionEnded, activity.LevelVerbose, nil)
	if out != nil {
		output = out
	}

	if h, ok := a.(PostActioner); ok {
		_, err := guard(func() (struct{}, error) { return struct{}{}, h.PostAction(ctx, output) })
		if err != nil {
			return output, err
		}
	}
	return output, j.MoveToCompleted()
}

// runWithTimeout races body against timeout. The body keeps running after the
// race is lost; its late result is discarded.
func runWithTimeout(parent context.Context, timeout time.Duration, body func(ctx context.Context) (any, error)) (any, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: non-positive timeout %s", ErrTimeout, timeout)
	}
	ctx, cancel := context.WithTimeoutCause(parent, timeout, ErrTimeout)
	defer cancel()

	type outcome struct {
		v   any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := guard(func() (any, error) { return body(ctx) })
		done <- outcome{v: v, err: err}
	}()

	select {
	case o := <-done:
		return o.v, o.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// classify moves j to the terminal status matching err, runs the matching hook
// and returns the error to store. Timeout wins over cancellation; anything else
// faults. Joined errors are classified by their first cause.
func classify(ctx context.Context, j *Jetton, err error) error {
	a := j.Action()
	for _, c := range causes(err) {
		j.stage(StageOnException, activity.LevelDebug, c)
	}

	switch {
	case matchFirst(err, ErrTimeout, context.DeadlineExceeded) && j.Status() == StatusProcessing:
		if !errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		err = fmt.Errorf("action %q exceeded %s: %w", a.Name(), a.Timeout(), err)
		j.transition(j.MoveToTimedOut)
		j.stage(StageOnTimeout, activity.LevelWarn, err)
		if h, ok := a.(TimeoutHandler); ok {
			j.hook(StageOnTimeout, func() { h.OnTimeout(ctx) })
		}

	case matchFirst(err, ErrCancelled, context.Canceled):
		if !errors.Is(err, ErrCancelled) {
			err = fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		j.transition(j.MoveToCancelled)
		j.stage(StageOnCancellation, activity.LevelInfo, err)
		if h, ok := a.(CancellationHandler); ok {
			j.hook(StageOnCancellation, func() { h.OnCancellation(ctx) })
		}

	default:
		cause := err
		err = fmt.Errorf("%w: %w", ErrFaulted, err)
		j.transition(j.MoveToFaulted)
		j.stage(StageOnFailure, activity.LevelError, err)
		if h, ok := a.(FailureHandler); ok {
			j.hook(StageOnFailure, func() { h.OnFailure(ctx, cause) })
		}
	}
	return err
}

func (j *Jetton) transition(move func() error) {
	if err := move(); err != nil {
		j.stage(StageOnException, activity.LevelWarn, err)
	}
}

func (j *Jetton) stage(name string, level activity.Level, err error) {
	a := j.activity(name, level)
	if err != nil {
		a = a.With("error", err)
	}
	activity.Emit(j.log, a)
}

// hook runs fn and reports a panic instead of propagating it.
func (j *Jetton) hook(stage string, fn func()) {
	_, err := guard(func() (struct{}, error) {
		fn()
		return struct{}{}, nil
	})
	if err != nil {
		j.stage(stage, activity.LevelError, err)
	}
}

// guard converts a panic in fn into an error.
func guard[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}
