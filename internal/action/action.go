// Package action defines units of schedulable work, the jetton that tracks a
// single submission through its lifecycle, and the lifecycle itself.
package action

import (
	"context"
	"time"

	"taskguidance/internal/cancellation"
)

// Action is a unit of work submitted to the scheduler.
//
// Name must be stable for the lifetime of the process; it is matched against the
// scheduler's allow-list. Cancellation may return nil for actions that do not
// take part in cooperative cancellation.
type Action interface {
	Name() string
	Priority() Priority
	Timeout() time.Duration
	Cancellation() *cancellation.Manager
	// ShouldProceed is evaluated before the body. Returning false skips the run.
	ShouldProceed(ctx context.Context) (bool, error)
	// Run is the body. ctx is done on timeout or cancellation.
	Run(ctx context.Context) (any, error)
}

// Optional hooks. Perform calls them when an action implements them.
type (
	// DefaultOutputer supplies the output stored when the body does not produce one.
	DefaultOutputer interface {
		DefaultOutput() any
	}
	// PostActioner runs after a successful body, before the jetton completes.
	// A returned error faults the jetton.
	PostActioner interface {
		PostAction(ctx context.Context, output any) error
	}
	TimeoutHandler interface {
		OnTimeout(ctx context.Context)
	}
	CancellationHandler interface {
		OnCancellation(ctx context.Context)
	}
	FailureHandler interface {
		OnFailure(ctx context.Context, err error)
	}
	// EndHandler runs last, after the result has been published.
	EndHandler interface {
		OnActionEnd(ctx context.Context)
	}
)

func defaultOutput(a Action) any {
	if d, ok := a.(DefaultOutputer); ok {
		return d.DefaultOutput()
	}
	return nil
}
