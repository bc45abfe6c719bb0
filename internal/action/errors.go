package action

import (
	"errors"

	"taskguidance/internal/cancellation"
)

var (
	// ErrTimeout is stored when a body outlives its action's timeout.
	ErrTimeout = errors.New("action timed out")
	// ErrCancelled is stored when cooperative cancellation is observed.
	ErrCancelled = cancellation.ErrCancelled
	// ErrFaulted wraps any other failure; the original cause stays matchable.
	ErrFaulted = errors.New("action faulted")
	// ErrInvalidResult is returned on read when the result is missing or of
	// the wrong type and no error was recorded.
	ErrInvalidResult = errors.New("invalid action result")
	// ErrStopped is returned to a caller whose jetton was force-stopped.
	ErrStopped = errors.New("action stopped before execution")
	// ErrInvalidTransition is returned when a status move is not allowed from
	// the jetton's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrResultAlreadySet is returned by every SetResultIfAny after the first.
	ErrResultAlreadySet = errors.New("jetton result already set")
)

// matchFirst walks err along its first cause only and reports whether any
// link on that path is one of targets. Joined errors are classified by their
// first member.
func matchFirst(err error, targets ...error) bool {
	for err != nil {
		for _, t := range targets {
			if err == t {
				return true
			}
			if x, ok := err.(interface{ Is(error) bool }); ok && x.Is(t) {
				return true
			}
		}
		switch x := err.(type) {
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		case interface{ Unwrap() []error }:
			errs := x.Unwrap()
			if len(errs) == 0 {
				return false
			}
			err = errs[0]
		default:
			return false
		}
	}
	return false
}

// causes flattens joined errors one level so each can be reported.
func causes(err error) []error {
	if x, ok := err.(interface{ Unwrap() []error }); ok {
		return x.Unwrap()
	}
	return []error{err}
}
