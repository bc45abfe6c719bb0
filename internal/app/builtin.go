package app

import (
	"context"
	"time"

	"taskguidance/internal/action"
	"taskguidance/internal/schedule"
	logx "taskguidance/pkg/logx"
)

// Built-in action names. Embedders register their own through Registry.
const (
	ActionHeartbeat = "heartbeat"
	ActionSleep     = "sleep"
)

const sleepDuration = 2 * time.Second

func registerBuiltins(reg *schedule.Registry, log logx.Logger) error {
	if err := reg.Register(ActionHeartbeat, func() action.Action {
		return action.NewFunc(ActionHeartbeat, func(ctx context.Context) (any, error) {
			now := time.Now()
			log.Info("heartbeat", logx.Time("at", now))
			return now, nil
		},
			action.WithPriority(action.PriorityLow),
			action.WithTimeout(5*time.Second))
	}); err != nil {
		return err
	}
	return reg.Register(ActionSleep, func() action.Action {
		return action.NewFunc(ActionSleep, func(ctx context.Context) (any, error) {
			t := time.NewTimer(sleepDuration)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return nil, context.Cause(ctx)
			case <-t.C:
				return sleepDuration, nil
			}
		}, action.WithTimeout(10*time.Second))
	})
}
