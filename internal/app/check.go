package app

import (
	"errors"

	"taskguidance/internal/action"
	"taskguidance/internal/config"
	"taskguidance/internal/schedule"
	"taskguidance/internal/storage"
	logx "taskguidance/pkg/logx"
)

// CheckConfig validates what only the app can: storage mapping and schedules
// against the built-in actions. extra names actions an embedder registers.
func CheckConfig(cfg *config.Config, extra ...string) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	reg := schedule.NewRegistry()
	if err := registerBuiltins(reg, logx.Nop()); err != nil {
		return err
	}
	for _, name := range extra {
		if err := reg.Register(name, func() action.Action { return nil }); err != nil {
			return err
		}
	}
	return schedule.New(nil, reg).Validate(mapSchedules(cfg))
}

// BuiltinActions lists the actions every app registers.
func BuiltinActions() []string {
	return []string{ActionHeartbeat, ActionSleep}
}

// OpenLedger opens the configured activity store read-write. It returns
// (nil, nil) when no ledger is configured.
func OpenLedger(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, _, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		return nil, err
	}
	return storage.Open(sc, log)
}
