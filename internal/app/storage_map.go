package app

import (
	"time"

	"ticksched/internal/config"
	"ticksched/internal/storage"
	logx "ticksched/pkg/logx"
)

const defaultSQLiteBusyTimeout = time.Second

// mapStorageConfig converts the storage section. enabled is false when the
// section is missing or names no driver.
func mapStorageConfig(cfg *config.Config) (sc storage.Config, enabled bool, err error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	s := cfg.Storage
	driver := config.NormalizeDriver(s.Driver)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "sqlite3":
		driver = "sqlite"
	}
	sc = storage.Config{Driver: driver, Path: s.Path, DSN: s.DSN}
	if driver == "sqlite" {
		sc.BusyTimeout, err = config.ParseDurationOrDefault("storage.busy_timeout", s.BusyTimeout, defaultSQLiteBusyTimeout)
		if err != nil {
			return storage.Config{}, false, err
		}
	}
	return sc, true, nil
}

// OpenStore opens the store named by cfg's storage section. It returns
// storage.ErrDisabled when persistence is not configured.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, storage.ErrDisabled
	}
	return storage.Open(sc, log)
}
