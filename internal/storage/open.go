package storage

import (
	"errors"
	"strings"

	logx "ticksched/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres":
		return openSQL(postgresDialect, cfg.DSN, log)
	case "mysql":
		return openSQL(mysqlDialect, cfg.DSN, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
