package storage

import (
	"errors"
	"strings"

	logx "watchlb/pkg/logx"
)

// Open initializes the configured store.
// An empty driver defaults to sqlite.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "bolt", "bbolt":
		return openBolt(cfg, log)
	case "mem", "memory":
		return NewMem(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
