package storage

import (
	"context"
	"errors"
	"strings"

	"tgbroadcast/internal/account"
	"tgbroadcast/pkg/logx"
)

// Open initializes the configured account store.
func Open(ctx context.Context, cfg Config, log logx.Logger) (account.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(ctx, cfg, log)
	case "valkey", "redis":
		return openValkey(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
