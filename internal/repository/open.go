package repository

import (
	"context"
	"log/slog"

	"github.com/taskbridge/taskbridge/internal/common"
)

// Open builds the Store backend selected by configuration and, when a
// redis address is set, wraps it with the read-through cache.
func Open(ctx context.Context, cfg *common.Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		store Store
		err   error
	)
	switch cfg.Store.Kind {
	case "postgres":
		store, err = OpenPostgres(ctx, cfg.Store, logger)
	case "sqlite":
		store, err = OpenSQLite(ctx, cfg.Store.SQLitePath, logger)
	case "memory":
		logger.Info("repository.memory.enabled")
		store = NewMemoryStore()
	default:
		return nil, common.Configuration("unknown store kind "+cfg.Store.Kind, nil)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Cache.RedisAddr != "" {
		cached, err := NewCachedStore(store, cfg.Cache, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		return cached, nil
	}
	return store, nil
}
