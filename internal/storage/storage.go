// Package storage selects and wraps the configured order store.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"wzslicense/internal/config"
	"wzslicense/internal/infrastructure"
	"wzslicense/internal/orders"
	"wzslicense/internal/storage/memory"
	"wzslicense/internal/storage/postgres"
	"wzslicense/internal/storage/sqlite"
)

// Open connects the store named by cfg.Driver and wraps it so every call is
// bounded by cfg.OperationTimeout and timed into metrics.
func Open(ctx context.Context, cfg config.StoreConfig, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) (orders.Store, error) {
	var (
		store orders.Store
		err   error
	)

	switch cfg.Driver {
	case config.StoreMemory:
		logger.WarnContext(ctx, "using in-memory order store, data is lost on restart")
		store = memory.New()
	case config.StoreSQLite:
		store, err = sqlite.Open(cfg.SQLitePath)
	case config.StorePostgres:
		store, err = postgres.Connect(ctx, cfg.PostgresDSN, cfg.MaxConns, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}

	logger.InfoContext(ctx, "order store opened",
		slog.String("driver", cfg.Driver),
		slog.Duration("operation_timeout", cfg.OperationTimeout))

	return WithTimeout(store, cfg.OperationTimeout, metrics), nil
}
