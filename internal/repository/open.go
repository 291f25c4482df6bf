package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"assetdesk/backend/internal/config"
)

// Open connects the progress storage selected by cfg.DB.Driver. The returned
// func releases it.
func Open(ctx context.Context, cfg *config.Config) (KeyValueStore, func(), error) {
	switch cfg.DB.Driver {
	case "postgres":
		pool, err := initDatabase(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		store := NewPostgresKVStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	case "sqlite":
		store, err := OpenSQLite(cfg.DB.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "memory":
		return NewMemoryKVStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unsupported db.driver %q", cfg.DB.Driver)
}

func initDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}
