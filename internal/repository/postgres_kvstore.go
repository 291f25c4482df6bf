package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema creates the table backing PostgresKVStore.
const PostgresSchema = `CREATE TABLE IF NOT EXISTS kv_entries (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresKVStore is a PostgreSQL implementation of the KeyValueStore interface.
type PostgresKVStore struct {
	db *pgxpool.Pool
}

// NewPostgresKVStore creates a new PostgresKVStore.
func NewPostgresKVStore(db *pgxpool.Pool) *PostgresKVStore {
	return &PostgresKVStore{db: db}
}

// Migrate creates the backing table if it does not exist.
func (s *PostgresKVStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("failed to create kv_entries table: %w", err)
	}
	return nil
}

// Get retrieves the value stored under key.
func (s *PostgresKVStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx, "SELECT value FROM kv_entries WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %q: %w", key, err)
	}
	return value, nil
}

// Set upserts value under key.
func (s *PostgresKVStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO kv_entries (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *PostgresKVStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM kv_entries WHERE key = $1", key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// Ping checks the connection pool.
func (s *PostgresKVStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

var _ KeyValueStore = (*PostgresKVStore)(nil)
