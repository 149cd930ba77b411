package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresBackend persists values in a key-value table. It serves headless
// deployments (service accounts, bots, server-side agents) where a database
// is the natural durable store; phone builds use FileBackend instead.
// The *sql.DB is expected to be opened with the postgres driver.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend creates a backend over an open database handle.
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// EnsureSchema creates the storage table if it does not exist.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS session_store (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := b.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create session_store table: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	query := `
		SELECT value
		FROM session_store
		WHERE key = $1
	`
	var value []byte
	err := b.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	return value, nil
}

func (b *PostgresBackend) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO session_store (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := b.db.ExecContext(ctx, query, key, value); err != nil {
		return &StorageError{Op: "set", Err: err}
	}
	return nil
}

func (b *PostgresBackend) Delete(ctx context.Context, key string) error {
	query := `
		DELETE FROM session_store
		WHERE key = $1
	`
	if _, err := b.db.ExecContext(ctx, query, key); err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	return nil
}
