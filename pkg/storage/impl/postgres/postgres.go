package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/textileio/go-tonconnect/pkg/storage"
)

// Adapter is a storage.Adapter backed by a Postgres key-value table.
type Adapter struct {
	pool  *pgxpool.Pool
	table string
}

var _ storage.Adapter = (*Adapter)(nil)

// New connects to the database and creates the key-value table if needed.
func New(ctx context.Context, dsn, table string, maxConns int) (*Adapter, error) {
	if table == "" {
		table = "tonconnect_kv"
	}
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %s", err)
	}
	if maxConns > 0 {
		config.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %s", err)
	}

	a := &Adapter{pool: pool, table: pgx.Identifier{table}.Sanitize()}
	if _, err := pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, a.table)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating table: %s", err)
	}
	return a, nil
}

// Get implements storage.Adapter.
func (a *Adapter) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := a.pool.QueryRow(ctx, fmt.Sprintf("SELECT value FROM %s WHERE key=$1", a.table), key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying value: %s", err)
	}
	return value, nil
}

// Set implements storage.Adapter.
func (a *Adapter) Set(ctx context.Context, key string, value []byte) error {
	query := fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, a.table)
	if _, err := a.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("upserting value: %s", err)
	}
	return nil
}

// Remove implements storage.Adapter.
func (a *Adapter) Remove(ctx context.Context, key string) error {
	if _, err := a.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE key=$1", a.table), key); err != nil {
		return fmt.Errorf("deleting value: %s", err)
	}
	return nil
}

// Clear implements storage.Adapter.
func (a *Adapter) Clear(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s", a.table)); err != nil {
		return fmt.Errorf("clearing table: %s", err)
	}
	return nil
}

// Close implements storage.Adapter.
func (a *Adapter) Close() error {
	a.pool.Close()
	return nil
}
