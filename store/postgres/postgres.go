// Package postgres implements store.Backend using PostgreSQL, for
// deployments where the bot's index must live on shared infrastructure.
//
// The Backend accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ostramo/parley/store"
)

// Backend implements store.Backend on a PostgreSQL table keyed by
// (bucket, key).
type Backend struct {
	pool *pgxpool.Pool
}

var _ store.Backend = (*Backend)(nil)

// New creates a Backend using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Backend {
	return &Backend{pool: pool}
}

// Init creates the backing table if it does not exist.
func (b *Backend) Init(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS parley_kv (
		bucket TEXT NOT NULL,
		key    TEXT NOT NULL,
		value  BYTEA NOT NULL,
		PRIMARY KEY (bucket, key)
	)`)
	if err != nil {
		return fmt.Errorf("create parley_kv: %w", err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var value []byte
	err := b.pool.QueryRow(ctx,
		`SELECT value FROM parley_kv WHERE bucket = $1 AND key = $2`, bucket, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get %s/%s: %w", bucket, key, err)
	}
	return value, nil
}

func (b *Backend) Put(ctx context.Context, bucket, key string, value []byte) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO parley_kv (bucket, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (bucket, key) DO UPDATE SET value = EXCLUDED.value`,
		bucket, key, value)
	if err != nil {
		return fmt.Errorf("postgres put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, bucket, key string) error {
	_, err := b.pool.Exec(ctx,
		`DELETE FROM parley_kv WHERE bucket = $1 AND key = $2`, bucket, key)
	if err != nil {
		return fmt.Errorf("postgres delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Close is a no-op; the pool is externally owned.
func (b *Backend) Close() error { return nil }
