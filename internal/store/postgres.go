package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the table backing Postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS kv_store (
	path       TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres opens a pool, pings it and makes sure the table exists.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connect failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create kv_store: %w", err)
	}
	return &Postgres{db: pool}, nil
}

func (repository *Postgres) Get(ctx context.Context, path string) ([]byte, bool, error) {
	var value []byte
	err := repository.db.QueryRow(ctx, `SELECT value::text FROM kv_store WHERE path = $1`, path).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (repository *Postgres) Set(ctx context.Context, path string, value []byte) error {
	query := `
		INSERT INTO kv_store (path, value, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (path)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	_, err := repository.db.Exec(ctx, query, path, string(value))
	return err
}

func (repository *Postgres) Close() error {
	repository.db.Close()
	return nil
}
