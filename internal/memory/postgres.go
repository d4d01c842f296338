package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists per-identity memory notes in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmt := `CREATE TABLE IF NOT EXISTS call_memory (
		identity TEXT PRIMARY KEY,
		note TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, identity string) (string, bool, error) {
	var note string
	err := s.pool.QueryRow(ctx,
		`SELECT note FROM call_memory WHERE identity=$1`, identity,
	).Scan(&note)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get memory note: %w", err)
	}
	return note, true, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, identity, note string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_memory (identity, note, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (identity) DO UPDATE SET note = EXCLUDED.note, updated_at = now()`,
		identity, note,
	)
	if err != nil {
		return fmt.Errorf("upsert memory note: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
