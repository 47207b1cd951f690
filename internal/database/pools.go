package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rickgao/chainwatch/internal/config"
)

// Connect creates a single connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// PoolConfig parses cfg into a pgxpool configuration without connecting.
func PoolConfig(cfg config.DBConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)
	return poolCfg, nil
}

// Schema creates the tables the writers insert into. Statements are idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS block_heads (
		network     TEXT        NOT NULL,
		number      BIGINT      NOT NULL,
		hash        TEXT        NOT NULL,
		parent_hash TEXT        NOT NULL,
		block_time  BIGINT      NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		source      TEXT        NOT NULL,
		handle_id   UUID        NOT NULL,
		PRIMARY KEY (network, number, hash)
	)`,
	`CREATE TABLE IF NOT EXISTS connection_events (
		id        UUID        NOT NULL,
		network   TEXT        NOT NULL,
		handle_id UUID,
		kind      TEXT        NOT NULL,
		at        TIMESTAMPTZ NOT NULL,
		detail    TEXT        NOT NULL DEFAULT '',
		PRIMARY KEY (id, at)
	)`,
}

// EnsureSchema runs Schema against pool.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range Schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
